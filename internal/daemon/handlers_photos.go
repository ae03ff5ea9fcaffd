package daemon

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"handoverphotos/internal/api"
	"handoverphotos/internal/photos"
	"handoverphotos/internal/services"
)

// Multipart field names of the upload form.
const (
	formProtocolID = "protocolId"
	formUserID     = "userId"
	formPhotos     = "photos"
)

// multipartMemory is held in memory before parts spill to temp files.
const multipartMemory = 32 << 20

// handleUpload accepts a batch of photos. Per-file rejections are reported
// with status 200 so clients can act on each file's kind; only request-level
// problems produce an error status.
func (s *apiServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := int64(s.cfg.Upload.MaxPhotos)*s.cfg.MaxFileBytes() + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, services.Wrap(services.ErrLimitExceeded, "api", "upload",
				fmt.Sprintf("request exceeds %d bytes", limit), nil))
			return
		}
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "upload", "malformed multipart form", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req := photos.UploadRequest{
		ProtocolID: r.FormValue(formProtocolID),
		UserID:     r.FormValue(formUserID),
	}
	for _, header := range r.MultipartForm.File[formPhotos] {
		file, err := s.readPart(header)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		req.Files = append(req.Files, file)
	}

	result, err := s.daemon.deps.Photos.Upload(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromUploadResult(result))
}

// readPart loads one file. Anything past the size cap is read so the photo
// service can reject it by size.
func (s *apiServer) readPart(header *multipart.FileHeader) (photos.File, error) {
	f, err := header.Open()
	if err != nil {
		return photos.File{}, services.Wrap(services.ErrValidation, "api", "upload",
			fmt.Sprintf("open part %s", header.Filename), err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxFileBytes()+1))
	if err != nil {
		return photos.File{}, services.Wrap(services.ErrTransient, "api", "upload",
			fmt.Sprintf("read part %s", header.Filename), err)
	}
	return photos.File{
		Name:        header.Filename,
		ContentType: strings.TrimSpace(header.Header.Get("Content-Type")),
		Data:        data,
	}, nil
}

func (s *apiServer) handlePhotoStatus(w http.ResponseWriter, r *http.Request) {
	photo, err := s.daemon.deps.Photos.Status(r.Context(), r.PathValue("photoId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dto := api.FromPhoto(photo)
	s.writeJSON(w, http.StatusOK, api.PhotoStatusResponse{Success: true, Photo: &dto})
}

func (s *apiServer) handlePhotoDelete(w http.ResponseWriter, r *http.Request) {
	photoID := r.PathValue("photoId")
	if err := s.daemon.deps.Photos.Delete(r.Context(), photoID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.DeleteResponse{Success: true, PhotoID: photoID})
}

func (s *apiServer) handlePhotoManifest(w http.ResponseWriter, r *http.Request) {
	record, err := s.daemon.deps.Photos.Manifest(r.Context(), r.PathValue("photoId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromManifestRecord(record))
}

func (s *apiServer) handleProtocolPhotos(w http.ResponseWriter, r *http.Request) {
	protocolID := r.PathValue("protocolId")
	list, err := s.daemon.deps.Photos.ListByProtocol(r.Context(), protocolID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.PhotoListResponse{
		Success:    true,
		ProtocolID: protocolID,
		Photos:     api.FromPhotos(list),
	})
}

func (s *apiServer) handleGenerateManifest(w http.ResponseWriter, r *http.Request) {
	protocolID := r.PathValue("protocolId")
	var req api.GenerateManifestRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	handle, err := s.daemon.deps.Photos.RequestProtocolManifest(r.Context(), protocolID, req.PhotoIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.JobAccepted{
		Success:    true,
		JobID:      handle.String(),
		ProtocolID: protocolID,
	})
}

func (s *apiServer) handleProtocolManifest(w http.ResponseWriter, r *http.Request) {
	record, err := s.daemon.deps.Photos.ProtocolManifest(r.Context(), r.PathValue("protocolId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromManifestRecord(record))
}
