package photos

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"handoverphotos/internal/config"
	"handoverphotos/internal/derivatives"
	"handoverphotos/internal/featuregate"
	"handoverphotos/internal/integrity"
	"handoverphotos/internal/jobs"
	"handoverphotos/internal/logging"
	"handoverphotos/internal/queue"
	"handoverphotos/internal/services"
	"handoverphotos/internal/storage"
)

// Pipeline is the part of the job pipeline the service needs.
type Pipeline interface {
	Enqueue(ctx context.Context, jobType string, payload any) (jobs.Handle, error)
	Status(ctx context.Context, handle jobs.Handle) (jobs.JobStatus, error)
}

// File is one uploaded file.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// UploadRequest carries the files submitted for one protocol.
type UploadRequest struct {
	ProtocolID string
	UserID     string
	Files      []File
}

// FileResult is the outcome for one submitted file.
type FileResult struct {
	FileName    string
	PhotoID     string
	OriginalURL string
	JobID       string
	Err         error
}

// UploadResult summarises an upload request.
type UploadResult struct {
	Successful int
	Failed     int
	Files      []FileResult
}

// Service ingests photos and answers status queries.
type Service struct {
	cfg      *config.Config
	store    *queue.Store
	backend  storage.Backend
	pipeline Pipeline
	gate     *featuregate.Gate
	logger   *slog.Logger
}

// NewService wires the ingest service. gate may be nil to disable the rollout check.
func NewService(cfg *config.Config, store *queue.Store, backend storage.Backend, pipeline Pipeline, gate *featuregate.Gate, logger *slog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    store,
		backend:  backend,
		pipeline: pipeline,
		gate:     gate,
		logger:   logging.NewComponentLogger(logger, "photos"),
	}
}

// Enabled reports whether the asynchronous upload path is on for subject.
func (s *Service) Enabled(subject string) bool {
	if s.gate == nil {
		return true
	}
	return s.gate.IsEnabled(s.cfg.Rollout.PhotoUploadKey, subject)
}

// Upload stores each file and enqueues its processing job. Per-file
// problems are reported in the result; request-level problems are errors.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	req.ProtocolID = strings.TrimSpace(req.ProtocolID)
	req.UserID = strings.TrimSpace(req.UserID)
	if !s.Enabled(req.UserID) {
		return UploadResult{}, services.Wrap(services.ErrDisabled, "photos", "upload",
			fmt.Sprintf("%s is off for this user", s.cfg.Rollout.PhotoUploadKey), nil)
	}
	if req.ProtocolID == "" {
		return UploadResult{}, services.Wrap(services.ErrValidation, "photos", "upload", "protocolId is required", nil)
	}
	if len(req.Files) == 0 {
		return UploadResult{}, services.Wrap(services.ErrValidation, "photos", "upload", "no photos submitted", nil)
	}
	if len(req.Files) > s.cfg.Upload.MaxPhotos {
		return UploadResult{}, services.Wrap(services.ErrLimitExceeded, "photos", "upload",
			fmt.Sprintf("maximum number of photos is %d", s.cfg.Upload.MaxPhotos), nil)
	}

	ctx = services.WithProtocolID(ctx, req.ProtocolID)
	var result UploadResult
	for _, file := range req.Files {
		fr := s.ingest(ctx, req, file)
		if fr.Err != nil {
			result.Failed++
			logging.WarnWithContext(logging.WithContext(ctx, s.logger), "photo rejected", "photo_rejected",
				logging.String("file_name", file.Name),
				logging.Error(fr.Err),
				logging.String(logging.FieldErrorHint, services.Details(fr.Err).Hint),
			)
		} else {
			result.Successful++
		}
		result.Files = append(result.Files, fr)
	}
	return result, nil
}

func (s *Service) ingest(ctx context.Context, req UploadRequest, file File) FileResult {
	name := storage.SanitizeFileName(file.Name)
	fr := FileResult{FileName: name}
	contentType, err := s.validate(file)
	if err != nil {
		fr.Err = err
		return fr
	}

	photoID := uuid.NewString()
	ctx = services.WithPhotoID(ctx, photoID)
	key := derivatives.OriginalKey(req.ProtocolID, photoID, extensionFor(contentType, name))
	if err := s.backend.Put(ctx, key, file.Data, contentType); err != nil {
		fr.Err = services.Wrap(services.ErrTransient, "photos", "store original", name, err)
		return fr
	}

	photo := &queue.Photo{
		ID:           photoID,
		ProtocolID:   req.ProtocolID,
		UserID:       req.UserID,
		FileName:     name,
		ContentType:  contentType,
		Status:       queue.PhotoProcessing,
		OriginalKey:  key,
		OriginalHash: integrity.Digest(file.Data),
		OriginalSize: int64(len(file.Data)),
		URLs:         map[string]string{derivatives.Original: s.backend.URL(key)},
	}
	if err := s.store.InsertPhoto(ctx, photo); err != nil {
		if derr := s.backend.Delete(ctx, key); derr != nil {
			logging.WarnWithContext(logging.WithContext(ctx, s.logger), "orphaned original not removed", "original_cleanup_failed",
				logging.String("object_key", key),
				logging.Error(derr),
				logging.String(logging.FieldErrorHint, "remove the orphaned original object manually"),
			)
		}
		fr.Err = services.Wrap(services.ErrTransient, "photos", "record photo", name, err)
		return fr
	}

	handle, err := s.pipeline.Enqueue(ctx, jobs.TypeGenerateDerivatives, DerivativesPayload{
		PhotoID:    photo.ID,
		ProtocolID: photo.ProtocolID,
	})
	if err != nil {
		photo.Status = queue.PhotoFailed
		photo.Error = err.Error()
		if uerr := s.store.UpdatePhoto(ctx, photo); uerr != nil {
			s.logger.Warn("failed to record enqueue failure", logging.Error(uerr))
		}
		fr.PhotoID = photo.ID
		fr.Err = services.Wrap(services.ErrTransient, "photos", "enqueue", name, err)
		return fr
	}
	if err := s.store.AttachPhotoJob(ctx, photo.ID, handle.String()); err != nil {
		s.logger.Warn("failed to record job id on photo", logging.Error(err))
	}

	logging.WithContext(services.WithJobID(ctx, handle.String()), s.logger).Info("photo accepted",
		logging.String("file_name", name),
		logging.Int64("size", photo.OriginalSize),
		logging.String("content_type", contentType),
	)
	fr.PhotoID = photo.ID
	fr.OriginalURL = photo.URLs[derivatives.Original]
	fr.JobID = handle.String()
	return fr
}

// validate returns the sniffed content type. The declared type is only a
// hint; the bytes decide.
func (s *Service) validate(file File) (string, error) {
	if len(file.Data) == 0 {
		return "", services.Wrap(services.ErrEmptyInput, "photos", "validate", "file is empty", nil)
	}
	if limit := s.cfg.MaxFileBytes(); int64(len(file.Data)) > limit {
		return "", services.Wrap(services.ErrValidation, "photos", "validate",
			fmt.Sprintf("file exceeds %d MB", s.cfg.Upload.MaxFileMB), nil)
	}
	sniffed := mimetype.Detect(file.Data).String()
	if !strings.HasPrefix(sniffed, "image/") || !s.cfg.ContentTypeAllowed(sniffed) {
		return "", services.Wrap(services.ErrUnsupportedMedia, "photos", "validate",
			fmt.Sprintf("content type %s is not accepted", sniffed), nil)
	}
	return sniffed, nil
}

func extensionFor(contentType, name string) string {
	if mt := mimetype.Lookup(contentType); mt != nil && mt.Extension() != "" {
		return mt.Extension()
	}
	return storage.Extension(name)
}

// Status returns the photo, folding in job progress while it is processing.
func (s *Service) Status(ctx context.Context, photoID string) (*queue.Photo, error) {
	photo, err := s.get(ctx, photoID)
	if err != nil {
		return nil, err
	}
	if photo.Status != queue.PhotoProcessing || photo.JobID == "" || s.pipeline == nil {
		return photo, nil
	}
	status, err := s.pipeline.Status(ctx, jobs.Handle(photo.JobID))
	if err != nil {
		s.logger.Debug("job status unavailable", logging.String(logging.FieldJobID, photo.JobID), logging.Error(err))
		return photo, nil
	}
	switch status.State {
	case queue.JobActive:
		photo.SetProgress(status.Progress)
	case queue.JobFailed:
		// The handler records failures itself; this covers jobs that died
		// before reaching it.
		photo.Status = queue.PhotoFailed
		if photo.Error == "" {
			photo.Error = status.Error
		}
	}
	return photo, nil
}

// ListByProtocol returns every photo of a protocol.
func (s *Service) ListByProtocol(ctx context.Context, protocolID string) ([]*queue.Photo, error) {
	if strings.TrimSpace(protocolID) == "" {
		return nil, services.Wrap(services.ErrValidation, "photos", "list", "protocolId is required", nil)
	}
	photos, err := s.store.ListPhotosByProtocol(ctx, protocolID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "photos", "list", protocolID, err)
	}
	return photos, nil
}

// Delete removes a photo's stored objects and rows.
func (s *Service) Delete(ctx context.Context, photoID string) error {
	photo, err := s.get(ctx, photoID)
	if err != nil {
		return err
	}
	keys := []string{photo.OriginalKey}
	for _, spec := range derivatives.DefaultRenditions() {
		keys = append(keys, derivatives.StorageKey(photo.ProtocolID, photo.ID, spec))
	}
	var result *multierror.Error
	if err := storage.DeleteAll(ctx, s.backend, keys...); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := s.store.DeletePhoto(ctx, photo.ID); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return services.Wrap(services.ErrTransient, "photos", "delete", photo.ID, err)
	}
	logging.WithContext(services.WithPhotoID(ctx, photo.ID), s.logger).Info("photo deleted")
	return nil
}

// Manifest returns the latest manifest of a photo.
func (s *Service) Manifest(ctx context.Context, photoID string) (*queue.ManifestRecord, error) {
	return s.latestManifest(ctx, queue.ScopePhoto, photoID)
}

// ProtocolManifest returns the latest protocol manifest.
func (s *Service) ProtocolManifest(ctx context.Context, protocolID string) (*queue.ManifestRecord, error) {
	return s.latestManifest(ctx, queue.ScopeProtocol, protocolID)
}

// RequestProtocolManifest enqueues a generate-manifest job.
func (s *Service) RequestProtocolManifest(ctx context.Context, protocolID string, photoIDs []string) (jobs.Handle, error) {
	if strings.TrimSpace(protocolID) == "" {
		return "", services.Wrap(services.ErrValidation, "photos", "request manifest", "protocolId is required", nil)
	}
	return s.pipeline.Enqueue(ctx, jobs.TypeGenerateManifest, ManifestPayload{
		ProtocolID: protocolID,
		PhotoIDs:   photoIDs,
	})
}

func (s *Service) latestManifest(ctx context.Context, scope queue.ManifestScope, subjectID string) (*queue.ManifestRecord, error) {
	record, err := s.store.LatestManifest(ctx, scope, subjectID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "photos", "manifest", subjectID, err)
	}
	if record == nil {
		return nil, services.Wrap(services.ErrNotFound, "photos", "manifest",
			fmt.Sprintf("no %s manifest for %s", scope, subjectID), nil)
	}
	return record, nil
}

func (s *Service) get(ctx context.Context, photoID string) (*queue.Photo, error) {
	if strings.TrimSpace(photoID) == "" {
		return nil, services.Wrap(services.ErrValidation, "photos", "lookup", "photoId is required", nil)
	}
	photo, err := s.store.GetPhoto(ctx, photoID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "photos", "lookup", photoID, err)
	}
	if photo == nil {
		return nil, services.Wrap(services.ErrNotFound, "photos", "lookup", fmt.Sprintf("photo %s", photoID), nil)
	}
	return photo, nil
}
