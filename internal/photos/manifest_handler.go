package photos

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"handoverphotos/internal/integrity"
	"handoverphotos/internal/jobs"
	"handoverphotos/internal/logging"
	"handoverphotos/internal/queue"
	"handoverphotos/internal/services"
	"handoverphotos/internal/stage"
)

// ManifestHandler runs generate-manifest jobs. The protocol manifest lists
// every file of the selected photos as photoId/rendition.
type ManifestHandler struct {
	store   *queue.Store
	builder integrity.Builder
	logger  *slog.Logger
}

// NewManifestHandler builds the handler.
func NewManifestHandler(store *queue.Store, logger *slog.Logger) *ManifestHandler {
	return &ManifestHandler{
		store:  store,
		logger: logging.NewComponentLogger(logger, jobs.TypeGenerateManifest),
	}
}

// WithBuilder overrides the manifest builder.
func (h *ManifestHandler) WithBuilder(b integrity.Builder) *ManifestHandler {
	h.builder = b
	return h
}

func (h *ManifestHandler) Prepare(_ context.Context, job *queue.Job) error {
	payload, err := stage.DecodePayload[ManifestPayload](job)
	if err != nil {
		return err
	}
	if payload.ProtocolID == "" {
		return services.Wrap(services.ErrValidation, jobs.TypeGenerateManifest, "prepare", "protocolId is required", nil)
	}
	return nil
}

func (h *ManifestHandler) Execute(ctx context.Context, job *queue.Job) error {
	payload, err := stage.DecodePayload[ManifestPayload](job)
	if err != nil {
		return err
	}
	ctx = services.WithProtocolID(ctx, payload.ProtocolID)

	photos, err := h.selectPhotos(ctx, payload)
	if err != nil {
		return err
	}

	var entries []integrity.FileEntry
	for i, photo := range photos {
		record, err := h.store.LatestManifest(ctx, queue.ScopePhoto, photo.ID)
		if err != nil {
			return services.Wrap(services.ErrTransient, jobs.TypeGenerateManifest, "load photo manifest", photo.ID, err)
		}
		if record == nil {
			return services.Wrap(services.ErrValidation, jobs.TypeGenerateManifest, "load photo manifest",
				fmt.Sprintf("photo %s has no manifest", photo.ID), nil)
		}
		var m integrity.Manifest
		if err := json.Unmarshal(record.JSON, &m); err != nil {
			return services.Wrap(services.ErrProcessing, jobs.TypeGenerateManifest, "decode photo manifest", photo.ID, err)
		}
		for _, f := range m.Files() {
			f.Name = path.Join(photo.ID, f.Name)
			entries = append(entries, f)
		}
		stage.ReportProgress(ctx, (i+1)*90/len(photos))
	}

	manifest, err := h.builder.Build(entries)
	if err != nil {
		return services.Wrap(services.ErrProcessing, jobs.TypeGenerateManifest, "build manifest", payload.ProtocolID, err)
	}
	body, err := json.Marshal(manifest)
	if err != nil {
		return services.Wrap(services.ErrProcessing, jobs.TypeGenerateManifest, "encode manifest", payload.ProtocolID, err)
	}
	record, err := h.store.PublishManifest(ctx, queue.ScopeProtocol, payload.ProtocolID, body, manifest.TotalSize())
	if err != nil {
		return services.Wrap(services.ErrTransient, jobs.TypeGenerateManifest, "publish manifest", payload.ProtocolID, err)
	}
	logging.WithContext(ctx, h.logger).Info("protocol manifest published",
		logging.Int("revision", record.Revision),
		logging.Int("photos", len(photos)),
		logging.Int64("total_size", record.TotalSize),
	)
	return nil
}

func (h *ManifestHandler) selectPhotos(ctx context.Context, payload ManifestPayload) ([]*queue.Photo, error) {
	var (
		photos []*queue.Photo
		err    error
	)
	if len(payload.PhotoIDs) == 0 {
		photos, err = h.store.ListPhotosByProtocol(ctx, payload.ProtocolID)
	} else {
		photos, err = h.store.ListPhotosByIDs(ctx, payload.PhotoIDs)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, jobs.TypeGenerateManifest, "load photos", payload.ProtocolID, err)
	}
	if len(payload.PhotoIDs) > 0 && len(photos) != len(payload.PhotoIDs) {
		return nil, services.Wrap(services.ErrValidation, jobs.TypeGenerateManifest, "load photos",
			fmt.Sprintf("found %d of %d requested photos", len(photos), len(payload.PhotoIDs)), nil)
	}

	selected := photos[:0]
	for _, photo := range photos {
		if photo.ProtocolID != payload.ProtocolID {
			return nil, services.Wrap(services.ErrValidation, jobs.TypeGenerateManifest, "load photos",
				fmt.Sprintf("photo %s belongs to another protocol", photo.ID), nil)
		}
		switch {
		case photo.Status == queue.PhotoCompleted:
			selected = append(selected, photo)
		case len(payload.PhotoIDs) > 0:
			return nil, services.Wrap(services.ErrValidation, jobs.TypeGenerateManifest, "load photos",
				fmt.Sprintf("photo %s is %s", photo.ID, photo.Status), nil)
		}
	}
	if len(selected) == 0 {
		return nil, services.Wrap(services.ErrValidation, jobs.TypeGenerateManifest, "load photos",
			fmt.Sprintf("protocol %s has no completed photos", payload.ProtocolID), nil)
	}
	return selected, nil
}

func (h *ManifestHandler) HealthCheck(context.Context) stage.Health {
	if h.store == nil {
		return stage.Unhealthy(jobs.TypeGenerateManifest, "queue store unavailable")
	}
	return stage.Healthy(jobs.TypeGenerateManifest)
}
