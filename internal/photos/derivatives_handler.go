package photos

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"handoverphotos/internal/derivatives"
	"handoverphotos/internal/integrity"
	"handoverphotos/internal/jobs"
	"handoverphotos/internal/logging"
	"handoverphotos/internal/queue"
	"handoverphotos/internal/services"
	"handoverphotos/internal/stage"
	"handoverphotos/internal/storage"
)

// DerivativesHandler runs generate-derivatives jobs.
type DerivativesHandler struct {
	store     *queue.Store
	backend   storage.Backend
	generator *derivatives.Generator
	builder   integrity.Builder
	logger    *slog.Logger
}

// NewDerivativesHandler builds the handler. A nil generator uses the default
// rendition table.
func NewDerivativesHandler(store *queue.Store, backend storage.Backend, generator *derivatives.Generator, logger *slog.Logger) *DerivativesHandler {
	if generator == nil {
		generator = derivatives.NewGenerator(derivatives.WithLogger(logger))
	}
	return &DerivativesHandler{
		store:     store,
		backend:   backend,
		generator: generator,
		logger:    logging.NewComponentLogger(logger, jobs.TypeGenerateDerivatives),
	}
}

// WithBuilder overrides the manifest builder, for deterministic timestamps.
func (h *DerivativesHandler) WithBuilder(b integrity.Builder) *DerivativesHandler {
	h.builder = b
	return h
}

// Prepare validates the payload and that the photo still exists.
func (h *DerivativesHandler) Prepare(ctx context.Context, job *queue.Job) error {
	payload, err := stage.DecodePayload[DerivativesPayload](job)
	if err != nil {
		return err
	}
	if payload.PhotoID == "" {
		return services.Wrap(services.ErrValidation, jobs.TypeGenerateDerivatives, "prepare", "photoId is required", nil)
	}
	photo, err := h.store.GetPhoto(ctx, payload.PhotoID)
	if err != nil {
		return services.Wrap(services.ErrTransient, jobs.TypeGenerateDerivatives, "prepare", "load photo", err)
	}
	if photo == nil {
		return services.Wrap(services.ErrNotFound, jobs.TypeGenerateDerivatives, "prepare",
			fmt.Sprintf("photo %s was deleted before processing", payload.PhotoID), nil)
	}
	return nil
}

// Execute loads the photo named by the payload and processes it.
func (h *DerivativesHandler) Execute(ctx context.Context, job *queue.Job) error {
	payload, err := stage.DecodePayload[DerivativesPayload](job)
	if err != nil {
		return err
	}
	photo, err := h.store.GetPhoto(ctx, payload.PhotoID)
	if err != nil {
		return services.Wrap(services.ErrTransient, jobs.TypeGenerateDerivatives, "execute", "load photo", err)
	}
	if photo == nil {
		return services.Wrap(services.ErrNotFound, jobs.TypeGenerateDerivatives, "execute",
			fmt.Sprintf("photo %s", payload.PhotoID), nil)
	}
	return h.Process(ctx, photo)
}

// Process renders, hashes, and stores every rendition of a photo whose
// original is already stored, then completes the photo and publishes its
// manifest in one step. Any failure marks the photo failed, removes
// renditions already written, and publishes nothing.
func (h *DerivativesHandler) Process(ctx context.Context, photo *queue.Photo) error {
	ctx = services.WithProtocolID(services.WithPhotoID(ctx, photo.ID), photo.ProtocolID)
	logger := logging.WithContext(ctx, h.logger)

	written, err := h.process(ctx, photo)
	if err == nil {
		logger.Info("photo processed",
			logging.Int("renditions", len(written)),
			logging.Int64("total_size", photo.OriginalSize),
		)
		return nil
	}

	var cleanup *multierror.Error
	if derr := storage.DeleteAll(ctx, h.backend, written...); derr != nil {
		cleanup = multierror.Append(cleanup, derr)
	}
	photo.Status = queue.PhotoFailed
	photo.Error = err.Error()
	if uerr := h.store.UpdatePhoto(ctx, photo); uerr != nil {
		cleanup = multierror.Append(cleanup, uerr)
	}
	if cerr := cleanup.ErrorOrNil(); cerr != nil {
		logging.WarnWithContext(logger, "cleanup after failed processing incomplete", "derivatives_cleanup_failed",
			logging.Error(cerr),
			logging.String(logging.FieldErrorHint, "remove orphaned rendition objects manually"),
		)
	}
	return err
}

func (h *DerivativesHandler) process(ctx context.Context, photo *queue.Photo) ([]string, error) {
	source, err := h.backend.Get(ctx, photo.OriginalKey)
	if err != nil {
		return nil, services.Wrap(services.ErrProcessing, jobs.TypeGenerateDerivatives, "read original", photo.OriginalKey, err)
	}
	if photo.OriginalHash != "" && !integrity.Verify(source, photo.OriginalHash) {
		return nil, services.Wrap(services.ErrProcessing, jobs.TypeGenerateDerivatives, "verify original",
			"stored original does not match its recorded hash", nil)
	}
	stage.ReportProgress(ctx, 20)

	set, err := h.generator.Generate(source)
	if err != nil {
		return nil, services.Wrap(services.ErrProcessing, jobs.TypeGenerateDerivatives, "generate", photo.ID, err)
	}
	stage.ReportProgress(ctx, 60)

	entries := []integrity.FileEntry{{
		Name: derivatives.Original,
		Hash: integrity.Digest(source),
		Size: int64(len(source)),
	}}
	urls := make(map[string]string, len(set.Renditions))
	written := make([]string, 0, len(set.Renditions))
	for _, r := range set.Renditions {
		key := derivatives.StorageKey(photo.ProtocolID, photo.ID, r.Spec)
		if err := h.backend.Put(ctx, key, r.Data, r.Spec.Format.ContentType()); err != nil {
			return written, services.Wrap(services.ErrProcessing, jobs.TypeGenerateDerivatives, "store rendition", r.Spec.Name, err)
		}
		written = append(written, key)
		urls[r.Spec.Name] = h.backend.URL(key)
		entries = append(entries, integrity.FileEntry{
			Name: r.Spec.Name,
			Hash: integrity.Digest(r.Data),
			Size: int64(len(r.Data)),
		})
	}
	stage.ReportProgress(ctx, 85)

	manifest, err := h.builder.Build(entries)
	if err != nil {
		return written, services.Wrap(services.ErrProcessing, jobs.TypeGenerateDerivatives, "build manifest", photo.ID, err)
	}
	body, err := json.Marshal(manifest)
	if err != nil {
		return written, services.Wrap(services.ErrProcessing, jobs.TypeGenerateDerivatives, "encode manifest", photo.ID, err)
	}

	photo.MergeURLs(urls)
	photo.Width = set.SourceWidth
	photo.Height = set.SourceHeight
	if _, err := h.store.CompletePhoto(ctx, photo, body, manifest.TotalSize()); err != nil {
		return written, services.Wrap(services.ErrTransient, jobs.TypeGenerateDerivatives, "publish manifest", photo.ID, err)
	}
	return written, nil
}

// HealthCheck reports whether storage and the store are wired.
func (h *DerivativesHandler) HealthCheck(context.Context) stage.Health {
	switch {
	case h.store == nil:
		return stage.Unhealthy(jobs.TypeGenerateDerivatives, "queue store unavailable")
	case h.backend == nil:
		return stage.Unhealthy(jobs.TypeGenerateDerivatives, "storage backend unavailable")
	default:
		return stage.Healthy(jobs.TypeGenerateDerivatives)
	}
}
