package photos_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"handoverphotos/internal/derivatives"
	"handoverphotos/internal/integrity"
	"handoverphotos/internal/jobs"
	"handoverphotos/internal/logging"
	"handoverphotos/internal/photos"
	"handoverphotos/internal/queue"
	"handoverphotos/internal/services"
	"handoverphotos/internal/stage"
	"handoverphotos/internal/testsupport"
)

var fixedBuilder = integrity.Builder{Now: func() time.Time {
	return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}}

func (f *fixture) derivativesHandler() *photos.DerivativesHandler {
	return photos.NewDerivativesHandler(f.store, f.backend, nil, logging.NewNop()).WithBuilder(fixedBuilder)
}

func jobFor(t *testing.T, jobType string, payload any) *queue.Job {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &queue.Job{ID: "job-1", Type: jobType, Payload: body, State: queue.JobActive}
}

func (f *fixture) processed(t *testing.T, w, h int) *queue.Photo {
	t.Helper()

	result := f.upload(t, photos.File{Name: "car.jpg", Data: testsupport.JPEG(t, w, h)})
	photoID := result.Files[0].PhotoID
	job := jobFor(t, jobs.TypeGenerateDerivatives, photos.DerivativesPayload{PhotoID: photoID, ProtocolID: "proto-1"})
	if err := f.derivativesHandler().Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	photo, err := f.store.GetPhoto(context.Background(), photoID)
	if err != nil || photo == nil {
		t.Fatalf("GetPhoto: %v", err)
	}
	return photo
}

func TestDerivativesHandlerCompletesPhotoWithManifest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var progress []int
	result := f.upload(t, photos.File{Name: "car.jpg", Data: testsupport.JPEG(t, 1600, 1200)})
	photoID := result.Files[0].PhotoID
	job := jobFor(t, jobs.TypeGenerateDerivatives, photos.DerivativesPayload{PhotoID: photoID, ProtocolID: "proto-1"})
	handler := f.derivativesHandler()
	if err := handler.Prepare(ctx, job); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	runCtx := stage.WithProgress(ctx, func(p int) { progress = append(progress, p) })
	if err := handler.Execute(runCtx, job); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	photo, _ := f.store.GetPhoto(ctx, photoID)
	if photo.Status != queue.PhotoCompleted || photo.Progress != 100 || photo.ProcessedAt == nil {
		t.Fatalf("expected completed photo, got %+v", photo)
	}
	if photo.Width != 1600 || photo.Height != 1200 {
		t.Fatalf("unexpected source dimensions %dx%d", photo.Width, photo.Height)
	}
	for _, name := range derivatives.Names() {
		if photo.URLs[name] == "" {
			t.Fatalf("missing %s url in %v", name, photo.URLs)
		}
	}
	if len(progress) == 0 || progress[len(progress)-1] < 80 {
		t.Fatalf("unexpected progress reports: %v", progress)
	}

	record, err := f.service.Manifest(ctx, photoID)
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	var manifest integrity.Manifest
	if err := json.Unmarshal(record.JSON, &manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if err := manifest.Validate(); err != nil {
		t.Fatalf("manifest invalid: %v", err)
	}
	if len(manifest.Files()) != len(derivatives.Names()) {
		t.Fatalf("expected %d files, got %d", len(derivatives.Names()), len(manifest.Files()))
	}
	if !manifest.Timestamp().Equal(fixedBuilder.Now()) {
		t.Fatalf("unexpected manifest timestamp %v", manifest.Timestamp())
	}
	original, ok := manifest.Lookup(derivatives.Original)
	if !ok || original.Hash != photo.OriginalHash {
		t.Fatalf("original entry does not match photo hash: %+v", original)
	}
	for _, spec := range derivatives.DefaultRenditions() {
		entry, ok := manifest.Lookup(spec.Name)
		if !ok {
			t.Fatalf("manifest missing %s", spec.Name)
		}
		data, err := f.backend.Get(ctx, derivatives.StorageKey("proto-1", photoID, spec))
		if err != nil {
			t.Fatalf("rendition %s not stored: %v", spec.Name, err)
		}
		if !integrity.Verify(data, entry.Hash) || entry.Size != int64(len(data)) {
			t.Fatalf("rendition %s does not match manifest entry", spec.Name)
		}
	}
}

func TestDerivativesHandlerRejectsTamperedOriginal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	result := f.upload(t, photos.File{Name: "car.jpg", Data: testsupport.JPEG(t, 40, 30)})
	photoID := result.Files[0].PhotoID
	photo, _ := f.store.GetPhoto(ctx, photoID)
	if err := f.backend.Put(ctx, photo.OriginalKey, testsupport.JPEG(t, 41, 30), "image/jpeg"); err != nil {
		t.Fatalf("overwrite original: %v", err)
	}

	job := jobFor(t, jobs.TypeGenerateDerivatives, photos.DerivativesPayload{PhotoID: photoID})
	err := f.derivativesHandler().Execute(ctx, job)
	if !errors.Is(err, services.ErrProcessing) {
		t.Fatalf("expected processing error, got %v", err)
	}
	photo, _ = f.store.GetPhoto(ctx, photoID)
	if photo.Status != queue.PhotoFailed || photo.Error == "" {
		t.Fatalf("expected failed photo, got %+v", photo)
	}
	if _, err := f.service.Manifest(ctx, photoID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("failed photo must have no manifest, got %v", err)
	}
	for _, spec := range derivatives.DefaultRenditions() {
		if _, err := f.backend.Get(ctx, derivatives.StorageKey("proto-1", photoID, spec)); !errors.Is(err, services.ErrNotFound) {
			t.Fatalf("rendition %s should not exist: %v", spec.Name, err)
		}
	}
}

func TestDerivativesHandlerPrepareRejectsMissingPhoto(t *testing.T) {
	f := newFixture(t, nil)
	handler := f.derivativesHandler()
	ctx := context.Background()

	if err := handler.Prepare(ctx, jobFor(t, jobs.TypeGenerateDerivatives, photos.DerivativesPayload{})); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	err := handler.Prepare(ctx, jobFor(t, jobs.TypeGenerateDerivatives, photos.DerivativesPayload{PhotoID: "gone"}))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if health := handler.HealthCheck(ctx); !health.Ready {
		t.Fatalf("expected healthy handler, got %+v", health)
	}
}

func TestManifestHandlerBundlesCompletedPhotos(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first := f.processed(t, 32, 24)
	second := f.processed(t, 24, 32)
	pending := f.upload(t, photos.File{Name: "later.png", Data: testsupport.PNG(t, 4, 4)}).Files[0].PhotoID

	handler := photos.NewManifestHandler(f.store, logging.NewNop()).WithBuilder(fixedBuilder)
	job := jobFor(t, jobs.TypeGenerateManifest, photos.ManifestPayload{ProtocolID: "proto-1"})
	if err := handler.Prepare(ctx, job); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := handler.Execute(ctx, job); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	record, err := f.service.ProtocolManifest(ctx, "proto-1")
	if err != nil {
		t.Fatalf("ProtocolManifest: %v", err)
	}
	var bundle integrity.Manifest
	if err := json.Unmarshal(record.JSON, &bundle); err != nil {
		t.Fatalf("decode bundle: %v", err)
	}
	if want := 2 * len(derivatives.Names()); len(bundle.Files()) != want {
		t.Fatalf("expected %d files, got %d", want, len(bundle.Files()))
	}
	entry, ok := bundle.Lookup(first.ID + "/" + derivatives.Original)
	if !ok || entry.Hash != first.OriginalHash {
		t.Fatalf("missing original of first photo: %+v", entry)
	}
	if _, ok := bundle.Lookup(second.ID + "/" + derivatives.Thumb); !ok {
		t.Fatal("missing thumb of second photo")
	}

	explicit := jobFor(t, jobs.TypeGenerateManifest, photos.ManifestPayload{ProtocolID: "proto-1", PhotoIDs: []string{first.ID, pending}})
	if err := handler.Execute(ctx, explicit); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unprocessed photo, got %v", err)
	}
	if err := handler.Prepare(ctx, jobFor(t, jobs.TypeGenerateManifest, photos.ManifestPayload{})); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty protocol, got %v", err)
	}
}

func TestManifestHandlerRequiresCompletedPhotos(t *testing.T) {
	f := newFixture(t, nil)
	handler := photos.NewManifestHandler(f.store, logging.NewNop())
	job := jobFor(t, jobs.TypeGenerateManifest, photos.ManifestPayload{ProtocolID: "empty"})
	if err := handler.Execute(context.Background(), job); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
