package api

import (
	"errors"
	"strings"
	"testing"
	"time"

	"handoverphotos/internal/featuregate"
	"handoverphotos/internal/migration"
	"handoverphotos/internal/photos"
	"handoverphotos/internal/queue"
	"handoverphotos/internal/services"
	"handoverphotos/internal/stage"
)

func TestFromPhotoMapsRenditions(t *testing.T) {
	processed := time.Date(2026, 5, 4, 10, 0, 5, 0, time.UTC)
	photo := &queue.Photo{
		ID:           "ph-1",
		ProtocolID:   "proto-1",
		FileName:     "front.jpg",
		Status:       queue.PhotoCompleted,
		Progress:     100,
		OriginalHash: strings.Repeat("a", 64),
		OriginalSize: 2048,
		URLs: map[string]string{
			"original": "https://cdn.example/o.jpg",
			"thumb":    "https://cdn.example/t.webp",
			"gallery":  "https://cdn.example/g.jpg",
			"pdf":      "https://cdn.example/p.jpg",
		},
		CreatedAt:   processed.Add(-5 * time.Second),
		ProcessedAt: &processed,
	}
	dto := FromPhoto(photo)
	if dto.Status != "completed" || dto.Progress != 100 {
		t.Fatalf("unexpected status %+v", dto)
	}
	if dto.URLs.Thumb != "https://cdn.example/t.webp" || len(dto.URLs.Map()) != 4 {
		t.Fatalf("unexpected urls %+v", dto.URLs)
	}
	if dto.ProcessedAt != "2026-05-04T10:00:05.000Z" {
		t.Fatalf("unexpected processedAt %q", dto.ProcessedAt)
	}
	if dto.CreatedAt != "2026-05-04T10:00:00.000Z" {
		t.Fatalf("unexpected createdAt %q", dto.CreatedAt)
	}
	if empty := FromPhoto(nil); empty.PhotoID != "" {
		t.Fatalf("expected zero value for nil photo, got %+v", empty)
	}
}

func TestFromUploadResultReportsPerFileKinds(t *testing.T) {
	rejected := services.Wrap(services.ErrUnsupportedMedia, "photos", "ingest", "notes.txt is text/plain", nil)

	mixed := FromUploadResult(photos.UploadResult{
		Successful: 1,
		Failed:     1,
		Files: []photos.FileResult{
			{FileName: "front.jpg", PhotoID: "ph-1", JobID: "job-1", OriginalURL: "/objects/o.jpg"},
			{FileName: "notes.txt", Err: rejected},
		},
	})
	if !mixed.Success || mixed.Message != "1 photos accepted, 1 rejected" {
		t.Fatalf("unexpected mixed response %+v", mixed)
	}
	if len(mixed.Results.Photos) != 2 {
		t.Fatalf("expected two file results, got %d", len(mixed.Results.Photos))
	}
	if got := mixed.Results.Photos[1]; got.Success || got.Kind != "unsupported_media" || got.Error == "" {
		t.Fatalf("unexpected rejected file %+v", got)
	}

	none := FromUploadResult(photos.UploadResult{Failed: 1, Files: []photos.FileResult{{FileName: "notes.txt", Err: rejected}}})
	if none.Success || none.Error != "no photos were accepted" {
		t.Fatalf("unexpected all-rejected response %+v", none)
	}
}

func TestFlagPatchToPatch(t *testing.T) {
	enabled := true
	pct := 30
	allow := []string{"user-1"}
	start := "2026-01-01T00:00:00Z"
	empty := ""
	patch, err := FlagPatch{Enabled: &enabled, Percentage: &pct, AllowList: &allow, WindowStart: &start, WindowEnd: &empty}.ToPatch()
	if err != nil {
		t.Fatalf("ToPatch: %v", err)
	}
	if patch.Enabled == nil || !*patch.Enabled || patch.Percentage == nil || *patch.Percentage != 30 {
		t.Fatalf("unexpected patch %+v", patch)
	}
	if patch.Window == nil || patch.Window.Start.IsZero() || !patch.Window.End.IsZero() {
		t.Fatalf("expected open-ended window, got %+v", patch.Window)
	}
	allow[0] = "changed"
	if (*patch.AllowList)[0] != "user-1" {
		t.Fatal("patch must not alias the request allow list")
	}

	bad := "tomorrow"
	if _, err := (FlagPatch{WindowEnd: &bad}).ToPatch(); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	noWindow, err := FlagPatch{ClearWindow: true}.ToPatch()
	if err != nil || noWindow.Window != nil || !noWindow.ClearWindow {
		t.Fatalf("unexpected clear patch %+v %v", noWindow, err)
	}
}

func TestToMigrationOptions(t *testing.T) {
	opts, err := MigrationStartRequest{
		BatchSize:   5,
		DryRun:      true,
		ProtocolIDs: []string{"p-1"},
		StartDate:   "2025-01-01",
		EndDate:     "2025-06-30T23:59:59Z",
		SkipPDFs:    true,
	}.ToMigrationOptions()
	if err != nil {
		t.Fatalf("ToMigrationOptions: %v", err)
	}
	if opts.BatchSize != 5 || !opts.DryRun || !opts.SkipPDFs || opts.SkipPhotos {
		t.Fatalf("unexpected options %+v", opts)
	}
	if !opts.StartDate.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start date %v", opts.StartDate)
	}

	tests := []MigrationStartRequest{
		{StartDate: "01/02/2025"},
		{EndDate: "soon"},
		{StartDate: "2025-06-01", EndDate: "2025-01-01"},
	}
	for _, req := range tests {
		if _, err := req.ToMigrationOptions(); !errors.Is(err, services.ErrValidation) {
			t.Errorf("%+v: expected validation error, got %v", req, err)
		}
	}
}

func TestFromMigrationProgress(t *testing.T) {
	start := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	p := migration.Progress{
		BatchID:   "01J0000000000000000000000",
		Running:   true,
		Total:     4,
		Processed: 2,
		Failed:    1,
		StartTime: start,
		Errors:    []string{"p-3: record has no creation time"},
	}
	dto := FromMigrationProgress(p, start.Add(time.Minute))
	if dto.SuccessRate != 50 {
		t.Fatalf("expected success rate 50, got %v", dto.SuccessRate)
	}
	if dto.EstimatedCompletion != "2026-02-01T12:02:00.000Z" {
		t.Fatalf("unexpected estimate %q", dto.EstimatedCompletion)
	}
	if len(dto.Errors) != 1 {
		t.Fatalf("unexpected errors %v", dto.Errors)
	}

	idle := FromMigrationProgress(migration.Progress{}, start)
	if idle.EstimatedCompletion != "" || idle.StartTime != "" || idle.Errors == nil {
		t.Fatalf("unexpected idle progress %+v", idle)
	}
}

func TestErrorfCarriesKindAndHint(t *testing.T) {
	resp := Errorf(services.Wrap(services.ErrDisabled, "photos", "upload", "photo upload is disabled", nil))
	if resp.Success || resp.Kind != "disabled" || resp.Hint == "" {
		t.Fatalf("unexpected error response %+v", resp)
	}
	if !strings.Contains(resp.Error, "photo upload is disabled") {
		t.Fatalf("unexpected message %q", resp.Error)
	}
}

func TestHandlerHealthSliceSorted(t *testing.T) {
	health := map[string]stage.Health{
		"manifest":    {Name: "manifest", Ready: true},
		"derivatives": {Name: "derivatives", Ready: false, Detail: "storage unreachable"},
	}
	out := HandlerHealthSlice(health)
	if len(out) != 2 || out[0].Name != "derivatives" || out[0].Detail == "" {
		t.Fatalf("unexpected health slice %+v", out)
	}
}

func TestFlagToFlagRestoresWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := featuregate.Flag{Key: "K", Enabled: true, Percentage: 30, Window: &featuregate.Window{Start: start}}

	got, err := FromFlag(src).ToFlag()
	if err != nil {
		t.Fatalf("ToFlag: %v", err)
	}
	if got.Window == nil || !got.Window.Start.Equal(start) || !got.Window.End.IsZero() || got.Percentage != 30 {
		t.Fatalf("unexpected flag: %+v", got)
	}
	if _, err := (Flag{Key: "K", WindowEnd: "tomorrow"}).ToFlag(); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
