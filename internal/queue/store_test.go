package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"handoverphotos/internal/queue"
	"handoverphotos/internal/testsupport"
)

func TestJobLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first, err := store.InsertJob(ctx, "generate-derivatives", []byte(`{"photoId":"a"}`))
	if err != nil {
		t.Fatalf("InsertJob failed: %v", err)
	}
	if first.State != queue.JobWaiting || first.ID == "" {
		t.Fatalf("unexpected inserted job: %#v", first)
	}
	second, err := store.InsertJob(ctx, "generate-manifest", nil)
	if err != nil {
		t.Fatalf("InsertJob failed: %v", err)
	}
	if string(second.Payload) != "{}" {
		t.Fatalf("expected empty payload to default to {}, got %q", second.Payload)
	}

	claimed, err := store.ClaimNextJob(ctx)
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("expected oldest job to be claimed, got %#v", claimed)
	}
	if claimed.State != queue.JobActive || claimed.Attempts != 1 || claimed.LastHeartbeat == nil {
		t.Fatalf("unexpected claimed job: %#v", claimed)
	}

	if err := store.UpdateJobProgress(ctx, first.ID, 60); err != nil {
		t.Fatalf("UpdateJobProgress failed: %v", err)
	}
	if err := store.UpdateJobProgress(ctx, first.ID, 20); err != nil {
		t.Fatalf("UpdateJobProgress failed: %v", err)
	}
	got, err := store.GetJob(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Progress != 60 {
		t.Fatalf("expected progress to stay at 60, got %d", got.Progress)
	}

	if err := store.CompleteJob(ctx, first.ID); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	if err := store.CompleteJob(ctx, first.ID); !errors.Is(err, queue.ErrJobNotActive) {
		t.Fatalf("expected ErrJobNotActive on second completion, got %v", err)
	}
	got, _ = store.GetJob(ctx, first.ID)
	if got.State != queue.JobCompleted || got.Progress != 100 || got.FinishedAt == nil {
		t.Fatalf("unexpected completed job: %#v", got)
	}

	claimed, err = store.ClaimNextJob(ctx, "generate-derivatives")
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected no derivatives job waiting, got %#v", claimed)
	}
	claimed, err = store.ClaimNextJob(ctx, "generate-manifest")
	if err != nil || claimed == nil {
		t.Fatalf("expected manifest job, got %#v err=%v", claimed, err)
	}
	if err := store.FailJob(ctx, claimed.ID, "decode failed"); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}
	got, _ = store.GetJob(ctx, claimed.ID)
	if got.State != queue.JobFailed || got.Error != "decode failed" {
		t.Fatalf("unexpected failed job: %#v", got)
	}

	counts, err := store.JobCounts(ctx)
	if err != nil {
		t.Fatalf("JobCounts failed: %v", err)
	}
	if counts.Completed != 1 || counts.Failed != 1 || counts.Waiting != 0 || counts.Active != 0 {
		t.Fatalf("unexpected counts: %+v", counts)
	}

	retried, err := store.RetryFailedJobs(ctx)
	if err != nil {
		t.Fatalf("RetryFailedJobs failed: %v", err)
	}
	if retried != 1 {
		t.Fatalf("expected 1 retried job, got %d", retried)
	}
	got, _ = store.GetJob(ctx, claimed.ID)
	if got.State != queue.JobWaiting || got.Error != "" {
		t.Fatalf("expected job back in waiting, got %#v", got)
	}

	missing, err := store.GetJob(ctx, "does-not-exist")
	if err != nil || missing != nil {
		t.Fatalf("expected nil job for unknown id, got %#v err=%v", missing, err)
	}
}

func TestReclaimStaleJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, err := store.InsertJob(ctx, "generate-derivatives", nil)
	if err != nil {
		t.Fatalf("InsertJob failed: %v", err)
	}
	if _, err := store.ClaimNextJob(ctx); err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}

	reclaimed, err := store.ReclaimStaleJobs(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ReclaimStaleJobs failed: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("fresh heartbeat must not be reclaimed, got %d", reclaimed)
	}

	reclaimed, err = store.ReclaimStaleJobs(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ReclaimStaleJobs failed: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected stale job to be reclaimed, got %d", reclaimed)
	}
	got, _ := store.GetJob(ctx, job.ID)
	if got.State != queue.JobWaiting || got.LastHeartbeat != nil {
		t.Fatalf("unexpected reclaimed job: %#v", got)
	}

	again, err := store.ClaimNextJob(ctx)
	if err != nil || again == nil {
		t.Fatalf("expected reclaimed job to be claimable, got %#v err=%v", again, err)
	}
	if again.Attempts != 2 {
		t.Fatalf("expected second attempt, got %d", again.Attempts)
	}
}

func TestPruneFinishedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, _ := store.InsertJob(ctx, "generate-derivatives", nil)
	if _, err := store.ClaimNextJob(ctx); err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if err := store.CompleteJob(ctx, job.ID); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	waiting, _ := store.InsertJob(ctx, "generate-derivatives", nil)

	pruned, err := store.PruneFinishedJobs(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("PruneFinishedJobs failed: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected one pruned job, got %d", pruned)
	}
	if got, _ := store.GetJob(ctx, waiting.ID); got == nil {
		t.Fatal("waiting job must survive pruning")
	}
}

func TestPhotoRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	photo := testsupport.NewPhoto(t, store, "protocol-1")
	if photo.ID == "" || photo.Status != queue.PhotoProcessing {
		t.Fatalf("unexpected photo: %#v", photo)
	}
	testsupport.NewPhoto(t, store, "protocol-1")
	testsupport.NewPhoto(t, store, "protocol-2")

	now := time.Now().UTC()
	photo.Status = queue.PhotoCompleted
	photo.SetProgress(100)
	photo.MergeURLs(map[string]string{"thumb": "/t.webp", "gallery": "/g.jpg"})
	photo.ProcessedAt = &now
	if err := store.UpdatePhoto(ctx, photo); err != nil {
		t.Fatalf("UpdatePhoto failed: %v", err)
	}

	got, err := store.GetPhoto(ctx, photo.ID)
	if err != nil {
		t.Fatalf("GetPhoto failed: %v", err)
	}
	if got.Status != queue.PhotoCompleted || got.Progress != 100 || got.URLs["thumb"] != "/t.webp" || got.ProcessedAt == nil {
		t.Fatalf("unexpected photo after update: %#v", got)
	}

	list, err := store.ListPhotosByProtocol(ctx, "protocol-1")
	if err != nil {
		t.Fatalf("ListPhotosByProtocol failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != photo.ID {
		t.Fatalf("unexpected protocol photos: %d", len(list))
	}
	count, err := store.CountPhotosByProtocol(ctx, "protocol-2")
	if err != nil || count != 1 {
		t.Fatalf("expected 1 photo for protocol-2, got %d err=%v", count, err)
	}

	removed, err := store.DeletePhoto(ctx, photo.ID)
	if err != nil || !removed {
		t.Fatalf("DeletePhoto: removed=%v err=%v", removed, err)
	}
	removed, err = store.DeletePhoto(ctx, photo.ID)
	if err != nil || removed {
		t.Fatalf("second DeletePhoto should be a no-op: removed=%v err=%v", removed, err)
	}
	if got, _ := store.GetPhoto(ctx, photo.ID); got != nil {
		t.Fatalf("expected deleted photo to be gone, got %#v", got)
	}
}

func TestPhotoProgressIsMonotonic(t *testing.T) {
	var photo queue.Photo
	photo.SetProgress(50)
	photo.SetProgress(10)
	photo.SetProgress(150)
	if photo.Progress != 100 {
		t.Fatalf("expected clamped progress 100, got %d", photo.Progress)
	}
	photo.MergeURLs(map[string]string{"thumb": "a"})
	photo.MergeURLs(map[string]string{"thumb": "", "pdf": "b"})
	if photo.URLs["thumb"] != "a" || photo.URLs["pdf"] != "b" {
		t.Fatalf("unexpected urls: %v", photo.URLs)
	}
}

func TestManifestRevisionsSupersede(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first, err := store.PublishManifest(ctx, queue.ScopePhoto, "photo-1", []byte(`{"version":"2.0"}`), 10)
	if err != nil {
		t.Fatalf("PublishManifest failed: %v", err)
	}
	second, err := store.PublishManifest(ctx, queue.ScopePhoto, "photo-1", []byte(`{"version":"2.0","n":2}`), 20)
	if err != nil {
		t.Fatalf("PublishManifest failed: %v", err)
	}
	if first.Revision != 1 || second.Revision != 2 {
		t.Fatalf("unexpected revisions %d/%d", first.Revision, second.Revision)
	}

	latest, err := store.LatestManifest(ctx, queue.ScopePhoto, "photo-1")
	if err != nil {
		t.Fatalf("LatestManifest failed: %v", err)
	}
	if latest.Revision != 2 || latest.TotalSize != 20 {
		t.Fatalf("unexpected latest manifest: %#v", latest)
	}

	revisions, err := store.ManifestRevisions(ctx, queue.ScopePhoto, "photo-1")
	if err != nil {
		t.Fatalf("ManifestRevisions failed: %v", err)
	}
	if len(revisions) != 2 || string(revisions[0].JSON) != `{"version":"2.0"}` {
		t.Fatalf("earlier revision must be preserved, got %#v", revisions)
	}

	none, err := store.LatestManifest(ctx, queue.ScopeProtocol, "photo-1")
	if err != nil || none != nil {
		t.Fatalf("scopes must not mix, got %#v err=%v", none, err)
	}
}

func TestFlagRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := store.SaveFlag(ctx, queue.FlagRecord{
		Key:         "PROTOCOL_V2_PHOTO_UPLOAD",
		Enabled:     true,
		AllowList:   []string{"user-1"},
		Percentage:  25,
		WindowStart: &start,
	}); err != nil {
		t.Fatalf("SaveFlag failed: %v", err)
	}
	if err := store.SaveFlag(ctx, queue.FlagRecord{Key: "A_FLAG"}); err != nil {
		t.Fatalf("SaveFlag failed: %v", err)
	}
	if err := store.SaveFlag(ctx, queue.FlagRecord{Key: "A_FLAG", Percentage: 5}); err != nil {
		t.Fatalf("SaveFlag overwrite failed: %v", err)
	}

	flags, err := store.ListFlags(ctx)
	if err != nil {
		t.Fatalf("ListFlags failed: %v", err)
	}
	if len(flags) != 2 || flags[0].Key != "A_FLAG" || flags[0].Percentage != 5 {
		t.Fatalf("unexpected flags: %#v", flags)
	}
	upload := flags[1]
	if !upload.Enabled || len(upload.AllowList) != 1 || upload.WindowStart == nil || !upload.WindowStart.Equal(start) || upload.WindowEnd != nil {
		t.Fatalf("unexpected upload flag: %#v", upload)
	}
}

func TestRollbackBatchIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	batch := &queue.MigrationBatch{ID: "batch-1", Total: 1}
	if err := store.SaveBatch(ctx, batch); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}
	if err := store.UpsertProtocol(ctx, &queue.Protocol{ID: "p-1", Type: "handover", BatchID: "batch-1"}); err != nil {
		t.Fatalf("UpsertProtocol failed: %v", err)
	}
	if err := store.UpsertProtocol(ctx, &queue.Protocol{ID: "p-1", Type: "handover", BatchID: "batch-1", RentalID: "r-9"}); err != nil {
		t.Fatalf("second UpsertProtocol failed: %v", err)
	}
	if err := store.UpsertPhoto(ctx, &queue.Photo{ID: "ph-1", ProtocolID: "p-1", Status: queue.PhotoCompleted, BatchID: "batch-1"}); err != nil {
		t.Fatalf("UpsertPhoto failed: %v", err)
	}
	if _, err := store.PublishManifest(ctx, queue.ScopePhoto, "ph-1", []byte(`{}`), 0); err != nil {
		t.Fatalf("PublishManifest failed: %v", err)
	}

	protocol, _ := store.GetProtocol(ctx, "p-1")
	if protocol == nil || protocol.RentalID != "r-9" {
		t.Fatalf("expected upsert to replace record, got %#v", protocol)
	}

	removed, err := store.RollbackBatch(ctx, "batch-1")
	if err != nil {
		t.Fatalf("RollbackBatch failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 protocol removed, got %d", removed)
	}
	removed, err = store.RollbackBatch(ctx, "batch-1")
	if err != nil || removed != 0 {
		t.Fatalf("second rollback should be a no-op: removed=%d err=%v", removed, err)
	}

	if got, _ := store.GetPhoto(ctx, "ph-1"); got != nil {
		t.Fatal("expected migrated photo to be removed")
	}
	if got, _ := store.LatestManifest(ctx, queue.ScopePhoto, "ph-1"); got != nil {
		t.Fatal("expected photo manifest to be removed")
	}
	saved, _ := store.GetBatch(ctx, "batch-1")
	if saved.Status != queue.BatchRolledBack || saved.RolledBackAt == nil {
		t.Fatalf("unexpected batch after rollback: %#v", saved)
	}

	if _, err := store.RollbackBatch(ctx, "unknown"); !errors.Is(err, queue.ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}
}

func TestCheckHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.IntegrityCheck {
		t.Fatalf("unexpected health: %#v", health)
	}
	if health.SchemaVersion != 1 || len(health.MissingTables) != 0 {
		t.Fatalf("unexpected schema state: %#v", health)
	}
}

func TestParseJobState(t *testing.T) {
	state, err := queue.ParseJobState(" Active ")
	if err != nil || state != queue.JobActive {
		t.Fatalf("ParseJobState: %q err=%v", state, err)
	}
	if _, err := queue.ParseJobState("paused"); err == nil {
		t.Fatal("expected error for unknown state")
	}
	if !queue.JobFailed.Terminal() || queue.JobWaiting.Terminal() {
		t.Fatal("unexpected terminal classification")
	}
}

func TestCompletePhotoPublishesManifestAtomically(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	photo := testsupport.NewPhoto(t, store, "protocol-1")
	if err := store.AttachPhotoJob(ctx, photo.ID, "job-9"); err != nil {
		t.Fatalf("AttachPhotoJob failed: %v", err)
	}
	if err := store.AttachPhotoJob(ctx, "missing", "job-9"); err == nil {
		t.Fatal("expected AttachPhotoJob on a missing photo to fail")
	}

	photo.URLs = map[string]string{"thumb": "/objects/t.webp"}
	record, err := store.CompletePhoto(ctx, photo, []byte(`{"files":[]}`), 42)
	if err != nil {
		t.Fatalf("CompletePhoto failed: %v", err)
	}
	if record.Revision != 1 || record.Scope != queue.ScopePhoto || record.SubjectID != photo.ID {
		t.Fatalf("unexpected manifest record: %#v", record)
	}

	got, err := store.GetPhoto(ctx, photo.ID)
	if err != nil {
		t.Fatalf("GetPhoto failed: %v", err)
	}
	if got.Status != queue.PhotoCompleted || got.Progress != 100 || got.ProcessedAt == nil {
		t.Fatalf("unexpected completed photo: %#v", got)
	}
	if got.JobID != "job-9" || got.URLs["thumb"] != "/objects/t.webp" {
		t.Fatalf("expected job id and urls to persist, got %#v", got)
	}

	ghost := &queue.Photo{ID: "ghost"}
	if _, err := store.CompletePhoto(ctx, ghost, []byte(`{}`), 1); err == nil {
		t.Fatal("expected CompletePhoto on a missing photo to fail")
	}
	latest, err := store.LatestManifest(ctx, queue.ScopePhoto, "ghost")
	if err != nil {
		t.Fatalf("LatestManifest failed: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected no manifest for a failed completion, got %#v", latest)
	}
}
