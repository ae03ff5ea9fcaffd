package queue_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"handoverphotos/internal/queue"
	"handoverphotos/internal/testsupport"
)

func TestOpenRejectsPhotoDatabaseFromOtherVersion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := sql.Open("sqlite", cfg.DatabasePath())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := raw.ExecContext(context.Background(), `UPDATE schema_version SET version = 99`); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = raw.Close()

	if _, err := queue.Open(cfg); !errors.Is(err, queue.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestOpenReusesInitializedPhotoDatabase(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := testsupport.MustOpenStore(t, cfg)
	job, err := first.InsertJob(context.Background(), "generate-manifest", nil)
	if err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	_ = first.Close()

	second := testsupport.MustOpenStore(t, cfg)
	got, err := second.GetJob(context.Background(), job.ID)
	if err != nil || got == nil || got.ID != job.ID {
		t.Fatalf("expected job to survive reopen, got %#v err=%v", got, err)
	}
}
