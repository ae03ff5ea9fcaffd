package testsupport

import (
	"context"
	"testing"

	"handoverphotos/internal/config"
	"handoverphotos/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewPhoto inserts a processing photo record for tests.
func NewPhoto(t testing.TB, store *queue.Store, protocolID string) *queue.Photo {
	t.Helper()

	photo := &queue.Photo{
		ProtocolID:  protocolID,
		FileName:    "photo.jpg",
		ContentType: "image/jpeg",
		Status:      queue.PhotoProcessing,
	}
	if err := store.InsertPhoto(context.Background(), photo); err != nil {
		t.Fatalf("store.InsertPhoto: %v", err)
	}
	return photo
}
