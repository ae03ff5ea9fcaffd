package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/hashicorp/go-multierror"

	"handoverphotos/internal/config"
	"handoverphotos/internal/services"
)

// Backend stores photo originals and renditions by key.
type Backend interface {
	Name() string
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get returns services.ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete succeeds when the key is already absent.
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// New builds the backend selected in configuration.
func New(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.Storage.Backend {
	case config.StorageLocal:
		return NewLocal(cfg.Storage.LocalDir, cfg.Storage.PublicBaseURL)
	case config.StorageS3:
		return NewS3(ctx, cfg.Storage)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "storage", "new",
			fmt.Sprintf("unknown storage backend %q", cfg.Storage.Backend), nil)
	}
}

// DeleteAll removes every key and reports all failures together.
func DeleteAll(ctx context.Context, backend Backend, keys ...string) error {
	var result *multierror.Error
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := backend.Delete(ctx, key); err != nil {
			result = multierror.Append(result, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	return result.ErrorOrNil()
}

// cleanKey rejects keys that could escape the storage root.
func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", services.Wrap(services.ErrInvalidInput, "storage", "key", "object key is empty", nil)
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(key, "/") || strings.Contains(key, "..") {
		return "", services.Wrap(services.ErrInvalidInput, "storage", "key",
			fmt.Sprintf("object key %q is not a clean relative path", key), nil)
	}
	return cleaned, nil
}

func joinURL(base, key string) string {
	if base == "" {
		return "/objects/" + key
	}
	return strings.TrimRight(base, "/") + "/" + key
}
