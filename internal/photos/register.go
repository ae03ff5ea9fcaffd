package photos

import (
	"log/slog"

	"handoverphotos/internal/derivatives"
	"handoverphotos/internal/jobs"
	"handoverphotos/internal/queue"
	"handoverphotos/internal/storage"
)

// RegisterHandlers installs the photo job handlers on registry.
func RegisterHandlers(registry *jobs.Registry, store *queue.Store, backend storage.Backend, logger *slog.Logger) {
	generator := derivatives.NewGenerator(derivatives.WithLogger(logger))
	registry.Register(jobs.TypeGenerateDerivatives, NewDerivativesHandler(store, backend, generator, logger))
	registry.Register(jobs.TypeGenerateManifest, NewManifestHandler(store, logger))
}
