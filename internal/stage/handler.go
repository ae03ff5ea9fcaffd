package stage

import (
	"context"

	"handoverphotos/internal/queue"
)

// Handler runs one job type (derivative generation, manifest generation) for
// the worker pool.
//
// Prepare decodes and checks the payload before any object is written; an
// error there fails the job without a retry when it wraps ErrValidation.
// Execute does the work and may be called again for the same job after a
// crash or stale-heartbeat reclaim, so it must be safe to repeat.
// HealthCheck reports whether the handler's dependencies (photo database,
// object storage) are reachable and is served by the status endpoint.
type Handler interface {
	Prepare(context.Context, *queue.Job) error
	Execute(context.Context, *queue.Job) error
	HealthCheck(context.Context) Health
}
