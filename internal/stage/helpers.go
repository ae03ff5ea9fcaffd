package stage

import (
	"context"
	"encoding/json"

	"handoverphotos/internal/queue"
	"handoverphotos/internal/services"
)

// DecodePayload unmarshals the job payload into T. A malformed payload is a
// validation failure; retrying the job cannot fix it.
func DecodePayload[T any](job *queue.Job) (T, error) {
	var out T
	if job == nil || len(job.Payload) == 0 {
		return out, services.Wrap(services.ErrValidation, "stage", "decode payload", "job payload is empty", nil)
	}
	if err := json.Unmarshal(job.Payload, &out); err != nil {
		return out, services.Wrap(services.ErrValidation, "stage", "decode payload",
			"job payload for "+job.Type+" is not valid JSON", err)
	}
	return out, nil
}

type progressKey struct{}

// ProgressFunc receives job progress in percent.
type ProgressFunc func(progress int)

// WithProgress attaches a progress sink to ctx.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress forwards progress to the sink on ctx, if any.
func ReportProgress(ctx context.Context, progress int) {
	if fn, ok := ctx.Value(progressKey{}).(ProgressFunc); ok {
		fn(progress)
	}
}
