package services

import "context"

type contextKey string

const (
	photoIDKey    contextKey = "photo_id"
	jobIDKey      contextKey = "job_id"
	jobTypeKey    contextKey = "job_type"
	batchIDKey    contextKey = "batch_id"
	protocolIDKey contextKey = "protocol_id"
	requestIDKey  contextKey = "request_id"
)

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithPhotoID annotates context with the photo identifier.
func WithPhotoID(ctx context.Context, id string) context.Context {
	return withString(ctx, photoIDKey, id)
}

// PhotoIDFromContext extracts the photo identifier if present.
func PhotoIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, photoIDKey)
}

// WithJobID annotates context with the background job handle.
func WithJobID(ctx context.Context, id string) context.Context {
	return withString(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job handle if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, jobIDKey)
}

// WithJobType annotates context with the job type name.
func WithJobType(ctx context.Context, jobType string) context.Context {
	return withString(ctx, jobTypeKey, jobType)
}

// JobTypeFromContext returns the job type if present.
func JobTypeFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, jobTypeKey)
}

// WithBatchID annotates context with a migration batch identifier.
func WithBatchID(ctx context.Context, id string) context.Context {
	return withString(ctx, batchIDKey, id)
}

// BatchIDFromContext returns the migration batch identifier if present.
func BatchIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, batchIDKey)
}

// WithProtocolID annotates context with the protocol the work belongs to.
func WithProtocolID(ctx context.Context, id string) context.Context {
	return withString(ctx, protocolIDKey, id)
}

// ProtocolIDFromContext returns the protocol identifier if present.
func ProtocolIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, protocolIDKey)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, requestIDKey)
}
