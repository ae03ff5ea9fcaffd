package uploadqueue

import (
	"context"
	"time"
)

// Submission is one file handed to the backend.
type Submission struct {
	ProtocolID  string
	UserID      string
	FileName    string
	ContentType string
	Data        []byte
}

// Accepted is the backend's answer to a successful submission.
type Accepted struct {
	PhotoID     string
	OriginalURL string
	JobID       string
}

// Submitter hands captured files to the backend. Errors marked with
// services.ErrProcessing or an input kind are terminal; anything else is
// retried.
type Submitter interface {
	Submit(ctx context.Context, sub Submission) (Accepted, error)
}

// RemoteStatus is the backend's view of a submitted photo.
type RemoteStatus struct {
	Status      string
	Progress    int
	URLs        map[string]string
	Error       string
	ProcessedAt *time.Time
}

// Remote status values reported by the backend.
const (
	RemoteProcessing = "processing"
	RemoteCompleted  = "completed"
	RemoteFailed     = "failed"
)

// StatusSource reports processing state for a submitted photo.
type StatusSource interface {
	Status(ctx context.Context, photoID string) (RemoteStatus, error)
}
