package uploadqueue

import (
	"maps"
	"time"
)

// Status is the lifecycle state of a queued photo.
type Status string

const (
	StatusPending    Status = "pending"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// InFlight reports whether the item is waiting on the backend.
func (s Status) InFlight() bool {
	return s == StatusUploading || s == StatusProcessing
}

// Progress checkpoints for the client-driven transitions.
const (
	progressUploading  = 10
	progressProcessing = 50
	progressCompleted  = 100
)

// Item is a snapshot of one queued photo. Snapshots are copies; mutating
// one does not affect the queue.
type Item struct {
	ID          string
	Name        string
	ContentType string
	Size        int64
	Status      Status
	Progress    int
	Retries     int
	RemoteID    string
	JobID       string
	DerivedURLs map[string]string
	Error       string
	CapturedAt  time.Time
	UploadedAt  *time.Time
	ProcessedAt *time.Time
}

func (it Item) clone() Item {
	out := it
	out.DerivedURLs = maps.Clone(it.DerivedURLs)
	if it.UploadedAt != nil {
		t := *it.UploadedAt
		out.UploadedAt = &t
	}
	if it.ProcessedAt != nil {
		t := *it.ProcessedAt
		out.ProcessedAt = &t
	}
	return out
}

// raiseProgress moves progress forward only.
func (it *Item) raiseProgress(p int) {
	if p > progressCompleted {
		p = progressCompleted
	}
	if p > it.Progress {
		it.Progress = p
	}
}

// mergeURLs adds rendition locations; existing entries are never dropped.
func (it *Item) mergeURLs(urls map[string]string) {
	for name, url := range urls {
		if url == "" {
			continue
		}
		if it.DerivedURLs == nil {
			it.DerivedURLs = make(map[string]string, len(urls))
		}
		it.DerivedURLs[name] = url
	}
}

// Preview describes a captured photo for display before it is processed.
type Preview struct {
	ItemID      string
	Name        string
	ContentType string
	Size        int64
	Width       int
	Height      int
}

// Counts tallies items per status.
type Counts struct {
	Pending    int
	Uploading  int
	Processing int
	Completed  int
	Failed     int
}

// Total returns the number of items counted.
func (c Counts) Total() int {
	return c.Pending + c.Uploading + c.Processing + c.Completed + c.Failed
}

// CountItems tallies a snapshot.
func CountItems(items []Item) Counts {
	var c Counts
	for _, it := range items {
		switch it.Status {
		case StatusPending:
			c.Pending++
		case StatusUploading:
			c.Uploading++
		case StatusProcessing:
			c.Processing++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		}
	}
	return c
}
