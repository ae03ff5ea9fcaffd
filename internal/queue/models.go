package queue

import (
	"fmt"
	"strings"
	"time"
)

// JobState is the lifecycle of a background job.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

var allJobStates = []JobState{JobWaiting, JobActive, JobCompleted, JobFailed}

// AllJobStates returns every job state in lifecycle order.
func AllJobStates() []JobState {
	return append([]JobState(nil), allJobStates...)
}

// ParseJobState normalizes a state name.
func ParseJobState(value string) (JobState, error) {
	state := JobState(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range allJobStates {
		if state == known {
			return state, nil
		}
	}
	return "", fmt.Errorf("unknown job state %q", value)
}

// Terminal reports whether no further transition is expected.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is a unit of background work persisted in SQLite.
type Job struct {
	ID            string
	Type          string
	Payload       []byte
	State         JobState
	Progress      int
	Attempts      int
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
	LastHeartbeat *time.Time
}

// PhotoStatus is the server-side processing state of an uploaded photo.
type PhotoStatus string

const (
	PhotoProcessing PhotoStatus = "processing"
	PhotoCompleted  PhotoStatus = "completed"
	PhotoFailed     PhotoStatus = "failed"
)

// Photo is the server-side record of one uploaded or migrated photo.
type Photo struct {
	ID           string
	ProtocolID   string
	UserID       string
	FileName     string
	ContentType  string
	Status       PhotoStatus
	Progress     int
	OriginalKey  string
	OriginalHash string
	OriginalSize int64
	Width        int
	Height       int
	URLs         map[string]string
	JobID        string
	Error        string
	BatchID      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ProcessedAt  *time.Time
}

// SetProgress raises progress; it never moves backwards.
func (p *Photo) SetProgress(progress int) {
	if progress > 100 {
		progress = 100
	}
	if progress > p.Progress {
		p.Progress = progress
	}
}

// MergeURLs adds rendition locations without dropping existing ones.
func (p *Photo) MergeURLs(urls map[string]string) {
	if p.URLs == nil {
		p.URLs = make(map[string]string, len(urls))
	}
	for name, url := range urls {
		if url != "" {
			p.URLs[name] = url
		}
	}
}

// ManifestScope distinguishes per-photo manifests from protocol bundles.
type ManifestScope string

const (
	ScopePhoto    ManifestScope = "photo"
	ScopeProtocol ManifestScope = "protocol"
)

// ManifestRecord is one immutable revision of a published manifest.
type ManifestRecord struct {
	ID        int64
	Scope     ManifestScope
	SubjectID string
	Revision  int
	JSON      []byte
	TotalSize int64
	CreatedAt time.Time
}

// FlagRecord is the persisted form of a rollout flag.
type FlagRecord struct {
	Key         string
	Enabled     bool
	AllowList   []string
	Percentage  int
	WindowStart *time.Time
	WindowEnd   *time.Time
	UpdatedAt   time.Time
}

// Protocol is a V2 handover or return protocol record.
type Protocol struct {
	ID              string
	Type            string
	RentalID        string
	DataJSON        []byte
	Status          string
	BatchID         string
	LegacyCreatedAt *time.Time
	CreatedAt       time.Time
	MigratedAt      *time.Time
}

// BatchStatus tracks a migration batch.
type BatchStatus string

const (
	BatchRunning    BatchStatus = "running"
	BatchCompleted  BatchStatus = "completed"
	BatchRolledBack BatchStatus = "rolled_back"
)

// MigrationBatch is the persisted summary of one migration run.
type MigrationBatch struct {
	ID           string
	Status       BatchStatus
	DryRun       bool
	Total        int
	Processed    int
	Failed       int
	StartedAt    time.Time
	FinishedAt   *time.Time
	RolledBackAt *time.Time
}

// JobCounts holds the number of jobs per state.
type JobCounts struct {
	Waiting   int64
	Active    int64
	Completed int64
	Failed    int64
}

// DatabaseHealth captures diagnostic information about the database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	MissingTables    []string
	IntegrityCheck   bool
	Error            string
}
