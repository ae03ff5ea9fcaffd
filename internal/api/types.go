package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ErrorResponse is written for every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

// UploadPhotoResult reports the outcome for one uploaded file.
type UploadPhotoResult struct {
	Success     bool   `json:"success"`
	FileName    string `json:"fileName,omitempty"`
	PhotoID     string `json:"photoId,omitempty"`
	OriginalURL string `json:"originalUrl,omitempty"`
	JobID       string `json:"jobId,omitempty"`
	Error       string `json:"error,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

// UploadResults aggregates per-file upload outcomes.
type UploadResults struct {
	Successful int                 `json:"successful"`
	Failed     int                 `json:"failed"`
	Photos     []UploadPhotoResult `json:"photos"`
}

// UploadResponse is returned by the photo upload endpoint.
type UploadResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	Error   string        `json:"error,omitempty"`
	Results UploadResults `json:"results"`
}

// PhotoURLs holds rendition locations keyed by rendition name.
type PhotoURLs struct {
	Original string `json:"original,omitempty"`
	Thumb    string `json:"thumb,omitempty"`
	Gallery  string `json:"gallery,omitempty"`
	PDF      string `json:"pdf,omitempty"`
}

// Map returns the non-empty locations keyed by rendition name.
func (u PhotoURLs) Map() map[string]string {
	out := make(map[string]string, 4)
	for name, value := range map[string]string{
		"original": u.Original,
		"thumb":    u.Thumb,
		"gallery":  u.Gallery,
		"pdf":      u.PDF,
	} {
		if value != "" {
			out[name] = value
		}
	}
	return out
}

// PhotoStatus describes a photo's server-side processing state.
type PhotoStatus struct {
	PhotoID     string    `json:"photoId"`
	ProtocolID  string    `json:"protocolId"`
	FileName    string    `json:"fileName,omitempty"`
	Status      string    `json:"status"`
	Progress    int       `json:"progress"`
	URLs        PhotoURLs `json:"urls"`
	Hash        string    `json:"hash,omitempty"`
	Size        int64     `json:"size,omitempty"`
	JobID       string    `json:"jobId,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   string    `json:"createdAt,omitempty"`
	ProcessedAt string    `json:"processedAt,omitempty"`
}

// PhotoStatusResponse wraps a single photo status.
type PhotoStatusResponse struct {
	Success bool         `json:"success"`
	Error   string       `json:"error,omitempty"`
	Photo   *PhotoStatus `json:"photo,omitempty"`
}

// PhotoListResponse lists the photos of a protocol.
type PhotoListResponse struct {
	Success    bool          `json:"success"`
	ProtocolID string        `json:"protocolId"`
	Photos     []PhotoStatus `json:"photos"`
}

// ManifestResponse carries a published manifest revision.
type ManifestResponse struct {
	Success   bool            `json:"success"`
	Scope     string          `json:"scope"`
	SubjectID string          `json:"subjectId"`
	Revision  int             `json:"revision"`
	CreatedAt string          `json:"createdAt,omitempty"`
	Manifest  json.RawMessage `json:"manifest"`
}

// GenerateManifestRequest selects the photos bundled into a protocol manifest.
// An empty list bundles every completed photo of the protocol.
type GenerateManifestRequest struct {
	PhotoIDs []string `json:"photoIds"`
}

// JobAccepted is returned when work was enqueued.
type JobAccepted struct {
	Success    bool   `json:"success"`
	JobID      string `json:"jobId"`
	ProtocolID string `json:"protocolId,omitempty"`
}

// QueueCounts holds job counts per state.
type QueueCounts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// QueueStatsResponse reports job pipeline depth and backlog health.
type QueueStatsResponse struct {
	Success   bool        `json:"success"`
	Broker    string      `json:"broker"`
	Counts    QueueCounts `json:"counts"`
	Healthy   bool        `json:"healthy"`
	Threshold int         `json:"threshold"`
}

// Flag is the transport form of a rollout flag.
type Flag struct {
	Key         string   `json:"key"`
	Enabled     bool     `json:"enabled"`
	AllowList   []string `json:"allowList"`
	Percentage  int      `json:"percentage"`
	WindowStart string   `json:"windowStart,omitempty"`
	WindowEnd   string   `json:"windowEnd,omitempty"`
	UpdatedAt   string   `json:"updatedAt,omitempty"`
}

// FlagListResponse lists every flag.
type FlagListResponse struct {
	Success bool   `json:"success"`
	Flags   []Flag `json:"flags"`
}

// FlagResponse wraps one flag.
type FlagResponse struct {
	Success bool `json:"success"`
	Flag    Flag `json:"flag"`
}

// FlagPatch is a partial flag update. Absent fields keep their value.
type FlagPatch struct {
	Enabled     *bool     `json:"enabled,omitempty"`
	AllowList   *[]string `json:"allowList,omitempty"`
	Percentage  *int      `json:"percentage,omitempty"`
	WindowStart *string   `json:"windowStart,omitempty"`
	WindowEnd   *string   `json:"windowEnd,omitempty"`
	ClearWindow bool      `json:"clearWindow,omitempty"`
}

// FlagEvaluation explains one gating decision.
type FlagEvaluation struct {
	Success bool   `json:"success"`
	Key     string `json:"key"`
	Subject string `json:"subject"`
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason"`
	Bucket  int    `json:"bucket"`
}

// MigrationStartRequest selects what a migration run covers.
type MigrationStartRequest struct {
	BatchSize   int      `json:"batchSize,omitempty"`
	DryRun      bool     `json:"dryRun"`
	ProtocolIDs []string `json:"protocolIds,omitempty"`
	StartDate   string   `json:"startDate,omitempty"`
	EndDate     string   `json:"endDate,omitempty"`
	SkipPhotos  bool     `json:"skipPhotos"`
	SkipPDFs    bool     `json:"skipPdfs"`
}

// MigrationProgress is a snapshot of a migration run.
type MigrationProgress struct {
	BatchID             string   `json:"batchId"`
	Running             bool     `json:"running"`
	DryRun              bool     `json:"dryRun"`
	Total               int      `json:"total"`
	Processed           int      `json:"processed"`
	Failed              int      `json:"failed"`
	SuccessRate         float64  `json:"successRate"`
	StartTime           string   `json:"startTime,omitempty"`
	EstimatedCompletion string   `json:"estimatedCompletion,omitempty"`
	Errors              []string `json:"errors"`
}

// MigrationProgressResponse wraps a progress snapshot.
type MigrationProgressResponse struct {
	Success  bool              `json:"success"`
	Progress MigrationProgress `json:"progress"`
}

// RollbackResponse reports how many protocols a rollback removed.
type RollbackResponse struct {
	Success bool   `json:"success"`
	BatchID string `json:"batchId"`
	Removed int    `json:"removed"`
}

// ValidationResponse compares a legacy protocol with its migrated form.
type ValidationResponse struct {
	Success        bool     `json:"success"`
	ProtocolID     string   `json:"protocolId"`
	Migrated       bool     `json:"migrated"`
	Valid          bool     `json:"valid"`
	LegacyPhotos   int      `json:"legacyPhotos"`
	MigratedPhotos int      `json:"migratedPhotos"`
	Issues         []string `json:"issues"`
}

// HandlerHealth mirrors readiness reporting for job handlers.
type HandlerHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool            `json:"running"`
	PID          int             `json:"pid"`
	DatabasePath string          `json:"databasePath"`
	LockFilePath string          `json:"lockFilePath"`
	Storage      string          `json:"storage"`
	Broker       string          `json:"broker"`
	Counts       QueueCounts     `json:"counts"`
	Handlers     []HandlerHealth `json:"handlers"`
	Flags        int             `json:"flags"`
}

// DeleteResponse confirms a photo removal.
type DeleteResponse struct {
	Success bool   `json:"success"`
	PhotoID string `json:"photoId"`
}
