package api

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"handoverphotos/internal/featuregate"
	"handoverphotos/internal/jobs"
	"handoverphotos/internal/migration"
	"handoverphotos/internal/photos"
	"handoverphotos/internal/queue"
	"handoverphotos/internal/services"
	"handoverphotos/internal/stage"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// FromPhoto converts a photo record to its API representation.
func FromPhoto(photo *queue.Photo) PhotoStatus {
	if photo == nil {
		return PhotoStatus{}
	}
	dto := PhotoStatus{
		PhotoID:    photo.ID,
		ProtocolID: photo.ProtocolID,
		FileName:   photo.FileName,
		Status:     string(photo.Status),
		Progress:   photo.Progress,
		URLs: PhotoURLs{
			Original: photo.URLs["original"],
			Thumb:    photo.URLs["thumb"],
			Gallery:  photo.URLs["gallery"],
			PDF:      photo.URLs["pdf"],
		},
		Hash:      photo.OriginalHash,
		Size:      photo.OriginalSize,
		JobID:     photo.JobID,
		Error:     photo.Error,
		CreatedAt: formatTime(photo.CreatedAt),
	}
	if photo.ProcessedAt != nil {
		dto.ProcessedAt = formatTime(*photo.ProcessedAt)
	}
	return dto
}

// FromUploadResult converts an ingest result. The request succeeds when at
// least one file was accepted.
func FromUploadResult(result photos.UploadResult) UploadResponse {
	resp := UploadResponse{
		Success: result.Successful > 0,
		Results: UploadResults{
			Successful: result.Successful,
			Failed:     result.Failed,
			Photos:     make([]UploadPhotoResult, 0, len(result.Files)),
		},
	}
	for _, file := range result.Files {
		dto := UploadPhotoResult{
			Success:     file.Err == nil,
			FileName:    file.FileName,
			PhotoID:     file.PhotoID,
			OriginalURL: file.OriginalURL,
			JobID:       file.JobID,
		}
		if file.Err != nil {
			dto.Error = file.Err.Error()
			dto.Kind = services.Kind(file.Err)
		}
		resp.Results.Photos = append(resp.Results.Photos, dto)
	}
	switch {
	case result.Failed == 0:
		resp.Message = fmt.Sprintf("%d photos accepted for processing", result.Successful)
	case result.Successful == 0:
		resp.Error = "no photos were accepted"
	default:
		resp.Message = fmt.Sprintf("%d photos accepted, %d rejected", result.Successful, result.Failed)
	}
	return resp
}

// FromPhotos converts a list of photo records.
func FromPhotos(photos []*queue.Photo) []PhotoStatus {
	out := make([]PhotoStatus, 0, len(photos))
	for _, photo := range photos {
		out = append(out, FromPhoto(photo))
	}
	return out
}

// FromManifestRecord wraps a stored manifest revision.
func FromManifestRecord(record *queue.ManifestRecord) ManifestResponse {
	if record == nil {
		return ManifestResponse{}
	}
	return ManifestResponse{
		Success:   true,
		Scope:     string(record.Scope),
		SubjectID: record.SubjectID,
		Revision:  record.Revision,
		CreatedAt: formatTime(record.CreatedAt),
		Manifest:  append([]byte(nil), record.JSON...),
	}
}

// FromFlag converts a gate flag.
func FromFlag(flag featuregate.Flag) Flag {
	dto := Flag{
		Key:        flag.Key,
		Enabled:    flag.Enabled,
		AllowList:  append([]string{}, flag.AllowList...),
		Percentage: flag.Percentage,
		UpdatedAt:  formatTime(flag.UpdatedAt),
	}
	if flag.Window != nil {
		dto.WindowStart = formatTime(flag.Window.Start)
		dto.WindowEnd = formatTime(flag.Window.End)
	}
	return dto
}

// FromFlags converts a list of gate flags.
func FromFlags(flags []featuregate.Flag) []Flag {
	out := make([]Flag, 0, len(flags))
	for _, flag := range flags {
		out = append(out, FromFlag(flag))
	}
	return out
}

// ToFlag converts a transport flag back into a gate flag, so clients can
// evaluate it locally.
func (f Flag) ToFlag() (featuregate.Flag, error) {
	flag := featuregate.Flag{
		Key:        f.Key,
		Enabled:    f.Enabled,
		AllowList:  append([]string(nil), f.AllowList...),
		Percentage: f.Percentage,
	}
	start, err := parseOptionalTime(&f.WindowStart)
	if err != nil {
		return featuregate.Flag{}, services.Wrap(services.ErrValidation, "api", "flag", "windowStart", err)
	}
	end, err := parseOptionalTime(&f.WindowEnd)
	if err != nil {
		return featuregate.Flag{}, services.Wrap(services.ErrValidation, "api", "flag", "windowEnd", err)
	}
	if !start.IsZero() || !end.IsZero() {
		flag.Window = &featuregate.Window{Start: start, End: end}
	}
	return flag, nil
}

// FromDecision converts a gate evaluation.
func FromDecision(d featuregate.Decision) FlagEvaluation {
	return FlagEvaluation{
		Success: true,
		Key:     d.Key,
		Subject: d.Subject,
		Enabled: d.Enabled,
		Reason:  d.Reason,
		Bucket:  d.Bucket,
	}
}

// ToPatch converts a wire patch into a gate patch. A window bound given as
// an empty string is open.
func (p FlagPatch) ToPatch() (featuregate.Patch, error) {
	patch := featuregate.Patch{
		Enabled:     p.Enabled,
		Percentage:  p.Percentage,
		ClearWindow: p.ClearWindow,
	}
	if p.AllowList != nil {
		list := append([]string(nil), (*p.AllowList)...)
		patch.AllowList = &list
	}
	if p.WindowStart != nil || p.WindowEnd != nil {
		var w featuregate.Window
		var err error
		if w.Start, err = parseOptionalTime(p.WindowStart); err != nil {
			return featuregate.Patch{}, services.Wrap(services.ErrValidation, "api", "flag patch", "windowStart", err)
		}
		if w.End, err = parseOptionalTime(p.WindowEnd); err != nil {
			return featuregate.Patch{}, services.Wrap(services.ErrValidation, "api", "flag patch", "windowEnd", err)
		}
		patch.Window = &w
	}
	return patch, nil
}

func parseOptionalTime(value *string) (time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, strings.TrimSpace(*value))
}

// FromCounts converts pipeline depth counters.
func FromCounts(c jobs.Counts) QueueCounts {
	return QueueCounts{
		Waiting:   c.Waiting,
		Active:    c.Active,
		Completed: c.Completed,
		Failed:    c.Failed,
	}
}

// HandlerHealthSlice returns handler health sorted by name.
func HandlerHealthSlice(health map[string]stage.Health) []HandlerHealth {
	out := make([]HandlerHealth, 0, len(health))
	for _, h := range health {
		out = append(out, HandlerHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FromMigrationProgress converts a migration progress snapshot.
func FromMigrationProgress(p migration.Progress, now time.Time) MigrationProgress {
	dto := MigrationProgress{
		BatchID:     p.BatchID,
		Running:     p.Running,
		DryRun:      p.DryRun,
		Total:       p.Total,
		Processed:   p.Processed,
		Failed:      p.Failed,
		SuccessRate: migration.SuccessRate(p),
		StartTime:   formatTime(p.StartTime),
		Errors:      append([]string{}, p.Errors...),
	}
	if eta, ok := migration.EstimatedCompletion(p, now); ok {
		dto.EstimatedCompletion = formatTime(eta)
	}
	return dto
}

// FromValidation converts a migration validation result.
func FromValidation(v migration.Validation) ValidationResponse {
	return ValidationResponse{
		Success:        true,
		ProtocolID:     v.ProtocolID,
		Migrated:       v.Migrated,
		Valid:          v.Valid,
		LegacyPhotos:   v.LegacyPhotos,
		MigratedPhotos: v.MigratedPhotos,
		Issues:         append([]string{}, v.Issues...),
	}
}

// ToMigrationOptions converts a start request. Dates use YYYY-MM-DD or RFC3339.
func (r MigrationStartRequest) ToMigrationOptions() (migration.Options, error) {
	opts := migration.Options{
		BatchSize:   r.BatchSize,
		DryRun:      r.DryRun,
		ProtocolIDs: append([]string(nil), r.ProtocolIDs...),
		SkipPhotos:  r.SkipPhotos,
		SkipPDFs:    r.SkipPDFs,
	}
	var err error
	if opts.StartDate, err = parseDate(r.StartDate); err != nil {
		return migration.Options{}, services.Wrap(services.ErrValidation, "api", "migration options", "startDate", err)
	}
	if opts.EndDate, err = parseDate(r.EndDate); err != nil {
		return migration.Options{}, services.Wrap(services.ErrValidation, "api", "migration options", "endDate", err)
	}
	if !opts.StartDate.IsZero() && !opts.EndDate.IsZero() && opts.EndDate.Before(opts.StartDate) {
		return migration.Options{}, services.Wrap(services.ErrValidation, "api", "migration options",
			fmt.Sprintf("endDate %s is before startDate %s", r.EndDate, r.StartDate), nil)
	}
	return opts, nil
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

// Errorf builds an ErrorResponse from err.
func Errorf(err error) ErrorResponse {
	details := services.Details(err)
	return ErrorResponse{
		Success: false,
		Error:   details.Message,
		Kind:    details.Kind,
		Hint:    details.Hint,
	}
}
