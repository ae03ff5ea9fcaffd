package migration

import "time"

// maxProgressErrors bounds the error list kept for one run.
const maxProgressErrors = 200

// Progress is a snapshot of a migration run.
type Progress struct {
	BatchID    string
	Running    bool
	DryRun     bool
	Total      int
	Processed  int
	Failed     int
	StartTime  time.Time
	FinishedAt *time.Time
	Errors     []string
}

// UpdateProgress returns p with the counters advanced.
func UpdateProgress(p Progress, processedDelta, failedDelta int) Progress {
	p.Processed += processedDelta
	p.Failed += failedDelta
	return p
}

// SuccessRate is the share of processed records that migrated, in percent.
// It is 0 before anything was processed.
func SuccessRate(p Progress) float64 {
	if p.Processed <= 0 {
		return 0
	}
	return float64(p.Processed-p.Failed) / float64(p.Processed) * 100
}

// EstimatedCompletion extrapolates the average time per processed record
// over the records still to go. It reports false until a record finished.
func EstimatedCompletion(p Progress, now time.Time) (time.Time, bool) {
	if p.Processed <= 0 || p.StartTime.IsZero() || p.Total <= 0 {
		return time.Time{}, false
	}
	elapsed := now.Sub(p.StartTime)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := p.Total - p.Processed
	if remaining < 0 {
		remaining = 0
	}
	perRecord := elapsed / time.Duration(p.Processed)
	return now.Add(perRecord * time.Duration(remaining)), true
}

func (p Progress) clone() Progress {
	p.Errors = append([]string(nil), p.Errors...)
	if p.FinishedAt != nil {
		t := *p.FinishedAt
		p.FinishedAt = &t
	}
	return p
}

func (p *Progress) addError(msg string) {
	if len(p.Errors) >= maxProgressErrors {
		return
	}
	p.Errors = append(p.Errors, msg)
}
