package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"handoverphotos/internal/config"
)

const userAgent = "handoverphotos/1.0"

// Service defines the notification surface exposed to the pipeline and migration.
type Service interface {
	NotifyMigrationCompleted(ctx context.Context, summary MigrationSummary) error
	NotifyJobFailed(ctx context.Context, jobType, jobID, message string) error
	NotifyBacklog(ctx context.Context, depth, threshold int64) error
	TestNotification(ctx context.Context) error
}

// MigrationSummary describes a finished migration batch.
type MigrationSummary struct {
	BatchID     string
	DryRun      bool
	Processed   int
	Failed      int
	SuccessRate float64
	Duration    time.Duration
	StartedAt   time.Time
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		migration:   cfg.Notifications.Migration,
		jobFailures: cfg.Notifications.JobFailures,
		backlog:     cfg.Notifications.Backlog,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client

	migration   bool
	jobFailures bool
	backlog     bool
}

func (n *ntfyService) NotifyMigrationCompleted(ctx context.Context, summary MigrationSummary) error {
	if !n.migration {
		return nil
	}
	duration := summary.Duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	title := "Handover Photos - Migration Complete"
	if summary.Failed > 0 {
		title = "Handover Photos - Migration Complete (with errors)"
	}
	mode := ""
	if summary.DryRun {
		mode = " (dry run)"
	}
	message := fmt.Sprintf("Batch %s%s: %d processed, %d failed, %.1f%% success in %s",
		summary.BatchID, mode, summary.Processed, summary.Failed, summary.SuccessRate, duration)
	if !summary.StartedAt.IsZero() {
		message += fmt.Sprintf("\nStarted %s", humanize.Time(summary.StartedAt))
	}
	return n.send(ctx, payload{
		title:   title,
		message: message,
		tags:    []string{"handover", "migration", "completed"},
	})
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, jobType, jobID, message string) error {
	if !n.jobFailures {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Job failed")
	if jobType = strings.TrimSpace(jobType); jobType != "" {
		builder.WriteString(": ")
		builder.WriteString(jobType)
	}
	if jobID = strings.TrimSpace(jobID); jobID != "" {
		builder.WriteString(" (")
		builder.WriteString(jobID)
		builder.WriteString(")")
	}
	builder.WriteString("\n")
	if message = strings.TrimSpace(message); message != "" {
		builder.WriteString(message)
	} else {
		builder.WriteString("unknown error")
	}
	return n.send(ctx, payload{
		title:    "Handover Photos - Job Failed",
		message:  builder.String(),
		tags:     []string{"handover", "job", "failed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyBacklog(ctx context.Context, depth, threshold int64) error {
	if !n.backlog {
		return nil
	}
	return n.send(ctx, payload{
		title: "Handover Photos - Queue Backlog",
		message: fmt.Sprintf("%s jobs waiting or active (threshold %s)",
			humanize.Comma(depth), humanize.Comma(threshold)),
		tags:     []string{"handover", "queue", "backlog"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Handover Photos - Test",
		message:  "Notification system test",
		tags:     []string{"handover", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyMigrationCompleted(context.Context, MigrationSummary) error { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string, string) error    { return nil }
func (noopService) NotifyBacklog(context.Context, int64, int64) error                { return nil }
func (noopService) TestNotification(context.Context) error                           { return nil }
