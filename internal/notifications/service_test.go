package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"handoverphotos/internal/config"
	"handoverphotos/internal/notifications"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newCaptureServer(t *testing.T) (*httptest.Server, *[]captured) {
	t.Helper()
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = append(got, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyJobFailed(context.Background(), "generate-derivatives", "job-1", "boom"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := notifications.NewService(nil).TestNotification(context.Background()); err != nil {
		t.Fatalf("expected nil config to yield noop, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	srv, got := newCaptureServer(t)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(&cfg)
	ctx := context.Background()

	if err := svc.NotifyJobFailed(ctx, "generate-derivatives", "job-7", "decode failed"); err != nil {
		t.Fatalf("NotifyJobFailed: %v", err)
	}
	if err := svc.NotifyBacklog(ctx, 1500, 100); err != nil {
		t.Fatalf("NotifyBacklog: %v", err)
	}
	if err := svc.NotifyMigrationCompleted(ctx, notifications.MigrationSummary{
		BatchID:     "01HZX",
		Processed:   10,
		Failed:      2,
		SuccessRate: 80,
		Duration:    90 * time.Second,
	}); err != nil {
		t.Fatalf("NotifyMigrationCompleted: %v", err)
	}

	if len(*got) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(*got))
	}
	failed := (*got)[0]
	if failed.title != "Handover Photos - Job Failed" || failed.priority != "high" {
		t.Fatalf("unexpected job failure headers: %+v", failed)
	}
	if !strings.Contains(failed.body, "generate-derivatives (job-7)") || !strings.Contains(failed.body, "decode failed") {
		t.Fatalf("unexpected job failure body: %q", failed.body)
	}
	if body := (*got)[1].body; !strings.Contains(body, "1,500 jobs") {
		t.Fatalf("expected humanized backlog depth, got %q", body)
	}
	migration := (*got)[2]
	if migration.title != "Handover Photos - Migration Complete (with errors)" {
		t.Fatalf("unexpected migration title: %q", migration.title)
	}
	if !strings.Contains(migration.body, "80.0% success in 1m30s") {
		t.Fatalf("unexpected migration body: %q", migration.body)
	}
	if migration.tags != "handover,migration,completed" {
		t.Fatalf("unexpected tags: %q", migration.tags)
	}
}

func TestNtfyServiceHonoursEventToggles(t *testing.T) {
	srv, got := newCaptureServer(t)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.JobFailures = false
	cfg.Notifications.Backlog = false
	svc := notifications.NewService(&cfg)

	_ = svc.NotifyJobFailed(context.Background(), "x", "y", "z")
	_ = svc.NotifyBacklog(context.Background(), 5, 1)
	if len(*got) != 0 {
		t.Fatalf("expected muted events to be dropped, got %d", len(*got))
	}
	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("TestNotification: %v", err)
	}
	if len(*got) != 1 || (*got)[0].priority != "low" {
		t.Fatalf("expected one low priority test notification, got %+v", *got)
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic blocked", http.StatusForbidden)
	}))
	defer srv.Close()
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	err := notifications.NewService(&cfg).TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
