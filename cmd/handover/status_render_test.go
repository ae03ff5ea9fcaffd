package main

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"handoverphotos/internal/api"
	"handoverphotos/internal/preflight"
	"handoverphotos/internal/uploadqueue"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("handoverd", statusError, "Not reachable", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "handoverd:", "[ERROR] Not reachable")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Storage", statusOK, "local", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green line, got %q", got)
	}
}

func TestStatusLinesDaemonDown(t *testing.T) {
	checks := []preflight.Result{
		{Name: "Data directory", Passed: true, Detail: "writable"},
		{Name: "Redis", Passed: false, Detail: "dial tcp: refused"},
	}
	lines := statusLines(nil, errors.New("connect to daemon: refused"), checks, false)
	joined := strings.Join(lines, "\n")
	for _, want := range []string{"[ERROR] connect to daemon: refused", "[OK] writable", "[ERROR] dial tcp: refused"} {
		requireContains(t, joined, want)
	}
}

func TestStatusLinesDaemonUp(t *testing.T) {
	status := &api.DaemonStatus{
		Running: true,
		PID:     42,
		Storage: "local",
		Broker:  "sqlite",
		Counts:  api.QueueCounts{Waiting: 2, Active: 1},
		Handlers: []api.HandlerHealth{
			{Name: "process_photo", Ready: true},
			{Name: "generate_manifest", Ready: false, Detail: "store closed"},
		},
		Flags: 3,
	}
	joined := strings.Join(statusLines(status, nil, nil, false), "\n")
	for _, want := range []string{"Running (pid 42)", "2 waiting, 1 active", "3 defined", "[WARN] Not ready store closed"} {
		requireContains(t, joined, want)
	}
}

func TestUploadRendering(t *testing.T) {
	items := []uploadqueue.Item{
		{ID: "1", Name: "a.jpg", Size: 1000, Status: uploadqueue.StatusCompleted, Progress: 100, RemoteID: "p1",
			DerivedURLs: map[string]string{"thumb": "/objects/a_thumb.jpg"}},
		{ID: "2", Name: "b.jpg", Size: 3000, Status: uploadqueue.StatusFailed, Progress: 0, Retries: 3, Error: "server unavailable"},
	}
	table := renderUploadTable(items)
	for _, want := range []string{"a.jpg", "/objects/a_thumb.jpg", "server unavailable", "2 photos", "4.0 kB", "1 done", "1 failed"} {
		requireContains(t, table, want)
	}

	summary := progressSummary(items)
	requireContains(t, summary, " 50%")
	requireContains(t, summary, "1 done")

	if got := itemStatusText(items[1]); got != "failed 0% (retry 3): server unavailable" {
		t.Fatalf("unexpected item text %q", got)
	}
}

func TestProgressPrinterPrintsTransitionsOnce(t *testing.T) {
	var out strings.Builder
	printer := newProgressPrinter(&out, false)
	item := uploadqueue.Item{ID: "1", Name: "a.jpg", Status: uploadqueue.StatusUploading, Progress: 10}
	printer.update([]uploadqueue.Item{item})
	item.Progress = 60
	printer.update([]uploadqueue.Item{item})
	item.Status = uploadqueue.StatusCompleted
	printer.update([]uploadqueue.Item{item})
	printer.finish()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two transitions, got %q", out.String())
	}
	requireContains(t, lines[1], "[OK]")
}
