package jobs_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"handoverphotos/internal/jobs"
	"handoverphotos/internal/queue"
	"handoverphotos/internal/services"
)

type stubBroker struct {
	statusCalls atomic.Int32
	state       queue.JobState
	counts      jobs.Counts
	payloads    [][]byte
}

func (b *stubBroker) Name() string { return "stub" }

func (b *stubBroker) Enqueue(_ context.Context, _ string, payload []byte) (jobs.Handle, error) {
	b.payloads = append(b.payloads, payload)
	return jobs.Handle("job-1"), nil
}

func (b *stubBroker) Status(_ context.Context, handle jobs.Handle) (jobs.JobStatus, error) {
	b.statusCalls.Add(1)
	return jobs.JobStatus{Handle: handle, State: b.state}, nil
}

func (b *stubBroker) Counts() jobs.Counts { return b.counts }

func (b *stubBroker) Start(context.Context) error { return nil }

func (b *stubBroker) Stop() {}

func newPipeline(broker jobs.Broker, threshold int64, notifier *recordingNotifier) *jobs.Pipeline {
	registry := jobs.NewRegistry()
	registry.Register(jobs.TypeGenerateDerivatives, funcHandler{run: func(context.Context, *queue.Job) error { return nil }})
	opts := jobs.PipelineOptions{StatusCacheTTL: time.Minute, BacklogThreshold: threshold}
	if notifier != nil {
		opts.Notifier = notifier
	}
	return jobs.NewPipeline(broker, registry, opts)
}

func TestPipelineEnqueueValidatesTypeAndEncodesPayload(t *testing.T) {
	broker := &stubBroker{}
	p := newPipeline(broker, 0, nil)
	ctx := context.Background()

	if _, err := p.Enqueue(ctx, "unknown", nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown type, got %v", err)
	}
	handle, err := p.Enqueue(ctx, jobs.TypeGenerateDerivatives, map[string]string{"photoId": "p1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if handle != "job-1" {
		t.Fatalf("unexpected handle %q", handle)
	}
	if got := string(broker.payloads[0]); got != `{"photoId":"p1"}` {
		t.Fatalf("unexpected payload %s", got)
	}
}

func TestPipelineCachesOnlyTerminalStatus(t *testing.T) {
	broker := &stubBroker{state: queue.JobActive}
	p := newPipeline(broker, 0, nil)
	ctx := context.Background()

	for range 2 {
		if _, err := p.Status(ctx, "job-1"); err != nil {
			t.Fatalf("Status: %v", err)
		}
	}
	if got := broker.statusCalls.Load(); got != 2 {
		t.Fatalf("expected active status to bypass cache, got %d calls", got)
	}

	broker.state = queue.JobCompleted
	for range 3 {
		status, err := p.Status(ctx, "job-1")
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if status.State != queue.JobCompleted {
			t.Fatalf("unexpected state %s", status.State)
		}
	}
	if got := broker.statusCalls.Load(); got != 3 {
		t.Fatalf("expected terminal status to be cached, got %d calls", got)
	}
	if _, err := p.Status(ctx, ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty handle, got %v", err)
	}
}

func TestPipelineBacklog(t *testing.T) {
	broker := &stubBroker{counts: jobs.Counts{Waiting: 3, Active: 1, Completed: 50}}
	notifier := &recordingNotifier{}
	p := newPipeline(broker, 5, notifier)
	ctx := context.Background()

	if p.Backlogged() || p.CheckBacklog(ctx) {
		t.Fatal("depth 4 under threshold 5 should not be backlogged")
	}
	broker.counts.Waiting = 4
	if !p.CheckBacklog(ctx) || !p.CheckBacklog(ctx) {
		t.Fatal("expected backlog at depth 5")
	}
	if _, backlogs := notifier.snapshot(); backlogs != 1 {
		t.Fatalf("expected a single backlog notification, got %d", backlogs)
	}
	broker.counts.Waiting = 0
	p.CheckBacklog(ctx)
	broker.counts.Waiting = 10
	p.CheckBacklog(ctx)
	if _, backlogs := notifier.snapshot(); backlogs != 2 {
		t.Fatalf("expected a second notification after recovery, got %d", backlogs)
	}

	disabled := newPipeline(broker, 0, nil)
	if disabled.Backlogged() {
		t.Fatal("zero threshold disables backlog detection")
	}
}

func TestPipelineMaintenanceSkipsNonMaintainers(t *testing.T) {
	p := newPipeline(&stubBroker{}, 0, nil)
	if n, err := p.ReclaimStale(context.Background()); n != 0 || err != nil {
		t.Fatalf("expected no-op reclaim, got %d %v", n, err)
	}
	if n, err := p.Prune(context.Background(), time.Hour); n != 0 || err != nil {
		t.Fatalf("expected no-op prune, got %d %v", n, err)
	}
}
