package uploadqueue

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"handoverphotos/internal/logging"
	"handoverphotos/internal/services"
	"handoverphotos/internal/testsupport"
)

type manualTimer struct {
	s       *manualScheduler
	at      time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// manualScheduler fires timers only when the test advances it.
type manualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &manualTimer{s: s, at: s.now.Add(d), seq: s.seq, fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *manualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Advance moves the clock forward, firing due timers in order.
func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()
	for {
		s.mu.Lock()
		var due []*manualTimer
		for _, t := range s.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			s.now = target
			s.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].at.Equal(due[j].at) {
				return due[i].seq < due[j].seq
			}
			return due[i].at.Before(due[j].at)
		})
		next := due[0]
		next.fired = true
		s.now = next.at
		s.mu.Unlock()
		next.fn()
	}
}

// Pending counts timers that have neither fired nor been stopped.
func (s *manualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func inlineRunner(task func()) { task() }

// deferredRunner holds tasks until the test runs them.
type deferredRunner struct {
	mu    sync.Mutex
	tasks []func()
}

func (r *deferredRunner) run(task func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
}

func (r *deferredRunner) drain() {
	for {
		r.mu.Lock()
		if len(r.tasks) == 0 {
			r.mu.Unlock()
			return
		}
		task := r.tasks[0]
		r.tasks = r.tasks[1:]
		r.mu.Unlock()
		task()
	}
}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []Submission
	fn    func(call int, sub Submission) (Accepted, error)
}

func (f *fakeSubmitter) Submit(_ context.Context, sub Submission) (Accepted, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sub)
	call := len(f.calls)
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return Accepted{PhotoID: "photo-1", OriginalURL: "/objects/original/photo-1.jpg", JobID: "job-1"}, nil
	}
	return fn(call, sub)
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeStatus struct {
	mu        sync.Mutex
	calls     int
	responses []statusReply
}

type statusReply struct {
	status RemoteStatus
	err    error
}

// Status replays responses in order and repeats the last one.
func (f *fakeStatus) Status(context.Context, string) (RemoteStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.responses) == 0 {
		return RemoteStatus{Status: RemoteProcessing}, nil
	}
	reply := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return reply.status, reply.err
}

func (f *fakeStatus) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func transientErr(msg string) error {
	return services.Wrap(services.ErrTransient, "test", "call", msg, nil)
}

func allURLs() map[string]string {
	return map[string]string{
		"original": "/objects/original/photo-1.jpg",
		"thumb":    "/objects/thumb/photo-1.webp",
		"gallery":  "/objects/gallery/photo-1.jpg",
		"pdf":      "/objects/pdf/photo-1.jpg",
	}
}

type harness struct {
	queue     *Queue
	scheduler *manualScheduler
	submitter *fakeSubmitter
	status    *fakeStatus
}

func newHarness(t *testing.T, opts Options, extra ...Option) *harness {
	t.Helper()

	h := &harness{
		scheduler: newManualScheduler(),
		submitter: &fakeSubmitter{},
		status:    &fakeStatus{},
	}
	if opts.ProtocolID == "" {
		opts.ProtocolID = "proto-1"
	}
	options := append([]Option{
		WithScheduler(h.scheduler),
		WithRunner(inlineRunner),
		WithLogger(logging.NewNop()),
	}, extra...)
	h.queue = New(h.submitter, h.status, opts, options...)
	t.Cleanup(h.queue.Close)
	return h
}

func jpegFile(t *testing.T, name string) File {
	t.Helper()
	return File{Name: name, ContentType: "image/jpeg", Data: testsupport.JPEG(t, 16, 12)}
}

func onlyItem(t *testing.T, q *Queue) Item {
	t.Helper()
	items := q.Items()
	if len(items) != 1 {
		t.Fatalf("expected one item, got %d", len(items))
	}
	return items[0]
}
