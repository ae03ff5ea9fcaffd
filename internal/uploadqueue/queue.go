package uploadqueue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"mime"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	_ "golang.org/x/image/webp"

	"handoverphotos/internal/logging"
	"handoverphotos/internal/services"
)

// ErrClosed is returned by Capture after Close.
var ErrClosed = errors.New("upload queue is closed")

// File is a captured photo handed to the queue.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Skipped is a file that failed capture validation.
type Skipped struct {
	Name string
	Err  error
}

// CaptureResult lists the items created and the files skipped by Capture.
type CaptureResult struct {
	Accepted []Item
	Skipped  []Skipped
}

// RemoteError is a processing failure reported by the backend. It is never
// retried.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// Is makes RemoteError match services.ErrProcessing.
func (e *RemoteError) Is(target error) bool { return target == services.ErrProcessing }

type entry struct {
	item    Item
	data    []byte
	preview Preview
	attempt int
	ctx     context.Context
	cancel  context.CancelFunc
	timer   Timer
}

func (e *entry) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *entry) cancelAttempt() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

type subscriber struct {
	id int
	fn func([]Item)
}

// Queue drives captured photos through submission and processing. All
// methods are safe for concurrent use.
type Queue struct {
	submitter  Submitter
	status     StatusSource
	opts       Options
	enabled    bool
	scheduler  Scheduler
	run        Runner
	logger     *slog.Logger
	onComplete func(Item)
	onFailure  func(Item)

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	order       []string
	entries     map[string]*entry
	subscribers []subscriber
	nextSub     int
	outbox      []func()
	delivering  bool
	changed     chan struct{}
	closed      bool
}

// New builds a queue for one protocol session. The gate decision is made
// here, once.
func New(submitter Submitter, status StatusSource, opts Options, options ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		submitter: submitter,
		status:    status,
		opts:      opts.withDefaults(),
		scheduler: NewScheduler(nil),
		run:       goRunner,
		ctx:       ctx,
		cancel:    cancel,
		entries:   make(map[string]*entry),
		changed:   make(chan struct{}),
	}
	for _, opt := range options {
		opt(q)
	}
	q.logger = logging.NewComponentLogger(q.logger, "uploadqueue").With(
		logging.String(logging.FieldProtocolID, q.opts.ProtocolID),
	)
	q.enabled = q.opts.Gate == nil || q.opts.Gate.IsEnabled(q.opts.FeatureKey, q.opts.UserID)
	return q
}

// Enabled reports the gate decision made at construction. When false the
// caller should use the legacy upload path.
func (q *Queue) Enabled() bool { return q.enabled }

// Capture validates files and queues the acceptable ones. It returns as
// soon as the items exist; submission continues in the background.
// Exceeding the photo limit rejects the whole call and queues nothing.
func (q *Queue) Capture(files []File) (CaptureResult, error) {
	if !q.enabled {
		return CaptureResult{}, services.Wrap(services.ErrDisabled, "uploadqueue", "capture",
			fmt.Sprintf("%s is off for this user", q.opts.FeatureKey), nil)
	}

	type candidate struct {
		file        File
		contentType string
		preview     Preview
	}
	var (
		result     CaptureResult
		candidates []candidate
	)
	for _, f := range files {
		contentType, preview, err := q.validate(f)
		if err != nil {
			result.Skipped = append(result.Skipped, Skipped{Name: f.Name, Err: err})
			logging.WarnWithContext(q.logger, "photo skipped", "capture_rejected",
				logging.String("file_name", f.Name),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, services.Details(err).Hint),
			)
			continue
		}
		candidates = append(candidates, candidate{file: f, contentType: contentType, preview: preview})
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return CaptureResult{}, ErrClosed
	}
	if len(q.order)+len(files) > q.opts.MaxPhotos {
		queued := len(q.order)
		q.mu.Unlock()
		err := services.Wrap(services.ErrLimitExceeded, "uploadqueue", "capture",
			fmt.Sprintf("maximum number of photos is %d", q.opts.MaxPhotos), nil)
		logging.WarnWithContext(q.logger, "capture rejected", "capture_limit",
			logging.Int("queued", queued),
			logging.Int("requested", len(files)),
			logging.Int("max_photos", q.opts.MaxPhotos),
		)
		return CaptureResult{}, err
	}
	now := q.scheduler.Now()
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		id := uuid.NewString()
		preview := c.preview
		preview.ItemID = id
		e := &entry{
			item: Item{
				ID:          id,
				Name:        c.file.Name,
				ContentType: c.contentType,
				Size:        int64(len(c.file.Data)),
				Status:      StatusPending,
				CapturedAt:  now,
			},
			data:    bytes.Clone(c.file.Data),
			preview: preview,
		}
		q.entries[id] = e
		q.order = append(q.order, id)
		ids = append(ids, id)
		result.Accepted = append(result.Accepted, e.item.clone())
	}
	if len(ids) > 0 {
		q.changedLocked()
	}
	q.mu.Unlock()
	q.flush()

	for _, id := range ids {
		q.startAttempt(id)
	}
	return result, nil
}

func (q *Queue) validate(f File) (string, Preview, error) {
	size := int64(len(f.Data))
	if size == 0 {
		return "", Preview{}, services.Wrap(services.ErrEmptyInput, "uploadqueue", "validate", "file is empty", nil)
	}
	if size > q.opts.MaxFileBytes {
		return "", Preview{}, services.Wrap(services.ErrValidation, "uploadqueue", "validate",
			fmt.Sprintf("%s exceeds the %s limit", humanize.IBytes(uint64(size)), humanize.IBytes(uint64(q.opts.MaxFileBytes))), nil)
	}
	contentType := declaredType(f.ContentType)
	if contentType == "" {
		contentType = declaredType(mimetype.Detect(f.Data).String())
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", Preview{}, services.Wrap(services.ErrUnsupportedMedia, "uploadqueue", "validate",
			fmt.Sprintf("%s is not an image", contentType), nil)
	}
	preview := Preview{Name: f.Name, ContentType: contentType, Size: size}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(f.Data)); err == nil {
		preview.Width = cfg.Width
		preview.Height = cfg.Height
	}
	return contentType, preview, nil
}

// declaredType strips parameters and ignores the generic binary type.
func declaredType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(value); err == nil {
		value = parsed
	}
	value = strings.ToLower(value)
	if value == "application/octet-stream" {
		return ""
	}
	return value
}

// current returns the entry only while attempt is still the live one.
// Results from older attempts and removed items are dropped here.
func (q *Queue) current(id string, attempt int) *entry {
	if q.closed {
		return nil
	}
	e, ok := q.entries[id]
	if !ok || e.attempt != attempt {
		return nil
	}
	return e
}

func (q *Queue) startAttempt(id string) {
	q.mu.Lock()
	e, ok := q.entries[id]
	if !ok || q.closed || e.item.Status != StatusPending {
		q.mu.Unlock()
		return
	}
	e.cancelAttempt()
	e.attempt++
	attempt := e.attempt
	e.ctx, e.cancel = context.WithCancel(q.ctx)
	e.item.Status = StatusUploading
	e.item.Error = ""
	e.item.raiseProgress(progressUploading)
	ctx := e.ctx
	sub := Submission{
		ProtocolID:  q.opts.ProtocolID,
		UserID:      q.opts.UserID,
		FileName:    e.item.Name,
		ContentType: e.item.ContentType,
		Data:        e.data,
	}
	q.changedLocked()
	q.mu.Unlock()
	q.flush()

	q.run(func() { q.submit(ctx, id, attempt, sub) })
}

func (q *Queue) submit(ctx context.Context, id string, attempt int, sub Submission) {
	callCtx, cancel := context.WithTimeout(ctx, q.opts.SubmitTimeout)
	accepted, err := q.submitter.Submit(callCtx, sub)
	cancel()
	if err == nil && accepted.PhotoID == "" {
		err = services.Wrap(services.ErrTransient, "uploadqueue", "submit", "backend returned no photo id", nil)
	}

	q.mu.Lock()
	e := q.current(id, attempt)
	if e == nil {
		q.mu.Unlock()
		q.logger.Debug("stale submission result dropped", logging.String("item_id", id), logging.Int("attempt", attempt))
		return
	}
	if err != nil {
		q.failLocked(e, err)
		q.mu.Unlock()
		q.flush()
		return
	}
	now := q.scheduler.Now()
	e.item.Status = StatusProcessing
	e.item.RemoteID = accepted.PhotoID
	e.item.JobID = accepted.JobID
	e.item.UploadedAt = &now
	e.item.raiseProgress(progressProcessing)
	e.item.mergeURLs(map[string]string{"original": accepted.OriginalURL})
	q.schedulePollLocked(e)
	q.changedLocked()
	q.mu.Unlock()
	q.flush()

	q.logger.Debug("photo submitted",
		logging.String("item_id", id),
		logging.String(logging.FieldPhotoID, accepted.PhotoID),
		logging.String(logging.FieldJobID, accepted.JobID),
	)
}

func (q *Queue) schedulePollLocked(e *entry) {
	id, attempt := e.item.ID, e.attempt
	e.stopTimer()
	e.timer = q.scheduler.AfterFunc(q.opts.PollInterval, func() {
		q.run(func() { q.poll(id, attempt) })
	})
}

func (q *Queue) poll(id string, attempt int) {
	q.mu.Lock()
	e := q.current(id, attempt)
	if e == nil || e.item.Status != StatusProcessing {
		q.mu.Unlock()
		return
	}
	e.timer = nil
	remoteID := e.item.RemoteID
	ctx := e.ctx
	q.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, q.opts.SubmitTimeout)
	remote, err := q.status.Status(callCtx, remoteID)
	cancel()

	q.mu.Lock()
	e = q.current(id, attempt)
	if e == nil || e.item.Status != StatusProcessing {
		q.mu.Unlock()
		return
	}
	switch {
	case err != nil:
		q.failLocked(e, err)
	case remote.Status == RemoteCompleted:
		q.completeLocked(e, remote)
	case remote.Status == RemoteFailed:
		msg := strings.TrimSpace(remote.Error)
		if msg == "" {
			msg = "remote processing failed"
		}
		q.failLocked(e, &RemoteError{Message: msg})
	default:
		before := e.item.Progress
		urls := len(e.item.DerivedURLs)
		e.item.mergeURLs(remote.URLs)
		e.item.raiseProgress(min(remote.Progress, progressCompleted-1))
		q.schedulePollLocked(e)
		if e.item.Progress != before || len(e.item.DerivedURLs) != urls {
			q.changedLocked()
		}
	}
	q.mu.Unlock()
	q.flush()
}

func (q *Queue) completeLocked(e *entry, remote RemoteStatus) {
	e.stopTimer()
	e.cancelAttempt()
	e.item.mergeURLs(remote.URLs)
	e.item.Status = StatusCompleted
	e.item.Progress = progressCompleted
	e.item.Error = ""
	processed := q.scheduler.Now()
	if remote.ProcessedAt != nil {
		processed = *remote.ProcessedAt
	}
	e.item.ProcessedAt = &processed
	q.changedLocked()

	item := e.item.clone()
	q.logger.Info("photo processed",
		logging.String("item_id", item.ID),
		logging.String(logging.FieldPhotoID, item.RemoteID),
		logging.Int("retries", item.Retries),
	)
	if q.onComplete != nil {
		q.outbox = append(q.outbox, func() { q.onComplete(item) })
	}
}

// failLocked moves the item to failed and schedules a retry when the error
// is transient and the retry budget allows it.
func (q *Queue) failLocked(e *entry, err error) {
	e.stopTimer()
	e.item.Status = StatusFailed
	e.item.Error = err.Error()

	if retryable(err) && e.item.Retries < q.opts.MaxRetries {
		delay := Backoff(q.opts.BackoffBase, e.item.Retries)
		id, attempt := e.item.ID, e.attempt
		e.timer = q.scheduler.AfterFunc(delay, func() { q.retry(id, attempt) })
		q.changedLocked()
		logging.WarnWithContext(q.logger, "photo upload failed; retry scheduled", "upload_retry",
			logging.String("item_id", e.item.ID),
			logging.Int("retries", e.item.Retries),
			logging.Duration("delay", delay),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, services.Details(err).Hint),
		)
		return
	}

	e.cancelAttempt()
	q.changedLocked()
	item := e.item.clone()
	logging.ErrorWithContext(q.logger, "photo upload failed permanently", "upload_failed",
		logging.String("item_id", item.ID),
		logging.String(logging.FieldPhotoID, item.RemoteID),
		logging.Int("retries", item.Retries),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, services.Details(err).Hint),
	)
	if q.onFailure != nil {
		q.outbox = append(q.outbox, func() { q.onFailure(item) })
	}
}

func (q *Queue) retry(id string, attempt int) {
	q.mu.Lock()
	e := q.current(id, attempt)
	if e == nil || e.item.Status != StatusFailed {
		q.mu.Unlock()
		return
	}
	e.timer = nil
	e.item.Retries++
	e.item.Status = StatusPending
	e.item.Progress = 0
	e.item.Error = ""
	q.changedLocked()
	q.mu.Unlock()
	q.flush()

	q.startAttempt(id)
}

// retryable treats everything except input problems, remote processing
// failures, and cancellation as transient.
func retryable(err error) bool {
	for _, terminal := range []error{
		services.ErrProcessing,
		services.ErrValidation,
		services.ErrInvalidInput,
		services.ErrEmptyInput,
		services.ErrUnsupportedMedia,
		services.ErrLimitExceeded,
		services.ErrDisabled,
		context.Canceled,
	} {
		if errors.Is(err, terminal) {
			return false
		}
	}
	return true
}

// Remove drops an item in any state. Its timers stop, its in-flight calls
// are canceled, and its source bytes are released. A backend job that is
// already running is left alone; its result is ignored.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	e, ok := q.entries[id]
	if !ok {
		q.mu.Unlock()
		return false
	}
	e.stopTimer()
	e.cancelAttempt()
	e.data = nil
	delete(q.entries, id)
	for i, existing := range q.order {
		if existing == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	q.changedLocked()
	q.mu.Unlock()
	q.flush()

	q.logger.Debug("photo removed", logging.String("item_id", id), logging.String("status", string(e.item.Status)))
	return true
}

// Items returns a snapshot in capture order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Item returns a snapshot of one item.
func (q *Queue) Item(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return Item{}, false
	}
	return e.item.clone(), true
}

// Previews returns display descriptors in capture order.
func (q *Queue) Previews() []Preview {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Preview, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.entries[id].preview)
	}
	return out
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Settled reports whether every item is completed or permanently failed.
func (q *Queue) Settled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.settledLocked()
}

func (q *Queue) settledLocked() bool {
	for _, e := range q.entries {
		switch e.item.Status {
		case StatusCompleted:
		case StatusFailed:
			if e.timer != nil {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Wait blocks until the queue settles, ctx ends, or the queue is closed.
func (q *Queue) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.settledLocked() {
			q.mu.Unlock()
			return nil
		}
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		ch := q.changed
		q.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Subscribe registers fn to receive the full item list after each change.
// Calls are serialized and arrive in change order. The returned func
// unsubscribes.
func (q *Queue) Subscribe(fn func([]Item)) func() {
	if fn == nil {
		return func() {}
	}
	q.mu.Lock()
	q.nextSub++
	id := q.nextSub
	q.subscribers = append(q.subscribers, subscriber{id: id, fn: fn})
	q.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			for i, s := range q.subscribers {
				if s.id == id {
					q.subscribers = append(q.subscribers[:i:i], q.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

// Close stops all timers and cancels in-flight calls. Items stay readable.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, e := range q.entries {
		e.stopTimer()
		e.cancelAttempt()
	}
	q.cancel()
	close(q.changed)
	q.changed = make(chan struct{})
	q.mu.Unlock()
}

func (q *Queue) snapshotLocked() []Item {
	out := make([]Item, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.entries[id].item.clone())
	}
	return out
}

// changedLocked queues a snapshot for subscribers and wakes waiters.
func (q *Queue) changedLocked() {
	items := q.snapshotLocked()
	q.outbox = append(q.outbox, func() {
		q.mu.Lock()
		subs := append([]subscriber(nil), q.subscribers...)
		q.mu.Unlock()
		for _, s := range subs {
			s.fn(items)
		}
	})
	close(q.changed)
	q.changed = make(chan struct{})
}

// flush runs queued notifications. Only one goroutine delivers at a time;
// others leave their notifications for it, which keeps delivery ordered and
// lets callbacks call back into the queue.
func (q *Queue) flush() {
	q.mu.Lock()
	if q.delivering {
		q.mu.Unlock()
		return
	}
	q.delivering = true
	for len(q.outbox) > 0 {
		batch := q.outbox
		q.outbox = nil
		q.mu.Unlock()
		for _, fn := range batch {
			fn()
		}
		q.mu.Lock()
	}
	q.delivering = false
	q.mu.Unlock()
}
