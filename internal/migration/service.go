package migration

import (
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"handoverphotos/internal/config"
	"handoverphotos/internal/derivatives"
	"handoverphotos/internal/integrity"
	"handoverphotos/internal/logging"
	"handoverphotos/internal/notifications"
	"handoverphotos/internal/photos"
	"handoverphotos/internal/queue"
	"handoverphotos/internal/services"
	"handoverphotos/internal/storage"
)

// Outcome labels used in metrics and logs.
const (
	OutcomeMigrated = "migrated"
	OutcomeFailed   = "failed"
	OutcomeChecked  = "checked"
)

// photoNamespace seeds deterministic V2 photo ids.
var photoNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("handoverphotos/migration/photo"))

// PhotoID is the V2 id of a legacy photo. It depends only on the protocol
// and the photo's legacy id (or its URL when it has none).
func PhotoID(protocolID string, photo LegacyPhoto) string {
	ref := strings.TrimSpace(photo.ID)
	if ref == "" {
		ref = strings.TrimSpace(photo.URL)
	}
	return uuid.NewSHA1(photoNamespace, []byte(protocolID+"/"+ref)).String()
}

// PDFKey is where a protocol's legacy PDF is stored.
func PDFKey(protocolID string) string {
	return path.Join("protocols", protocolID, "pdf", "legacy.pdf")
}

// Options selects what a run covers.
type Options struct {
	BatchSize   int
	DryRun      bool
	ProtocolIDs []string
	StartDate   time.Time
	EndDate     time.Time
	SkipPhotos  bool
	SkipPDFs    bool

	batchID string
}

func (o Options) filter() Filter {
	return Filter{ProtocolIDs: o.ProtocolIDs, StartDate: o.StartDate, EndDate: o.EndDate}
}

// V2Record is the result of migrating one legacy protocol.
type V2Record struct {
	Protocol *queue.Protocol
	Photos   []*queue.Photo
	PDFKey   string
	// Issues lists photos or PDFs that could not be carried over. The
	// protocol itself still migrated.
	Issues []string
}

// Validation compares a legacy protocol with its migrated form.
type Validation struct {
	ProtocolID     string
	LegacyPhotos   int
	MigratedPhotos int
	Migrated       bool
	Valid          bool
	Issues         []string
}

// Service runs migrations. One run may be in flight at a time.
type Service struct {
	store       *queue.Store
	backend     storage.Backend
	reader      LegacyReader
	fetcher     Fetcher
	processor   *photos.DerivativesHandler
	notifier    notifications.Service
	metrics     *Metrics
	logger      *slog.Logger
	now         func() time.Time
	batchSize   int
	concurrency int

	mu       sync.Mutex
	entropy  *ulid.MonotonicEntropy
	progress Progress
}

// Option customizes a Service.
type Option func(*Service)

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f Fetcher) Option {
	return func(s *Service) {
		if f != nil {
			s.fetcher = f
		}
	}
}

// WithProcessor replaces the derivatives processor.
func WithProcessor(p *photos.DerivativesHandler) Option {
	return func(s *Service) {
		if p != nil {
			s.processor = p
		}
	}
}

// WithNotifier sets the completion notifier.
func WithNotifier(n notifications.Service) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService builds a migration service over the V2 store and the legacy
// reader.
func NewService(cfg *config.Config, store *queue.Store, backend storage.Backend, reader LegacyReader, opts ...Option) *Service {
	s := &Service{
		store:       store,
		backend:     backend,
		reader:      reader,
		notifier:    notifications.NewService(nil),
		now:         time.Now,
		batchSize:   cfg.Migration.BatchSize,
		concurrency: cfg.Migration.Concurrency,
		entropy:     ulid.Monotonic(crand.Reader, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fetcher == nil {
		s.fetcher = NewHTTPFetcher(backend, cfg.MaxFileBytes())
	}
	if s.processor == nil {
		s.processor = photos.NewDerivativesHandler(store, backend, nil, s.logger)
	}
	if s.batchSize <= 0 {
		s.batchSize = 10
	}
	if s.concurrency <= 0 {
		s.concurrency = 1
	}
	s.logger = logging.NewComponentLogger(s.logger, "migration")
	return s
}

// Progress returns a snapshot of the current or last run.
func (s *Service) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress.clone()
}

// Run migrates the selected records and returns the final progress. Record
// failures are counted in the result; an error is returned only when the
// run could not start.
func (s *Service) Run(ctx context.Context, opts Options) (Progress, error) {
	records, opts, err := s.begin(ctx, opts)
	if err != nil {
		return Progress{}, err
	}
	return s.process(ctx, records, opts), nil
}

// Start begins a run in the background and returns its initial progress.
// ctx bounds the whole run, not just the call.
func (s *Service) Start(ctx context.Context, opts Options) (Progress, error) {
	records, opts, err := s.begin(ctx, opts)
	if err != nil {
		return Progress{}, err
	}
	snapshot := s.Progress()
	go s.process(ctx, records, opts)
	return snapshot, nil
}

func (s *Service) begin(ctx context.Context, opts Options) ([]LegacyRecord, Options, error) {
	s.mu.Lock()
	if s.progress.Running {
		batchID := s.progress.BatchID
		s.mu.Unlock()
		return nil, opts, services.Wrap(services.ErrValidation, "migration", "start",
			fmt.Sprintf("batch %s is still running", batchID), nil)
	}
	// Reserve the slot while the legacy store is read.
	s.progress = Progress{Running: true}
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		s.progress.Running = false
		s.mu.Unlock()
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = s.batchSize
	}
	if s.reader == nil {
		release()
		return nil, opts, services.Wrap(services.ErrConfiguration, "migration", "start", "no legacy reader configured", nil)
	}
	records, err := s.reader.List(ctx, opts.filter())
	if err != nil {
		release()
		return nil, opts, err
	}

	now := s.now().UTC()
	s.mu.Lock()
	opts.batchID = ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
	s.progress = Progress{
		BatchID:   opts.batchID,
		Running:   true,
		DryRun:    opts.DryRun,
		Total:     len(records),
		StartTime: now,
	}
	s.mu.Unlock()

	batch := &queue.MigrationBatch{
		ID:        opts.batchID,
		Status:    queue.BatchRunning,
		DryRun:    opts.DryRun,
		Total:     len(records),
		StartedAt: now,
	}
	if err := s.store.SaveBatch(ctx, batch); err != nil {
		release()
		return nil, opts, services.Wrap(services.ErrTransient, "migration", "start", "record batch", err)
	}
	s.metrics.setRunning(true)
	s.logger.Info("migration started",
		logging.String(logging.FieldBatchID, opts.batchID),
		logging.Int("total", len(records)),
		logging.Int("batch_size", opts.BatchSize),
		logging.Bool("dry_run", opts.DryRun),
		logging.Bool("skip_photos", opts.SkipPhotos),
		logging.Bool("skip_pdfs", opts.SkipPDFs),
	)
	return records, opts, nil
}

func (s *Service) process(ctx context.Context, records []LegacyRecord, opts Options) Progress {
	ctx = services.WithBatchID(ctx, opts.batchID)
	logger := s.logger.With(logging.String(logging.FieldBatchID, opts.batchID))

	for start := 0; start < len(records); start += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			s.mu.Lock()
			s.progress.addError(fmt.Sprintf("run stopped after %d records: %v", s.progress.Processed, err))
			s.mu.Unlock()
			break
		}
		chunk := records[start:min(start+opts.BatchSize, len(records))]
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for _, record := range chunk {
			g.Go(func() error {
				s.migrateCounted(gctx, record, opts)
				return nil
			})
		}
		_ = g.Wait()

		snapshot := s.Progress()
		s.saveBatch(ctx, snapshot, queue.BatchRunning)
		attrs := []logging.Attr{
			logging.Int("processed", snapshot.Processed),
			logging.Int("total", snapshot.Total),
			logging.Int("failed", snapshot.Failed),
		}
		if eta, ok := EstimatedCompletion(snapshot, s.now()); ok {
			attrs = append(attrs, logging.String("eta", eta.UTC().Format(time.RFC3339)))
		}
		logger.Info("migration progress", logging.Args(attrs...)...)
	}

	finished := s.now().UTC()
	s.mu.Lock()
	s.progress.Running = false
	s.progress.FinishedAt = &finished
	final := s.progress.clone()
	s.mu.Unlock()

	s.saveBatch(context.WithoutCancel(ctx), final, queue.BatchCompleted)
	s.metrics.setRunning(false)
	logger.Info("migration finished",
		logging.Int("processed", final.Processed),
		logging.Int("failed", final.Failed),
		logging.Float64("success_rate", SuccessRate(final)),
		logging.Duration("duration", finished.Sub(final.StartTime)),
	)
	if err := s.notifier.NotifyMigrationCompleted(context.WithoutCancel(ctx), notifications.MigrationSummary{
		BatchID:     final.BatchID,
		DryRun:      final.DryRun,
		Processed:   final.Processed,
		Failed:      final.Failed,
		SuccessRate: SuccessRate(final),
		Duration:    finished.Sub(final.StartTime),
		StartedAt:   final.StartTime,
	}); err != nil {
		logging.WarnWithContext(logger, "migration notification failed", "notification_failed", logging.Error(err))
	}
	return final
}

func (s *Service) saveBatch(ctx context.Context, p Progress, status queue.BatchStatus) {
	batch := &queue.MigrationBatch{
		ID:         p.BatchID,
		Status:     status,
		DryRun:     p.DryRun,
		Total:      p.Total,
		Processed:  p.Processed,
		Failed:     p.Failed,
		StartedAt:  p.StartTime,
		FinishedAt: p.FinishedAt,
	}
	if err := s.store.SaveBatch(ctx, batch); err != nil {
		logging.WarnWithContext(s.logger, "migration batch not saved", "batch_save_failed",
			logging.String(logging.FieldBatchID, p.BatchID),
			logging.Error(err),
		)
	}
}

// migrateCounted migrates one record and folds the outcome into progress.
// Dry runs only validate.
func (s *Service) migrateCounted(ctx context.Context, record LegacyRecord, opts Options) {
	var (
		result V2Record
		err    error
	)
	if opts.DryRun {
		if !IsValidLegacyRecord(record) {
			err = services.Wrap(services.ErrValidation, "migration", "validate", invalidReason(record), nil)
		}
	} else {
		result, err = s.MigrateOne(ctx, record, opts)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.progress = UpdateProgress(s.progress, 1, 1)
		s.progress.addError(fmt.Sprintf("%s: %s", recordLabel(record), services.Details(err).Message))
		s.metrics.record(OutcomeFailed)
		return
	}
	s.progress = UpdateProgress(s.progress, 1, 0)
	for _, issue := range result.Issues {
		s.progress.addError(fmt.Sprintf("%s: %s", record.ID, issue))
	}
	if opts.DryRun {
		s.metrics.record(OutcomeChecked)
	} else {
		s.metrics.record(OutcomeMigrated)
	}
}

func recordLabel(r LegacyRecord) string {
	if r.ID == "" {
		return "(no id)"
	}
	return r.ID
}

// MigrateOne writes one legacy record as a V2 protocol with its photos and
// PDF. Invalid records fail with services.ErrValidation. Photo and PDF
// failures are reported in V2Record.Issues and do not fail the record.
// Migrating the same record again replaces the earlier result.
func (s *Service) MigrateOne(ctx context.Context, record LegacyRecord, opts Options) (V2Record, error) {
	if !IsValidLegacyRecord(record) {
		return V2Record{}, services.Wrap(services.ErrValidation, "migration", "migrate",
			invalidReason(record), nil)
	}
	ctx = services.WithProtocolID(ctx, record.ID)
	logger := logging.WithContext(ctx, s.logger)

	result := V2Record{}
	data := maps.Clone(record.Data)
	if data == nil {
		data = map[string]any{}
	}
	data["legacyPhotoCount"] = len(record.Photos)

	if !opts.SkipPDFs && strings.TrimSpace(record.PDFURL) != "" {
		if key, err := s.migratePDF(ctx, record); err != nil {
			result.Issues = append(result.Issues, fmt.Sprintf("pdf %s: %s", record.PDFURL, services.Details(err).Message))
		} else {
			result.PDFKey = key
			data["pdfUrl"] = s.backend.URL(key)
		}
	}

	body, err := json.Marshal(data)
	if err != nil {
		return V2Record{}, services.Wrap(services.ErrValidation, "migration", "migrate", "encode protocol data", err)
	}
	migratedAt := s.now().UTC()
	protocol := &queue.Protocol{
		ID:              record.ID,
		Type:            record.Type,
		RentalID:        record.RentalID,
		DataJSON:        body,
		Status:          "migrated",
		BatchID:         opts.batchID,
		LegacyCreatedAt: record.CreatedAt,
		MigratedAt:      &migratedAt,
	}
	if err := s.store.UpsertProtocol(ctx, protocol); err != nil {
		return V2Record{}, services.Wrap(services.ErrTransient, "migration", "migrate", "write protocol", err)
	}
	result.Protocol = protocol

	if !opts.SkipPhotos {
		for _, legacy := range record.Photos {
			photo, err := s.migratePhoto(ctx, record, legacy, opts.batchID)
			if photo != nil {
				result.Photos = append(result.Photos, photo)
			}
			if err != nil {
				ref := legacy.ID
				if ref == "" {
					ref = legacy.URL
				}
				result.Issues = append(result.Issues, fmt.Sprintf("photo %s: %s", ref, services.Details(err).Message))
				logging.WarnWithContext(logger, "legacy photo not migrated", "migration_photo_failed",
					logging.String("legacy_photo", ref),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, services.Details(err).Hint),
				)
			}
		}
	}

	logger.Debug("protocol migrated",
		logging.Int("photos", len(result.Photos)),
		logging.Int("issues", len(result.Issues)),
	)
	return result, nil
}

func (s *Service) migratePhoto(ctx context.Context, record LegacyRecord, legacy LegacyPhoto, batchID string) (*queue.Photo, error) {
	data, err := s.fetcher.Fetch(ctx, legacy.URL)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, services.Wrap(services.ErrEmptyInput, "migration", "photo", "legacy photo is empty", nil)
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, services.Wrap(services.ErrUnsupportedMedia, "migration", "photo",
			fmt.Sprintf("legacy photo is %s", mt.String()), nil)
	}

	id := PhotoID(record.ID, legacy)
	key := derivatives.OriginalKey(record.ID, id, mt.Extension())
	if err := s.backend.Put(ctx, key, data, mt.String()); err != nil {
		return nil, services.Wrap(services.ErrTransient, "migration", "photo", "store original", err)
	}
	name := storage.SanitizeFileName(path.Base(legacy.URL))
	photo := &queue.Photo{
		ID:           id,
		ProtocolID:   record.ID,
		FileName:     name,
		ContentType:  mt.String(),
		Status:       queue.PhotoProcessing,
		OriginalKey:  key,
		OriginalHash: integrity.Digest(data),
		OriginalSize: int64(len(data)),
		URLs:         map[string]string{derivatives.Original: s.backend.URL(key)},
		BatchID:      batchID,
		CreatedAt:    *record.CreatedAt,
	}
	if err := s.store.UpsertPhoto(ctx, photo); err != nil {
		return nil, services.Wrap(services.ErrTransient, "migration", "photo", "write photo", err)
	}
	if err := s.processor.Process(ctx, photo); err != nil {
		return photo, err
	}
	return photo, nil
}

func (s *Service) migratePDF(ctx context.Context, record LegacyRecord) (string, error) {
	data, err := s.fetcher.Fetch(ctx, record.PDFURL)
	if err != nil {
		return "", err
	}
	if mt := mimetype.Detect(data); !mt.Is("application/pdf") {
		return "", services.Wrap(services.ErrUnsupportedMedia, "migration", "pdf",
			fmt.Sprintf("legacy pdf is %s", mt.String()), nil)
	}
	key := PDFKey(record.ID)
	if err := s.backend.Put(ctx, key, data, "application/pdf"); err != nil {
		return "", services.Wrap(services.ErrTransient, "migration", "pdf", "store pdf", err)
	}
	return key, nil
}

// Rollback removes everything a batch wrote: protocols, photos, manifests,
// and stored objects. It returns the number of protocols removed; a batch
// already rolled back returns 0.
func (s *Service) Rollback(ctx context.Context, batchID string) (int, error) {
	ctx = services.WithBatchID(ctx, batchID)
	logger := logging.WithContext(ctx, s.logger)

	s.mu.Lock()
	busy := s.progress.Running && s.progress.BatchID == batchID
	s.mu.Unlock()
	if busy {
		return 0, services.Wrap(services.ErrValidation, "migration", "rollback",
			fmt.Sprintf("batch %s is still running", batchID), nil)
	}

	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "migration", "rollback", "load batch", err)
	}
	if batch == nil {
		return 0, services.Wrap(services.ErrNotFound, "migration", "rollback", fmt.Sprintf("batch %s", batchID), nil)
	}
	if batch.Status == queue.BatchRolledBack {
		logger.Info("batch already rolled back")
		return 0, nil
	}

	keys, err := s.batchKeys(ctx, batchID)
	if err != nil {
		return 0, err
	}
	removed, err := s.store.RollbackBatch(ctx, batchID)
	if errors.Is(err, queue.ErrBatchNotFound) {
		return 0, services.Wrap(services.ErrNotFound, "migration", "rollback", fmt.Sprintf("batch %s", batchID), err)
	}
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "migration", "rollback", "delete batch rows", err)
	}
	if err := storage.DeleteAll(ctx, s.backend, keys...); err != nil {
		var merr *multierror.Error
		failed := 1
		if errors.As(err, &merr) {
			failed = len(merr.Errors)
		}
		logging.WarnWithContext(logger, "rollback left stored objects behind", "rollback_cleanup_failed",
			logging.Int("failed_deletes", failed),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the listed objects manually"),
		)
	}
	s.metrics.rolledBack()
	logger.Info("batch rolled back",
		logging.Int("protocols", removed),
		logging.Int("objects", len(keys)),
	)
	return removed, nil
}

// batchKeys lists every object a batch stored.
func (s *Service) batchKeys(ctx context.Context, batchID string) ([]string, error) {
	photoRows, err := s.store.ListPhotosByBatch(ctx, batchID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "migration", "rollback", "list batch photos", err)
	}
	protocols, err := s.store.ListProtocolsByBatch(ctx, batchID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "migration", "rollback", "list batch protocols", err)
	}
	var keys []string
	for _, photo := range photoRows {
		keys = append(keys, photo.OriginalKey)
		for _, spec := range derivatives.DefaultRenditions() {
			keys = append(keys, derivatives.StorageKey(photo.ProtocolID, photo.ID, spec))
		}
	}
	for _, protocol := range protocols {
		keys = append(keys, PDFKey(protocol.ID))
	}
	return keys, nil
}

// Validate compares the legacy photo count of a protocol with its migrated
// photos.
func (s *Service) Validate(ctx context.Context, protocolID string) (Validation, error) {
	v := Validation{ProtocolID: protocolID}
	if s.reader == nil {
		return v, services.Wrap(services.ErrConfiguration, "migration", "validate", "no legacy reader configured", nil)
	}
	legacy, err := s.reader.Get(ctx, protocolID)
	if err != nil {
		return v, err
	}
	protocol, err := s.store.GetProtocol(ctx, protocolID)
	if err != nil {
		return v, services.Wrap(services.ErrTransient, "migration", "validate", "load protocol", err)
	}
	migrated, err := s.store.ListPhotosByProtocol(ctx, protocolID)
	if err != nil {
		return v, services.Wrap(services.ErrTransient, "migration", "validate", "list photos", err)
	}

	if legacy == nil {
		v.Issues = append(v.Issues, "legacy protocol not found")
	} else {
		v.LegacyPhotos = len(legacy.Photos)
	}
	v.Migrated = protocol != nil
	if !v.Migrated {
		v.Issues = append(v.Issues, "V2 protocol record not found")
	}
	for _, photo := range migrated {
		switch photo.Status {
		case queue.PhotoCompleted:
			v.MigratedPhotos++
		case queue.PhotoFailed:
			v.Issues = append(v.Issues, fmt.Sprintf("photo %s failed: %s", photo.ID, photo.Error))
		default:
			v.Issues = append(v.Issues, fmt.Sprintf("photo %s is still %s", photo.ID, photo.Status))
		}
	}
	if legacy != nil && v.LegacyPhotos != v.MigratedPhotos {
		v.Issues = append(v.Issues, fmt.Sprintf("photo count mismatch: legacy=%d, migrated=%d", v.LegacyPhotos, v.MigratedPhotos))
	}
	v.Valid = len(v.Issues) == 0
	return v, nil
}
