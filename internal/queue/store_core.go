package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"handoverphotos/internal/config"
)

// Store is the single SQLite database shared by the HTTP API and the job
// workers. Photo uploads, derivative and manifest jobs, published manifests,
// feature flags, and migration batches all live in it.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// connectionPragmas are applied to every connection Open hands out. WAL lets
// manifest reads proceed while a derivative job is writing.
var connectionPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// lockBackoff bounds how long a write waits on a locked database before the
// error surfaces to the caller (and the job is retried by the worker pool).
var lockBackoff = struct {
	tries int
	first time.Duration
	ceil  time.Duration
}{tries: 5, first: 10 * time.Millisecond, ceil: 200 * time.Millisecond}

// SQLITE_BUSY; extended codes carry it in the low byte.
const sqliteBusy = 5

func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func databaseLocked(err error) bool {
	if err == nil {
		return false
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		return coded.Code()&0xff == sqliteBusy
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// whileLocked runs op until it succeeds, fails for a reason other than a
// locked database, or the backoff budget is spent.
func whileLocked(ctx context.Context, op func() error) error {
	wait := lockBackoff.first
	err := op()
	for try := 1; try < lockBackoff.tries && databaseLocked(err); try++ {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait = min(wait*2, lockBackoff.ceil)
		err = op()
	}
	return err
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ctxOrBackground(ctx)
	var res sql.Result
	err := whileLocked(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// execOnly is exec for statements whose row count nobody checks.
func (s *Store) execOnly(ctx context.Context, query string, args ...any) error {
	_, err := s.exec(ctx, query, args...)
	return err
}

// inTx runs fn in a transaction. A locked database restarts the whole unit,
// so fn must not have side effects outside tx.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	ctx = ctxOrBackground(ctx)
	return whileLocked(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// Open creates the data directory if needed and opens the photo database in
// it, creating the schema on first use.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("prepare data directory: %w", err)
	}
	path := cfg.DatabasePath()
	db, err := openDatabase(path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db, path: path, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func openDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open photo database %s: %w", path, err)
	}
	for _, pragma := range connectionPragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure photo database (%s): %w", pragma, err)
		}
	}
	return db, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close releases the database. Safe to call more than once.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// timeLayout is fixed width so stored timestamps compare lexically, which
// the stale-heartbeat and manifest ordering queries rely on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (s *Store) timestamp() string {
	return formatTime(s.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
