package featuregate

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	mapset "github.com/deckarep/golang-set/v2"

	"handoverphotos/internal/logging"
	"handoverphotos/internal/services"
)

// AnonymousSubject is bucketed when no subject id is supplied.
const AnonymousSubject = "anonymous"

// Decision reasons.
const (
	ReasonMissing       = "missing"
	ReasonDisabled      = "disabled"
	ReasonOutsideWindow = "outside_window"
	ReasonAllowList     = "allow_list"
	ReasonPercentage    = "percentage"
)

// Decision explains a single evaluation.
type Decision struct {
	Key     string
	Subject string
	Enabled bool
	Reason  string
	Bucket  int
}

// ChangeFunc observes a flag update before it is reported as successful.
type ChangeFunc func(Flag) error

type entry struct {
	mu    sync.RWMutex
	flag  Flag
	allow mapset.Set[string]
}

func newEntry(flag Flag) *entry {
	e := &entry{}
	e.set(flag)
	return e
}

func (e *entry) set(flag Flag) {
	flag.AllowList = normalizeSubjects(flag.AllowList)
	e.flag = flag
	e.allow = mapset.NewThreadUnsafeSet(flag.AllowList...)
}

// Gate evaluates rollout flags. Updates are atomic per flag; different
// flags never share a lock.
type Gate struct {
	mu       sync.RWMutex
	flags    map[string]*entry
	now      func() time.Time
	logger   *slog.Logger
	onChange []ChangeFunc
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock injects the time source used for window checks.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// WithLogger sets the gate logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// WithFlags seeds the gate.
func WithFlags(flags ...Flag) Option {
	return func(g *Gate) { g.Load(flags) }
}

// New constructs an empty gate.
func New(opts ...Option) *Gate {
	g := &Gate{
		flags: make(map[string]*entry),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.NewComponentLogger(g.logger, "featuregate")
	return g
}

// StableHash is the bucketing hash. It depends only on the input string.
func StableHash(s string) uint64 {
	return xxhash.Sum64String(s)
}

// Bucket maps a subject onto 0-99.
func Bucket(subject string) int {
	if subject == "" {
		subject = AnonymousSubject
	}
	return int(StableHash(subject) % 100)
}

// Load replaces the given flags without notifying change observers.
func (g *Gate) Load(flags []Flag) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, flag := range flags {
		key := strings.TrimSpace(flag.Key)
		if key == "" {
			continue
		}
		flag.Key = key
		if existing, ok := g.flags[key]; ok {
			existing.mu.Lock()
			existing.set(flag.clone())
			existing.mu.Unlock()
			continue
		}
		g.flags[key] = newEntry(flag.clone())
	}
}

// OnChange registers an observer invoked by each Update while the flag's
// lock is held. Observers must not call back into the gate. An observer
// error undoes the update.
func (g *Gate) OnChange(fn ChangeFunc) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.onChange = append(g.onChange, fn)
	g.mu.Unlock()
}

func (g *Gate) lookup(key string) *entry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.flags[key]
}

// IsEnabled reports whether the flag grants the subject.
func (g *Gate) IsEnabled(key, subject string) bool {
	return g.Evaluate(key, subject).Enabled
}

// Evaluate runs the gating algorithm and reports why it decided as it did.
func (g *Gate) Evaluate(key, subject string) Decision {
	d := Decision{Key: key, Subject: subject, Bucket: -1}
	e := g.lookup(key)
	if e == nil {
		d.Reason = ReasonMissing
		return d
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.flag.Enabled {
		d.Reason = ReasonDisabled
		return d
	}
	if e.flag.Window != nil && !e.flag.Window.Contains(g.now()) {
		d.Reason = ReasonOutsideWindow
		return d
	}
	if subject != "" && e.allow.Contains(subject) {
		d.Enabled = true
		d.Reason = ReasonAllowList
		return d
	}
	d.Bucket = Bucket(subject)
	d.Enabled = d.Bucket < e.flag.Percentage
	d.Reason = ReasonPercentage
	return d
}

// Get returns a copy of the flag.
func (g *Gate) Get(key string) (Flag, bool) {
	e := g.lookup(key)
	if e == nil {
		return Flag{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.flag.clone(), true
}

// ListAll returns copies of every flag sorted by key.
func (g *Gate) ListAll() []Flag {
	g.mu.RLock()
	entries := make([]*entry, 0, len(g.flags))
	for _, e := range g.flags {
		entries = append(entries, e)
	}
	g.mu.RUnlock()

	flags := make([]Flag, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		flags = append(flags, e.flag.clone())
		e.mu.RUnlock()
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].Key < flags[j].Key })
	return flags
}

// Update applies a partial change to one flag, creating it when absent.
// The read-modify-write and the change observers run under the flag's own
// lock, so concurrent updates to the same flag persist in the order they
// apply while other flags proceed independently. When an observer fails the
// previous value is restored and the update is reported as failed.
func (g *Gate) Update(key string, patch Patch) (Flag, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Flag{}, services.Wrap(services.ErrValidation, "featuregate", "update", "flag key is empty", nil)
	}
	if err := patch.validate(); err != nil {
		return Flag{}, services.Wrap(services.ErrValidation, "featuregate", "update", "flag "+key, err)
	}

	g.mu.Lock()
	e, existed := g.flags[key]
	if !existed {
		e = newEntry(Flag{Key: key})
		g.flags[key] = e
	}
	observers := append([]ChangeFunc(nil), g.onChange...)
	g.mu.Unlock()

	e.mu.Lock()
	previous := e.flag.clone()
	next := previous.apply(patch)
	next.UpdatedAt = g.now().UTC()
	e.set(next)
	updated := e.flag.clone()

	for _, fn := range observers {
		if err := fn(updated.clone()); err != nil {
			e.set(previous)
			e.mu.Unlock()
			if !existed {
				g.dropPlaceholder(key, e)
			}
			logging.WarnWithContext(g.logger, "feature flag update rolled back", "flag_update_failed",
				logging.String(logging.FieldFlagKey, key),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the flag store; the previous value is still in effect"),
			)
			return previous, services.Wrap(services.ErrTransient, "featuregate", "update",
				fmt.Sprintf("persist flag %s", key), err)
		}
	}
	e.mu.Unlock()

	g.logger.Info("feature flag updated",
		logging.String(logging.FieldFlagKey, key),
		logging.Bool("enabled", updated.Enabled),
		logging.Int("percentage", updated.Percentage),
		logging.Int("allow_list", len(updated.AllowList)),
		logging.String(logging.FieldEventType, "flag_updated"),
	)
	return updated, nil
}

// apply returns a copy of f with the patch fields replaced.
func (f Flag) apply(patch Patch) Flag {
	next := f.clone()
	if patch.Enabled != nil {
		next.Enabled = *patch.Enabled
	}
	if patch.AllowList != nil {
		next.AllowList = append([]string(nil), (*patch.AllowList)...)
	}
	if patch.Percentage != nil {
		next.Percentage = *patch.Percentage
	}
	switch {
	case patch.ClearWindow:
		next.Window = nil
	case patch.Window != nil:
		w := *patch.Window
		next.Window = &w
	}
	return next
}

// dropPlaceholder removes an entry created by a failed Update unless a later
// update or Load has given it a value since.
func (g *Gate) dropPlaceholder(key string, e *entry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.flags[key] != e {
		return
	}
	e.mu.RLock()
	untouched := e.flag.UpdatedAt.IsZero() && !e.flag.Enabled && e.flag.Percentage == 0 &&
		len(e.flag.AllowList) == 0 && e.flag.Window == nil
	e.mu.RUnlock()
	if untouched {
		delete(g.flags, key)
	}
}
