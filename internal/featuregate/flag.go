package featuregate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"handoverphotos/internal/config"
	"handoverphotos/internal/services"
)

// Window bounds when a flag may evaluate true. A zero Start or End leaves
// that side open.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window. Start is inclusive,
// End is exclusive.
func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

func (w Window) validate() error {
	if !w.Start.IsZero() && !w.End.IsZero() && !w.End.After(w.Start) {
		return fmt.Errorf("window end %s must be after start %s", w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

// Flag is a named gating decision.
type Flag struct {
	Key        string
	Enabled    bool
	AllowList  []string
	Percentage int
	Window     *Window
	UpdatedAt  time.Time
}

func (f Flag) clone() Flag {
	out := f
	out.AllowList = append([]string(nil), f.AllowList...)
	if f.Window != nil {
		w := *f.Window
		out.Window = &w
	}
	return out
}

// Patch carries a partial flag update. Nil fields keep their prior value.
// ClearWindow removes any window and takes precedence over Window.
type Patch struct {
	Enabled     *bool
	AllowList   *[]string
	Percentage  *int
	Window      *Window
	ClearWindow bool
}

func (p Patch) validate() error {
	if p.Percentage != nil && (*p.Percentage < 0 || *p.Percentage > 100) {
		return fmt.Errorf("percentage %d outside 0-100", *p.Percentage)
	}
	if p.Window != nil && !p.ClearWindow {
		if err := p.Window.validate(); err != nil {
			return err
		}
	}
	return nil
}

// FlagFromSeed converts a configured flag seed.
func FlagFromSeed(seed config.FlagSeed) (Flag, error) {
	key := strings.TrimSpace(seed.Key)
	if key == "" {
		return Flag{}, services.Wrap(services.ErrValidation, "featuregate", "seed", "flag key is empty", nil)
	}
	if seed.Percentage < 0 || seed.Percentage > 100 {
		return Flag{}, services.Wrap(services.ErrValidation, "featuregate", "seed",
			fmt.Sprintf("flag %s percentage %d outside 0-100", key, seed.Percentage), nil)
	}
	flag := Flag{
		Key:        key,
		Enabled:    seed.Enabled,
		AllowList:  normalizeSubjects(seed.AllowList),
		Percentage: seed.Percentage,
	}
	start, end, err := seed.Window()
	if err != nil {
		return Flag{}, services.Wrap(services.ErrValidation, "featuregate", "seed", "flag "+key, err)
	}
	if !start.IsZero() || !end.IsZero() {
		w := Window{Start: start, End: end}
		if err := w.validate(); err != nil {
			return Flag{}, services.Wrap(services.ErrValidation, "featuregate", "seed", "flag "+key, err)
		}
		flag.Window = &w
	}
	return flag, nil
}

func normalizeSubjects(subjects []string) []string {
	seen := make(map[string]struct{}, len(subjects))
	out := make([]string, 0, len(subjects))
	for _, s := range subjects {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
