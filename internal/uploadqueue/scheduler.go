package uploadqueue

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Timer is a pending scheduled call.
type Timer interface {
	// Stop prevents the call from running. It reports false when the call
	// already ran or was stopped.
	Stop() bool
}

// Scheduler runs f once after d. Retries and polling go through it.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

type clockScheduler struct {
	clock clock.Clock
}

// NewScheduler adapts a clock. A nil clock uses the wall clock.
func NewScheduler(c clock.Clock) Scheduler {
	if c == nil {
		c = clock.New()
	}
	return clockScheduler{clock: c}
}

func (s clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return s.clock.AfterFunc(d, f)
}

func (s clockScheduler) Now() time.Time {
	return s.clock.Now()
}

// Runner starts a unit of background work.
type Runner func(task func())

func goRunner(task func()) { go task() }

// Backoff returns the delay before the retry that follows the given number
// of completed retries: base·2^retries.
func Backoff(base time.Duration, retries int) time.Duration {
	if retries < 0 {
		retries = 0
	}
	if retries > 16 {
		retries = 16
	}
	return base << uint(retries)
}
