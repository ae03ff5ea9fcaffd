package jobs

import (
	"sync/atomic"

	"handoverphotos/internal/queue"
)

// counters tracks queue depth in memory so Counts never touches the store.
type counters struct {
	waiting   atomic.Int64
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	metrics   *Metrics
}

func (c *counters) slot(state queue.JobState) *atomic.Int64 {
	switch state {
	case queue.JobWaiting:
		return &c.waiting
	case queue.JobActive:
		return &c.active
	case queue.JobCompleted:
		return &c.completed
	case queue.JobFailed:
		return &c.failed
	default:
		return nil
	}
}

func (c *counters) set(jc queue.JobCounts) {
	c.waiting.Store(jc.Waiting)
	c.active.Store(jc.Active)
	c.completed.Store(jc.Completed)
	c.failed.Store(jc.Failed)
	c.publish()
}

func (c *counters) add(state queue.JobState, delta int64) {
	if s := c.slot(state); s != nil {
		s.Add(delta)
	}
	c.publish()
}

func (c *counters) move(from, to queue.JobState) {
	if s := c.slot(from); s != nil && s.Load() > 0 {
		s.Add(-1)
	}
	if s := c.slot(to); s != nil {
		s.Add(1)
	}
	c.publish()
}

func (c *counters) snapshot() Counts {
	return Counts{
		Waiting:   c.waiting.Load(),
		Active:    c.active.Load(),
		Completed: c.completed.Load(),
		Failed:    c.failed.Load(),
	}
}

func (c *counters) publish() {
	c.metrics.setCounts(c.snapshot())
}
