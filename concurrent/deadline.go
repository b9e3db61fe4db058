package concurrent

import (
	"sync/atomic"
	"time"
)

// Deadline is a cooperative cancellation flag checked at shard and
// per-step boundaries: "evaluator checks a shared
// atomic deadline/flag at shard and per-step boundaries; in-flight chunk
// decodes run to completion (bounded)."
type Deadline struct {
	expired atomic.Bool
	timer   *time.Timer
}

// NewDeadline arms a Deadline that flips to expired after d elapses. A
// zero or negative d means "no deadline" (Expired never returns true).
func NewDeadline(d time.Duration) *Deadline {
	dl := &Deadline{}
	if d <= 0 {
		return dl
	}
	dl.timer = time.AfterFunc(d, func() { dl.expired.Store(true) })
	return dl
}

// Expired reports whether the deadline has elapsed.
func (d *Deadline) Expired() bool {
	return d.expired.Load()
}

// Stop releases the underlying timer; callers should defer it once the
// evaluation using this Deadline completes.
func (d *Deadline) Stop() {
	if d.timer != nil {
		d.timer.Stop()
	}
}
