package scheduler

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Timer is a single re-armable timer whose fires carry a generation.
// Arming or cancelling bumps the generation so a fire that was already
// under way is recognised as stale by Claim.
//
// Timer is not safe for concurrent use. Arm, Cancel and Claim are meant
// to be called from one goroutine; fire only hands the generation back.
type Timer struct {
	clock clockwork.Clock
	timer clockwork.Timer
	gen   uint64
}

func NewTimer(clock clockwork.Clock) *Timer {
	return &Timer{clock: clock}
}

// Arm replaces any pending fire with one after d.
func (t *Timer) Arm(d time.Duration, fire func(gen uint64)) {
	t.Cancel()
	gen := t.gen
	t.timer = t.clock.AfterFunc(d, func() { fire(gen) })
}

// Cancel drops the pending fire, if any.
func (t *Timer) Cancel() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}

// Claim reports whether gen belongs to the pending fire and, if so,
// marks the timer idle.
func (t *Timer) Claim(gen uint64) bool {
	if t.timer == nil || gen != t.gen {
		return false
	}
	t.timer = nil
	t.gen++
	return true
}

func (t *Timer) Pending() bool {
	return t.timer != nil
}
