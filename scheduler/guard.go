package scheduler

import "sync/atomic"

// Guard admits at most one in-flight operation at a time.
type Guard struct {
	busy atomic.Bool
}

// TryAcquire takes the guard, returning false if it is already held.
func (g *Guard) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

func (g *Guard) Release() {
	g.busy.Store(false)
}

func (g *Guard) Busy() bool {
	return g.busy.Load()
}
