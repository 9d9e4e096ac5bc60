package signals

import (
	"context"
	"slices"
	"sync"
)

// Aggregator combines app activity, network connectivity and backend
// reachability into a single canRefresh flag. Listeners only hear about
// changes of that flag.
type Aggregator struct {
	mu         sync.Mutex
	appActive  bool
	network    bool
	backend    bool
	canRefresh bool
	listeners  []listener
	nextID     int
}

type listener struct {
	id int
	fn func(canRefresh bool)
}

func NewAggregator(appActive, network, backend bool) *Aggregator {
	return &Aggregator{
		appActive:  appActive,
		network:    network,
		backend:    backend,
		canRefresh: appActive && network && backend,
	}
}

// OnChange registers fn and returns the function that removes it.
// fn runs on the goroutine that changed the flag, after the lock is
// released.
func (a *Aggregator) OnChange(fn func(canRefresh bool)) (remove func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	id := a.nextID
	a.listeners = append(a.listeners, listener{id: id, fn: fn})
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.listeners = slices.DeleteFunc(a.listeners, func(l listener) bool { return l.id == id })
	}
}

func (a *Aggregator) SetAppActive(v bool) bool {
	return a.update(func() { a.appActive = v })
}

func (a *Aggregator) SetNetworkConnected(v bool) bool {
	return a.update(func() { a.network = v })
}

func (a *Aggregator) SetBackendReachable(v bool) bool {
	return a.update(func() { a.backend = v })
}

// update applies set and reports whether canRefresh flipped.
func (a *Aggregator) update(set func()) bool {
	a.mu.Lock()
	set()
	next := a.appActive && a.network && a.backend
	changed := next != a.canRefresh
	a.canRefresh = next
	var listeners []listener
	if changed {
		listeners = slices.Clone(a.listeners)
	}
	a.mu.Unlock()

	for _, l := range listeners {
		l.fn(next)
	}
	return changed
}

func (a *Aggregator) CanRefresh() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.canRefresh
}

// Values returns the three inputs.
func (a *Aggregator) Values() (appActive, network, backend bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.appActive, a.network, a.backend
}

// Bind feeds values from in to set until ctx is done or in is closed.
func Bind(ctx context.Context, in <-chan bool, set func(bool)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-in:
			if !ok {
				return nil
			}
			set(v)
		}
	}
}
