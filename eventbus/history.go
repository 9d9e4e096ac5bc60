package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/layer-3/barong-agent/core"
)

const DefaultHistorySize = 50

// Filter decides whether an event is recorded.
type Filter func(core.Event) bool

// ExcludeExpiryChecks drops the periodic expiry check events.
func ExcludeExpiryChecks(e core.Event) bool {
	return e.Type() != core.EventExpiryCheck
}

// Entry is a recorded event.
type Entry struct {
	Key        string
	CapturedAt time.Time
	Event      core.Event
}

// History keeps the most recent events in a bounded ring.
type History struct {
	mu      sync.RWMutex
	entries []Entry
	head    int
	size    int
	filter  Filter
	clock   clockwork.Clock
}

type HistoryOption func(*History)

// WithHistorySize sets the capacity. Values below one are ignored.
func WithHistorySize(n int) HistoryOption {
	return func(h *History) {
		if n > 0 {
			h.size = n
		}
	}
}

// WithHistoryFilter replaces the default filter. A nil filter records
// everything.
func WithHistoryFilter(f Filter) HistoryOption {
	return func(h *History) {
		h.filter = f
	}
}

func WithHistoryClock(c clockwork.Clock) HistoryOption {
	return func(h *History) {
		h.clock = c
	}
}

func NewHistory(opts ...HistoryOption) *History {
	h := &History{
		size:   DefaultHistorySize,
		filter: ExcludeExpiryChecks,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.entries = make([]Entry, 0, h.size)
	return h
}

// Record stores e if the filter accepts it, evicting the oldest entry
// when full. It has the Handler signature so it can subscribe to a Bus.
func (h *History) Record(e core.Event) {
	if h.filter != nil && !h.filter(e) {
		return
	}
	entry := Entry{
		Key:        uuid.NewString(),
		CapturedAt: h.clock.Now(),
		Event:      e,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) < h.size {
		h.entries = append(h.entries, entry)
		return
	}
	h.entries[h.head] = entry
	h.head = (h.head + 1) % h.size
}

// Entries returns the recorded events, most recent first.
func (h *History) Entries() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := len(h.entries)
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		// newest sits just before head
		idx := (h.head - 1 - i + 2*n) % n
		out = append(out, h.entries[idx])
	}
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = h.entries[:0]
	h.head = 0
}
