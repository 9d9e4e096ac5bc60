package eventbus

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/layer-3/barong-agent/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryKeepsMostRecentFirst(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := NewHistory(WithHistorySize(3), WithHistoryClock(clock))

	for i := 0; i < 5; i++ {
		h.Record(unauthenticated(fmt.Sprintf("r%d", i)))
		clock.Advance(time.Second)
	}

	entries := h.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "r4", core.ReasonOf(entries[0].Event))
	assert.Equal(t, "r3", core.ReasonOf(entries[1].Event))
	assert.Equal(t, "r2", core.ReasonOf(entries[2].Event))
	assert.True(t, entries[0].CapturedAt.After(entries[1].CapturedAt))

	keys := map[string]struct{}{}
	for _, e := range entries {
		keys[e.Key] = struct{}{}
	}
	assert.Len(t, keys, 3)
}

func TestHistoryPartialRing(t *testing.T) {
	h := NewHistory()
	h.Record(unauthenticated("a"))
	h.Record(unauthenticated("b"))

	entries := h.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", core.ReasonOf(entries[0].Event))
	assert.Equal(t, "a", core.ReasonOf(entries[1].Event))
}

func TestHistoryDefaultCapacity(t *testing.T) {
	h := NewHistory()
	for i := 0; i < DefaultHistorySize+10; i++ {
		h.Record(unauthenticated(fmt.Sprint(i)))
	}
	assert.Equal(t, DefaultHistorySize, h.Len())
	assert.Equal(t, fmt.Sprint(DefaultHistorySize+9), core.ReasonOf(h.Entries()[0].Event))

	h.Reset()
	assert.Zero(t, h.Len())
	assert.Empty(t, h.Entries())
}

func TestHistoryFilter(t *testing.T) {
	check := core.ExpiryCheck{Header: core.Header{State: core.StateAuthenticated}, NextCheckIn: time.Minute}

	h := NewHistory()
	h.Record(check)
	h.Record(unauthenticated("kept"))
	require.Equal(t, 1, h.Len())
	assert.Equal(t, core.EventUnauthenticated, h.Entries()[0].Event.Type())

	all := NewHistory(WithHistoryFilter(nil))
	all.Record(check)
	assert.Equal(t, 1, all.Len())
}

func TestHistorySubscribedToBus(t *testing.T) {
	bus := New()
	h := NewHistory()
	bus.Subscribe(h.Record)
	bus.Notify(unauthenticated("x"))
	assert.Equal(t, 1, h.Len())
}
