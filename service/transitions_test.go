package service

import (
	"testing"

	"github.com/layer-3/barong-agent/core"
	"github.com/stretchr/testify/assert"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from    core.State
		trigger trigger
		to      core.State
	}{
		{core.StateInitial, triggerStorageEmpty, core.StateUnauthenticated},
		{core.StateInitial, triggerStorageValid, core.StateRestoring},
		{core.StateInitial, triggerStorageExpired, core.StateNeedsRefresh},
		{core.StateUnauthenticated, triggerCanRefreshOff, core.StateUnauthenticatedOffline},
		{core.StateUnauthenticatedOffline, triggerCanRefreshOn, core.StateUnauthenticated},
		{core.StateRestoring, triggerRestored, core.StateDispatching},
		{core.StateDispatching, triggerDispatched, core.StateUsableToken},
		{core.StateUsableToken, triggerTokenProcessed, core.StateAuthenticated},
		{core.StateAuthenticated, triggerCanRefreshOff, core.StateBackendInaccessible},
		{core.StateAuthenticated, triggerExpired, core.StateNeedsRefresh},
		{core.StateAuthenticated, triggerBackgrounded, core.StateBackgrounded},
		{core.StateNeedsRefresh, triggerCanRefreshOn, core.StateRefreshing},
		{core.StateNeedsRefresh, triggerCanRefreshOff, core.StateBackendInaccessible},
		{core.StateNeedsRefresh, triggerStillValid, core.StateAuthenticated},
		{core.StateRefreshing, triggerRefreshSucceeded, core.StateAuthenticated},
		{core.StateRefreshing, triggerRefreshRejected, core.StateTokenRemoval},
		{core.StateRefreshing, triggerRefreshFailed, core.StateBackendFailure},
		{core.StateRefreshing, triggerBackgrounded, core.StateBackgrounded},
		{core.StateBackendFailure, triggerCooldownElapsed, core.StateNeedsRefresh},
		{core.StateBackendInaccessible, triggerCanRefreshOn, core.StateNeedsRefresh},
		{core.StateBackgrounded, triggerForegrounded, core.StateNeedsRefresh},
		{core.StateTokenRemoval, triggerRemoved, core.StateUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.trigger.String(), func(t *testing.T) {
			to, ok := transition(tt.from, tt.trigger)
			assert.True(t, ok)
			assert.Equal(t, tt.to, to)
		})
	}
}

func TestTransitionsFromAnyState(t *testing.T) {
	for _, from := range core.States {
		to, ok := transition(from, triggerRemoveToken)
		assert.True(t, ok)
		assert.Equal(t, core.StateTokenRemoval, to, "logout from %s", from)

		to, ok = transition(from, triggerLoginSucceeded)
		assert.True(t, ok)
		assert.Equal(t, core.StateRestoring, to, "login from %s", from)
	}
}

func TestIgnoredTriggers(t *testing.T) {
	ignored := []struct {
		from    core.State
		trigger trigger
	}{
		{core.StateBackgrounded, triggerCanRefreshOn},
		{core.StateBackgrounded, triggerCanRefreshOff},
		{core.StateUnauthenticated, triggerBackgrounded},
		{core.StateUnauthenticated, triggerForegrounded},
		{core.StateAuthenticated, triggerForegrounded},
		{core.StateAuthenticated, triggerCanRefreshOn},
		{core.StateBackendFailure, triggerCanRefreshOn},
		{core.StateBackendInaccessible, triggerCanRefreshOff},
		{core.StateRestoring, triggerRefreshRequested},
		{core.StateUnauthenticated, triggerRefreshSucceeded},
	}
	for _, tt := range ignored {
		_, ok := transition(tt.from, tt.trigger)
		assert.False(t, ok, "%s should ignore %s", tt.from, tt.trigger)
	}
}

func TestEveryStateHasTransitions(t *testing.T) {
	for _, s := range core.States {
		_, ok := transitions[s]
		assert.True(t, ok, "%s has no outgoing transitions", s)
	}
}
