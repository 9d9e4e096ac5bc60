package service

import "github.com/layer-3/barong-agent/core"

// trigger is an input to the session state machine.
type trigger int

const (
	triggerStorageEmpty trigger = iota
	triggerStorageValid
	triggerStorageExpired
	triggerLoginSucceeded
	triggerRestored
	triggerDispatched
	triggerTokenProcessed
	triggerCanRefreshOn
	triggerCanRefreshOff
	triggerExpired
	triggerStillValid
	triggerRefreshRequested
	triggerRefreshSucceeded
	triggerRefreshRejected
	triggerRefreshFailed
	triggerCooldownElapsed
	triggerBackgrounded
	triggerForegrounded
	triggerRemoveToken
	triggerRemoved
	triggerTokenLost
)

var triggerNames = map[trigger]string{
	triggerStorageEmpty:     "storage-empty",
	triggerStorageValid:     "storage-valid",
	triggerStorageExpired:   "storage-expired",
	triggerLoginSucceeded:   "login-succeeded",
	triggerRestored:         "restored",
	triggerDispatched:       "dispatched",
	triggerTokenProcessed:   "token-processed",
	triggerCanRefreshOn:     "can-refresh-on",
	triggerCanRefreshOff:    "can-refresh-off",
	triggerExpired:          "expired",
	triggerStillValid:       "still-valid",
	triggerRefreshRequested: "refresh-requested",
	triggerRefreshSucceeded: "refresh-succeeded",
	triggerRefreshRejected:  "refresh-rejected",
	triggerRefreshFailed:    "refresh-failed",
	triggerCooldownElapsed:  "cooldown-elapsed",
	triggerBackgrounded:     "backgrounded",
	triggerForegrounded:     "foregrounded",
	triggerRemoveToken:      "remove-token",
	triggerRemoved:          "removed",
	triggerTokenLost:        "token-lost",
}

func (t trigger) String() string {
	if name, ok := triggerNames[t]; ok {
		return name
	}
	return "unknown"
}

// fromAnyState applies regardless of the current state.
var fromAnyState = map[trigger]core.State{
	triggerLoginSucceeded: core.StateRestoring,
	triggerRemoveToken:    core.StateTokenRemoval,
	triggerTokenLost:      core.StateUnauthenticated,
}

var transitions = map[core.State]map[trigger]core.State{
	core.StateInitial: {
		triggerStorageEmpty:   core.StateUnauthenticated,
		triggerStorageValid:   core.StateRestoring,
		triggerStorageExpired: core.StateNeedsRefresh,
	},
	core.StateUnauthenticated: {
		triggerCanRefreshOff: core.StateUnauthenticatedOffline,
	},
	core.StateUnauthenticatedOffline: {
		triggerCanRefreshOn: core.StateUnauthenticated,
	},
	core.StateRestoring: {
		triggerRestored: core.StateDispatching,
	},
	core.StateDispatching: {
		triggerDispatched: core.StateUsableToken,
	},
	core.StateUsableToken: {
		triggerTokenProcessed: core.StateAuthenticated,
	},
	core.StateAuthenticated: {
		triggerCanRefreshOff:    core.StateBackendInaccessible,
		triggerExpired:          core.StateNeedsRefresh,
		triggerBackgrounded:     core.StateBackgrounded,
		triggerRefreshRequested: core.StateRefreshing,
	},
	core.StateNeedsRefresh: {
		triggerCanRefreshOn:     core.StateRefreshing,
		triggerCanRefreshOff:    core.StateBackendInaccessible,
		triggerStillValid:       core.StateAuthenticated,
		triggerRefreshRequested: core.StateRefreshing,
	},
	core.StateRefreshing: {
		triggerRefreshSucceeded: core.StateAuthenticated,
		triggerRefreshRejected:  core.StateTokenRemoval,
		triggerRefreshFailed:    core.StateBackendFailure,
		triggerBackgrounded:     core.StateBackgrounded,
	},
	core.StateBackendFailure: {
		triggerCooldownElapsed:  core.StateNeedsRefresh,
		triggerRefreshRequested: core.StateRefreshing,
	},
	core.StateBackendInaccessible: {
		triggerCanRefreshOn:     core.StateNeedsRefresh,
		triggerRefreshRequested: core.StateRefreshing,
	},
	core.StateBackgrounded: {
		triggerForegrounded:     core.StateNeedsRefresh,
		triggerRefreshRequested: core.StateRefreshing,
	},
	core.StateTokenRemoval: {
		triggerRemoved: core.StateUnauthenticated,
	},
}

// transition returns the state reached from `from` on t. ok is false when
// t has no effect in `from`.
func transition(from core.State, t trigger) (core.State, bool) {
	if to, ok := transitions[from][t]; ok {
		return to, true
	}
	to, ok := fromAnyState[t]
	return to, ok
}
