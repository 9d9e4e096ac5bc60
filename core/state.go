package core

// State is the mode a client session is in. Exactly one is active at a time.
type State string

const (
	StateInitial                State = "INITIAL"
	StateUnauthenticated        State = "UNAUTHENTICATED"
	StateUnauthenticatedOffline State = "UNAUTHENTICATED_OFFLINE"
	StateRestoring              State = "RESTORING"
	StateDispatching            State = "DISPATCHING"
	StateUsableToken            State = "USABLE_TOKEN"
	StateAuthenticated          State = "AUTHENTICATED"
	StateNeedsRefresh           State = "NEEDS_REFRESH"
	StateRefreshing             State = "REFRESHING"
	StateBackendFailure         State = "BACKEND_FAILURE"
	StateBackendInaccessible    State = "BACKEND_INACCESSIBLE"
	StateBackgrounded           State = "BACKGROUNDED"
	StateTokenRemoval           State = "TOKEN_REMOVAL"
)

// States lists every state in declaration order.
var States = []State{
	StateInitial,
	StateUnauthenticated,
	StateUnauthenticatedOffline,
	StateRestoring,
	StateDispatching,
	StateUsableToken,
	StateAuthenticated,
	StateNeedsRefresh,
	StateRefreshing,
	StateBackendFailure,
	StateBackendInaccessible,
	StateBackgrounded,
	StateTokenRemoval,
}

func (s State) String() string { return string(s) }

// HoldsToken reports whether a session in this state keeps a credential.
func (s State) HoldsToken() bool {
	switch s {
	case StateInitial, StateUnauthenticated, StateUnauthenticatedOffline, StateTokenRemoval:
		return false
	}
	return true
}
