package core

import "time"

// EventType names a kind of session event.
type EventType string

const (
	EventUnauthenticated        EventType = "Unauthenticated"
	EventUnauthenticatedOffline EventType = "UnauthenticatedOffline"
	EventLoggedIn               EventType = "LoggedIn"
	EventRestoring              EventType = "Restoring"
	EventDispatching            EventType = "Dispatching"
	EventUsableToken            EventType = "UsableToken"
	EventAuthenticated          EventType = "Authenticated"
	EventTokenExpiration        EventType = "TokenExpiration"
	EventCheckRefresh           EventType = "CheckRefresh"
	EventRefreshing             EventType = "Refreshing"
	EventBackendInaccessible    EventType = "BackendInaccessible"
	EventBackgrounded           EventType = "Backgrounded"
	EventTokenRemoval           EventType = "TokenRemoval"
	EventTokenReloaded          EventType = "TokenReloaded"
	EventExpiryCheck            EventType = "ExpiryCheck"
)

const (
	// ReasonRefreshInProgress is the Refreshing reason when a refresh
	// request joins one already in flight.
	ReasonRefreshInProgress = "Already in progress"
	// ReasonRefreshRejected is the TokenRemoval reason when the server
	// refuses the refresh token.
	ReasonRefreshRejected = "Refresh token rejected"
)

// Event is a notification emitted after the session state it describes
// has been committed.
type Event interface {
	Type() EventType
	AuthState() State
}

// Header carries the state an event was emitted in.
type Header struct {
	State State `json:"authState"`
}

func (h Header) AuthState() State { return h.State }

type Unauthenticated struct {
	Header
	Reason string `json:"reason"`
}

type UnauthenticatedOffline struct {
	Header
}

// LoggedIn is emitted once a token obtained from credentials is persisted.
type LoggedIn struct {
	Header
	AccessToken string `json:"-"`
}

type Restoring struct {
	Header
}

// Dispatching asks listeners to distribute the token. When the session
// waits for the handshake, Resolve must be called exactly once.
type Dispatching struct {
	Header
	Resolve func() `json:"-"`
}

// UsableToken asks listeners to process the token. Same contract as
// Dispatching.
type UsableToken struct {
	Header
	Resolve func() `json:"-"`
}

type Authenticated struct {
	Header
	AccessToken    string    `json:"-"`
	Authorization  string    `json:"-"`
	TokenExpiresAt time.Time `json:"tokenExpiresAt"`
}

type TokenExpiration struct {
	Header
	Reason string `json:"reason"`
}

// CheckRefresh reports the evaluation of a token that may need refreshing.
type CheckRefresh struct {
	Header
	Reason       string `json:"reason"`
	TokenExpired bool   `json:"tokenExpired"`
}

type Refreshing struct {
	Header
	Reason string `json:"reason"`
}

type BackendInaccessible struct {
	Header
	Reason string `json:"reason"`
}

type Backgrounded struct {
	Header
}

type TokenRemoval struct {
	Header
	Reason string `json:"reason"`
}

// TokenReloaded is emitted when storage was re-read without a state change.
type TokenReloaded struct {
	Header
	TokenExpiresAt time.Time `json:"tokenExpiresAt"`
}

// ExpiryCheck is emitted by the periodic check while the token is valid.
type ExpiryCheck struct {
	Header
	NextCheckIn time.Duration `json:"nextCheckIn"`
}

func (Unauthenticated) Type() EventType        { return EventUnauthenticated }
func (UnauthenticatedOffline) Type() EventType { return EventUnauthenticatedOffline }
func (LoggedIn) Type() EventType               { return EventLoggedIn }
func (Restoring) Type() EventType              { return EventRestoring }
func (Dispatching) Type() EventType            { return EventDispatching }
func (UsableToken) Type() EventType            { return EventUsableToken }
func (Authenticated) Type() EventType          { return EventAuthenticated }
func (TokenExpiration) Type() EventType        { return EventTokenExpiration }
func (CheckRefresh) Type() EventType           { return EventCheckRefresh }
func (Refreshing) Type() EventType             { return EventRefreshing }
func (BackendInaccessible) Type() EventType    { return EventBackendInaccessible }
func (Backgrounded) Type() EventType           { return EventBackgrounded }
func (TokenRemoval) Type() EventType           { return EventTokenRemoval }
func (TokenReloaded) Type() EventType          { return EventTokenReloaded }
func (ExpiryCheck) Type() EventType            { return EventExpiryCheck }

// ReasonOf returns the reason carried by e, if any.
func ReasonOf(e Event) string {
	switch ev := e.(type) {
	case Unauthenticated:
		return ev.Reason
	case TokenExpiration:
		return ev.Reason
	case CheckRefresh:
		return ev.Reason
	case Refreshing:
		return ev.Reason
	case BackendInaccessible:
		return ev.Reason
	case TokenRemoval:
		return ev.Reason
	}
	return ""
}
