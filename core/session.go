package core

import "time"

// Credentials are exchanged for a token through the password grant.
type Credentials struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Scopes   []string `json:"scopes,omitempty"`
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	State              State     `json:"authState"`
	Token              *Token    `json:"-"`
	TokenExpiresAt     time.Time `json:"tokenExpiresAt,omitzero"`
	AccessTokenExpired bool      `json:"accessTokenExpired"`
	CanRefresh         bool      `json:"canRefresh"`
	AppActive          bool      `json:"appActive"`
	NetworkConnected   bool      `json:"networkConnected"`
	BackendReachable   bool      `json:"backendReachable"`
}

// Authorization renders the Authorization header for the held token, or
// an empty string when there is none.
func (s Snapshot) Authorization() string {
	if s.Token == nil {
		return ""
	}
	return s.Token.Authorization()
}
