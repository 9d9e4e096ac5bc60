package ports

import (
	"context"

	"github.com/layer-3/barong-agent/core"
)

// AuthClient talks to the authorization server.
type AuthClient interface {
	// Authenticate exchanges credentials for a token.
	Authenticate(ctx context.Context, creds core.Credentials) (core.Token, error)
	// Refresh exchanges a refresh token for a new token.
	Refresh(ctx context.Context, refreshToken string) (core.Token, error)
	// Revoke invalidates a refresh token on the server. Best effort.
	Revoke(ctx context.Context, refreshToken string) error
}
