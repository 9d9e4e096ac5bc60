package ports

import (
	"context"
	"time"

	"github.com/layer-3/barong-agent/core"
)

// TokenStore persists the token and its absolute expiry instant.
// Implementations are safe for concurrent use.
type TokenStore interface {
	// Token returns the stored token, or nil when there is none.
	Token(ctx context.Context) (*core.Token, error)
	// ExpiresAt returns the stored expiry instant, or the zero time.
	ExpiresAt(ctx context.Context) (time.Time, error)
	// StoreToken validates and persists tok with its expiry computed from
	// the current time. An invalid token leaves storage untouched.
	StoreToken(ctx context.Context, tok core.Token) (time.Time, error)
	// Clear removes both entries.
	Clear(ctx context.Context) error
}

// TokenPairReader is implemented by stores that can read the token and
// its expiry from one consistent snapshot.
type TokenPairReader interface {
	// TokenPair returns the token and its expiry, or a nil token when
	// there is none.
	TokenPair(ctx context.Context) (*core.Token, time.Time, error)
}
