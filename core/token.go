package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const TokenTypeBearer = "Bearer"

// Token is the credential pair issued by the authorization server.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Validate checks the shape of the token. Nothing that fails it is stored.
func (t Token) Validate() error {
	switch {
	case t.AccessToken == "":
		return fmt.Errorf("%w: access_token is empty", ErrInvalidToken)
	case t.RefreshToken == "":
		return fmt.Errorf("%w: refresh_token is empty", ErrInvalidToken)
	case !strings.EqualFold(t.TokenType, TokenTypeBearer):
		return fmt.Errorf("%w: unsupported token_type %q", ErrInvalidToken, t.TokenType)
	case t.ExpiresIn <= 0:
		return fmt.Errorf("%w: expires_in must be positive, got %d", ErrInvalidToken, t.ExpiresIn)
	}
	return nil
}

// Lifetime is the validity window of the access token.
func (t Token) Lifetime() time.Duration {
	return time.Duration(t.ExpiresIn) * time.Second
}

// Authorization renders the value of an Authorization header.
func (t Token) Authorization() string {
	return TokenTypeBearer + " " + t.AccessToken
}

// String keeps secrets out of logs.
func (t Token) String() string {
	return fmt.Sprintf("Token{type=%s expires_in=%d access=%s refresh=%s}",
		t.TokenType, t.ExpiresIn, redact(t.AccessToken), redact(t.RefreshToken))
}

func redact(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***"
}

// ParseToken decodes and validates a token document. expires_in may be a
// JSON number or a numeric string.
func ParseToken(data []byte) (Token, error) {
	var raw struct {
		AccessToken  string          `json:"access_token"`
		RefreshToken string          `json:"refresh_token"`
		TokenType    string          `json:"token_type"`
		ExpiresIn    json.RawMessage `json:"expires_in"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	expiresIn, err := parseLifetime(raw.ExpiresIn)
	if err != nil {
		return Token{}, err
	}
	tok := Token{
		AccessToken:  raw.AccessToken,
		RefreshToken: raw.RefreshToken,
		TokenType:    raw.TokenType,
		ExpiresIn:    expiresIn,
	}
	if err := tok.Validate(); err != nil {
		return Token{}, err
	}
	return tok, nil
}

func parseLifetime(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("%w: expires_in is missing", ErrInvalidToken)
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: expires_in: %v", ErrInvalidToken, err)
		}
	}
	return LifetimeFromString(s)
}

// LifetimeFromString parses a whole number of seconds, tolerating a
// fractional zero such as "3600.0".
func LifetimeFromString(s string) (int64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: expires_in %q is not numeric", ErrInvalidToken, s)
	}
	if f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, fmt.Errorf("%w: expires_in %q is not a whole number of seconds", ErrInvalidToken, s)
	}
	return int64(f), nil
}
