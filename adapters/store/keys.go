package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/layer-3/barong-agent/core"
)

const DefaultPrefix = "barong"

// Keys names the two storage entries of a session. The layout is
// {prefix}.{baseURL}..oauthToken and {prefix}.{baseURL}..tokenExpiresAt.
type Keys struct {
	Prefix  string
	BaseURL string
}

func NewKeys(prefix, baseURL string) Keys {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Keys{Prefix: prefix, BaseURL: baseURL}
}

func (k Keys) Token() string {
	return k.Prefix + "." + k.BaseURL + "..oauthToken"
}

func (k Keys) ExpiresAt() string {
	return k.Prefix + "." + k.BaseURL + "..tokenExpiresAt"
}

// encodeToken validates tok and renders both stored values.
func encodeToken(tok core.Token, now time.Time) (token string, expiresAt time.Time, instant string, err error) {
	if err := tok.Validate(); err != nil {
		return "", time.Time{}, "", err
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return "", time.Time{}, "", fmt.Errorf("failed to encode token: %w", err)
	}
	expiresAt = now.Add(tok.Lifetime()).UTC()
	return string(data), expiresAt, expiresAt.Format(time.RFC3339Nano), nil
}

func decodeToken(value string) (*core.Token, error) {
	tok, err := core.ParseToken([]byte(value))
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored token: %w", err)
	}
	return &tok, nil
}

func decodeInstant(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to decode token expiry: %w", err)
	}
	return t, nil
}

// decodePair decodes both entries from values read in one go.
func (k Keys) decodePair(values map[string]string) (*core.Token, time.Time, error) {
	value, ok := values[k.Token()]
	if !ok {
		return nil, time.Time{}, nil
	}
	tok, err := decodeToken(value)
	if err != nil {
		return nil, time.Time{}, err
	}
	instant, ok := values[k.ExpiresAt()]
	if !ok {
		return tok, time.Time{}, nil
	}
	expiresAt, err := decodeInstant(instant)
	if err != nil {
		return nil, time.Time{}, err
	}
	return tok, expiresAt, nil
}
