package core

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims are the claims barong puts in a JWT access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	RefreshID string `json:"rid,omitempty"`
}

// PeekAccessClaims decodes the claims of a JWT access token without
// verifying its signature. Access tokens are opaque to the session; this
// is only used to enrich logs.
func PeekAccessClaims(accessToken string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("peek access claims: %w", err)
	}
	return claims, nil
}
