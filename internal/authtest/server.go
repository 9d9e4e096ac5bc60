// Package authtest runs an in-process barong-style OAuth2 authorization
// server for tests.
package authtest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/layer-3/barong-agent/core"
)

const (
	AudienceAccess  = "session:access"
	AudienceRefresh = "session:refresh"

	TokenPath  = "/oauth/token"
	RevokePath = "/oauth/revoke"

	ClientID     = "barong-agent"
	ClientSecret = "agent-secret"
)

// Failure is a canned response returned instead of the real one.
type Failure struct {
	Status      int
	Body        string
	ContentType string
}

// Server is a fake authorization server issuing ES256 JWT token pairs.
// Refresh tokens rotate on every use.
type Server struct {
	URL string

	srv     *httptest.Server
	signKey *ecdsa.PrivateKey

	mu        sync.Mutex
	users     map[string]string
	refreshes map[string]string
	failures  []Failure
	calls     map[string]int
	revoked   []string
	expiresIn int64
}

// NewServer starts a server that is closed when tb finishes.
func NewServer(tb testing.TB) *Server {
	tb.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		tb.Fatalf("generate signing key: %v", err)
	}

	s := &Server{
		signKey:   key,
		users:     map[string]string{},
		refreshes: map[string]string{},
		calls:     map[string]int{},
		expiresIn: 300,
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST(TokenPath, s.token)
	router.POST(RevokePath, s.revoke)

	s.srv = httptest.NewServer(router)
	s.URL = s.srv.URL
	tb.Cleanup(s.srv.Close)
	return s
}

func (s *Server) TokenURL() string  { return s.URL + TokenPath }
func (s *Server) RevokeURL() string { return s.URL + RevokePath }

func (s *Server) AddUser(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = password
}

// SetExpiresIn sets the lifetime reported for new access tokens.
func (s *Server) SetExpiresIn(seconds int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresIn = seconds
}

// FailNext queues canned responses for the next token requests.
func (s *Server) FailNext(failures ...Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failures...)
}

// Calls counts token requests by grant type.
func (s *Server) Calls(grantType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[grantType]
}

// Revoked lists the subjects whose refresh tokens were revoked.
func (s *Server) Revoked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.revoked...)
}

// VerifyAccess checks the signature and audience of an access token.
func (s *Server) VerifyAccess(accessToken string) (*core.AccessClaims, error) {
	claims := &core.AccessClaims{}
	_, err := jwt.ParseWithClaims(accessToken, claims, s.keyFunc, jwt.WithAudience(AudienceAccess))
	if err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}
	return claims, nil
}

func (s *Server) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return &s.signKey.PublicKey, nil
}

func (s *Server) token(c *gin.Context) {
	grantType := c.PostForm("grant_type")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[grantType]++

	if len(s.failures) > 0 {
		f := s.failures[0]
		s.failures = s.failures[1:]
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		c.Data(f.Status, contentType, []byte(f.Body))
		return
	}

	if id, secret, ok := c.Request.BasicAuth(); !ok || id != ClientID || secret != ClientSecret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client"})
		return
	}

	var subject string
	switch grantType {
	case "password":
		username := c.PostForm("username")
		password, ok := s.users[username]
		if !ok || password != c.PostForm("password") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_grant", "error_description": "Invalid credentials"})
			return
		}
		subject = username

	case "refresh_token":
		claims, err := s.parseRefresh(c.PostForm("refresh_token"))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_grant", "error_description": "Invalid refresh token"})
			return
		}
		// Rotate: a refresh token is good for one use.
		delete(s.refreshes, claims.ID)
		subject = claims.Subject

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type"})
		return
	}

	access, refresh, err := s.issue(subject)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "Bearer",
		"expires_in":    s.expiresIn,
	})
}

func (s *Server) revoke(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, secret, ok := c.Request.BasicAuth(); !ok || id != ClientID || secret != ClientSecret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client"})
		return
	}
	// Unknown tokens are not an error.
	if claims, err := s.parseRefresh(c.PostForm("token")); err == nil {
		delete(s.refreshes, claims.ID)
		s.revoked = append(s.revoked, claims.Subject)
	}
	c.Status(http.StatusOK)
}

// parseRefresh verifies a refresh token that has not been used yet.
// Callers hold s.mu.
func (s *Server) parseRefresh(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, s.keyFunc, jwt.WithAudience(AudienceRefresh)); err != nil {
		return nil, err
	}
	if _, ok := s.refreshes[claims.ID]; !ok {
		return nil, core.ErrInvalidToken
	}
	return claims, nil
}

// issue mints a token pair. Callers hold s.mu.
func (s *Server) issue(subject string) (string, string, error) {
	now := time.Now()
	refreshID := uuid.NewString()

	access := jwt.NewWithClaims(jwt.SigningMethodES256, core.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.expiresIn) * time.Second)),
			Audience:  jwt.ClaimStrings{AudienceAccess},
		},
		RefreshID: refreshID,
	})
	signedAccess, err := access.SignedString(s.signKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign access token: %w", err)
	}

	refresh := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
		Subject:   subject,
		ID:        refreshID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * 24 * time.Hour)),
		Audience:  jwt.ClaimStrings{AudienceRefresh},
	})
	signedRefresh, err := refresh.SignedString(s.signKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign refresh token: %w", err)
	}

	s.refreshes[refreshID] = subject
	return signedAccess, signedRefresh, nil
}
