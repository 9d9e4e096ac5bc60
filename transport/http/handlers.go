package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/barong-agent/core"
	"github.com/layer-3/barong-agent/eventbus"
)

// Agent is the session surface the control API drives.
type Agent interface {
	Login(ctx context.Context, creds core.Credentials) error
	Refresh(ctx context.Context) error
	Logout(ctx context.Context, forced bool) error
	ForceCheckStorage(ctx context.Context) error
	SetAppActive(active bool)
	SetNetworkConnected(connected bool)
	SetBackendReachable(reachable bool)
	Snapshot() core.Snapshot
	History() *eventbus.History
}

// SessionHandlers contains HTTP handlers for session endpoints
type SessionHandlers struct {
	agent Agent
}

// NewSessionHandlers creates new session handlers
func NewSessionHandlers(agent Agent) *SessionHandlers {
	return &SessionHandlers{
		agent: agent,
	}
}

// Status returns the current session snapshot
func (h *SessionHandlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.agent.Snapshot())
}

// Events returns the recorded event history, newest first
func (h *SessionHandlers) Events(c *gin.Context) {
	entries := h.agent.History().Entries()
	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		out = append(out, gin.H{
			"id":         e.Key,
			"capturedAt": e.CapturedAt,
			"type":       e.Event.Type(),
			"authState":  e.Event.AuthState(),
			"event":      e.Event,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

// Token hands out the current access token while it is usable
func (h *SessionHandlers) Token(c *gin.Context) {
	snap := h.agent.Snapshot()
	if snap.Token == nil || snap.AccessTokenExpired {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     "No usable token",
			"authState": snap.State,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  snap.Token.AccessToken,
		"token_type":    snap.Token.TokenType,
		"authorization": snap.Authorization(),
		"expires_at":    snap.TokenExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Login exchanges credentials for a token
func (h *SessionHandlers) Login(c *gin.Context) {
	var req struct {
		Username string   `json:"username" binding:"required"`
		Password string   `json:"password" binding:"required"`
		Scopes   []string `json:"scopes"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	err := h.agent.Login(c.Request.Context(), core.Credentials{
		Username: req.Username,
		Password: req.Password,
		Scopes:   req.Scopes,
	})
	if err != nil {
		respondError(c, err, "Login failed")
		return
	}

	c.JSON(http.StatusOK, h.agent.Snapshot())
}

// Refresh forces a token refresh
func (h *SessionHandlers) Refresh(c *gin.Context) {
	if err := h.agent.Refresh(c.Request.Context()); err != nil {
		respondError(c, err, "Refresh failed")
		return
	}

	c.JSON(http.StatusOK, h.agent.Snapshot())
}

// Logout drops the session; ?forced=true skips revoking the refresh token
func (h *SessionHandlers) Logout(c *gin.Context) {
	forced := c.Query("forced") == "true"

	if err := h.agent.Logout(c.Request.Context(), forced); err != nil {
		respondError(c, err, "Failed to logout")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// CheckStorage reloads the token from the store
func (h *SessionHandlers) CheckStorage(c *gin.Context) {
	if err := h.agent.ForceCheckStorage(c.Request.Context()); err != nil {
		respondError(c, err, "Storage check failed")
		return
	}

	c.JSON(http.StatusOK, h.agent.Snapshot())
}

// SetSignal updates one of the refresh gating signals
func (h *SessionHandlers) SetSignal(c *gin.Context) {
	var req struct {
		Value *bool `json:"value" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	switch c.Param("name") {
	case "app-active":
		h.agent.SetAppActive(*req.Value)
	case "network":
		h.agent.SetNetworkConnected(*req.Value)
	case "backend":
		h.agent.SetBackendReachable(*req.Value)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown signal"})
		return
	}

	c.JSON(http.StatusOK, h.agent.Snapshot())
}

func respondError(c *gin.Context, err error, fallback string) {
	statusCode := http.StatusInternalServerError
	errorMsg := fallback

	// Map specific errors to appropriate status codes
	switch {
	case core.IsUnauthorized(err):
		statusCode = http.StatusUnauthorized
		errorMsg = "Credentials rejected"
	case errors.Is(err, core.ErrMalformedResponse), errors.Is(err, core.ErrInvalidToken):
		statusCode = http.StatusBadGateway
		errorMsg = "Invalid response from auth server"
	case errors.Is(err, core.ErrTransient):
		statusCode = http.StatusServiceUnavailable
		errorMsg = "Auth server unavailable"
	case errors.Is(err, core.ErrNotAuthenticated), errors.Is(err, core.ErrSuperseded):
		statusCode = http.StatusConflict
		errorMsg = err.Error()
	case errors.Is(err, core.ErrSessionClosed), errors.Is(err, core.ErrSessionNotStarted):
		statusCode = http.StatusServiceUnavailable
		errorMsg = err.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		statusCode = http.StatusGatewayTimeout
		errorMsg = "Timed out"
	}

	_ = c.Error(err)
	c.JSON(statusCode, gin.H{"error": errorMsg})
}
