package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/layer-3/barong-agent/core"
	"golang.org/x/oauth2"
)

// Config describes the authorization server.
type Config struct {
	TokenURL     string
	RevokeURL    string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// AuthInParams sends client credentials in the form body instead of
	// HTTP basic auth.
	AuthInParams bool
	HTTPClient   *http.Client
}

// OAuth2Client implements ports.AuthClient with the password and
// refresh_token grants.
type OAuth2Client struct {
	oauth      *oauth2.Config
	revokeURL  string
	httpClient *http.Client
	now        func() time.Time
}

// NewOAuth2Client creates a client for the server described by cfg
func NewOAuth2Client(cfg Config) (*OAuth2Client, error) {
	if cfg.TokenURL == "" {
		return nil, errors.New("token url is required")
	}
	if _, err := url.Parse(cfg.TokenURL); err != nil {
		return nil, fmt.Errorf("invalid token url: %w", err)
	}

	style := oauth2.AuthStyleInHeader
	if cfg.AuthInParams {
		style = oauth2.AuthStyleInParams
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &OAuth2Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: style,
			},
		},
		revokeURL:  cfg.RevokeURL,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

func (c *OAuth2Client) context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// Authenticate exchanges credentials for a token
func (c *OAuth2Client) Authenticate(ctx context.Context, creds core.Credentials) (core.Token, error) {
	cfg := *c.oauth
	if len(creds.Scopes) > 0 {
		cfg.Scopes = creds.Scopes
	}
	tok, err := cfg.PasswordCredentialsToken(c.context(ctx), creds.Username, creds.Password)
	if err != nil {
		return core.Token{}, classify("authenticate", err)
	}
	return c.convert(tok)
}

// Refresh exchanges a refresh token for a new token
func (c *OAuth2Client) Refresh(ctx context.Context, refreshToken string) (core.Token, error) {
	src := c.oauth.TokenSource(c.context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return core.Token{}, classify("refresh", err)
	}
	return c.convert(tok)
}

// Revoke invalidates a refresh token as described in RFC 7009. It is a
// no-op when no revocation endpoint is configured.
func (c *OAuth2Client) Revoke(ctx context.Context, refreshToken string) error {
	if c.revokeURL == "" {
		return nil
	}

	form := url.Values{
		"token":           {refreshToken},
		"token_type_hint": {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.oauth.ClientID != "" {
		req.SetBasicAuth(url.QueryEscape(c.oauth.ClientID), url.QueryEscape(c.oauth.ClientSecret))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &core.TransportError{Op: "revoke", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return &core.ClientError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}

// convert maps an oauth2 token onto the domain token. Shape validation is
// left to the store.
func (c *OAuth2Client) convert(tok *oauth2.Token) (core.Token, error) {
	expiresIn, err := c.expiresIn(tok)
	if err != nil {
		return core.Token{}, fmt.Errorf("%w: %v", core.ErrMalformedResponse, err)
	}
	tokenType := tok.TokenType
	if strings.EqualFold(tokenType, core.TokenTypeBearer) {
		tokenType = core.TokenTypeBearer
	}
	return core.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tokenType,
		ExpiresIn:    expiresIn,
	}, nil
}

// expiresIn prefers the raw expires_in field and falls back to the
// absolute expiry computed by oauth2.
func (c *OAuth2Client) expiresIn(tok *oauth2.Token) (int64, error) {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return core.LifetimeFromString(strconv.FormatFloat(v, 'f', -1, 64))
	case int64:
		return v, nil
	case json.Number:
		return core.LifetimeFromString(v.String())
	case string:
		if v != "" {
			return core.LifetimeFromString(v)
		}
	}
	if tok.Expiry.IsZero() {
		return 0, nil
	}
	return int64(tok.Expiry.Sub(c.now()).Round(time.Second) / time.Second), nil
}

// x/oauth2 reports unusable 2xx bodies with plain errors:
// "oauth2: cannot parse json: ...", "oauth2: cannot parse response: ..."
// and "oauth2: server response missing access_token".
var malformedMessages = []string{
	"oauth2: cannot parse",
	"oauth2: server response missing access_token",
}

func malformed(err error) bool {
	msg := err.Error()
	for _, m := range malformedMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// classify maps oauth2 errors onto the domain error taxonomy.
func classify(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return &core.ClientError{Status: status, Body: strings.TrimSpace(string(re.Body))}
	}

	if malformed(err) {
		return fmt.Errorf("%s: %w: %v", op, core.ErrMalformedResponse, err)
	}
	return &core.TransportError{Op: op, Err: err}
}
