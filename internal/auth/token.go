// Package auth exchanges a long-lived Spotify refresh token for short-lived
// bearer tokens, and runs the one-time login that produces the refresh token.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

// DefaultMaxAge is how long an access token is used before it is refreshed.
const DefaultMaxAge = time.Hour

// Credentials are the static secrets used for the refresh-token grant.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// AccessToken is a bearer token and the time it was obtained.
type AccessToken struct {
	Value      string
	AcquiredAt time.Time
}

// Expired reports whether the token is older than maxAge at now.
// A zero AccessToken is always expired.
func (t AccessToken) Expired(now time.Time, maxAge time.Duration) bool {
	if t.Value == "" || t.AcquiredAt.IsZero() {
		return true
	}
	return now.Sub(t.AcquiredAt) > maxAge
}

// TokenManager performs refresh-token exchanges against the Spotify accounts service.
type TokenManager struct {
	config       *oauth2.Config
	refreshToken string
	httpClient   *http.Client
	now          func() time.Time
}

// Option configures a TokenManager.
type Option func(*TokenManager)

// WithTokenURL overrides the token endpoint.
func WithTokenURL(url string) Option {
	return func(m *TokenManager) {
		m.config.Endpoint.TokenURL = url
	}
}

// WithHTTPClient sets the HTTP client used for token requests.
func WithHTTPClient(c *http.Client) Option {
	return func(m *TokenManager) {
		m.httpClient = c
	}
}

// WithClock sets the function used to stamp acquired tokens.
func WithClock(now func() time.Time) Option {
	return func(m *TokenManager) {
		m.now = now
	}
}

// NewTokenManager creates a TokenManager for the given credentials.
// Client credentials are sent in a basic auth header with a form-encoded body.
func NewTokenManager(creds Credentials, opts ...Option) *TokenManager {
	m := &TokenManager{
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   spotifyauth.AuthURL,
				TokenURL:  spotifyauth.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		refreshToken: creds.RefreshToken,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Refresh exchanges the refresh token for a new access token.
// Exactly one request is made per call.
func (m *TokenManager) Refresh(ctx context.Context) (AccessToken, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	// An empty access token forces the token source to hit the endpoint.
	src := m.config.TokenSource(ctx, &oauth2.Token{RefreshToken: m.refreshToken})
	tok, err := src.Token()
	if err != nil {
		return AccessToken{}, fmt.Errorf("refreshing access token: %w", err)
	}

	// Spotify may rotate the refresh token.
	if tok.RefreshToken != "" {
		m.refreshToken = tok.RefreshToken
	}

	return AccessToken{
		Value:      tok.AccessToken,
		AcquiredAt: m.now(),
	}, nil
}
