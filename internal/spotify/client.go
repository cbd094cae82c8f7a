// Package spotify reads playback state from the Spotify Web API.
package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is the Spotify Web API root. It must end in a slash.
	DefaultBaseURL = "https://api.spotify.com/v1/"

	currentlyPlayingPath = "me/player/currently-playing"
)

// Client is a minimal Spotify Web API client for the player endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient sets the HTTP client used for API requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a new Spotify client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CurrentlyPlaying fetches the user's current playback state.
// Returns (nil, nil) for any non-200 response, which includes 204 when
// nothing is playing. Transport and decoding failures are returned as errors.
func (c *Client) CurrentlyPlaying(ctx context.Context, token string) (*CurrentlyPlaying, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+currentlyPlayingPath, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	}

	var cp CurrentlyPlaying
	if err := json.NewDecoder(resp.Body).Decode(&cp); err != nil {
		return nil, fmt.Errorf("parsing currently playing response: %w", err)
	}
	return &cp, nil
}

// DisplayName returns the display name of the account the token belongs to,
// falling back to the user ID when no display name is set.
func (c *Client) DisplayName(ctx context.Context, token string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})

	api := spotify.New(oauth2.NewClient(ctx, src), spotify.WithBaseURL(c.baseURL))
	user, err := api.CurrentUser(ctx)
	if err != nil {
		return "", fmt.Errorf("getting current user: %w", err)
	}
	if user.DisplayName != "" {
		return user.DisplayName, nil
	}
	return user.ID, nil
}
