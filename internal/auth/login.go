package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

const (
	// DefaultLoginAddr uses explicit IPv4 loopback as required by Spotify for local development.
	// See: https://developer.spotify.com/documentation/web-api/concepts/redirect-uri
	DefaultLoginAddr = "127.0.0.1:8080"

	callbackTimeout = 2 * time.Minute
)

var (
	// ErrAuthTimeout is returned when the OAuth callback is not received in time.
	ErrAuthTimeout = errors.New("authentication timed out waiting for callback")

	// ErrStateMismatch is returned when the OAuth state parameter doesn't match.
	ErrStateMismatch = errors.New("OAuth state mismatch")

	// ErrNoRefreshToken is returned when the code exchange succeeds but
	// Spotify grants no refresh token, which the bridge cannot run without.
	ErrNoRefreshToken = errors.New("spotify returned no refresh token")
)

// Login runs the one-time authorization code flow that yields the refresh
// token the bridge is configured with.
type Login struct {
	auth       *spotifyauth.Authenticator
	addr       string
	out        io.Writer
	httpClient *http.Client
}

// LoginOption configures a Login.
type LoginOption func(*Login)

// WithExchangeClient sets the HTTP client used to trade the callback code
// for tokens.
func WithExchangeClient(c *http.Client) LoginOption {
	return func(l *Login) { l.httpClient = c }
}

// NewLogin creates a Login whose callback server listens on addr.
// The redirect URI http://{addr}/callback must be registered with the Spotify app.
func NewLogin(clientID, clientSecret, addr string, out io.Writer, opts ...LoginOption) *Login {
	auth := spotifyauth.New(
		spotifyauth.WithClientID(clientID),
		spotifyauth.WithClientSecret(clientSecret),
		spotifyauth.WithRedirectURL("http://"+addr+"/callback"),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserReadCurrentlyPlaying,
			spotifyauth.ScopeUserReadPlaybackState,
		),
	)

	l := &Login{
		auth:       auth,
		addr:       addr,
		out:        out,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run prints the consent URL, waits for Spotify to redirect back and
// returns the exchanged token.
func (l *Login) Run(ctx context.Context) (*oauth2.Token, error) {
	state, err := newState()
	if err != nil {
		return nil, fmt.Errorf("generating state: %w", err)
	}

	// Channel to receive the token from callback
	tokenCh := make(chan *oauth2.Token, 1)
	errCh := make(chan error, 1)

	server := &http.Server{
		Addr:    l.addr,
		Handler: l.router(state, tokenCh, errCh),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("callback server error: %w", err)
		}
	}()

	fmt.Fprintln(l.out, "\nTo authenticate, open this URL in your browser:")
	fmt.Fprintln(l.out, l.auth.AuthURL(state))
	fmt.Fprintln(l.out, "\nWaiting for authentication...")

	var token *oauth2.Token
	select {
	case token = <-tokenCh:
	case err := <-errCh:
		_ = server.Shutdown(ctx)
		return nil, err
	case <-time.After(callbackTimeout):
		_ = server.Shutdown(ctx)
		return nil, ErrAuthTimeout
	case <-ctx.Done():
		_ = server.Shutdown(context.Background())
		return nil, ctx.Err()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	return token, nil
}

func (l *Login) router(state string, tokenCh chan<- *oauth2.Token, errCh chan<- error) http.Handler {
	r := chi.NewRouter()
	r.Get("/callback", func(w http.ResponseWriter, r *http.Request) {
		l.handleCallback(w, r, state, tokenCh, errCh)
	})
	return r
}

// successPage is shown in the browser once the refresh token is in hand.
const successPage = `<!DOCTYPE html>
<html>
<head><title>spotify-serial</title></head>
<body>
<h1>spotify-serial is authorized</h1>
<p>The refresh token was printed in the terminal as a REFRESH_TOKEN= line.
Add it to the environment or the .env file and restart without -login.</p>
</body>
</html>`

// handleCallback trades the authorization code for tokens and hands the
// result to Run. Any failure is reported to both the browser and Run.
func (l *Login) handleCallback(w http.ResponseWriter, r *http.Request, state string, tokenCh chan<- *oauth2.Token, errCh chan<- error) {
	fail := func(status int, err error) {
		http.Error(w, "spotify-serial login failed: "+err.Error(), status)
		errCh <- err
	}

	q := r.URL.Query()
	switch {
	case q.Get("state") != state:
		fail(http.StatusBadRequest, ErrStateMismatch)
		return
	case q.Get("error") != "":
		fail(http.StatusBadRequest, fmt.Errorf("spotify denied consent: %s", q.Get("error")))
		return
	}

	ctx := context.WithValue(r.Context(), oauth2.HTTPClient, l.httpClient)
	token, err := l.auth.Token(ctx, state, r)
	if err != nil {
		fail(http.StatusBadGateway, fmt.Errorf("exchanging code for token: %w", err))
		return
	}
	if token.RefreshToken == "" {
		fail(http.StatusBadGateway, ErrNoRefreshToken)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, successPage)
	tokenCh <- token
}

// newState returns an unguessable value for the OAuth state parameter.
func newState() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
