package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func TestLoginCallbackRejected(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantErr    error
		wantMsg    string
	}{
		{
			name:       "state mismatch",
			query:      "?state=wrong&code=abc",
			wantStatus: http.StatusBadRequest,
			wantErr:    ErrStateMismatch,
		},
		{
			name:       "user denied access",
			query:      "?state=expected&error=access_denied",
			wantStatus: http.StatusBadRequest,
			wantMsg:    "access_denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLogin("client-id", "client-secret", DefaultLoginAddr, io.Discard)
			tokenCh := make(chan *oauth2.Token, 1)
			errCh := make(chan error, 1)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/callback"+tt.query, nil)
			l.router("expected", tokenCh, errCh).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			select {
			case err := <-errCh:
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
					t.Errorf("error = %v, want it to mention %q", err, tt.wantMsg)
				}
			default:
				t.Error("no error sent on errCh")
			}

			select {
			case tok := <-tokenCh:
				t.Errorf("unexpected token %v", tok)
			default:
			}
		})
	}
}

func TestLoginRouterOnlyServesCallback(t *testing.T) {
	l := NewLogin("client-id", "client-secret", DefaultLoginAddr, io.Discard)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	l.router("expected", make(chan *oauth2.Token, 1), make(chan error, 1)).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// redirectTransport sends every request to target, whatever host it names.
type redirectTransport struct {
	target *url.URL
	hosts  []string
}

func (rt *redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.hosts = append(rt.hosts, req.URL.Host)
	req = req.Clone(req.Context())
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

// newCodeServer answers the authorization_code grant for code "abc" with
// the given refresh token.
func newCodeServer(t *testing.T, refreshToken string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type = %q, want authorization_code", got)
		}
		if got := r.PostForm.Get("code"); got != "abc" {
			t.Errorf("code = %q, want abc", got)
		}
		if got := r.PostForm.Get("redirect_uri"); got != "http://"+DefaultLoginAddr+"/callback" {
			t.Errorf("redirect_uri = %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access",
			"refresh_token": refreshToken,
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestLoginCallbackExchangesCode(t *testing.T) {
	server := newCodeServer(t, "long-lived")
	target, _ := url.Parse(server.URL)
	transport := &redirectTransport{target: target}

	l := NewLogin("client-id", "client-secret", DefaultLoginAddr, io.Discard,
		WithExchangeClient(&http.Client{Transport: transport}))
	tokenCh := make(chan *oauth2.Token, 1)
	errCh := make(chan error, 1)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/callback?state=expected&code=abc", nil)
	l.router("expected", tokenCh, errCh).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "REFRESH_TOKEN=") {
		t.Errorf("success page does not point at REFRESH_TOKEN: %s", rec.Body.String())
	}
	if len(transport.hosts) != 1 || transport.hosts[0] != "accounts.spotify.com" {
		t.Errorf("exchange hosts = %v, want [accounts.spotify.com]", transport.hosts)
	}

	select {
	case tok := <-tokenCh:
		if tok.RefreshToken != "long-lived" {
			t.Errorf("RefreshToken = %q, want long-lived", tok.RefreshToken)
		}
		if tok.AccessToken != "access" {
			t.Errorf("AccessToken = %q, want access", tok.AccessToken)
		}
	case err := <-errCh:
		t.Fatalf("callback error = %v", err)
	default:
		t.Fatal("no token sent on tokenCh")
	}
}

func TestLoginCallbackWithoutRefreshToken(t *testing.T) {
	server := newCodeServer(t, "")
	target, _ := url.Parse(server.URL)

	l := NewLogin("client-id", "client-secret", DefaultLoginAddr, io.Discard,
		WithExchangeClient(&http.Client{Transport: &redirectTransport{target: target}}))
	tokenCh := make(chan *oauth2.Token, 1)
	errCh := make(chan error, 1)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/callback?state=expected&code=abc", nil)
	l.router("expected", tokenCh, errCh).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrNoRefreshToken) {
			t.Errorf("error = %v, want ErrNoRefreshToken", err)
		}
	default:
		t.Error("no error sent on errCh")
	}
}

func TestNewState(t *testing.T) {
	state1, err := newState()
	if err != nil {
		t.Fatalf("newState() error = %v", err)
	}

	if len(state1) != 24 { // 18 bytes = 24 base64 chars
		t.Errorf("newState() length = %d, want 24", len(state1))
	}
	if strings.ContainsAny(state1, "+/=") {
		t.Errorf("newState() = %q, want URL-safe", state1)
	}

	state2, err := newState()
	if err != nil {
		t.Fatalf("newState() error = %v", err)
	}

	if state1 == state2 {
		t.Error("newState() returned same value twice")
	}
}
