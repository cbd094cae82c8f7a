// Package nowplaying runs the poll-transform-transmit loop that mirrors
// Spotify playback onto the serial display.
package nowplaying

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/justestif/go-spotify-serial/internal/auth"
	"github.com/justestif/go-spotify-serial/internal/display"
	"github.com/justestif/go-spotify-serial/internal/spotify"
)

// TokenRefresher obtains a fresh access token.
type TokenRefresher interface {
	Refresh(ctx context.Context) (auth.AccessToken, error)
}

// PlayerReader reads the current playback state. A nil result means
// nothing is playing.
type PlayerReader interface {
	CurrentlyPlaying(ctx context.Context, token string) (*spotify.CurrentlyPlaying, error)
}

// ArtFetcher turns an image URL into base64 thumbnail text.
type ArtFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Link is the serial connection to the display.
type Link interface {
	Send(s display.Status) (int, error)
	Drain() ([]string, error)
}

// State is carried from one iteration to the next.
type State struct {
	Token     auth.AccessToken
	LastTrack string

	// PendingTrack and PendingArt hold the thumbnail fetched for a new track
	// until a line carrying it has been written to the display.
	PendingTrack string
	PendingArt   string
}

// Loop polls Spotify and forwards status lines to the display.
type Loop struct {
	tokens TokenRefresher
	player PlayerReader
	art    ArtFetcher
	link   Link
	logger *slog.Logger

	interval    time.Duration
	maxTokenAge time.Duration
	now         func() time.Time
}

// Option configures a Loop.
type Option func(*Loop)

// WithInterval sets the time between polls.
func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		l.interval = d
	}
}

// WithMaxTokenAge sets how old a token may get before it is refreshed.
func WithMaxTokenAge(d time.Duration) Option {
	return func(l *Loop) {
		l.maxTokenAge = d
	}
}

// WithClock sets the time source used for token age checks.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		l.now = now
	}
}

// New creates a Loop.
func New(tokens TokenRefresher, player PlayerReader, art ArtFetcher, link Link, logger *slog.Logger, opts ...Option) *Loop {
	l := &Loop{
		tokens:      tokens,
		player:      player,
		art:         art,
		link:        link,
		logger:      logger,
		interval:    time.Second,
		maxTokenAge: auth.DefaultMaxAge,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run calls Step every interval until ctx is cancelled, returning nil on
// cancellation. A failed token refresh ends the run with an error.
func (l *Loop) Run(ctx context.Context, st *State) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		if err := l.Step(ctx, st); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Step performs one iteration: refresh the token if it is too old, poll
// playback, send a status line if something is playing, then echo anything
// the display sent back. Only a refresh failure is returned; poll and
// serial problems are logged and the iteration moves on.
func (l *Loop) Step(ctx context.Context, st *State) error {
	if st.Token.Expired(l.now(), l.maxTokenAge) {
		tok, err := l.tokens.Refresh(ctx)
		if err != nil {
			return fmt.Errorf("refreshing token: %w", err)
		}
		st.Token = tok
		l.logger.Info("access token refreshed")
	}

	l.forward(ctx, st)
	l.echo()
	return nil
}

// forward polls playback and writes a status line when a track is playing.
func (l *Loop) forward(ctx context.Context, st *State) {
	cp, err := l.player.CurrentlyPlaying(ctx, st.Token.Value)
	if err != nil {
		l.logger.Debug("playback poll failed", slog.Any("err", err))
		return
	}
	if cp == nil || cp.Item == nil {
		return
	}

	status := display.Status{
		Track:    cp.Item.Name,
		Artist:   cp.Item.PrimaryArtist(),
		Progress: cp.ProgressMs,
		Duration: cp.Item.DurationMs,
	}

	changed := status.Track != st.LastTrack
	if changed {
		if st.PendingTrack != status.Track {
			st.PendingTrack = status.Track
			st.PendingArt = l.thumbnail(ctx, cp.Item)
		}
		status.AlbumArt = st.PendingArt
	}

	n, err := l.link.Send(status)
	if err != nil {
		l.logger.Error("sending status", slog.Any("err", err))
		return
	}
	if changed {
		st.LastTrack = status.Track
		st.PendingTrack, st.PendingArt = "", ""
	}
	l.logger.Info("sent",
		slog.String("track", status.Track),
		slog.String("artist", status.Artist),
		slog.String("size", humanize.Bytes(uint64(n))),
	)
}

func (l *Loop) thumbnail(ctx context.Context, item *spotify.TrackItem) string {
	url := item.ImageURL()
	if url == "" {
		l.logger.Warn("track has no album art", slog.String("track", item.Name))
		return ""
	}

	b64, err := l.art.Fetch(ctx, url)
	if err != nil {
		// albumArt_b64 marks a track change only when this succeeds; the new track is sent bare otherwise.
		l.logger.Warn("fetching album art", slog.String("url", url), slog.Any("err", err))
		return ""
	}
	l.logger.Info("album art ready", slog.String("base64", humanize.Bytes(uint64(len(b64)))))
	return b64
}

// echo logs every line the display has sent since the last iteration.
func (l *Loop) echo() {
	lines, err := l.link.Drain()
	for _, line := range lines {
		l.logger.Info("display", slog.String("line", line))
	}
	if err != nil {
		l.logger.Error("reading from display", slog.Any("err", err))
	}
}
