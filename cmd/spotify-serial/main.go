// Command spotify-serial mirrors Spotify's currently playing track onto a
// microcontroller display attached over a serial port.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/justestif/go-spotify-serial/internal/artwork"
	"github.com/justestif/go-spotify-serial/internal/auth"
	"github.com/justestif/go-spotify-serial/internal/config"
	"github.com/justestif/go-spotify-serial/internal/display"
	"github.com/justestif/go-spotify-serial/internal/nowplaying"
	"github.com/justestif/go-spotify-serial/internal/spotify"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	if cfg.ShowVersion {
		fmt.Println(config.Name, version)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: 10 * time.Second}

	if cfg.Login {
		return login(ctx, cfg, httpClient)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	link, err := display.Open(cfg.Port, cfg.Baud, display.WithRepeat(cfg.SendCount))
	if err != nil {
		return err
	}
	defer link.Close()
	logger.Info("serial port open", slog.String("port", cfg.Port), slog.Int("baud", cfg.Baud))

	tokens := auth.NewTokenManager(cfg.Credentials, auth.WithHTTPClient(httpClient))
	token, err := tokens.Refresh(ctx)
	if err != nil {
		return err
	}

	player := spotify.New(spotify.WithHTTPClient(httpClient))
	if name, err := player.DisplayName(ctx, token.Value); err != nil {
		logger.Warn("could not look up Spotify account", slog.Any("err", err))
	} else {
		logger.Info("authenticated", slog.String("user", name))
	}

	thumbs := artwork.New(
		artwork.WithSize(cfg.ThumbSize, cfg.ThumbSize),
		artwork.WithQuality(cfg.JPEGQuality),
		artwork.WithHTTPClient(httpClient),
	)

	loop := nowplaying.New(tokens, player, thumbs, link, logger,
		nowplaying.WithInterval(cfg.Interval),
		nowplaying.WithMaxTokenAge(cfg.RefreshEvery),
	)

	if err := loop.Run(ctx, &nowplaying.State{Token: token}); err != nil {
		return err
	}

	logger.Info("stopped")
	return nil
}

// login runs the browser consent flow and prints the refresh token to put in REFRESH_TOKEN.
func login(ctx context.Context, cfg *config.Config, httpClient *http.Client) error {
	l := auth.NewLogin(cfg.Credentials.ClientID, cfg.Credentials.ClientSecret, cfg.LoginAddr, os.Stdout,
		auth.WithExchangeClient(httpClient))
	token, err := l.Run(ctx)
	if err != nil {
		return fmt.Errorf("logging in: %w", err)
	}

	fmt.Println("\nAdd this to your environment or .env file:")
	fmt.Printf("REFRESH_TOKEN=%s\n", token.RefreshToken)
	return nil
}
