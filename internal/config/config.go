// Package config assembles runtime settings from flags, SPOTIFY_SERIAL_*
// environment variables, an optional TOML file and the Spotify secrets.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/peterbourgon/ff"

	"github.com/justestif/go-spotify-serial/internal/artwork"
	"github.com/justestif/go-spotify-serial/internal/auth"
	"github.com/justestif/go-spotify-serial/internal/display"
)

// Name is the program name used for the flag set.
const Name = "spotify-serial"

// EnvPrefix prefixes environment variables that mirror flags,
// e.g. SPOTIFY_SERIAL_PORT for -port.
const EnvPrefix = "SPOTIFY_SERIAL"

// Serial defaults for an ESP32 on its first USB UART.
const (
	DefaultPort = "/dev/ttyUSB0"
	DefaultBaud = 921600
)

// DefaultInterval is the time between polls.
const DefaultInterval = time.Second

// ErrMissingCredentials is returned when CLIENT_ID, CLIENT_SECRET or REFRESH_TOKEN is not set.
var ErrMissingCredentials = errors.New("missing CLIENT_ID, CLIENT_SECRET or REFRESH_TOKEN environment variable")

// Config holds everything the bridge needs to run.
type Config struct {
	Port         string
	Baud         int
	Interval     time.Duration
	RefreshEvery time.Duration
	ThumbSize    int
	JPEGQuality  int
	SendCount    int
	LogLevel     slog.Level
	EnvFile      string
	ShowVersion  bool
	Login        bool
	LoginAddr    string

	Credentials auth.Credentials
}

// Load parses args (without the program name) and the environment.
// Credentials are not read for -version, and -login does not need a refresh token.
func Load(args []string) (*Config, error) {
	cfg := &Config{}

	set := flag.NewFlagSet(Name, flag.ContinueOnError)
	set.StringVar(&cfg.Port, "port", DefaultPort, "serial device the display is attached to")
	set.IntVar(&cfg.Baud, "baud", DefaultBaud, "serial baud rate")
	set.DurationVar(&cfg.Interval, "interval", DefaultInterval, "time between playback polls")
	set.DurationVar(&cfg.RefreshEvery, "refresh-every", auth.DefaultMaxAge, "access token lifetime before it is refreshed")
	set.IntVar(&cfg.ThumbSize, "thumb-size", artwork.DefaultSize, "album art thumbnail edge in pixels")
	set.IntVar(&cfg.JPEGQuality, "jpeg-quality", artwork.DefaultQuality, "album art JPEG quality (1-100)")
	set.IntVar(&cfg.SendCount, "send-count", display.DefaultRepeat, "times each status line is written")
	set.TextVar(&cfg.LogLevel, "log-level", slog.LevelInfo, "log level (debug, info, warn, error)")
	set.StringVar(&cfg.EnvFile, "env-file", ".env", "dotenv file with Spotify secrets (optional)")
	set.BoolVar(&cfg.ShowVersion, "version", false, "show version and exit")
	set.BoolVar(&cfg.Login, "login", false, "run the browser login and print a refresh token")
	set.StringVar(&cfg.LoginAddr, "login-addr", auth.DefaultLoginAddr, "callback address for -login")
	_ = set.String("config", "", "path to TOML config (optional)")

	if err := ff.Parse(set, args,
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(TOMLParser),
		ff.WithEnvVarPrefix(EnvPrefix),
	); err != nil {
		return nil, fmt.Errorf("parsing args: %w", err)
	}

	if cfg.ShowVersion {
		return cfg, nil
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	creds, err := loadCredentials(cfg.EnvFile, !cfg.Login)
	if err != nil {
		return nil, err
	}
	cfg.Credentials = creds

	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Port == "":
		return errors.New("port must not be empty")
	case c.Baud <= 0:
		return fmt.Errorf("invalid baud rate %d", c.Baud)
	case c.Interval <= 0:
		return fmt.Errorf("invalid interval %s", c.Interval)
	case c.RefreshEvery <= 0:
		return fmt.Errorf("invalid refresh interval %s", c.RefreshEvery)
	case c.ThumbSize <= 0:
		return fmt.Errorf("invalid thumbnail size %d", c.ThumbSize)
	case c.JPEGQuality < 1 || c.JPEGQuality > 100:
		return fmt.Errorf("jpeg quality %d out of range 1-100", c.JPEGQuality)
	case c.SendCount < 1:
		return fmt.Errorf("send count must be at least 1, got %d", c.SendCount)
	}
	return nil
}

// loadCredentials reads the Spotify secrets from the environment.
// If envFile exists it is loaded first; variables already set in the
// environment take precedence over the file.
// Returns ErrMissingCredentials if a secret is unset. The refresh token is
// only checked when needRefresh is set.
func loadCredentials(envFile string, needRefresh bool) (auth.Credentials, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return auth.Credentials{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	creds := auth.Credentials{
		ClientID:     os.Getenv("CLIENT_ID"),
		ClientSecret: os.Getenv("CLIENT_SECRET"),
		RefreshToken: os.Getenv("REFRESH_TOKEN"),
	}
	if creds.ClientID == "" || creds.ClientSecret == "" || (needRefresh && creds.RefreshToken == "") {
		return auth.Credentials{}, ErrMissingCredentials
	}
	return creds, nil
}

// TOMLParser is an ff.ConfigFileParser for flat TOML files whose keys are
// flag names. Arrays set the flag once per element.
func TOMLParser(r io.Reader, set func(name, value string) error) error {
	var values map[string]any
	if err := toml.NewDecoder(r).Decode(&values); err != nil {
		return fmt.Errorf("decoding toml: %w", err)
	}

	for name, v := range values {
		switch val := v.(type) {
		case map[string]any:
			return fmt.Errorf("config key %q: tables are not supported", name)
		case []any:
			for _, elem := range val {
				if err := set(name, fmt.Sprint(elem)); err != nil {
					return err
				}
			}
		default:
			if err := set(name, fmt.Sprint(val)); err != nil {
				return err
			}
		}
	}
	return nil
}
