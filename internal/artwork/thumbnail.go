// Package artwork downloads album art and shrinks it into a thumbnail the
// display can decode.
package artwork

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Default thumbnail geometry and encoding.
const (
	DefaultSize    = 200
	DefaultQuality = 90
)

// ErrBadStatus is returned when the image host answers with a non-200 status.
var ErrBadStatus = errors.New("unexpected image response status")

// Thumbnailer fetches images and re-encodes them as fixed-size JPEG thumbnails.
type Thumbnailer struct {
	httpClient *http.Client
	width      int
	height     int
	quality    int
}

// Option configures a Thumbnailer.
type Option func(*Thumbnailer)

// WithSize sets the thumbnail dimensions in pixels.
func WithSize(width, height int) Option {
	return func(t *Thumbnailer) {
		t.width = width
		t.height = height
	}
}

// WithQuality sets the JPEG quality (1-100).
func WithQuality(q int) Option {
	return func(t *Thumbnailer) {
		t.quality = q
	}
}

// WithHTTPClient sets the HTTP client used to download images.
func WithHTTPClient(hc *http.Client) Option {
	return func(t *Thumbnailer) {
		t.httpClient = hc
	}
}

// New creates a Thumbnailer producing DefaultSize square JPEGs.
func New(opts ...Option) *Thumbnailer {
	t := &Thumbnailer{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		width:   DefaultSize,
		height:  DefaultSize,
		quality: DefaultQuality,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Fetch downloads the image at url, resizes it to the configured dimensions
// and returns the JPEG bytes as standard base64 text.
// The aspect ratio is not preserved; album art is square in practice.
func (t *Thumbnailer) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	src, err := imaging.Decode(resp.Body)
	if err != nil {
		return "", fmt.Errorf("decoding image: %w", err)
	}

	var buf bytes.Buffer
	thumb := imaging.Resize(src, t.width, t.height, imaging.Lanczos)
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(t.quality)); err != nil {
		return "", fmt.Errorf("encoding thumbnail: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
