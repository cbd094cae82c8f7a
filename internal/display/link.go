package display

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
)

const (
	// DefaultRepeat is how many times each status line is written.
	DefaultRepeat = 2

	// readTimeout bounds how long Drain waits for the device to speak.
	readTimeout = 10 * time.Millisecond

	// maxDrain caps how much is read per Drain so a chatty device cannot
	// stall the poll loop.
	maxDrain = 64 * 1024
)

// Link is a line-oriented connection to the display.
// It is not safe for concurrent use.
type Link struct {
	port    io.ReadWriteCloser
	repeat  int
	pending []byte
}

// LinkOption configures a Link.
type LinkOption func(*Link)

// WithRepeat sets how many times Send writes each line. Values below 1 are
// treated as 1.
func WithRepeat(n int) LinkOption {
	return func(l *Link) {
		l.repeat = max(n, 1)
	}
}

// Open opens the serial device at portName (8N1) and wraps it in a Link.
func Open(portName string, baud int, opts ...LinkOption) (*Link, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("setting read timeout: %w", err)
	}

	return NewLink(port, opts...), nil
}

// NewLink wraps an already open port. Reads on port are expected to return
// (0, nil) or io.EOF once no more data is buffered.
func NewLink(port io.ReadWriteCloser, opts ...LinkOption) *Link {
	l := &Link{
		port:   port,
		repeat: DefaultRepeat,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Send encodes s and writes the line to the device. It returns the length of
// one encoded line.
func (l *Link) Send(s Status) (int, error) {
	line, err := Encode(s)
	if err != nil {
		return 0, err
	}

	for i := 0; i < l.repeat; i++ {
		if _, err := l.port.Write(line); err != nil {
			return 0, fmt.Errorf("writing status line: %w", err)
		}
	}
	return len(line), nil
}

// Drain reads whatever the device has sent and returns the complete,
// non-empty lines. A trailing partial line is kept for the next call
// unless it has reached maxDrain bytes, in which case it is discarded.
// Invalid UTF-8 is dropped.
func (l *Link) Drain() ([]string, error) {
	buf := make([]byte, 4096)
	total := 0

	for total < maxDrain {
		n, err := l.port.Read(buf)
		l.pending = append(l.pending, buf[:n]...)
		total += n
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return l.lines(), fmt.Errorf("reading from device: %w", err)
		}
		if n == 0 {
			break
		}
	}

	return l.lines(), nil
}

// lines splits complete lines off the pending buffer.
func (l *Link) lines() []string {
	var out []string
	for {
		i := bytes.IndexByte(l.pending, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(strings.ToValidUTF8(string(l.pending[:i]), ""))
		l.pending = l.pending[i+1:]
		if line != "" {
			out = append(out, line)
		}
	}
	// Newline-free input is capped at maxDrain bytes.
	if len(l.pending) == 0 || len(l.pending) >= maxDrain {
		l.pending = nil
	}
	return out
}

// Close closes the underlying port.
func (l *Link) Close() error {
	return l.port.Close()
}
