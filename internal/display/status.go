// Package display speaks the newline-delimited JSON protocol understood by
// the microcontroller display on the other end of the serial link.
package display

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyLine is returned by Decode when the line holds no JSON.
var ErrEmptyLine = errors.New("empty status line")

// Status is one playback update as sent over the wire.
// AlbumArt is only set when the track changed since the previous update.
type Status struct {
	Track    string `json:"track"`
	Artist   string `json:"artist"`
	Progress int    `json:"progress"`
	Duration int    `json:"duration"`
	AlbumArt string `json:"albumArt_b64,omitempty"`
}

// Encode serializes s as a single JSON line terminated by '\n'.
func Encode(s Status) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding status: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses one line produced by Encode.
func Decode(line []byte) (Status, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Status{}, ErrEmptyLine
	}

	var s Status
	if err := json.Unmarshal(line, &s); err != nil {
		return Status{}, fmt.Errorf("decoding status: %w", err)
	}
	return s, nil
}
