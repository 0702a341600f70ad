// Package device abstracts the local microphone and speaker so that capture
// and playback can be driven by external commands, a websocket peer, or
// in-memory fakes.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lexiqai/interview-orchestrator/internal/audio"
)

var (
	// ErrDenied is returned when the user or OS refused access to the device.
	ErrDenied = errors.New("device access denied")
	// ErrNotFound is returned when no usable device exists.
	ErrNotFound = errors.New("device not found")
	// ErrBusy is returned when the device is held by another process.
	ErrBusy = errors.New("device busy")
)

// Error wraps one of the device sentinels with the failing operation.
type Error struct {
	Device string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Device, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// InputStream delivers captured PCM frames until closed.
type InputStream interface {
	// Frames is closed when the stream ends, either by Close or by device failure.
	Frames() <-chan []byte
	// Err returns the device failure that ended the stream, if any.
	Err() error
	Close() error
}

// Microphone opens capture streams.
type Microphone interface {
	Open(ctx context.Context, format audio.Format) (InputStream, error)
}

// OutputStream accepts PCM for playback.
type OutputStream interface {
	Write(pcm []byte) (int, error)
	// Drain blocks until everything written has been played.
	Drain(ctx context.Context) error
	// Close stops playback immediately and releases the device.
	Close() error
}

// Speaker opens playback streams.
type Speaker interface {
	Open(ctx context.Context, format audio.Format) (OutputStream, error)
}

// classifyOutput maps well-known driver messages to device sentinels.
func classifyOutput(output string) error {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "busy"):
		return ErrBusy
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "not permitted"):
		return ErrDenied
	case strings.Contains(lower, "no such"), strings.Contains(lower, "not found"), strings.Contains(lower, "no soundcards"):
		return ErrNotFound
	}
	return nil
}
