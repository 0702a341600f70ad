// Package transcribe captures microphone audio for one answer and resolves it
// to text through interchangeable recognition backends.
package transcribe

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexiqai/interview-orchestrator/internal/audio"
)

var (
	// ErrNoProviderAvailable is returned by Initialize when no backend qualifies.
	ErrNoProviderAvailable = errors.New("no transcription provider available")
	// ErrAlreadyRecording is returned by Start while a capture is live.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrNoSpeechDetected is delivered when a recording holds no usable speech.
	ErrNoSpeechDetected = errors.New("no speech detected")
	// ErrBackendFailure classifies transient recognizer failures.
	ErrBackendFailure = errors.New("transcription backend failure")
	// ErrCaptureCancelled is delivered when Cleanup interrupts a capture.
	ErrCaptureCancelled = errors.New("capture cancelled")
)

// BackendError reports a recognizer failure. It matches ErrBackendFailure
// with errors.Is.
type BackendError struct {
	Provider string
	Err      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is makes every BackendError match ErrBackendFailure.
func (e *BackendError) Is(target error) bool {
	return target == ErrBackendFailure
}

// State is the lifecycle of one capture.
type State int

const (
	StateIdle State = iota
	StateRequestingDevice
	StateRecording
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestingDevice:
		return "requesting_device"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Result is the single outcome of a capture. Exactly one of Text or Err is meaningful.
type Result struct {
	Text       string
	Confidence float64
	IsFinal    bool
	Provider   string
	Err        error
}

// Transcript is what a recognizer produces on success.
type Transcript struct {
	Text       string
	Confidence float64
}

// StreamConfig is passed to a backend when a recognizer is opened.
type StreamConfig struct {
	Language string
	Format   audio.Format
}

// Recognizer consumes audio for one capture.
type Recognizer interface {
	// Write feeds captured PCM. Batch recognizers may only buffer it.
	Write(pcm []byte) error
	// Finalize signals end of audio and waits for the final transcript.
	Finalize(ctx context.Context) (Transcript, error)
	// Interim returns partial hypotheses, or nil if the backend has none.
	Interim() <-chan string
	// Close releases the recognizer. Safe to call after Finalize.
	Close() error
}

// Backend is an interchangeable recognition service.
type Backend interface {
	Name() string
	// Available reports whether the backend can be used (credentials, binaries).
	Available(ctx context.Context) bool
	Open(ctx context.Context, cfg StreamConfig) (Recognizer, error)
}

// BatchTranscriber is implemented by backends that can transcribe a complete
// recording in one call. The provider uses it to replay buffered audio when a
// streaming recognizer fails during finalization.
type BatchTranscriber interface {
	Transcribe(ctx context.Context, pcm []byte, cfg StreamConfig) (Transcript, error)
}
