// Package synth renders question text to speech and plays it with
// primary/secondary backend fallback and immediate cancellation.
package synth

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexiqai/interview-orchestrator/internal/audio"
)

var (
	// ErrBackendFailure classifies transport and server failures. Eligible for fallback.
	ErrBackendFailure = errors.New("synthesis backend failure")
	// ErrQuotaExceeded classifies rate-limit and billing rejections. Eligible for fallback.
	ErrQuotaExceeded = errors.New("synthesis quota exceeded")
	// ErrNonAudioResponse means the request succeeded but the body was not audio.
	// It is surfaced rather than retried on another backend so the listener never
	// hears the same question twice.
	ErrNonAudioResponse = errors.New("synthesis returned a non-audio response")
	// ErrEmptyText is returned by Speak for blank input.
	ErrEmptyText = errors.New("nothing to speak")
	// ErrPlaybackCancelled is the terminal error of a cancelled playback.
	ErrPlaybackCancelled = errors.New("playback cancelled")
)

// BackendError attaches the failing provider to one of the classification sentinels.
type BackendError struct {
	Provider string
	Kind     error
	Err      error
}

func (e *BackendError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Provider, e.Kind, e.Err)
}

func (e *BackendError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Audio is synthesized 16-bit PCM.
type Audio struct {
	PCM    []byte
	Format audio.Format
}

// Backend is an interchangeable synthesis service.
type Backend interface {
	Name() string
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// EventType distinguishes the terminal playback events.
type EventType int

const (
	EventEnded EventType = iota
	EventError
)

func (t EventType) String() string {
	if t == EventEnded {
		return "ended"
	}
	return "error"
}

// Event is the single terminal notification of a playback.
type Event struct {
	Type     EventType
	Provider string
	Err      error
}
