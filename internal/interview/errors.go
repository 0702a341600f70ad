package interview

import (
	"errors"
	"fmt"

	"github.com/lexiqai/interview-orchestrator/internal/device"
	"github.com/lexiqai/interview-orchestrator/internal/synth"
	"github.com/lexiqai/interview-orchestrator/internal/transcribe"
)

var (
	// ErrSessionClosed is returned by every operation after Close.
	ErrSessionClosed = errors.New("session closed")
	// ErrRestarted is returned by an operation that was interrupted by Restart.
	ErrRestarted = errors.New("session restarted")
)

// ErrorKind groups failures by how the user can recover from them.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindDevice is a permission or hardware problem that needs user action.
	KindDevice
	// KindBackend is a transient speech backend failure.
	KindBackend
	// KindContent means nothing usable was said; re-recording fixes it.
	KindContent
	// KindUpstream is a question or scoring service failure; retry is safe.
	KindUpstream
)

func (k ErrorKind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindBackend:
		return "backend"
	case KindContent:
		return "content"
	case KindUpstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// Classify maps an error from any collaborator to an ErrorKind.
func Classify(err error) ErrorKind {
	var devErr *device.Error
	var upErr *UpstreamError
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &devErr),
		errors.Is(err, device.ErrDenied),
		errors.Is(err, device.ErrNotFound),
		errors.Is(err, device.ErrBusy):
		return KindDevice
	case errors.Is(err, transcribe.ErrNoSpeechDetected):
		return KindContent
	case errors.As(err, &upErr), errors.Is(err, ErrNoMoreQuestions):
		return KindUpstream
	case errors.Is(err, transcribe.ErrBackendFailure),
		errors.Is(err, transcribe.ErrNoProviderAvailable),
		errors.Is(err, synth.ErrBackendFailure),
		errors.Is(err, synth.ErrQuotaExceeded),
		errors.Is(err, synth.ErrNonAudioResponse):
		return KindBackend
	}
	return KindUnknown
}

// StageError rejects an operation that is not valid in the current stage.
type StageError struct {
	Op    string
	Stage Stage
}

func (e *StageError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Op, e.Stage)
}

// UpstreamError wraps a question source or scorer failure.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
