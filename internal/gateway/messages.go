package gateway

import (
	"errors"

	"github.com/lexiqai/interview-orchestrator/internal/interview"
)

// Client message types.
const (
	msgStart        = "start"
	msgRecord       = "record"
	msgStop         = "stop"
	msgEdit         = "edit"
	msgSubmit       = "submit"
	msgRetry        = "retry"
	msgReplay       = "replay"
	msgRestart      = "restart"
	msgSnapshot     = "snapshot"
	msgDeviceError  = "device_error"
	msgPlaybackDone = "playback_done"
)

// Server message types. Session events are sent as their own JSON objects.
const (
	msgAck          = "ack"
	msgError        = "command_error"
	msgCaptureStart = "capture_start"
	msgCaptureStop  = "capture_stop"
	msgAudioStart   = "audio_start"
	msgAudioEnd     = "audio_end"
	msgAudioStop    = "audio_stop"
)

// ClientMessage is a JSON text frame from the browser. Microphone audio
// arrives separately as binary frames of 16-bit little-endian PCM.
type ClientMessage struct {
	Type string `json:"type"`

	// start
	SessionID  string `json:"session_id,omitempty"`
	Resume     string `json:"resume,omitempty"`
	TargetRole string `json:"target_role,omitempty"`

	// edit
	Text string `json:"text,omitempty"`

	// device_error: denied, not_found or busy
	Reason string `json:"reason,omitempty"`

	// playback_done
	Stream int64 `json:"stream,omitempty"`
}

// ServerMessage is a JSON text frame to the browser. Synthesized speech
// follows audio_start as binary frames.
type ServerMessage struct {
	Type string `json:"type"`
	Op   string `json:"op,omitempty"`

	Transcript string              `json:"transcript,omitempty"`
	Snapshot   *interview.Snapshot `json:"snapshot,omitempty"`

	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`

	Stream     int64 `json:"stream,omitempty"`
	SampleRate int   `json:"sample_rate,omitempty"`
	Channels   int   `json:"channels,omitempty"`
}

func ack(op string) ServerMessage {
	return ServerMessage{Type: msgAck, Op: op}
}

// opError reports a rejected or failed command. Stage rejections get their
// own kind so clients can tell them from collaborator failures.
func opError(op string, err error) ServerMessage {
	kind := interview.Classify(err).String()
	var stageErr *interview.StageError
	if errors.As(err, &stageErr) {
		kind = "stage"
	}
	return ServerMessage{Type: msgError, Op: op, ErrorKind: kind, Error: err.Error()}
}
