package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog/log"
)

const deepgramName = "deepgram"

// DeepgramConfig configures the streaming Deepgram backend.
type DeepgramConfig struct {
	APIKey string
	Model  string
	// FinalizeGrace bounds the wait for trailing results after the stream is finished.
	FinalizeGrace time.Duration
}

// DeepgramBackend streams audio to Deepgram's live transcription API.
type DeepgramBackend struct {
	cfg DeepgramConfig
}

// NewDeepgramBackend creates a Deepgram backend.
func NewDeepgramBackend(cfg DeepgramConfig) *DeepgramBackend {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.FinalizeGrace <= 0 {
		cfg.FinalizeGrace = 3 * time.Second
	}
	return &DeepgramBackend{cfg: cfg}
}

func (d *DeepgramBackend) Name() string { return deepgramName }

// Available reports whether an API key is configured.
func (d *DeepgramBackend) Available(context.Context) bool {
	return d.cfg.APIKey != ""
}

// messageCallbackHandler embeds the default handler and overrides only the
// callbacks the recognizer needs.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	recognizer *deepgramRecognizer
}

func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.recognizer.handleMessage(message)
	return nil
}

func (m *messageCallbackHandler) Close(*msginterfaces.CloseResponse) error {
	m.recognizer.markFinished(nil)
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	detail := "unknown error"
	if errorResponse != nil {
		detail = fmt.Sprintf("%+v", *errorResponse)
	}
	m.recognizer.markFinished(&BackendError{Provider: deepgramName, Err: errors.New(detail)})
	return nil
}

// Open connects a live transcription websocket for one capture.
func (d *DeepgramBackend) Open(ctx context.Context, cfg StreamConfig) (Recognizer, error) {
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.cfg.Model,
		Language:       cfg.Language,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       cfg.Format.Channels,
		SampleRate:     cfg.Format.SampleRate,
	}

	// The websocket outlives the Start call that opened it.
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rec := &deepgramRecognizer{
		cancel:   cancel,
		grace:    d.cfg.FinalizeGrace,
		interim:  make(chan string, 16),
		finished: make(chan struct{}),
	}
	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		recognizer:             rec,
	}

	client, err := listenClient.NewWSUsingCallback(connCtx, d.cfg.APIKey, nil, tOptions, callback)
	if err != nil {
		cancel()
		return nil, &BackendError{Provider: deepgramName, Err: fmt.Errorf("create client: %w", err)}
	}
	if !client.Connect() {
		cancel()
		return nil, &BackendError{Provider: deepgramName, Err: errors.New("websocket connect failed")}
	}
	rec.client = client

	log.Debug().Str("provider", deepgramName).Str("model", d.cfg.Model).Str("language", cfg.Language).Msg("Deepgram stream opened")
	return rec, nil
}

type deepgramRecognizer struct {
	client  *listenClient.WSCallback
	cancel  context.CancelFunc
	grace   time.Duration
	interim chan string

	mu            sync.Mutex
	segments      []string
	confidenceSum float64
	err           error
	finishOnce    sync.Once
	finished      chan struct{}
	closeOnce     sync.Once
}

func (r *deepgramRecognizer) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return
	}
	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return
	}

	if !msg.IsFinal {
		select {
		case r.interim <- alt.Transcript:
		default:
		}
		return
	}

	r.mu.Lock()
	r.segments = append(r.segments, alt.Transcript)
	r.confidenceSum += alt.Confidence
	r.mu.Unlock()
}

func (r *deepgramRecognizer) markFinished(err error) {
	r.mu.Lock()
	if err != nil && r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
	r.finishOnce.Do(func() { close(r.finished) })
}

func (r *deepgramRecognizer) Write(pcm []byte) error {
	r.mu.Lock()
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if _, err := r.client.Write(pcm); err != nil {
		return &BackendError{Provider: deepgramName, Err: fmt.Errorf("send audio: %w", err)}
	}
	return nil
}

// Finalize finishes the stream and collects the final segments received so far.
func (r *deepgramRecognizer) Finalize(ctx context.Context) (Transcript, error) {
	go r.client.Finish()

	timer := time.NewTimer(r.grace)
	defer timer.Stop()
	select {
	case <-r.finished:
	case <-timer.C:
	case <-ctx.Done():
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.segments) == 0 {
		if r.err != nil {
			return Transcript{}, r.err
		}
		if ctx.Err() != nil {
			return Transcript{}, &BackendError{Provider: deepgramName, Err: ctx.Err()}
		}
		return Transcript{}, nil
	}
	return Transcript{
		Text:       strings.Join(r.segments, " "),
		Confidence: r.confidenceSum / float64(len(r.segments)),
	}, nil
}

func (r *deepgramRecognizer) Interim() <-chan string { return r.interim }

func (r *deepgramRecognizer) Close() error {
	r.closeOnce.Do(func() {
		r.cancel()
		r.markFinished(nil)
	})
	return nil
}
