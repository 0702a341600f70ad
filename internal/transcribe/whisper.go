package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lexiqai/interview-orchestrator/internal/audio"
)

const whisperName = "whisper"

// WhisperConfig configures the OpenAI batch transcription backend.
type WhisperConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// WhisperBackend transcribes whole recordings with OpenAI's audio API.
type WhisperBackend struct {
	client *openai.Client
	model  string
	apiKey string
}

// NewWhisperBackend creates a Whisper backend.
func NewWhisperBackend(cfg WhisperConfig) *WhisperBackend {
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &WhisperBackend{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
		apiKey: cfg.APIKey,
	}
}

func (w *WhisperBackend) Name() string { return whisperName }

// Available reports whether an API key is configured.
func (w *WhisperBackend) Available(context.Context) bool {
	return w.apiKey != ""
}

// Open returns a recognizer that buffers audio until Finalize.
func (w *WhisperBackend) Open(_ context.Context, cfg StreamConfig) (Recognizer, error) {
	return NewBatchRecognizer(w, cfg), nil
}

// Transcribe uploads the recording as WAV.
func (w *WhisperBackend) Transcribe(ctx context.Context, pcm []byte, cfg StreamConfig) (Transcript, error) {
	wav, err := audio.EncodeWAV(pcm, cfg.Format)
	if err != nil {
		return Transcript{}, fmt.Errorf("encode recording: %w", err)
	}

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		Language: cfg.Language,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Reader:   bytes.NewReader(wav),
		FilePath: "answer.wav",
	})
	if err != nil {
		return Transcript{}, &BackendError{Provider: whisperName, Err: err}
	}

	return Transcript{Text: resp.Text, Confidence: segmentConfidence(resp)}, nil
}

// segmentConfidence converts the mean segment log-probability to [0,1].
func segmentConfidence(resp openai.AudioResponse) float64 {
	if len(resp.Segments) == 0 {
		return 0
	}
	sum := 0.0
	for _, seg := range resp.Segments {
		sum += seg.AvgLogprob
	}
	return math.Exp(sum / float64(len(resp.Segments)))
}
