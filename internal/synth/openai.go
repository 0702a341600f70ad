package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lexiqai/interview-orchestrator/internal/audio"
)

const openAIName = "openai"

// OpenAIConfig configures the OpenAI speech backend.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	Voice   string
	Speed   float64
	BaseURL string
}

// OpenAIBackend synthesizes 24kHz PCM with OpenAI's speech endpoint.
type OpenAIBackend struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIBackend creates an OpenAI speech backend.
func NewOpenAIBackend(cfg OpenAIConfig) *OpenAIBackend {
	if cfg.Model == "" {
		cfg.Model = string(openai.TTSModel1)
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.VoiceAlloy)
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(clientConfig), cfg: cfg}
}

func (o *OpenAIBackend) Name() string { return openAIName }

// Synthesize converts text to PCM.
func (o *OpenAIBackend) Synthesize(ctx context.Context, text string) (Audio, error) {
	req := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.cfg.Model),
		Input:          text,
		Voice:          openai.SpeechVoice(o.cfg.Voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	}
	if o.cfg.Speed > 0 {
		req.Speed = o.cfg.Speed
	}

	resp, err := o.client.CreateSpeech(ctx, req)
	if err != nil {
		return Audio{}, classifyOpenAIError(err)
	}
	defer resp.Close()

	pcm, err := io.ReadAll(resp)
	if err != nil {
		return Audio{}, &BackendError{Provider: openAIName, Kind: ErrBackendFailure, Err: fmt.Errorf("read audio: %w", err)}
	}
	if ct := resp.Header().Get("Content-Type"); ct != "" && !isAudioContentType(ct) {
		return Audio{}, &BackendError{Provider: openAIName, Kind: ErrNonAudioResponse, Err: fmt.Errorf("content-type %q: %s", ct, truncate(pcm))}
	}
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return Audio{}, &BackendError{Provider: openAIName, Kind: ErrNonAudioResponse, Err: fmt.Errorf("unexpected %d byte body", len(pcm))}
	}

	return Audio{PCM: pcm, Format: audio.Format{SampleRate: 24000, Channels: 1}}, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.Type == "insufficient_quota" {
			return &BackendError{Provider: openAIName, Kind: ErrQuotaExceeded, Err: err}
		}
		return &BackendError{Provider: openAIName, Kind: ErrBackendFailure, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return &BackendError{Provider: openAIName, Kind: ErrQuotaExceeded, Err: err}
	}
	return &BackendError{Provider: openAIName, Kind: ErrBackendFailure, Err: err}
}
