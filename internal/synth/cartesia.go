package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lexiqai/interview-orchestrator/internal/audio"
)

const (
	cartesiaName       = "cartesia"
	cartesiaDefaultURL = "https://api.cartesia.ai/tts/bytes"
	cartesiaVersion    = "2024-06-10"
)

// CartesiaConfig configures the Cartesia backend.
type CartesiaConfig struct {
	APIKey     string
	VoiceID    string
	ModelID    string
	URL        string
	SampleRate int
	Timeout    time.Duration
}

// CartesiaBackend synthesizes raw PCM with Cartesia's bytes endpoint.
type CartesiaBackend struct {
	cfg        CartesiaConfig
	httpClient *http.Client
}

// CartesiaRequest represents the request payload for Cartesia TTS API
type CartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        CartesiaVoice        `json:"voice"`
	OutputFormat CartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
}

// CartesiaVoice selects a voice by ID.
type CartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

// CartesiaOutputFormat requests raw little-endian PCM.
type CartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// NewCartesiaBackend creates a Cartesia backend.
func NewCartesiaBackend(cfg CartesiaConfig) *CartesiaBackend {
	if cfg.URL == "" {
		cfg.URL = cartesiaDefaultURL
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "sonic-english"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 24000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CartesiaBackend{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *CartesiaBackend) Name() string { return cartesiaName }

// Synthesize converts text to PCM.
func (c *CartesiaBackend) Synthesize(ctx context.Context, text string) (Audio, error) {
	reqBody := CartesiaRequest{
		ModelID:    c.cfg.ModelID,
		Transcript: text,
		Voice:      CartesiaVoice{Mode: "id", ID: c.cfg.VoiceID},
		OutputFormat: CartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: c.cfg.SampleRate,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return Audio{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(jsonData))
	if err != nil {
		return Audio{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Audio{}, &BackendError{Provider: cartesiaName, Kind: ErrBackendFailure, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, &BackendError{Provider: cartesiaName, Kind: ErrBackendFailure, Err: fmt.Errorf("read body: %w", err)}
	}

	if kind := statusKind(resp.StatusCode); kind != nil {
		return Audio{}, &BackendError{Provider: cartesiaName, Kind: kind, Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body))}
	}
	if !isAudioContentType(resp.Header.Get("Content-Type")) || len(body) == 0 || len(body)%2 != 0 {
		return Audio{}, &BackendError{Provider: cartesiaName, Kind: ErrNonAudioResponse, Err: fmt.Errorf("content-type %q: %s", resp.Header.Get("Content-Type"), truncate(body))}
	}

	return Audio{PCM: body, Format: audio.Format{SampleRate: c.cfg.SampleRate, Channels: 1}}, nil
}

// statusKind maps an HTTP status to a classification sentinel, or nil for success.
func statusKind(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests, status == http.StatusPaymentRequired:
		return ErrQuotaExceeded
	default:
		return ErrBackendFailure
	}
}

func isAudioContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.HasPrefix(ct, "audio/") || strings.HasPrefix(ct, "application/octet-stream")
}

func truncate(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
