package synth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCartesiaBackend(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        []byte
		wantErr     error
	}{
		{"audio", http.StatusOK, "audio/pcm", []byte{1, 0, 2, 0}, nil},
		{"octet stream", http.StatusOK, "application/octet-stream", []byte{1, 0}, nil},
		{"json body", http.StatusOK, "application/json", []byte(`{"error":"voice not found"}`), ErrNonAudioResponse},
		{"empty body", http.StatusOK, "audio/pcm", nil, ErrNonAudioResponse},
		{"rate limited", http.StatusTooManyRequests, "application/json", []byte(`{}`), ErrQuotaExceeded},
		{"payment required", http.StatusPaymentRequired, "application/json", []byte(`{}`), ErrQuotaExceeded},
		{"server error", http.StatusInternalServerError, "text/plain", []byte("boom"), ErrBackendFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got CartesiaRequest
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("X-API-Key") != "key" {
					t.Errorf("Expected API key header, got '%s'", r.Header.Get("X-API-Key"))
				}
				body, _ := io.ReadAll(r.Body)
				json.Unmarshal(body, &got)
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				w.Write(tt.body)
			}))
			defer server.Close()

			backend := NewCartesiaBackend(CartesiaConfig{APIKey: "key", VoiceID: "voice-1", URL: server.URL})
			result, err := backend.Synthesize(context.Background(), "Hello")

			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Expected success, got %v", err)
				}
				if len(result.PCM) != len(tt.body) {
					t.Errorf("Expected %d bytes, got %d", len(tt.body), len(result.PCM))
				}
				if result.Format.SampleRate != 24000 {
					t.Errorf("Expected 24000 Hz, got %d", result.Format.SampleRate)
				}
			} else if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}

			if got.Transcript != "Hello" || got.Voice.ID != "voice-1" || got.OutputFormat.Encoding != "pcm_s16le" {
				t.Errorf("Unexpected request payload: %+v", got)
			}
		})
	}
}

func TestCartesiaBackend_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	backend := NewCartesiaBackend(CartesiaConfig{APIKey: "key", URL: url})
	_, err := backend.Synthesize(context.Background(), "Hello")
	if !errors.Is(err, ErrBackendFailure) {
		t.Errorf("Expected ErrBackendFailure, got %v", err)
	}
	var be *BackendError
	if !errors.As(err, &be) || be.Provider != "cartesia" {
		t.Errorf("Expected cartesia BackendError, got %v", err)
	}
}

func TestOpenAIBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "audio/pcm")
		w.Write([]byte{1, 0, 2, 0})
	}))
	defer server.Close()

	backend := NewOpenAIBackend(OpenAIConfig{APIKey: "key", BaseURL: server.URL + "/v1"})
	result, err := backend.Synthesize(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if len(result.PCM) != 4 {
		t.Errorf("Expected 4 bytes, got %d", len(result.PCM))
	}
}

func TestOpenAIBackend_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`))
	}))
	defer server.Close()

	backend := NewOpenAIBackend(OpenAIConfig{APIKey: "key", BaseURL: server.URL + "/v1"})
	_, err := backend.Synthesize(context.Background(), "Hello")
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("Expected ErrQuotaExceeded, got %v", err)
	}
}

func TestExecBackend_InvalidCommand(t *testing.T) {
	if _, err := NewExecBackend("", "", testFormat); err == nil {
		t.Error("Expected error for empty command")
	}

	backend, err := NewExecBackend("definitely-not-a-real-tts-binary", "", testFormat)
	if err != nil {
		t.Fatalf("NewExecBackend failed: %v", err)
	}
	_, err = backend.Synthesize(context.Background(), "Hello")
	if !errors.Is(err, ErrBackendFailure) {
		t.Errorf("Expected ErrBackendFailure, got %v", err)
	}
}
