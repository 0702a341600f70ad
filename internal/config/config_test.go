package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every key the config reads so host settings don't leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key := strings.SplitN(kv, "=", 2)[0]
		for _, prefix := range []string{"STT_", "TTS_", "OPENAI_", "DEEPGRAM_", "CARTESIA_", "COACH_", "STORE_", "NATS_", "OTEL_", "VAD_", "RETRY_", "CIRCUIT_"} {
			if strings.HasPrefix(key, prefix) {
				t.Setenv(key, "")
				os.Unsetenv(key)
			}
		}
	}
	for _, key := range []string{"PORT", "MAX_TURNS", "LANGUAGE", "SAMPLE_RATE", "LOG_LEVEL", "LOG_PRETTY", "MIC_COMMAND", "SPEAKER_COMMAND", "FEEDBACK_POLICY_PATH", "WS_ALLOWED_ORIGINS", "MAX_CAPTURE_SECONDS"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Port)
	}
	if cfg.MaxTurns != 5 {
		t.Errorf("Expected 5 turns, got %d", cfg.MaxTurns)
	}
	if strings.Join(cfg.STTProviders, ",") != "deepgram,whisper,exec" {
		t.Errorf("Unexpected STT providers %v", cfg.STTProviders)
	}
	if cfg.TTSPrimary != "cartesia" || cfg.TTSSecondary != "openai" || !cfg.HasTTSSecondary() {
		t.Errorf("Unexpected TTS providers %s/%s", cfg.TTSPrimary, cfg.TTSSecondary)
	}
	if cfg.CoachBackend != "openai" {
		t.Errorf("Expected openai coach, got %s", cfg.CoachBackend)
	}
	if cfg.STTFinalizeTimeout() != 8*time.Second {
		t.Errorf("Expected 8s finalize timeout, got %v", cfg.STTFinalizeTimeout())
	}
	if cfg.CoachAttemptTimeout() != 30*time.Second {
		t.Errorf("Expected 30s coach timeout, got %v", cfg.CoachAttemptTimeout())
	}
	if cfg.VADEnergyThreshold != 500.0 {
		t.Errorf("Expected VAD threshold 500, got %f", cfg.VADEnergyThreshold)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("COACH_BACKEND", "GRPC")
	t.Setenv("COACH_GRPC_URL", "coach:50051")
	t.Setenv("STT_PROVIDERS", " Whisper , deepgram ")
	t.Setenv("TTS_SECONDARY", "none")
	t.Setenv("MAX_TURNS", "3")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cfg.CoachBackend != "grpc" {
		t.Errorf("Expected grpc coach, got %s", cfg.CoachBackend)
	}
	if strings.Join(cfg.STTProviders, ",") != "whisper,deepgram" {
		t.Errorf("Expected normalized providers, got %v", cfg.STTProviders)
	}
	if cfg.HasTTSSecondary() {
		t.Error("Expected no TTS fallback")
	}
	if cfg.MaxTurns != 3 {
		t.Errorf("Expected 3 turns, got %d", cfg.MaxTurns)
	}
}

func TestParse_SkipsValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_PATH", "/tmp/reports.db")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected LoadFromEnv to require OPENAI_API_KEY")
	}
	cfg, err := Parse()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cfg.StorePath != "/tmp/reports.db" {
		t.Errorf("Expected store path override, got %s", cfg.StorePath)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			MaxTurns:         5,
			SampleRate:       16000,
			TTSSampleRate:    24000,
			STTProviders:     []string{"deepgram"},
			TTSPrimary:       "cartesia",
			TTSSecondary:     "openai",
			CoachBackend:     "openai",
			OpenAIAPIKey:     "sk-test",
			RetryMaxAttempts: 3,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"zero turns", func(c *Config) { c.MaxTurns = 0 }, "MAX_TURNS"},
		{"no stt", func(c *Config) { c.STTProviders = nil }, "STT_PROVIDERS"},
		{"unknown stt", func(c *Config) { c.STTProviders = []string{"siri"} }, "unknown STT provider"},
		{"exec stt without command", func(c *Config) { c.STTProviders = []string{"exec"} }, "STT_EXEC_COMMAND"},
		{"unknown tts", func(c *Config) { c.TTSPrimary = "polly" }, "TTS_PRIMARY"},
		{"exec tts without command", func(c *Config) { c.TTSSecondary = "exec" }, "TTS_EXEC_COMMAND"},
		{"openai coach without key", func(c *Config) { c.OpenAIAPIKey = "" }, "OPENAI_API_KEY"},
		{"grpc coach without url", func(c *Config) { c.CoachBackend = "grpc" }, "COACH_GRPC_URL"},
		{"unknown coach", func(c *Config) { c.CoachBackend = "oracle" }, "COACH_BACKEND"},
		{"no retry attempts", func(c *Config) { c.RetryMaxAttempts = 0 }, "RETRY_MAX_ATTEMPTS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			switch {
			case tt.wantErr == "" && err != nil:
				t.Errorf("Expected no error, got %v", err)
			case tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)):
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("INTERVIEW_TEST_KEY", "value")
	if got := GetEnv("INTERVIEW_TEST_KEY", "default"); got != "value" {
		t.Errorf("Expected value, got %s", got)
	}
	if got := GetEnv("INTERVIEW_TEST_MISSING", "default"); got != "default" {
		t.Errorf("Expected default, got %s", got)
	}
}
