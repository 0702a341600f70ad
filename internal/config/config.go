package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the interview orchestrator
type Config struct {
	// Server configuration
	Port             string   `envconfig:"PORT" default:"8080"`
	WSAllowedOrigins []string `envconfig:"WS_ALLOWED_ORIGINS"` // empty allows any origin

	// Interview
	MaxTurns           int    `envconfig:"MAX_TURNS" default:"5"`
	Language           string `envconfig:"LANGUAGE" default:"en"`
	FeedbackPolicyPath string `envconfig:"FEEDBACK_POLICY_PATH"`

	// Speech-to-text, in preference order
	STTProviders         []string `envconfig:"STT_PROVIDERS" default:"deepgram,whisper,exec"`
	STTPreferred         string   `envconfig:"STT_PREFERRED"`
	STTExecCommand       string   `envconfig:"STT_EXEC_COMMAND"`
	STTFinalizeTimeoutMs int      `envconfig:"STT_FINALIZE_TIMEOUT_MS" default:"8000"`
	MaxCaptureSeconds    int      `envconfig:"MAX_CAPTURE_SECONDS" default:"300"`
	VADEnergyThreshold   float64  `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold
	VADMinSpeechFrames   int      `envconfig:"VAD_MIN_SPEECH_FRAMES" default:"5"`    // 20ms frames above threshold

	// Text-to-speech
	TTSPrimary     string `envconfig:"TTS_PRIMARY" default:"cartesia"`
	TTSSecondary   string `envconfig:"TTS_SECONDARY" default:"openai"` // "none" disables fallback
	TTSExecCommand string `envconfig:"TTS_EXEC_COMMAND"`
	TTSSampleRate  int    `envconfig:"TTS_SAMPLE_RATE" default:"24000"`

	// Deepgram STT API configuration
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramModel  string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`

	// OpenAI: batch STT, TTS fallback and the chat coach
	OpenAIAPIKey    string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL   string `envconfig:"OPENAI_BASE_URL"`
	OpenAIChatModel string `envconfig:"OPENAI_CHAT_MODEL" default:"gpt-4o-mini"`
	OpenAISTTModel  string `envconfig:"OPENAI_STT_MODEL" default:"whisper-1"`
	OpenAITTSModel  string `envconfig:"OPENAI_TTS_MODEL" default:"tts-1"`
	OpenAITTSVoice  string `envconfig:"OPENAI_TTS_VOICE" default:"alloy"`

	// Cartesia TTS API configuration
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY"`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"a0e99841-438c-4a64-b679-ae501e7d6091"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic-english"`

	// Question and scoring service
	CoachBackend string `envconfig:"COACH_BACKEND" default:"openai"` // openai or grpc
	CoachGRPCURL string `envconfig:"COACH_GRPC_URL" default:"localhost:50051"`
	CoachGRPCTLS bool   `envconfig:"COACH_GRPC_TLS" default:"false"`
	CoachTimeout int    `envconfig:"COACH_TIMEOUT" default:"30"` // seconds per attempt

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds

	// Local audio devices for the CLI; {rate} and {channels} are substituted
	MicCommand     string `envconfig:"MIC_COMMAND" default:"arecord -q -t raw -f S16_LE -r {rate} -c {channels}"`
	SpeakerCommand string `envconfig:"SPEAKER_COMMAND" default:"aplay -q -t raw -f S16_LE -r {rate} -c {channels}"`
	SampleRate     int    `envconfig:"SAMPLE_RATE" default:"16000"`

	// Report persistence; an empty path disables it
	StorePath          string `envconfig:"STORE_PATH" default:"./data/reports.db"`
	StoreRetentionDays int    `envconfig:"STORE_RETENTION_DAYS" default:"90"`
	StoreMaxReports    int    `envconfig:"STORE_MAX_REPORTS" default:"0"`

	// Event fan-out; an empty URL disables it
	NATSURL string `envconfig:"NATS_URL"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	OTLPEndpoint   string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure   bool   `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
}

var (
	sttProviders = map[string]bool{"deepgram": true, "whisper": true, "exec": true, "mock": true}
	ttsProviders = map[string]bool{"cartesia": true, "openai": true, "exec": true, "mock": true}
)

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	cfg, err := Parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads environment variables without validating their combination.
// Tools that only need part of the configuration use it directly.
func Parse() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	providers := c.STTProviders[:0]
	for _, p := range c.STTProviders {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			providers = append(providers, p)
		}
	}
	c.STTProviders = providers
	c.STTPreferred = strings.ToLower(strings.TrimSpace(c.STTPreferred))
	c.TTSPrimary = strings.ToLower(strings.TrimSpace(c.TTSPrimary))
	c.TTSSecondary = strings.ToLower(strings.TrimSpace(c.TTSSecondary))
	c.CoachBackend = strings.ToLower(strings.TrimSpace(c.CoachBackend))
}

// Validate checks the combination of settings. Missing API keys for
// speech providers are not errors: those providers report themselves
// unavailable and the next one is used.
func (c *Config) Validate() error {
	if c.MaxTurns < 1 {
		return fmt.Errorf("MAX_TURNS must be at least 1, got %d", c.MaxTurns)
	}
	if c.SampleRate <= 0 || c.TTSSampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE and TTS_SAMPLE_RATE must be positive")
	}

	if len(c.STTProviders) == 0 {
		return fmt.Errorf("STT_PROVIDERS must name at least one provider")
	}
	for _, p := range c.STTProviders {
		if !sttProviders[p] {
			return fmt.Errorf("unknown STT provider %q", p)
		}
		if p == "exec" && c.STTExecCommand == "" && len(c.STTProviders) == 1 {
			return fmt.Errorf("STT_EXEC_COMMAND is required when exec is the only STT provider")
		}
	}
	if c.STTPreferred != "" && !sttProviders[c.STTPreferred] {
		return fmt.Errorf("unknown STT_PREFERRED provider %q", c.STTPreferred)
	}

	if !ttsProviders[c.TTSPrimary] {
		return fmt.Errorf("unknown TTS_PRIMARY provider %q", c.TTSPrimary)
	}
	if c.TTSSecondary != "" && c.TTSSecondary != "none" && !ttsProviders[c.TTSSecondary] {
		return fmt.Errorf("unknown TTS_SECONDARY provider %q", c.TTSSecondary)
	}
	for _, p := range []string{c.TTSPrimary, c.TTSSecondary} {
		if p == "exec" && c.TTSExecCommand == "" {
			return fmt.Errorf("TTS_EXEC_COMMAND is required for the exec TTS provider")
		}
	}

	switch c.CoachBackend {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for COACH_BACKEND=openai")
		}
	case "grpc":
		if c.CoachGRPCURL == "" {
			return fmt.Errorf("COACH_GRPC_URL is required for COACH_BACKEND=grpc")
		}
	default:
		return fmt.Errorf("unknown COACH_BACKEND %q", c.CoachBackend)
	}

	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// HasTTSSecondary reports whether a fallback voice is configured.
func (c *Config) HasTTSSecondary() bool {
	return c.TTSSecondary != "" && c.TTSSecondary != "none" && c.TTSSecondary != c.TTSPrimary
}

// STTFinalizeTimeout is the per-attempt finalize limit.
func (c *Config) STTFinalizeTimeout() time.Duration {
	return time.Duration(c.STTFinalizeTimeoutMs) * time.Millisecond
}

// CoachAttemptTimeout is the per-attempt coach call limit.
func (c *Config) CoachAttemptTimeout() time.Duration {
	return time.Duration(c.CoachTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
