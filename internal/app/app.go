// Package app assembles interview sessions and their shared collaborators
// from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-orchestrator/internal/audio"
	"github.com/lexiqai/interview-orchestrator/internal/bus"
	"github.com/lexiqai/interview-orchestrator/internal/coach"
	"github.com/lexiqai/interview-orchestrator/internal/config"
	"github.com/lexiqai/interview-orchestrator/internal/device"
	"github.com/lexiqai/interview-orchestrator/internal/feedback"
	"github.com/lexiqai/interview-orchestrator/internal/interview"
	"github.com/lexiqai/interview-orchestrator/internal/observability"
	"github.com/lexiqai/interview-orchestrator/internal/resilience"
	"github.com/lexiqai/interview-orchestrator/internal/store"
	"github.com/lexiqai/interview-orchestrator/internal/synth"
	"github.com/lexiqai/interview-orchestrator/internal/transcribe"
)

const saveTimeout = 5 * time.Second

// Devices are the audio endpoints a single session uses.
type Devices struct {
	Microphone device.Microphone
	// Speaker may be nil, in which case questions are not spoken.
	Speaker device.Speaker
}

// Option customizes New.
type Option func(*App)

// WithCoach replaces the configured question and scoring backend.
func WithCoach(b coach.Backend) Option {
	return func(a *App) { a.backend = b }
}

// App holds everything sessions share: the coach client, the feedback
// policy, the report store and the event bus.
type App struct {
	cfg     *config.Config
	logger  zerolog.Logger
	backend coach.Backend
	coach   *coach.Resilient
	policy  *feedback.Policy
	reports *store.ReportStore
	events  *bus.Publisher
	closers []func() error
}

// New connects the shared collaborators. Optional ones (store, bus, policy
// file) are skipped when not configured.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, logger: logger.With().Str("component", "app").Logger()}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.connect(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.cfg

	if a.backend == nil {
		backend, closer, err := newCoachBackend(cfg)
		if err != nil {
			return err
		}
		a.backend = backend
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}
	a.coach = coach.NewResilient(cfg.CoachBackend, a.backend, coach.Options{
		Timeout: cfg.CoachAttemptTimeout(),
		Retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		Breaker: resilience.NewCircuitBreaker("coach_"+cfg.CoachBackend,
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second),
		Logger: &a.logger,
	})

	if cfg.FeedbackPolicyPath != "" {
		policy, err := feedback.LoadPolicy(cfg.FeedbackPolicyPath)
		if err != nil {
			return fmt.Errorf("load feedback policy: %w", err)
		}
		a.policy = &policy
		a.logger.Info().Str("path", cfg.FeedbackPolicyPath).Int("tiers", len(policy.Tiers)).Msg("Feedback policy loaded")
	}

	if cfg.StorePath != "" {
		reports, err := store.Open(ctx, store.Config{
			Path:          cfg.StorePath,
			RetentionDays: cfg.StoreRetentionDays,
			MaxReports:    cfg.StoreMaxReports,
		}, a.logger)
		if err != nil {
			return err
		}
		a.reports = reports
		a.closers = append(a.closers, reports.Close)
	}

	if cfg.NATSURL != "" {
		events, err := bus.Connect(bus.Config{URL: cfg.NATSURL}, a.logger)
		if err != nil {
			return err
		}
		a.events = events
		a.closers = append(a.closers, func() error { events.Close(); return nil })
	}
	return nil
}

func newCoachBackend(cfg *config.Config) (coach.Backend, func() error, error) {
	switch cfg.CoachBackend {
	case "grpc":
		client, err := coach.NewGRPCClient(coach.GRPCConfig{Target: cfg.CoachGRPCURL, TLS: cfg.CoachGRPCTLS})
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	case "openai":
		client, err := coach.NewOpenAIClient(coach.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIChatModel,
			BaseURL: cfg.OpenAIBaseURL,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown coach backend %q", cfg.CoachBackend)
}

// Reports returns the report store, or nil when persistence is disabled.
func (a *App) Reports() *store.ReportStore { return a.reports }

// Checks returns the readiness checks for the shared collaborators.
func (a *App) Checks() []observability.Check {
	checks := []observability.Check{
		{Name: "coach", Func: a.coach.HealthCheck},
	}
	if a.reports != nil {
		checks = append(checks, observability.Check{Name: "report_store", Func: a.reports.Ping})
	}
	if a.events != nil {
		checks = append(checks, observability.Check{
			Name:     "event_bus",
			Optional: true,
			Func: func(context.Context) error {
				if !a.events.Healthy() {
					return errors.New("not connected")
				}
				return nil
			},
		})
	}
	return checks
}

// NewSession builds a session over devs. When id is empty one is generated.
// Completed reports are saved and events are published for as long as the
// session stays open.
func (a *App) NewSession(ctx context.Context, id string, devs Devices, ic interview.Context) (*interview.Session, error) {
	stt, err := a.newTranscriber(ctx, devs.Microphone)
	if err != nil {
		return nil, err
	}

	var tts *synth.Provider
	if devs.Speaker != nil {
		tts, err = a.newSynthesizer(devs.Speaker)
		if err != nil {
			return nil, err
		}
	}

	session, err := interview.NewSession(interview.Config{
		ID:       id,
		MaxTurns: a.cfg.MaxTurns,
		Context:  ic,
		Policy:   a.policy,
		Logger:   &a.logger,
	}, a.coach, a.coach, stt, tts)
	if err != nil {
		return nil, err
	}

	if a.events != nil {
		a.events.Follow(session)
	}
	if a.reports != nil {
		events, unsubscribe := session.Subscribe()
		go func() {
			defer unsubscribe()
			a.archive(session, ic, events)
		}()
	}
	return session, nil
}

// archive saves every report the session completes with. A restarted
// session that completes again overwrites its earlier report.
func (a *App) archive(session *interview.Session, ic interview.Context, events <-chan interview.Event) {
	for ev := range events {
		if ev.Type != interview.EventComplete || ev.Report == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		err := a.reports.Save(ctx, store.Record{
			SessionID:  session.ID(),
			TargetRole: ic.TargetRole,
			CreatedAt:  ev.Time,
			Report:     *ev.Report,
		})
		cancel()
		if err != nil {
			a.logger.Error().Err(err).Str("session_id", session.ID()).Msg("Failed to save interview report")
		}
	}
}

func (a *App) newTranscriber(ctx context.Context, mic device.Microphone) (*transcribe.Provider, error) {
	backends, err := a.sttBackends()
	if err != nil {
		return nil, err
	}
	format := audio.Format{SampleRate: a.cfg.SampleRate, Channels: 1}
	return transcribe.Initialize(ctx, transcribe.Options{
		Language:          a.cfg.Language,
		PreferredProvider: a.cfg.STTPreferred,
		Format:            format,
		FinalizeTimeout:   a.cfg.STTFinalizeTimeout(),
		MaxCaptureBytes:   a.cfg.MaxCaptureSeconds * format.BytesPerSecond(),
		VAD: &audio.VADConfig{
			EnergyThreshold: a.cfg.VADEnergyThreshold,
			SilenceFrames:   10,
			FrameDuration:   20,
			MinSpeechFrames: a.cfg.VADMinSpeechFrames,
		},
		Logger: &a.logger,
	}, backends, mic)
}

func (a *App) sttBackends() ([]transcribe.Backend, error) {
	cfg := a.cfg
	var backends []transcribe.Backend
	for _, name := range cfg.STTProviders {
		switch name {
		case "deepgram":
			backends = append(backends, transcribe.NewDeepgramBackend(transcribe.DeepgramConfig{
				APIKey: cfg.DeepgramAPIKey,
				Model:  cfg.DeepgramModel,
			}))
		case "whisper":
			backends = append(backends, transcribe.NewWhisperBackend(transcribe.WhisperConfig{
				APIKey:  cfg.OpenAIAPIKey,
				Model:   cfg.OpenAISTTModel,
				BaseURL: cfg.OpenAIBaseURL,
			}))
		case "exec":
			if cfg.STTExecCommand == "" {
				continue
			}
			b, err := transcribe.NewExecBackend(cfg.STTExecCommand)
			if err != nil {
				return nil, fmt.Errorf("stt exec backend: %w", err)
			}
			backends = append(backends, b)
		case "mock":
			backends = append(backends, &transcribe.MockBackend{})
		}
	}
	return backends, nil
}

func (a *App) newSynthesizer(speaker device.Speaker) (*synth.Provider, error) {
	primary, err := a.ttsBackend(a.cfg.TTSPrimary)
	if err != nil {
		return nil, err
	}
	var secondary synth.Backend
	if a.cfg.HasTTSSecondary() {
		if secondary, err = a.ttsBackend(a.cfg.TTSSecondary); err != nil {
			return nil, err
		}
	}
	return synth.New(primary, secondary, speaker, synth.Options{
		Format: audio.Format{SampleRate: a.cfg.TTSSampleRate, Channels: 1},
		Logger: &a.logger,
	}), nil
}

func (a *App) ttsBackend(name string) (synth.Backend, error) {
	cfg := a.cfg
	switch name {
	case "cartesia":
		return synth.NewCartesiaBackend(synth.CartesiaConfig{
			APIKey:     cfg.CartesiaAPIKey,
			VoiceID:    cfg.CartesiaVoiceID,
			ModelID:    cfg.CartesiaModelID,
			SampleRate: cfg.TTSSampleRate,
		}), nil
	case "openai":
		return synth.NewOpenAIBackend(synth.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAITTSModel,
			Voice:   cfg.OpenAITTSVoice,
			BaseURL: cfg.OpenAIBaseURL,
		}), nil
	case "exec":
		b, err := synth.NewExecBackend(cfg.TTSExecCommand, cfg.OpenAITTSVoice, audio.Format{SampleRate: cfg.TTSSampleRate, Channels: 1})
		if err != nil {
			return nil, fmt.Errorf("tts exec backend: %w", err)
		}
		return b, nil
	case "mock":
		return &synth.MockBackend{}, nil
	}
	return nil, fmt.Errorf("unknown TTS provider %q", name)
}

// Close releases the shared collaborators.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
