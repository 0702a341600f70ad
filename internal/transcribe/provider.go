package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lexiqai/interview-orchestrator/internal/audio"
	"github.com/lexiqai/interview-orchestrator/internal/device"
	"github.com/lexiqai/interview-orchestrator/internal/observability"
)

// Options configures a Provider.
type Options struct {
	Language          string
	PreferredProvider string
	Format            audio.Format
	// FinalizeTimeout bounds each finalize attempt. Zero means no limit.
	FinalizeTimeout time.Duration
	// MaxCaptureBytes bounds buffered audio per capture. Zero means unbounded.
	MaxCaptureBytes int
	// VAD tunes silent-recording detection. Nil uses audio.DefaultVADConfig.
	VAD    *audio.VADConfig
	Logger *zerolog.Logger
}

// Provider owns the microphone and the ordered set of usable backends.
// At most one capture is live at a time.
type Provider struct {
	opts       Options
	mic        device.Microphone
	candidates []Backend
	logger     zerolog.Logger

	mu     sync.Mutex
	active *CaptureSession
}

// Initialize probes backends in preference order and keeps those that are
// available. The preferred provider, when named, is probed first.
func Initialize(ctx context.Context, opts Options, backends []Backend, mic device.Microphone) (*Provider, error) {
	if mic == nil {
		return nil, &device.Error{Device: "microphone", Op: "initialize", Err: device.ErrNotFound}
	}
	if opts.Format.SampleRate == 0 {
		opts.Format = audio.DefaultFormat
	}

	logger := log.With().Str("component", "transcribe").Logger()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "transcribe").Logger()
	}

	var candidates []Backend
	for _, b := range preferenceOrder(backends, opts.PreferredProvider) {
		if b.Available(ctx) {
			candidates = append(candidates, b)
		} else {
			logger.Debug().Str("provider", b.Name()).Msg("Transcription backend unavailable")
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoProviderAvailable
	}

	logger.Info().Str("provider", candidates[0].Name()).Int("candidates", len(candidates)).Msg("Transcription provider initialized")
	return &Provider{
		opts:       opts,
		mic:        mic,
		candidates: candidates,
		logger:     logger,
	}, nil
}

func preferenceOrder(backends []Backend, preferred string) []Backend {
	ordered := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b != nil && preferred != "" && strings.EqualFold(b.Name(), preferred) {
			ordered = append(ordered, b)
		}
	}
	for _, b := range backends {
		if b != nil && (preferred == "" || !strings.EqualFold(b.Name(), preferred)) {
			ordered = append(ordered, b)
		}
	}
	return ordered
}

// Name returns the backend that new captures try first.
func (p *Provider) Name() string {
	return p.candidates[0].Name()
}

// Candidates returns the available backends in the order they are tried.
func (p *Provider) Candidates() []string {
	names := make([]string, len(p.candidates))
	for i, b := range p.candidates {
		names[i] = b.Name()
	}
	return names
}

// Start acquires the microphone and opens a recognizer. If a backend fails to
// open with a backend failure the next candidate is used without reporting it.
func (p *Provider) Start(ctx context.Context) (*CaptureSession, error) {
	p.mu.Lock()
	if p.active != nil && p.active.capturing() {
		p.mu.Unlock()
		return nil, ErrAlreadyRecording
	}
	s := newCaptureSession(p)
	p.active = s
	p.mu.Unlock()

	// The stream lives as long as the capture; the caller's ctx only bounds
	// acquisition.
	unregister := context.AfterFunc(ctx, s.cancel)
	defer unregister()
	cancelled := func() error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrCaptureCancelled
	}

	stream, err := p.mic.Open(s.ctx, p.opts.Format)
	if err != nil {
		// abandon cancels s.ctx, so read it first.
		interrupted := s.ctx.Err() != nil
		p.abandon(s)
		if interrupted {
			return nil, cancelled()
		}
		return nil, mapDeviceError(err)
	}

	rec, backend, err := p.openRecognizer(s.ctx)
	if err != nil {
		interrupted := s.ctx.Err() != nil
		_ = stream.Close()
		p.abandon(s)
		if interrupted {
			return nil, cancelled()
		}
		return nil, err
	}

	if !s.begin(stream, rec, backend) {
		// Cleanup ran while the device was being acquired.
		_ = stream.Close()
		_ = rec.Close()
		p.abandon(s)
		return nil, cancelled()
	}

	p.logger.Info().Str("capture_id", s.id).Str("provider", backend.Name()).Msg("Capture started")
	go s.run()
	return s, nil
}

func (p *Provider) openRecognizer(ctx context.Context) (Recognizer, Backend, error) {
	cfg := p.streamConfig()
	var lastErr error
	for i, b := range p.candidates {
		rec, err := b.Open(ctx, cfg)
		if err == nil {
			return rec, b, nil
		}
		if !errors.Is(err, ErrBackendFailure) {
			return nil, nil, err
		}
		lastErr = err
		observability.RecordSTTRequest(b.Name(), false)
		if i+1 < len(p.candidates) {
			next := p.candidates[i+1].Name()
			observability.RecordSTTFallback(b.Name(), next)
			p.logger.Warn().Err(err).Str("provider", b.Name()).Str("fallback", next).Msg("Transcription backend failed to open, falling back")
		}
	}
	return nil, nil, lastErr
}

// replay transcribes a complete recording with the first batch-capable
// backend other than exclude.
func (p *Provider) replay(ctx context.Context, pcm []byte, exclude string) (Transcript, string, error) {
	cfg := p.streamConfig()
	var lastErr error
	for _, b := range p.candidates {
		if b.Name() == exclude {
			continue
		}
		batch, ok := b.(BatchTranscriber)
		if !ok {
			continue
		}
		observability.RecordSTTFallback(exclude, b.Name())
		tr, err := batch.Transcribe(ctx, pcm, cfg)
		observability.RecordSTTRequest(b.Name(), err == nil)
		if err == nil {
			p.logger.Info().Str("provider", b.Name()).Str("failed_provider", exclude).Msg("Recording replayed through fallback backend")
			return tr, b.Name(), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no batch-capable fallback")
	}
	return Transcript{}, "", lastErr
}

func (p *Provider) streamConfig() StreamConfig {
	return StreamConfig{Language: p.opts.Language, Format: p.opts.Format}
}

func (p *Provider) abandon(s *CaptureSession) {
	s.close()
	p.release(s)
}

func (p *Provider) release(s *CaptureSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == s {
		p.active = nil
	}
}

// Active returns the live capture, if any.
func (p *Provider) Active() *CaptureSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Stop ends the live capture and lets it finalize. No-op when idle.
func (p *Provider) Stop() {
	if s := p.Active(); s != nil {
		s.Stop()
	}
}

// Cleanup releases the microphone and buffered audio from any state without
// waiting for finalization. The interrupted capture delivers ErrCaptureCancelled.
func (p *Provider) Cleanup() {
	p.mu.Lock()
	s := p.active
	p.active = nil
	p.mu.Unlock()

	if s != nil {
		s.abort()
		p.logger.Debug().Str("capture_id", s.id).Msg("Capture cleaned up")
	}
}

func mapDeviceError(err error) error {
	for _, sentinel := range []error{device.ErrDenied, device.ErrNotFound, device.ErrBusy} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("open microphone: %w", err)
}
