package synth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lexiqai/interview-orchestrator/internal/audio"
	"github.com/lexiqai/interview-orchestrator/internal/device"
	"github.com/lexiqai/interview-orchestrator/internal/observability"
)

// chunkDuration is the size of each write to the output stream.
const chunkDuration = 100 * time.Millisecond

// Options configures a Provider.
type Options struct {
	// Format is the speaker format; synthesized audio is resampled to it.
	Format audio.Format
	Logger *zerolog.Logger
}

// Provider plays one utterance at a time. Starting a new one cancels the last.
type Provider struct {
	primary   Backend
	secondary Backend
	speaker   device.Speaker
	opts      Options
	logger    zerolog.Logger

	mu      sync.Mutex
	current *Playback
}

// New creates a provider. secondary may be nil.
func New(primary, secondary Backend, speaker device.Speaker, opts Options) *Provider {
	if opts.Format.SampleRate == 0 {
		opts.Format = audio.Format{SampleRate: 24000, Channels: 1}
	}
	logger := log.With().Str("component", "synth").Logger()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "synth").Logger()
	}
	return &Provider{
		primary:   primary,
		secondary: secondary,
		speaker:   speaker,
		opts:      opts,
		logger:    logger,
	}
}

// Speak cancels any current playback and starts rendering text. Synthesis and
// playback run in the background; the returned Playback reports the outcome.
func (p *Provider) Speak(ctx context.Context, text string) (*Playback, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	pbCtx, cancel := context.WithCancel(ctx)
	pb := &Playback{
		id:      uuid.New().String(),
		ctx:     pbCtx,
		cancel:  cancel,
		done:    make(chan Event, 1),
		stopped: make(chan struct{}),
	}

	p.mu.Lock()
	prev := p.current
	p.current = pb
	p.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	go p.run(pb, prev, text)
	return pb, nil
}

// Cancel stops the current playback, if any. It never blocks.
func (p *Provider) Cancel() {
	p.mu.Lock()
	pb := p.current
	p.current = nil
	p.mu.Unlock()
	if pb != nil {
		pb.Cancel()
	}
}

// Playing reports whether a playback is live.
func (p *Provider) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

func (p *Provider) release(pb *Playback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == pb {
		p.current = nil
	}
}

// run renders and plays pb. The speaker is only opened once prev, the
// playback pb replaced, has closed its output stream, and pb.stopped is not
// closed before prev.stopped.
func (p *Provider) run(pb, prev *Playback, text string) {
	defer close(pb.stopped)
	if prev != nil {
		defer func() { <-prev.stopped }()
	}
	defer p.release(pb)

	start := time.Now()
	rendered, provider, err := p.synthesize(pb.ctx, text)
	pb.setProvider(provider)
	if err != nil {
		pb.finish(Event{Type: EventError, Provider: provider, Err: err})
		return
	}
	p.logger.Debug().Str("playback_id", pb.id).Str("provider", provider).Dur("latency", time.Since(start)).Int("bytes", len(rendered.PCM)).Msg("Speech synthesized")

	pcm := rendered.PCM
	if rendered.Format.SampleRate != 0 && rendered.Format.SampleRate != p.opts.Format.SampleRate {
		pcm, err = audio.Resample(pcm, rendered.Format.SampleRate, p.opts.Format.SampleRate)
		if err != nil {
			pb.finish(Event{Type: EventError, Provider: provider, Err: err})
			return
		}
	}

	if prev != nil {
		select {
		case <-prev.stopped:
		case <-pb.ctx.Done():
			pb.finish(Event{Type: EventError, Provider: provider, Err: ErrPlaybackCancelled})
			return
		}
	}

	out, err := p.speaker.Open(pb.ctx, p.opts.Format)
	if err != nil {
		pb.finish(Event{Type: EventError, Provider: provider, Err: err})
		return
	}
	if !pb.attach(out, pcm) {
		_ = out.Close()
		pb.finish(Event{Type: EventError, Provider: provider, Err: ErrPlaybackCancelled})
		return
	}

	err = pb.play(p.opts.Format)
	pb.releaseOutput()
	if err != nil {
		pb.finish(Event{Type: EventError, Provider: provider, Err: err})
		return
	}
	pb.finish(Event{Type: EventEnded, Provider: provider})
}

// synthesize tries the primary backend and falls back to the secondary on
// backend or quota failures. Non-audio responses are returned as errors.
func (p *Provider) synthesize(ctx context.Context, text string) (Audio, string, error) {
	rendered, err := p.primary.Synthesize(ctx, text)
	observability.RecordTTSRequest(p.primary.Name(), err == nil)
	if err == nil {
		return rendered, p.primary.Name(), nil
	}
	if ctx.Err() != nil {
		return Audio{}, p.primary.Name(), ErrPlaybackCancelled
	}

	fallbackEligible := errors.Is(err, ErrBackendFailure) || errors.Is(err, ErrQuotaExceeded)
	if errors.Is(err, ErrNonAudioResponse) || !fallbackEligible || p.secondary == nil {
		p.logger.Warn().Err(err).Str("provider", p.primary.Name()).Msg("Speech synthesis failed")
		return Audio{}, p.primary.Name(), err
	}

	observability.RecordTTSFallback(p.primary.Name(), p.secondary.Name())
	p.logger.Warn().Err(err).Str("provider", p.primary.Name()).Str("fallback", p.secondary.Name()).Msg("Primary synthesis failed, falling back")

	rendered, err = p.secondary.Synthesize(ctx, text)
	observability.RecordTTSRequest(p.secondary.Name(), err == nil)
	if err != nil {
		if ctx.Err() != nil {
			return Audio{}, p.secondary.Name(), ErrPlaybackCancelled
		}
		return Audio{}, p.secondary.Name(), err
	}
	return rendered, p.secondary.Name(), nil
}

// Playback is one utterance. It owns the synthesized audio and the output
// stream until it ends or is cancelled.
type Playback struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan Event
	// stopped is closed once run has returned and the output is closed.
	stopped chan struct{}

	mu       sync.Mutex
	provider string
	out      device.OutputStream
	pcm      []byte
	finished bool
}

// ID identifies the playback in logs.
func (pb *Playback) ID() string { return pb.id }

// Provider returns the backend that rendered the audio, once known.
func (pb *Playback) Provider() string {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.provider
}

// Done delivers exactly one terminal Event.
func (pb *Playback) Done() <-chan Event { return pb.done }

// Cancel stops synthesis or playback and releases the audio and output
// stream immediately. Safe to call at any time.
func (pb *Playback) Cancel() {
	pb.cancel()
	pb.releaseOutput()
}

func (pb *Playback) setProvider(name string) {
	pb.mu.Lock()
	pb.provider = name
	pb.mu.Unlock()
}

func (pb *Playback) attach(out device.OutputStream, pcm []byte) bool {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.ctx.Err() != nil {
		return false
	}
	pb.out = out
	pb.pcm = pcm
	return true
}

func (pb *Playback) releaseOutput() {
	pb.mu.Lock()
	out := pb.out
	pb.out = nil
	pb.pcm = nil
	pb.mu.Unlock()
	if out != nil {
		_ = out.Close()
	}
}

func (pb *Playback) play(format audio.Format) error {
	pb.mu.Lock()
	out, pcm := pb.out, pb.pcm
	pb.mu.Unlock()
	if out == nil {
		return ErrPlaybackCancelled
	}

	chunk := format.BytesPerSecond() * int(chunkDuration/time.Millisecond) / 1000
	if chunk <= 0 {
		chunk = len(pcm)
	}
	for off := 0; off < len(pcm); off += chunk {
		if pb.ctx.Err() != nil {
			return ErrPlaybackCancelled
		}
		end := off + chunk
		if end > len(pcm) {
			end = len(pcm)
		}
		if _, err := out.Write(pcm[off:end]); err != nil {
			if pb.ctx.Err() != nil {
				return ErrPlaybackCancelled
			}
			return err
		}
	}

	if err := out.Drain(pb.ctx); err != nil {
		if pb.ctx.Err() != nil {
			return ErrPlaybackCancelled
		}
		return err
	}
	return nil
}

func (pb *Playback) finish(ev Event) {
	pb.mu.Lock()
	if pb.finished {
		pb.mu.Unlock()
		return
	}
	pb.finished = true
	pb.mu.Unlock()

	if ev.Type == EventEnded && pb.ctx.Err() != nil {
		ev = Event{Type: EventError, Provider: ev.Provider, Err: ErrPlaybackCancelled}
	}
	pb.cancel()
	pb.done <- ev
}
