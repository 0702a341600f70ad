package transcribe

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/lexiqai/interview-orchestrator/internal/audio"
	"github.com/lexiqai/interview-orchestrator/internal/device"
	"github.com/lexiqai/interview-orchestrator/internal/observability"
)

// CaptureSession is one microphone recording. It owns the input stream and
// the buffered audio and releases both on every exit path.
type CaptureSession struct {
	id       string
	provider *Provider
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	state   State
	name    string
	stream  device.InputStream
	rec     Recognizer
	stopped bool

	buffer   *audio.CaptureBuffer
	stopCh   chan struct{}
	stopOnce sync.Once
	result   chan Result
	interim  chan string
	done     chan struct{}
}

func newCaptureSession(p *Provider) *CaptureSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &CaptureSession{
		id:       uuid.New().String(),
		provider: p,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateRequestingDevice,
		buffer:   audio.NewCaptureBuffer(p.opts.MaxCaptureBytes),
		stopCh:   make(chan struct{}),
		result:   make(chan Result, 1),
		interim:  make(chan string, 16),
		done:     make(chan struct{}),
	}
}

// ID identifies the capture in logs.
func (s *CaptureSession) ID() string { return s.id }

// Provider returns the name of the backend recognizing this capture.
func (s *CaptureSession) Provider() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// State returns the current lifecycle state.
func (s *CaptureSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Result delivers exactly one Result after Stop, Cleanup or device loss.
func (s *CaptureSession) Result() <-chan Result { return s.result }

// Interim delivers partial hypotheses when the backend produces them.
// It is closed when the capture finishes.
func (s *CaptureSession) Interim() <-chan string { return s.interim }

// Stop ends audio capture and starts finalization. Safe to call repeatedly.
func (s *CaptureSession) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *CaptureSession) capturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped && (s.state == StateRequestingDevice || s.state == StateRecording)
}

func (s *CaptureSession) begin(stream device.InputStream, rec Recognizer, backend Backend) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRequestingDevice || s.ctx.Err() != nil {
		return false
	}
	s.stream = stream
	s.rec = rec
	s.name = backend.Name()
	s.state = StateRecording
	return true
}

func (s *CaptureSession) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// close marks a capture that never started as finished.
func (s *CaptureSession) close() {
	s.mu.Lock()
	started := s.stream != nil
	s.state = StateClosed
	s.mu.Unlock()
	s.cancel()
	if !started {
		s.stopOnce.Do(func() { close(s.stopCh) })
	}
}

// abort releases the device immediately and lets run deliver ErrCaptureCancelled.
func (s *CaptureSession) abort() {
	s.cancel()
	s.Stop()

	s.mu.Lock()
	stream := s.stream
	if stream == nil {
		s.state = StateClosed
	}
	s.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	s.buffer.Clear()
}

func (s *CaptureSession) run() {
	defer close(s.done)
	defer s.cancel()

	frames := s.stream.Frames()
	interim := s.rec.Interim()
	streamFailed := false

	write := func(frame []byte) {
		s.buffer.Write(frame)
		if streamFailed {
			return
		}
		if err := s.rec.Write(frame); err != nil {
			streamFailed = true
			s.provider.logger.Warn().Err(err).Str("capture_id", s.id).Str("provider", s.name).Msg("Recognizer stream failed, buffering for replay")
		}
	}

capture:
	for {
		select {
		case <-s.stopCh:
			break capture
		case <-s.ctx.Done():
			break capture
		case frame, ok := <-frames:
			if !ok {
				frames = nil
				break capture
			}
			write(frame)
		case text, ok := <-interim:
			if !ok {
				interim = nil
				continue
			}
			select {
			case s.interim <- text:
			default:
			}
		}
	}

	deviceErr := s.stream.Err()
	_ = s.stream.Close()
	if frames != nil && s.ctx.Err() == nil {
		// Keep audio that was captured right before stop.
		for frame := range frames {
			write(frame)
		}
	}

	s.setState(StateFinalizing)
	result := s.finalize(deviceErr, streamFailed)

	_ = s.rec.Close()
	s.buffer.Clear()
	s.setState(StateClosed)
	close(s.interim)

	s.provider.release(s)
	s.result <- result

	if result.Err != nil {
		s.provider.logger.Warn().Err(result.Err).Str("capture_id", s.id).Str("provider", result.Provider).Msg("Capture finished without transcript")
	} else {
		s.provider.logger.Info().Str("capture_id", s.id).Str("provider", result.Provider).Float64("confidence", result.Confidence).Msg("Capture finished")
	}
}

func (s *CaptureSession) finalize(deviceErr error, streamFailed bool) Result {
	p := s.provider
	if s.ctx.Err() != nil {
		return Result{Provider: s.name, Err: ErrCaptureCancelled}
	}

	pcm := s.buffer.Bytes()
	if deviceErr != nil && len(pcm) == 0 {
		return Result{Provider: s.name, Err: deviceErr}
	}
	if !audio.DetectSpeech(pcm, p.opts.Format, p.opts.VAD) {
		return Result{Provider: s.name, Err: ErrNoSpeechDetected}
	}

	var (
		tr       Transcript
		err      error
		provider = s.name
	)
	if streamFailed {
		err = &BackendError{Provider: s.name, Err: errors.New("recognizer stream interrupted")}
	} else {
		ctx, cancel := s.attemptContext()
		tr, err = s.rec.Finalize(ctx)
		cancel()
		observability.RecordSTTRequest(s.name, err == nil)
	}

	if err != nil && s.ctx.Err() == nil && (errors.Is(err, ErrBackendFailure) || errors.Is(err, context.DeadlineExceeded)) {
		ctx, cancel := s.attemptContext()
		replayed, name, replayErr := p.replay(ctx, pcm, s.name)
		cancel()
		if replayErr == nil {
			tr, err, provider = replayed, nil, name
		}
	}

	switch {
	case s.ctx.Err() != nil:
		return Result{Provider: provider, Err: ErrCaptureCancelled}
	case err != nil:
		var be *BackendError
		if !errors.As(err, &be) {
			err = &BackendError{Provider: s.name, Err: err}
		}
		return Result{Provider: provider, Err: err}
	case strings.TrimSpace(tr.Text) == "":
		return Result{Provider: provider, Err: ErrNoSpeechDetected}
	}

	return Result{
		Text:       strings.TrimSpace(tr.Text),
		Confidence: tr.Confidence,
		IsFinal:    true,
		Provider:   provider,
	}
}

func (s *CaptureSession) attemptContext() (context.Context, context.CancelFunc) {
	if t := s.provider.opts.FinalizeTimeout; t > 0 {
		return context.WithTimeout(s.ctx, t)
	}
	return context.WithCancel(s.ctx)
}
