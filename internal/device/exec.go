package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lexiqai/interview-orchestrator/internal/audio"
)

// frameMillis is the chunk size emitted by exec microphones.
const frameMillis = 100

// ExecMicrophone captures raw PCM from the stdout of an external command,
// e.g. "arecord -q -f S16_LE -r {rate} -c {channels} -t raw".
type ExecMicrophone struct {
	Command string
	Probe   *Probe
	logger  zerolog.Logger
}

// NewExecMicrophone validates the command line and returns a microphone.
func NewExecMicrophone(command string, probe *Probe) (*ExecMicrophone, error) {
	if strings.TrimSpace(command) == "" {
		return nil, &Error{Device: "microphone", Op: "configure", Err: ErrNotFound}
	}
	if _, err := shellwords.Parse(command); err != nil {
		return nil, fmt.Errorf("parse microphone command: %w", err)
	}
	return &ExecMicrophone{
		Command: command,
		Probe:   probe,
		logger:  log.With().Str("component", "exec_microphone").Logger(),
	}, nil
}

// Open starts the capture command.
func (m *ExecMicrophone) Open(ctx context.Context, format audio.Format) (InputStream, error) {
	args, err := expandCommand(m.Command, format)
	if err != nil {
		return nil, err
	}

	cmdCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(cmdCtx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("microphone stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &Error{Device: "microphone", Op: "open", Err: startError(err)}
	}

	s := &execInputStream{
		cmd:     cmd,
		cancel:  cancel,
		frames:  make(chan []byte, 16),
		stderr:  &stderr,
		release: m.Probe.Acquire(),
		done:    make(chan struct{}),
	}
	go s.readLoop(stdout, format.BytesPerSecond()*frameMillis/1000)

	// Stop capturing if the caller's context ends before Close.
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	m.logger.Debug().Strs("args", args).Msg("Microphone capture started")
	return s, nil
}

type execInputStream struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	frames  chan []byte
	stderr  *bytes.Buffer
	release func()
	done    chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *execInputStream) readLoop(r io.Reader, frameSize int) {
	defer close(s.frames)
	if frameSize <= 0 {
		frameSize = 3200
	}
	for {
		buf := make([]byte, frameSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			select {
			case s.frames <- buf[:n]:
			case <-s.done:
				_ = s.cmd.Wait()
				return
			}
		}
		if err != nil {
			waitErr := s.cmd.Wait()
			s.finish(waitErr)
			return
		}
	}
}

func (s *execInputStream) finish(waitErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && waitErr != nil {
		cause := classifyOutput(s.stderr.String())
		if cause == nil {
			cause = fmt.Errorf("capture command exited: %w", waitErr)
		}
		s.err = &Error{Device: "microphone", Op: "capture", Err: cause}
	}
	s.release()
}

func (s *execInputStream) Frames() <-chan []byte { return s.frames }

func (s *execInputStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *execInputStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.cancel()
	s.release()
	return nil
}

// ExecSpeaker plays raw PCM by writing it to the stdin of an external command,
// e.g. "aplay -q -f S16_LE -r {rate} -c {channels} -t raw".
type ExecSpeaker struct {
	Command string
	Probe   *Probe
	logger  zerolog.Logger
}

// NewExecSpeaker validates the command line and returns a speaker.
func NewExecSpeaker(command string, probe *Probe) (*ExecSpeaker, error) {
	if strings.TrimSpace(command) == "" {
		return nil, &Error{Device: "speaker", Op: "configure", Err: ErrNotFound}
	}
	if _, err := shellwords.Parse(command); err != nil {
		return nil, fmt.Errorf("parse speaker command: %w", err)
	}
	return &ExecSpeaker{
		Command: command,
		Probe:   probe,
		logger:  log.With().Str("component", "exec_speaker").Logger(),
	}, nil
}

// Open starts the playback command.
func (sp *ExecSpeaker) Open(ctx context.Context, format audio.Format) (OutputStream, error) {
	args, err := expandCommand(sp.Command, format)
	if err != nil {
		return nil, err
	}

	cmdCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cmdCtx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("speaker stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &Error{Device: "speaker", Op: "open", Err: startError(err)}
	}

	sp.logger.Debug().Strs("args", args).Msg("Speaker playback started")
	return &execOutputStream{
		cmd:     cmd,
		cancel:  cancel,
		stdin:   stdin,
		stderr:  &stderr,
		release: sp.Probe.Acquire(),
	}, nil
}

type execOutputStream struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	stdin   io.WriteCloser
	stderr  *bytes.Buffer
	release func()

	once    sync.Once
	waitErr error
	waitCh  chan struct{}
	mu      sync.Mutex
}

func (s *execOutputStream) Write(pcm []byte) (int, error) {
	n, err := s.stdin.Write(pcm)
	if err != nil {
		if cause := classifyOutput(s.stderr.String()); cause != nil {
			return n, &Error{Device: "speaker", Op: "write", Err: cause}
		}
		return n, fmt.Errorf("speaker write: %w", err)
	}
	return n, nil
}

func (s *execOutputStream) wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waitCh == nil {
		s.waitCh = make(chan struct{})
		go func() {
			s.waitErr = s.cmd.Wait()
			s.release()
			close(s.waitCh)
		}()
	}
	return s.waitCh
}

func (s *execOutputStream) Drain(ctx context.Context) error {
	_ = s.stdin.Close()
	select {
	case <-s.wait():
	case <-ctx.Done():
		_ = s.Close()
		return ctx.Err()
	}
	if s.waitErr != nil {
		if cause := classifyOutput(s.stderr.String()); cause != nil {
			return &Error{Device: "speaker", Op: "play", Err: cause}
		}
		return fmt.Errorf("playback command exited: %w", s.waitErr)
	}
	return nil
}

func (s *execOutputStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		_ = s.stdin.Close()
		s.wait()
		s.release()
	})
	return nil
}

func expandCommand(command string, format audio.Format) ([]string, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	if len(args) == 0 {
		return nil, &Error{Device: "command", Op: "configure", Err: ErrNotFound}
	}
	replacer := strings.NewReplacer(
		"{rate}", strconv.Itoa(format.SampleRate),
		"{channels}", strconv.Itoa(format.Channels),
	)
	for i, a := range args {
		args[i] = replacer.Replace(a)
	}
	return args, nil
}

func startError(err error) error {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, os.ErrPermission):
		return ErrDenied
	}
	return err
}
