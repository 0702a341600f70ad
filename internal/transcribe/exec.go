package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/mattn/go-shellwords"

	"github.com/lexiqai/interview-orchestrator/internal/audio"
)

const execName = "exec"

// ExecBackend runs a local recognizer command. The command receives
// "--audio <file.wav> [--language <lang>]" and must print {"text","confidence"} JSON.
type ExecBackend struct {
	cmd []string
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// NewExecBackend parses the recognizer command line.
func NewExecBackend(command string) (*ExecBackend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &ExecBackend{cmd: args}, nil
}

func (e *ExecBackend) Name() string { return execName }

// Available reports whether the recognizer binary can be found.
func (e *ExecBackend) Available(context.Context) bool {
	_, err := exec.LookPath(e.cmd[0])
	return err == nil
}

// Open returns a recognizer that buffers audio until Finalize.
func (e *ExecBackend) Open(_ context.Context, cfg StreamConfig) (Recognizer, error) {
	return NewBatchRecognizer(e, cfg), nil
}

// Transcribe writes the recording to a temporary WAV file and runs the command on it.
func (e *ExecBackend) Transcribe(ctx context.Context, pcm []byte, cfg StreamConfig) (Transcript, error) {
	file, err := os.CreateTemp("", "interview_stt_*.wav")
	if err != nil {
		return Transcript{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.WriteWAV(file, pcm, cfg.Format); err != nil {
		return Transcript{}, err
	}

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if cfg.Language != "" {
		args = append(args, "--language", cfg.Language)
	}

	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Transcript{}, &BackendError{Provider: execName, Err: fmt.Errorf("stt command failed: %w: %s", err, stderr.String())}
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Transcript{}, &BackendError{Provider: execName, Err: fmt.Errorf("decode stt response: %w", err)}
	}
	return Transcript{Text: resp.Text, Confidence: resp.Confidence}, nil
}
