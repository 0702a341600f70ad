package synth

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"

	"github.com/lexiqai/interview-orchestrator/internal/audio"
)

const execName = "exec"

// ExecBackend runs a local synthesizer command. It writes a JSON request to
// stdin and reads line-delimited {"pcm_base64","final"} chunks from stdout.
type ExecBackend struct {
	cmd    []string
	voice  string
	format audio.Format
}

type execRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

// NewExecBackend parses the synthesizer command line.
func NewExecBackend(command, voice string, format audio.Format) (*ExecBackend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	if format.SampleRate == 0 {
		format = audio.Format{SampleRate: 22050, Channels: 1}
	}
	return &ExecBackend{cmd: args, voice: voice, format: format}, nil
}

func (e *ExecBackend) Name() string { return execName }

// Synthesize runs the command and collects every chunk.
func (e *ExecBackend) Synthesize(ctx context.Context, text string) (Audio, error) {
	payload, err := json.Marshal(execRequest{
		Text:       text,
		Voice:      e.voice,
		SampleRate: e.format.SampleRate,
		Channels:   e.format.Channels,
	})
	if err != nil {
		return Audio{}, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Audio{}, &BackendError{Provider: execName, Kind: ErrBackendFailure, Err: fmt.Errorf("%w: %s", err, stderr.String())}
	}

	var pcm []byte
	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return Audio{}, &BackendError{Provider: execName, Kind: ErrNonAudioResponse, Err: err}
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			return Audio{}, &BackendError{Provider: execName, Kind: ErrNonAudioResponse, Err: err}
		}
		pcm = append(pcm, chunk...)
		if resp.Final {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return Audio{}, &BackendError{Provider: execName, Kind: ErrBackendFailure, Err: err}
	}
	if len(pcm) == 0 {
		return Audio{}, &BackendError{Provider: execName, Kind: ErrNonAudioResponse, Err: fmt.Errorf("no audio produced")}
	}

	return Audio{PCM: pcm, Format: e.format}, nil
}
