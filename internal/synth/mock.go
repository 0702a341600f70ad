package synth

import (
	"context"
	"sync"

	"github.com/lexiqai/interview-orchestrator/internal/audio"
)

// MockBackend is a scriptable backend for tests and offline demos.
// When Block is non-nil, Synthesize waits for it to close or for ctx to end.
type MockBackend struct {
	ID     string
	Err    error
	PCM    []byte
	Format audio.Format
	Block  chan struct{}

	mu    sync.Mutex
	texts []string
}

func (m *MockBackend) Name() string {
	if m.ID == "" {
		return "mock"
	}
	return m.ID
}

func (m *MockBackend) Synthesize(ctx context.Context, text string) (Audio, error) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()

	if m.Block != nil {
		select {
		case <-m.Block:
		case <-ctx.Done():
			return Audio{}, ctx.Err()
		}
	}
	if m.Err != nil {
		return Audio{}, m.Err
	}

	format := m.Format
	if format.SampleRate == 0 {
		format = audio.Format{SampleRate: 24000, Channels: 1}
	}
	pcm := m.PCM
	if pcm == nil {
		// 50ms of silence per character keeps demo pacing realistic.
		pcm = make([]byte, format.BytesPerSecond()/20*len([]rune(text)))
	}
	return Audio{PCM: append([]byte(nil), pcm...), Format: format}, nil
}

// Texts returns every text passed to Synthesize.
func (m *MockBackend) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}
