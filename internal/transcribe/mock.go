package transcribe

import (
	"context"
	"fmt"
	"sync"
)

// MockBackend is a scriptable backend for tests and offline demos.
// With an empty Text it reports the length of the audio it received.
type MockBackend struct {
	ID            string
	Unavailable   bool
	OpenErr       error
	FinalizeErr   error
	TranscribeErr error
	Text          string
	Confidence    float64

	mu          sync.Mutex
	opens       int
	transcribes int
}

func (m *MockBackend) Name() string {
	if m.ID == "" {
		return "mock"
	}
	return m.ID
}

func (m *MockBackend) Available(context.Context) bool { return !m.Unavailable }

func (m *MockBackend) Open(context.Context, StreamConfig) (Recognizer, error) {
	m.mu.Lock()
	m.opens++
	m.mu.Unlock()
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	return &mockRecognizer{backend: m}, nil
}

func (m *MockBackend) Transcribe(_ context.Context, pcm []byte, _ StreamConfig) (Transcript, error) {
	m.mu.Lock()
	m.transcribes++
	m.mu.Unlock()
	if m.TranscribeErr != nil {
		return Transcript{}, m.TranscribeErr
	}
	return m.transcript(len(pcm)), nil
}

// Opens returns how many recognizers were opened.
func (m *MockBackend) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// Transcribes returns how many batch transcriptions ran.
func (m *MockBackend) Transcribes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transcribes
}

func (m *MockBackend) transcript(n int) Transcript {
	text := m.Text
	if text == "" {
		text = fmt.Sprintf("[transcript length=%d]", n)
	}
	return Transcript{Text: text, Confidence: m.Confidence}
}

type mockRecognizer struct {
	backend *MockBackend
	mu      sync.Mutex
	n       int
}

func (r *mockRecognizer) Write(pcm []byte) error {
	r.mu.Lock()
	r.n += len(pcm)
	r.mu.Unlock()
	return nil
}

func (r *mockRecognizer) Finalize(context.Context) (Transcript, error) {
	if r.backend.FinalizeErr != nil {
		return Transcript{}, r.backend.FinalizeErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backend.transcript(r.n), nil
}

func (r *mockRecognizer) Interim() <-chan string { return nil }
func (r *mockRecognizer) Close() error           { return nil }
