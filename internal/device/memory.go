package device

import (
	"context"
	"sync"

	"github.com/lexiqai/interview-orchestrator/internal/audio"
)

// MemoryMicrophone replays fixed chunks and then stays open until closed,
// like a live microphone in a quiet room.
type MemoryMicrophone struct {
	Chunks  [][]byte
	OpenErr error
	Probe   *Probe

	mu    sync.Mutex
	opens int
}

// Open returns a stream over Chunks, or OpenErr if set.
func (m *MemoryMicrophone) Open(ctx context.Context, _ audio.Format) (InputStream, error) {
	m.mu.Lock()
	m.opens++
	m.mu.Unlock()
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}

	s := &memoryInputStream{
		frames:  make(chan []byte, len(m.Chunks)),
		done:    make(chan struct{}),
		release: m.Probe.Acquire(),
	}
	for _, c := range m.Chunks {
		s.frames <- append([]byte(nil), c...)
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// Opens returns how many times Open was called.
func (m *MemoryMicrophone) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

type memoryInputStream struct {
	frames  chan []byte
	done    chan struct{}
	once    sync.Once
	release func()
}

func (s *memoryInputStream) Frames() <-chan []byte { return s.frames }
func (s *memoryInputStream) Err() error            { return nil }

func (s *memoryInputStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		close(s.frames)
		s.release()
	})
	return nil
}

// MemorySpeaker records played audio. When Hold is non-nil, Drain blocks
// until Hold is closed, which lets tests interrupt playback mid-stream.
type MemorySpeaker struct {
	OpenErr error
	Hold    chan struct{}
	Probe   *Probe

	mu     sync.Mutex
	played [][]byte
}

// Open returns a recording stream, or OpenErr if set.
func (sp *MemorySpeaker) Open(_ context.Context, _ audio.Format) (OutputStream, error) {
	if sp.OpenErr != nil {
		return nil, sp.OpenErr
	}
	return &memoryOutputStream{
		speaker: sp,
		closed:  make(chan struct{}),
		release: sp.Probe.Acquire(),
	}, nil
}

// Played returns one entry per drained stream with the bytes it received.
func (sp *MemorySpeaker) Played() [][]byte {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	out := make([][]byte, len(sp.played))
	copy(out, sp.played)
	return out
}

type memoryOutputStream struct {
	speaker *MemorySpeaker
	buf     []byte
	mu      sync.Mutex
	closed  chan struct{}
	once    sync.Once
	release func()
}

func (s *memoryOutputStream) Write(pcm []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, pcm...)
	return len(pcm), nil
}

func (s *memoryOutputStream) Drain(ctx context.Context) error {
	if s.speaker.Hold != nil {
		select {
		case <-s.speaker.Hold:
		case <-s.closed:
			return context.Canceled
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	data := append([]byte(nil), s.buf...)
	s.mu.Unlock()

	s.speaker.mu.Lock()
	s.speaker.played = append(s.speaker.played, data)
	s.speaker.mu.Unlock()
	return nil
}

func (s *memoryOutputStream) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.release()
	})
	return nil
}
