package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/lexiqai/interview-orchestrator/internal/audio"
	"github.com/lexiqai/interview-orchestrator/internal/device"
	"github.com/lexiqai/interview-orchestrator/internal/observability"
)

// micBuffer is the number of PCM frames queued before new ones are dropped.
const micBuffer = 256

var errPeerGone = errors.New("websocket peer disconnected")

// peer is the sending half of a browser connection.
type peer interface {
	writeJSON(v any) error
	writeBinary(b []byte) error
	closed() <-chan struct{}
}

// remoteMicrophone is a device.Microphone whose frames arrive as binary
// websocket messages.
type remoteMicrophone struct {
	peer peer

	mu      sync.Mutex
	stream  *remoteInputStream
	pending error
}

func newRemoteMicrophone(p peer) *remoteMicrophone {
	return &remoteMicrophone{peer: p}
}

// Open asks the browser to start sending audio. A device error reported
// while no stream was open fails the next Open.
func (m *remoteMicrophone) Open(ctx context.Context, format audio.Format) (device.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.pending; err != nil {
		m.pending = nil
		return nil, err
	}
	if m.stream != nil && !m.stream.isClosed() {
		return nil, &device.Error{Device: "microphone", Op: "open", Err: device.ErrBusy}
	}
	select {
	case <-m.peer.closed():
		return nil, &device.Error{Device: "microphone", Op: "open", Err: device.ErrNotFound}
	default:
	}

	s := &remoteInputStream{
		peer:     m.peer,
		frames:   make(chan []byte, micBuffer),
		finished: make(chan struct{}),
	}
	if err := m.peer.writeJSON(ServerMessage{Type: msgCaptureStart, SampleRate: format.SampleRate, Channels: format.Channels}); err != nil {
		return nil, &device.Error{Device: "microphone", Op: "open", Err: device.ErrNotFound}
	}
	m.stream = s
	context.AfterFunc(ctx, func() { _ = s.Close() })
	go func() {
		select {
		case <-m.peer.closed():
			s.fail(&device.Error{Device: "microphone", Op: "capture", Err: errPeerGone})
		case <-s.finished:
		}
	}()
	return s, nil
}

// feed delivers one binary frame to the live stream, if any.
func (m *remoteMicrophone) feed(pcm []byte) {
	m.mu.Lock()
	s := m.stream
	m.mu.Unlock()
	if s != nil {
		s.push(pcm)
	}
}

// fail ends the live stream with err, or arms it for the next Open.
func (m *remoteMicrophone) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil && !m.stream.isClosed() {
		m.stream.fail(err)
		return
	}
	m.pending = err
}

type remoteInputStream struct {
	peer peer

	mu       sync.Mutex
	frames   chan []byte
	finished chan struct{}
	isDone   bool
	err      error
}

func (s *remoteInputStream) Frames() <-chan []byte { return s.frames }

func (s *remoteInputStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *remoteInputStream) push(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isDone {
		return
	}
	// A stalled consumer loses audio rather than blocking the read loop.
	select {
	case s.frames <- append([]byte(nil), pcm...):
	default:
	}
}

func (s *remoteInputStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isDone
}

func (s *remoteInputStream) fail(err error) {
	s.finish(err)
}

func (s *remoteInputStream) Close() error {
	if s.finish(nil) {
		_ = s.peer.writeJSON(ServerMessage{Type: msgCaptureStop})
	}
	return nil
}

func (s *remoteInputStream) finish(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isDone {
		return false
	}
	s.isDone = true
	s.err = err
	close(s.frames)
	close(s.finished)
	return true
}

// remoteSpeaker is a device.Speaker that streams PCM to the browser and
// waits for it to report the end of playback.
type remoteSpeaker struct {
	peer peer
	seq  atomic.Int64

	mu      sync.Mutex
	waiting map[int64]chan struct{}
}

func newRemoteSpeaker(p peer) *remoteSpeaker {
	return &remoteSpeaker{peer: p, waiting: make(map[int64]chan struct{})}
}

func (sp *remoteSpeaker) Open(_ context.Context, format audio.Format) (device.OutputStream, error) {
	id := sp.seq.Add(1)
	if err := sp.peer.writeJSON(ServerMessage{Type: msgAudioStart, Stream: id, SampleRate: format.SampleRate, Channels: format.Channels}); err != nil {
		return nil, &device.Error{Device: "speaker", Op: "open", Err: device.ErrNotFound}
	}
	played := make(chan struct{})
	sp.mu.Lock()
	sp.waiting[id] = played
	sp.mu.Unlock()
	return &remoteOutputStream{speaker: sp, id: id, played: played, stopped: make(chan struct{})}, nil
}

// playbackDone is called when the browser reports stream id finished.
func (sp *remoteSpeaker) playbackDone(id int64) {
	sp.mu.Lock()
	played, ok := sp.waiting[id]
	delete(sp.waiting, id)
	sp.mu.Unlock()
	if ok {
		close(played)
	}
}

func (sp *remoteSpeaker) forget(id int64) {
	sp.mu.Lock()
	delete(sp.waiting, id)
	sp.mu.Unlock()
}

type remoteOutputStream struct {
	speaker *remoteSpeaker
	id      int64
	played  chan struct{}

	once    sync.Once
	stopped chan struct{}
	drained atomic.Bool
}

func (s *remoteOutputStream) Write(pcm []byte) (int, error) {
	select {
	case <-s.stopped:
		return 0, context.Canceled
	default:
	}
	if err := s.speaker.peer.writeBinary(pcm); err != nil {
		return 0, err
	}
	observability.RecordAudioBytes("out", len(pcm))
	return len(pcm), nil
}

func (s *remoteOutputStream) Drain(ctx context.Context) error {
	if err := s.speaker.peer.writeJSON(ServerMessage{Type: msgAudioEnd, Stream: s.id}); err != nil {
		return err
	}
	select {
	case <-s.played:
		s.drained.Store(true)
		return nil
	case <-s.stopped:
		return context.Canceled
	case <-s.speaker.peer.closed():
		return errPeerGone
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tells the browser to drop whatever it has not played yet.
func (s *remoteOutputStream) Close() error {
	s.once.Do(func() {
		close(s.stopped)
		s.speaker.forget(s.id)
		if !s.drained.Load() {
			_ = s.speaker.peer.writeJSON(ServerMessage{Type: msgAudioStop, Stream: s.id})
		}
	})
	return nil
}
