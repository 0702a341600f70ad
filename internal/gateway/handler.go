// Package gateway serves interview sessions to browsers over a websocket.
// Each connection owns one session; the browser is both its microphone and
// its speaker.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-orchestrator/internal/app"
	"github.com/lexiqai/interview-orchestrator/internal/device"
	"github.com/lexiqai/interview-orchestrator/internal/interview"
	"github.com/lexiqai/interview-orchestrator/internal/observability"
)

const (
	writeTimeout = 10 * time.Second
	commandQueue = 16
)

// SessionFactory creates sessions bound to a connection's devices.
type SessionFactory interface {
	NewSession(ctx context.Context, id string, devs app.Devices, ic interview.Context) (*interview.Session, error)
}

// Handler upgrades requests to websockets and runs one session per connection.
type Handler struct {
	sessions SessionFactory
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu    sync.Mutex
	conns map[*connection]struct{}
	wg    sync.WaitGroup
}

// NewHandler creates a handler. An empty allowedOrigins accepts any origin.
func NewHandler(sessions SessionFactory, allowedOrigins []string, logger zerolog.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger.With().Str("component", "gateway").Logger(),
		conns:  make(map[*connection]struct{}),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	observability.WebSocketOpened()
	defer observability.WebSocketClosed()

	correlationID := observability.NewCorrelationID()
	c := &connection{
		ws:       ws,
		sessions: h.sessions,
		logger:   h.logger.With().Str("correlation_id", correlationID).Logger(),
		done:     make(chan struct{}),
		commands: make(chan ClientMessage, commandQueue),
	}
	c.mic = newRemoteMicrophone(c)
	c.speaker = newRemoteSpeaker(c)

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
		h.wg.Done()
	}()

	c.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Session connection established")
	c.serve(r.Context())
}

// Shutdown closes every open connection and waits for their sessions to be
// released or for ctx to end. http.Server.Shutdown does not track hijacked
// connections, so callers run both.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	for c := range h.conns {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// connection is one browser websocket and the session it drives.
type connection struct {
	ws       *websocket.Conn
	sessions SessionFactory
	logger   zerolog.Logger

	writeMu sync.Mutex
	done    chan struct{}

	mic     *remoteMicrophone
	speaker *remoteSpeaker

	session  atomic.Pointer[interview.Session]
	commands chan ClientMessage
}

func (c *connection) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.processCommands(ctx)
	}()

	c.processIncomingMessages()

	close(c.done)
	cancel()
	closeSession := func() {
		if s := c.session.Load(); s != nil {
			s.Close()
		}
	}
	closeSession()
	wg.Wait()
	// A start that was in flight may have created the session since.
	closeSession()
	_ = c.ws.Close()
	c.logger.Info().Msg("Session connection closed")
}

// processIncomingMessages reads until the peer goes away. Audio and the
// commands that never block are handled inline; the rest are queued so that
// audio keeps flowing while a command waits on a collaborator.
func (c *connection) processIncomingMessages() {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		if mt == websocket.BinaryMessage {
			observability.RecordAudioBytes("in", len(data))
			c.mic.feed(data)
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(opError("parse", fmt.Errorf("invalid message: %w", err)))
			continue
		}

		switch msg.Type {
		case msgPlaybackDone:
			c.speaker.playbackDone(msg.Stream)
		case msgDeviceError:
			c.mic.fail(deviceError(msg.Reason))
		case msgRestart:
			if s := c.session.Load(); s != nil {
				s.Restart()
			}
			c.send(ack(msg.Type))
		case msgEdit:
			c.reply(msg.Type, c.withSession(func(s *interview.Session) error {
				return s.EditTranscript(msg.Text)
			}))
		case msgSnapshot:
			s := c.session.Load()
			if s == nil {
				c.send(opError(msg.Type, errNoSession))
				continue
			}
			snap := s.Snapshot()
			c.send(ServerMessage{Type: msgAck, Op: msg.Type, Snapshot: &snap})
		case msgStart, msgRecord, msgStop, msgSubmit, msgRetry, msgReplay:
			select {
			case c.commands <- msg:
			default:
				c.send(opError(msg.Type, errors.New("too many pending commands")))
			}
		default:
			c.send(opError(msg.Type, fmt.Errorf("unknown message type %q", msg.Type)))
		}
	}
}

var errNoSession = errors.New("session not started")

// processCommands runs queued commands one at a time, in arrival order.
func (c *connection) processCommands(ctx context.Context) {
	for {
		select {
		case msg := <-c.commands:
			c.runCommand(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (c *connection) runCommand(ctx context.Context, msg ClientMessage) {
	switch msg.Type {
	case msgStart:
		s, err := c.ensureSession(ctx, msg)
		if err != nil {
			c.send(opError(msg.Type, err))
			return
		}
		c.reply(msg.Type, s.Start(ctx))
	case msgRecord:
		c.reply(msg.Type, c.withSession(func(s *interview.Session) error { return s.BeginRecording(ctx) }))
	case msgStop:
		var transcript string
		err := c.withSession(func(s *interview.Session) (err error) {
			transcript, err = s.StopRecording(ctx)
			return err
		})
		if err != nil {
			c.send(opError(msg.Type, err))
			return
		}
		c.send(ServerMessage{Type: msgAck, Op: msg.Type, Transcript: transcript})
	case msgSubmit:
		c.reply(msg.Type, c.withSession(func(s *interview.Session) error { return s.Submit(ctx) }))
	case msgRetry:
		c.reply(msg.Type, c.withSession(func(s *interview.Session) error { return s.RetryQuestion(ctx) }))
	case msgReplay:
		c.reply(msg.Type, c.withSession(func(s *interview.Session) error { return s.ReplayQuestion(ctx) }))
	}
}

// ensureSession creates the session on the first start and forwards its
// events to the browser.
func (c *connection) ensureSession(ctx context.Context, msg ClientMessage) (*interview.Session, error) {
	if s := c.session.Load(); s != nil {
		return s, nil
	}
	s, err := c.sessions.NewSession(ctx, msg.SessionID,
		app.Devices{Microphone: c.mic, Speaker: c.speaker},
		interview.Context{Resume: msg.Resume, TargetRole: msg.TargetRole})
	if err != nil {
		return nil, err
	}

	events, unsubscribe := s.Subscribe()
	go func() {
		defer unsubscribe()
		for ev := range events {
			if err := c.writeJSON(ev); err != nil {
				return
			}
		}
	}()

	c.session.Store(s)
	c.logger.Info().Str("session_id", s.ID()).Str("target_role", msg.TargetRole).Msg("Interview session created")
	return s, nil
}

func (c *connection) withSession(fn func(*interview.Session) error) error {
	s := c.session.Load()
	if s == nil {
		return errNoSession
	}
	return fn(s)
}

func (c *connection) reply(op string, err error) {
	if err != nil {
		c.send(opError(op, err))
		return
	}
	c.send(ack(op))
}

func (c *connection) send(msg ServerMessage) {
	if err := c.writeJSON(msg); err != nil {
		c.logger.Debug().Err(err).Str("type", msg.Type).Msg("Failed to send message")
	}
}

func (c *connection) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isClosed() {
		return errPeerGone
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

func (c *connection) writeBinary(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isClosed() {
		return errPeerGone
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.BinaryMessage, b)
}

func (c *connection) closed() <-chan struct{} { return c.done }

func (c *connection) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func deviceError(reason string) error {
	sentinel := device.ErrNotFound
	switch reason {
	case "denied":
		sentinel = device.ErrDenied
	case "busy":
		sentinel = device.ErrBusy
	}
	return &device.Error{Device: "microphone", Op: "capture", Err: sentinel}
}
