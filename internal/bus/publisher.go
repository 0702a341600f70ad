// Package bus publishes interview session events to NATS.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-orchestrator/internal/interview"
)

// Config configures the NATS connection.
type Config struct {
	URL            string
	Name           string
	SubjectPrefix  string
	ConnectTimeout time.Duration
}

// Publisher forwards session events to subjects of the form
// <prefix>.<session>.<event>.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	log    zerolog.Logger
}

// Connect dials NATS. Reconnection is handled by the client library.
func Connect(cfg Config, log zerolog.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("no NATS url configured")
	}
	if cfg.Name == "" {
		cfg.Name = "interview-orchestrator"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "interview"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}
	log = log.With().Str("component", "event_bus").Logger()

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info().Str("url", cfg.URL).Msg("Connected to NATS")
	return &Publisher{conn: conn, prefix: cfg.SubjectPrefix, log: log}, nil
}

// Subject returns the subject an event is published on.
func (p *Publisher) Subject(ev interview.Event) string {
	return p.prefix + "." + token(ev.SessionID) + "." + ev.Type.String()
}

// Publish sends one event. Interim transcripts are skipped.
func (p *Publisher) Publish(ev interview.Event) error {
	if ev.Type == interview.EventTranscriptChanged && ev.Interim {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(ev), data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// Follow publishes every event of s until the returned func is called or
// the session is closed.
func (p *Publisher) Follow(s *interview.Session) (stop func()) {
	events, unsubscribe := s.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if err := p.Publish(ev); err != nil {
				p.log.Warn().Err(err).Str("session_id", ev.SessionID).Msg("Failed to publish session event")
			}
		}
	}()
	return func() {
		unsubscribe()
		<-done
	}
}

// Healthy reports whether the connection is up.
func (p *Publisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.log.Info().Msg("Closing NATS connection")
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// token makes s safe to use as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, s)
}
