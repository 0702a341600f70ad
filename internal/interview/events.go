package interview

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-orchestrator/internal/feedback"
)

// EventType identifies what changed.
type EventType int

const (
	EventStageChanged EventType = iota
	EventQuestionChanged
	EventTranscriptChanged
	EventTurnScored
	EventComplete
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventStageChanged:
		return "stage_changed"
	case EventQuestionChanged:
		return "question_changed"
	case EventTranscriptChanged:
		return "transcript_changed"
	case EventTurnScored:
		return "turn_scored"
	case EventComplete:
		return "complete"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers. Only the fields relevant to Type are set.
type Event struct {
	Type      EventType
	SessionID string
	Time      time.Time
	Stage     Stage

	Question      string
	QuestionIndex int

	Transcript string
	Interim    bool

	TurnIndex  int
	Evaluation *feedback.Evaluation

	Report *feedback.Report

	Kind ErrorKind
	Err  error
}

type eventJSON struct {
	Type          string               `json:"type"`
	SessionID     string               `json:"session_id"`
	Time          time.Time            `json:"time"`
	Stage         string               `json:"stage"`
	Question      string               `json:"question,omitempty"`
	QuestionIndex *int                 `json:"question_index,omitempty"`
	Transcript    *string              `json:"transcript,omitempty"`
	Interim       bool                 `json:"interim,omitempty"`
	TurnIndex     *int                 `json:"turn_index,omitempty"`
	Evaluation    *feedback.Evaluation `json:"evaluation,omitempty"`
	Report        *feedback.Report     `json:"report,omitempty"`
	ErrorKind     string               `json:"error_kind,omitempty"`
	Error         string               `json:"error,omitempty"`
}

// MarshalJSON encodes the fields relevant to the event type.
func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		Type:      e.Type.String(),
		SessionID: e.SessionID,
		Time:      e.Time,
		Stage:     e.Stage.String(),
	}
	switch e.Type {
	case EventQuestionChanged:
		out.Question = e.Question
		out.QuestionIndex = &e.QuestionIndex
	case EventTranscriptChanged:
		out.Transcript = &e.Transcript
		out.Interim = e.Interim
	case EventTurnScored:
		out.Question = e.Question
		out.TurnIndex = &e.TurnIndex
		out.Evaluation = e.Evaluation
	case EventComplete:
		out.Report = e.Report
	case EventError:
		out.ErrorKind = e.Kind.String()
		if e.Err != nil {
			out.Error = e.Err.Error()
		}
	}
	return json.Marshal(out)
}

// subscriberBuffer is the per-subscriber queue depth.
const subscriberBuffer = 64

type broker struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
	logger zerolog.Logger
}

func newBroker(logger zerolog.Logger) *broker {
	return &broker{subs: make(map[int]chan Event), logger: logger}
}

// subscribe registers a new subscriber. The returned func unsubscribes and
// closes the channel.
func (b *broker) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// publish never blocks; a subscriber that falls behind loses events.
func (b *broker) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn().Int("subscriber", id).Str("event", ev.Type.String()).Msg("Subscriber queue full, dropping event")
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
