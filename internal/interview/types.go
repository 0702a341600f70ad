// Package interview drives a voice mock-interview: it asks questions, records
// and transcribes answers, scores them concurrently, and produces a report.
package interview

import (
	"context"
	"errors"

	"github.com/lexiqai/interview-orchestrator/internal/feedback"
)

// NoAnswerProvided is sent to the scorer in place of an empty answer.
const NoAnswerProvided = "No answer provided"

// DefaultMaxTurns is the number of questions asked when Config.MaxTurns is unset.
const DefaultMaxTurns = 5

// ErrNoMoreQuestions is returned by a QuestionSource that has nothing left to
// ask. The session treats it as a normal end of the interview.
var ErrNoMoreQuestions = errors.New("no more questions")

// Context is the candidate material passed unchanged to every collaborator call.
type Context struct {
	Resume     string `json:"resume,omitempty"`
	TargetRole string `json:"target_role,omitempty"`
}

// QuestionSource produces the next interview question given the questions
// already asked.
type QuestionSource interface {
	NextQuestion(ctx context.Context, history []string, c Context) (string, error)
}

// Scorer evaluates one answer.
type Scorer interface {
	Evaluate(ctx context.Context, question, answer string, c Context) (feedback.Evaluation, error)
}

// Stage is the session's position in the interview.
type Stage int

const (
	StageNotStarted Stage = iota
	StageAskingQuestion
	StageRecording
	StageScoring
	StageComplete
)

func (s Stage) String() string {
	switch s {
	case StageNotStarted:
		return "not_started"
	case StageAskingQuestion:
		return "asking_question"
	case StageRecording:
		return "recording"
	case StageScoring:
		return "scoring"
	case StageComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent copy of session state.
type Snapshot struct {
	ID              string           `json:"id"`
	Stage           Stage            `json:"-"`
	StageName       string           `json:"stage"`
	CurrentQuestion string           `json:"current_question"`
	Transcript      string           `json:"transcript"`
	QuestionPending bool             `json:"question_pending"`
	History         []feedback.Turn  `json:"history"`
	MaxTurns        int              `json:"max_turns"`
	Report          *feedback.Report `json:"report,omitempty"`
}
