// Package coach connects the interview session to the services that write
// questions and score answers: an OpenAI chat model or a remote coach
// service over gRPC, both behind a retrying, circuit-broken wrapper.
package coach

import (
	"context"
	"errors"

	"github.com/lexiqai/interview-orchestrator/internal/feedback"
	"github.com/lexiqai/interview-orchestrator/internal/interview"
)

// ErrMalformedResponse means the coach answered but the payload could not be
// used. A second attempt usually succeeds.
var ErrMalformedResponse = errors.New("malformed coach response")

// Backend is a question source and scorer in one.
type Backend interface {
	interview.QuestionSource
	interview.Scorer
}

// HealthChecker is implemented by backends that can report readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// QuestionRequest asks for the next question.
type QuestionRequest struct {
	History    []string `json:"history"`
	Resume     string   `json:"resume,omitempty"`
	TargetRole string   `json:"target_role,omitempty"`
}

// QuestionResponse carries the next question, or Done when the interview
// should end.
type QuestionResponse struct {
	Question string `json:"question"`
	Done     bool   `json:"done,omitempty"`
}

// EvaluateRequest asks for an answer to be scored.
type EvaluateRequest struct {
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Resume     string `json:"resume,omitempty"`
	TargetRole string `json:"target_role,omitempty"`
}

// EvaluateResponse is the coach's verdict on one answer.
type EvaluateResponse struct {
	Score        int      `json:"score"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Rationale    string   `json:"rationale,omitempty"`
}

func (r EvaluateResponse) evaluation() feedback.Evaluation {
	return feedback.Evaluation{
		Score:        r.Score,
		Strengths:    r.Strengths,
		Improvements: r.Improvements,
		Rationale:    r.Rationale,
	}
}
