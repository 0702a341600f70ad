package coach

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/matryer/is"
	"github.com/sashabaranov/go-openai"

	"github.com/lexiqai/interview-orchestrator/internal/interview"
)

// chatServer answers every chat completion with the next scripted reply.
type chatServer struct {
	mu       sync.Mutex
	replies  []string
	status   int
	requests []openai.ChatCompletionRequest
}

func (s *chatServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		status := s.status
		reply := ""
		if len(s.replies) > 0 {
			reply = s.replies[0]
			s.replies = s.replies[1:]
		}
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:     "chatcmpl-test",
			Object: "chat.completion",
			Model:  req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	}
}

func newTestOpenAI(t *testing.T, s *chatServer) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(s.handler(t))
	t.Cleanup(srv.Close)
	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewOpenAIClient failed: %v", err)
	}
	return c
}

func TestOpenAIClient_NextQuestion(t *testing.T) {
	is := is.New(t)
	s := &chatServer{replies: []string{`{"question": "  Tell me about a hard bug you fixed. ", "done": false}`}}
	c := newTestOpenAI(t, s)

	q, err := c.NextQuestion(context.Background(), []string{"Why this role?"}, interview.Context{Resume: "Go developer", TargetRole: "Backend Engineer"})
	is.NoErr(err)
	is.Equal(q, "Tell me about a hard bug you fixed.")

	is.Equal(len(s.requests), 1)
	req := s.requests[0]
	is.Equal(req.Model, defaultChatModel)
	is.Equal(req.ResponseFormat.Type, openai.ChatCompletionResponseFormatTypeJSONObject)
	is.True(strings.Contains(req.Messages[0].Content, "Backend Engineer"))
	is.True(strings.Contains(req.Messages[1].Content, "1. Why this role?"))
	is.True(strings.Contains(req.Messages[1].Content, "Go developer"))
}

func TestOpenAIClient_NextQuestionDone(t *testing.T) {
	for _, reply := range []string{`{"question": "", "done": true}`, `{"question": "   "}`} {
		c := newTestOpenAI(t, &chatServer{replies: []string{reply}})
		_, err := c.NextQuestion(context.Background(), nil, interview.Context{})
		if !errors.Is(err, interview.ErrNoMoreQuestions) {
			t.Errorf("Reply %s: expected ErrNoMoreQuestions, got %v", reply, err)
		}
	}
}

func TestOpenAIClient_Evaluate(t *testing.T) {
	is := is.New(t)
	reply := "```json\n{\"score\": 78, \"strengths\": [\"Clear communication\"], \"improvements\": [\"Quantifiable results\"], \"rationale\": \"Solid.\"}\n```"
	s := &chatServer{replies: []string{reply}}
	c := newTestOpenAI(t, s)

	eval, err := c.Evaluate(context.Background(), "Why Go?", "Because of goroutines.", interview.Context{TargetRole: "SRE"})
	is.NoErr(err)
	is.Equal(eval.Score, 78)
	is.Equal(eval.Strengths, []string{"Clear communication"})
	is.Equal(eval.Improvements, []string{"Quantifiable results"})
	is.Equal(eval.Rationale, "Solid.")
	is.True(strings.Contains(s.requests[0].Messages[1].Content, "Because of goroutines."))
}

func TestOpenAIClient_MalformedReply(t *testing.T) {
	c := newTestOpenAI(t, &chatServer{replies: []string{"I think the score is 80"}})
	_, err := c.Evaluate(context.Background(), "q", "a", interview.Context{})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("Expected ErrMalformedResponse, got %v", err)
	}
	if !isTransient(err) {
		t.Error("Expected malformed reply to be retried")
	}
}

func TestOpenAIClient_ServerError(t *testing.T) {
	c := newTestOpenAI(t, &chatServer{status: http.StatusInternalServerError})
	_, err := c.NextQuestion(context.Background(), nil, interview.Context{})
	if err == nil {
		t.Fatal("Expected error from 500 response")
	}
	if !isTransient(err) {
		t.Errorf("Expected 500 to be transient, got %v", err)
	}
}

func TestNewOpenAIClient_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIClient(OpenAIConfig{}); err == nil {
		t.Error("Expected error without API key")
	}
}

func TestStripFences(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                 `{"a":1}`,
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":       `{"a":1}`,
	}
	for in, want := range tests {
		if got := stripFences(in); got != want {
			t.Errorf("stripFences(%q): expected %q, got %q", in, want, got)
		}
	}
}
