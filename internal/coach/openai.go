package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/lexiqai/interview-orchestrator/internal/feedback"
	"github.com/lexiqai/interview-orchestrator/internal/interview"
	"github.com/lexiqai/interview-orchestrator/internal/observability"
)

const defaultChatModel = openai.GPT4oMini

const questionPrompt = `You are interviewing a candidate for the role of %s.
Ask exactly one interview question at a time. Tailor questions to the resume when one is given,
mix behavioral and technical questions, and never repeat a question that was already asked.
Reply with a JSON object: {"question": string, "done": boolean}.
Set "done" to true and leave "question" empty only if there is nothing meaningful left to ask.`

const evaluatePrompt = `You are an interview coach reviewing one answer from a candidate for the role of %s.
Score the answer from 0 to 100. Name concrete strengths and areas for improvement using short phrases
such as "clear communication", "specific examples", "technical depth", "structured thinking",
"quantifiable results" or "conciseness".
Reply with a JSON object: {"score": integer, "strengths": [string], "improvements": [string], "rationale": string}.`

// OpenAIConfig configures the chat-model coach.
type OpenAIConfig struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint, e.g. for a compatible local server.
	BaseURL string
}

// OpenAIClient writes questions and scores answers with a chat model.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

// NewOpenAIClient creates a chat-model coach.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultChatModel
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		logger: observability.GetLogger().With().Str("component", "coach_openai").Str("model", model).Logger(),
	}, nil
}

// NextQuestion implements interview.QuestionSource.
func (c *OpenAIClient) NextQuestion(ctx context.Context, history []string, ic interview.Context) (string, error) {
	var user strings.Builder
	if ic.Resume != "" {
		fmt.Fprintf(&user, "Resume:\n%s\n\n", ic.Resume)
	}
	if len(history) == 0 {
		user.WriteString("No questions have been asked yet. Ask the opening question.")
	} else {
		user.WriteString("Questions asked so far:\n")
		for i, q := range history {
			fmt.Fprintf(&user, "%d. %s\n", i+1, q)
		}
		user.WriteString("\nAsk the next question.")
	}

	var resp QuestionResponse
	if err := c.complete(ctx, fmt.Sprintf(questionPrompt, role(ic)), user.String(), &resp); err != nil {
		return "", err
	}
	question := strings.TrimSpace(resp.Question)
	if resp.Done || question == "" {
		return "", interview.ErrNoMoreQuestions
	}
	return question, nil
}

// Evaluate implements interview.Scorer.
func (c *OpenAIClient) Evaluate(ctx context.Context, question, answer string, ic interview.Context) (feedback.Evaluation, error) {
	user := fmt.Sprintf("Question:\n%s\n\nAnswer:\n%s", question, answer)
	if ic.Resume != "" {
		user = fmt.Sprintf("Resume:\n%s\n\n%s", ic.Resume, user)
	}

	var resp EvaluateResponse
	if err := c.complete(ctx, fmt.Sprintf(evaluatePrompt, role(ic)), user, &resp); err != nil {
		return feedback.Evaluation{}, err
	}
	return resp.evaluation(), nil
}

// HealthCheck verifies the API key by listing models.
func (c *OpenAIClient) HealthCheck(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai health check failed: %w", err)
	}
	return nil
}

func (c *OpenAIClient) complete(ctx context.Context, system, user string, out any) error {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.4,
	})
	if err != nil {
		return fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	content := stripFences(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		c.logger.Debug().Str("content", content).Msg("Unparseable coach reply")
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	c.logger.Debug().Int("prompt_tokens", resp.Usage.PromptTokens).Int("completion_tokens", resp.Usage.CompletionTokens).Msg("Chat completion")
	return nil
}

// stripFences removes a markdown code fence around a JSON reply.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func role(ic interview.Context) string {
	if ic.TargetRole == "" {
		return "a general professional position"
	}
	return ic.TargetRole
}
