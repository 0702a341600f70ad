package coach

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/lexiqai/interview-orchestrator/internal/feedback"
	"github.com/lexiqai/interview-orchestrator/internal/interview"
	"github.com/lexiqai/interview-orchestrator/internal/observability"
)

const (
	coachService         = "interview.coach.v1.Coach"
	nextQuestionMethod   = "/" + coachService + "/NextQuestion"
	evaluateAnswerMethod = "/" + coachService + "/EvaluateAnswer"
)

// GRPCConfig configures the remote coach connection.
type GRPCConfig struct {
	Target string
	TLS    bool
}

// GRPCClient calls a remote coach service.
type GRPCClient struct {
	target string
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	logger zerolog.Logger
}

// NewGRPCClient creates a client for cfg.Target. The connection is
// established lazily on the first call. Extra options are appended to the
// defaults.
func NewGRPCClient(cfg GRPCConfig, opts ...grpc.DialOption) (*GRPCClient, error) {
	if cfg.Target == "" {
		return nil, fmt.Errorf("coach gRPC target is required")
	}

	creds := insecure.NewCredentials()
	if cfg.TLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		// Keepalive settings for long-lived connections
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(cfg.Target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create coach client for %s: %w", cfg.Target, err)
	}

	logger := observability.GetLogger().With().Str("component", "coach_grpc").Str("target", cfg.Target).Logger()
	logger.Info().Bool("tls", cfg.TLS).Msg("Coach gRPC client created")

	return &GRPCClient{
		target: cfg.Target,
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		logger: logger,
	}, nil
}

// NextQuestion implements interview.QuestionSource.
func (c *GRPCClient) NextQuestion(ctx context.Context, history []string, ic interview.Context) (string, error) {
	req := &QuestionRequest{History: history, Resume: ic.Resume, TargetRole: ic.TargetRole}
	var resp QuestionResponse
	if err := c.conn.Invoke(ctx, nextQuestionMethod, req, &resp, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		if status.Code(err) == codes.OutOfRange {
			return "", interview.ErrNoMoreQuestions
		}
		return "", fmt.Errorf("coach NextQuestion: %w", err)
	}
	question := strings.TrimSpace(resp.Question)
	if resp.Done || question == "" {
		return "", interview.ErrNoMoreQuestions
	}
	return question, nil
}

// Evaluate implements interview.Scorer.
func (c *GRPCClient) Evaluate(ctx context.Context, question, answer string, ic interview.Context) (feedback.Evaluation, error) {
	req := &EvaluateRequest{Question: question, Answer: answer, Resume: ic.Resume, TargetRole: ic.TargetRole}
	var resp EvaluateResponse
	if err := c.conn.Invoke(ctx, evaluateAnswerMethod, req, &resp, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return feedback.Evaluation{}, fmt.Errorf("coach EvaluateAnswer: %w", err)
	}
	return resp.evaluation(), nil
}

// HealthCheck asks the standard gRPC health service whether the coach is serving.
func (c *GRPCClient) HealthCheck(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("coach is %s", resp.GetStatus())
	}
	return nil
}

// Close closes the gRPC connection
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}
