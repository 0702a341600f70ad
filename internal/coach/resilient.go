package coach

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lexiqai/interview-orchestrator/internal/feedback"
	"github.com/lexiqai/interview-orchestrator/internal/interview"
	"github.com/lexiqai/interview-orchestrator/internal/observability"
	"github.com/lexiqai/interview-orchestrator/internal/resilience"
)

var tracer = otel.Tracer("github.com/lexiqai/interview-orchestrator/internal/coach")

// Options tunes the resilient wrapper.
type Options struct {
	// Timeout bounds each attempt. Zero means no per-attempt limit.
	Timeout time.Duration
	Retry   *resilience.RetryConfig
	// Breaker is shared by both operations; one is created when nil.
	Breaker *resilience.CircuitBreaker
	Logger  *zerolog.Logger
}

// Resilient guards a Backend with per-attempt timeouts, retries for
// transient failures, and a circuit breaker. It is itself a Backend.
type Resilient struct {
	name    string
	backend Backend
	timeout time.Duration
	retry   *resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewResilient wraps backend. name labels metrics, spans and the breaker.
func NewResilient(name string, backend Backend, opts Options) *Resilient {
	if opts.Retry == nil {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.NewCircuitBreaker("coach_"+name, 5, 30*time.Second)
	}
	logger := observability.GetLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Resilient{
		name:    name,
		backend: backend,
		timeout: opts.Timeout,
		retry:   opts.Retry,
		breaker: opts.Breaker,
		logger:  logger.With().Str("component", "coach").Str("backend", name).Logger(),
	}
}

// NextQuestion implements interview.QuestionSource.
func (r *Resilient) NextQuestion(ctx context.Context, history []string, ic interview.Context) (string, error) {
	var question string
	err := r.call(ctx, "next_question", []attribute.KeyValue{attribute.Int("coach.history_len", len(history))},
		func(ctx context.Context) error {
			var err error
			question, err = r.backend.NextQuestion(ctx, history, ic)
			return err
		})
	return question, err
}

// Evaluate implements interview.Scorer.
func (r *Resilient) Evaluate(ctx context.Context, question, answer string, ic interview.Context) (feedback.Evaluation, error) {
	var eval feedback.Evaluation
	err := r.call(ctx, "evaluate_answer", []attribute.KeyValue{attribute.Int("coach.answer_len", len(answer))},
		func(ctx context.Context) error {
			var err error
			eval, err = r.backend.Evaluate(ctx, question, answer, ic)
			return err
		})
	return eval, err
}

// HealthCheck reports the breaker state and, when supported, the backend's health.
func (r *Resilient) HealthCheck(ctx context.Context) error {
	if r.breaker.GetState() == resilience.StateOpen {
		return resilience.ErrCircuitOpen
	}
	if hc, ok := r.backend.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func (r *Resilient) call(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "coach."+op, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, attribute.String("coach.backend", r.name))...))
	defer span.End()

	start := time.Now()
	attempts := 0
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		attempts++
		return r.breaker.Call(func() error {
			attemptCtx, cancel := r.attemptContext(ctx)
			defer cancel()
			return fn(attemptCtx)
		}, countsAsFailure)
	}, r.retry, isTransient)
	elapsed := time.Since(start)

	span.SetAttributes(attribute.Int("coach.attempts", attempts))
	switch {
	case err == nil, errors.Is(err, interview.ErrNoMoreQuestions):
		observability.ObserveUpstream(op, elapsed, nil)
		span.SetStatus(otelcodes.Ok, "")
	default:
		observability.ObserveUpstream(op, elapsed, err)
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		r.logger.Warn().Err(err).Str("op", op).Int("attempts", attempts).Dur("elapsed", elapsed).Msg("Coach call failed")
	}
	return err
}

func (r *Resilient) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return context.WithCancel(ctx)
}

// countsAsFailure keeps normal endings and caller cancellation from
// tripping the breaker.
func countsAsFailure(err error) bool {
	return !errors.Is(err, interview.ErrNoMoreQuestions) && !errors.Is(err, context.Canceled)
}

// isTransient reports whether another attempt may succeed.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, interview.ErrNoMoreQuestions),
		errors.Is(err, context.Canceled),
		errors.Is(err, resilience.ErrCircuitOpen):
		return false
	case errors.Is(err, ErrMalformedResponse):
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return true
		case codes.OK, codes.Unknown:
		default:
			return false
		}
	}

	return resilience.IsRetryableNetworkError(err)
}
