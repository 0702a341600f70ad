package coach

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/matryer/is"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/lexiqai/interview-orchestrator/internal/interview"
)

// coachServer is the server side of the coach service, used to exercise the
// client end to end.
type coachServer interface {
	NextQuestion(context.Context, *QuestionRequest) (*QuestionResponse, error)
	EvaluateAnswer(context.Context, *EvaluateRequest) (*EvaluateResponse, error)
}

var coachServiceDesc = grpc.ServiceDesc{
	ServiceName: coachService,
	HandlerType: (*coachServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "NextQuestion",
			Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := new(QuestionRequest)
				if err := dec(in); err != nil {
					return nil, err
				}
				return srv.(coachServer).NextQuestion(ctx, in)
			},
		},
		{
			MethodName: "EvaluateAnswer",
			Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := new(EvaluateRequest)
				if err := dec(in); err != nil {
					return nil, err
				}
				return srv.(coachServer).EvaluateAnswer(ctx, in)
			},
		},
	},
	Metadata: "coach.proto",
}

type fakeCoach struct {
	questions []string
	lastEval  *EvaluateRequest
}

func (f *fakeCoach) NextQuestion(_ context.Context, req *QuestionRequest) (*QuestionResponse, error) {
	if req.TargetRole == "" {
		return nil, status.Error(codes.InvalidArgument, "target role required")
	}
	if len(req.History) >= len(f.questions) {
		return &QuestionResponse{Done: true}, nil
	}
	return &QuestionResponse{Question: f.questions[len(req.History)]}, nil
}

func (f *fakeCoach) EvaluateAnswer(_ context.Context, req *EvaluateRequest) (*EvaluateResponse, error) {
	f.lastEval = req
	return &EvaluateResponse{Score: 72, Strengths: []string{"Structured thinking"}, Improvements: []string{"Conciseness"}}, nil
}

func newTestGRPC(t *testing.T, srv coachServer, serving healthpb.HealthCheckResponse_ServingStatus) *GRPCClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	s.RegisterService(&coachServiceDesc, srv)
	hs := health.NewServer()
	hs.SetServingStatus("", serving)
	healthpb.RegisterHealthServer(s, hs)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	c, err := NewGRPCClient(GRPCConfig{Target: "passthrough:///bufnet"},
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
	)
	if err != nil {
		t.Fatalf("NewGRPCClient failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGRPCClient_NextQuestion(t *testing.T) {
	is := is.New(t)
	c := newTestGRPC(t, &fakeCoach{questions: []string{"Q1", "Q2"}}, healthpb.HealthCheckResponse_SERVING)
	ic := interview.Context{TargetRole: "SRE"}

	q, err := c.NextQuestion(context.Background(), nil, ic)
	is.NoErr(err)
	is.Equal(q, "Q1")

	q, err = c.NextQuestion(context.Background(), []string{"Q1"}, ic)
	is.NoErr(err)
	is.Equal(q, "Q2")

	_, err = c.NextQuestion(context.Background(), []string{"Q1", "Q2"}, ic)
	is.True(errors.Is(err, interview.ErrNoMoreQuestions))
}

func TestGRPCClient_StatusErrors(t *testing.T) {
	c := newTestGRPC(t, &fakeCoach{questions: []string{"Q1"}}, healthpb.HealthCheckResponse_SERVING)

	_, err := c.NextQuestion(context.Background(), nil, interview.Context{})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("Expected InvalidArgument, got %v", err)
	}
	if isTransient(err) {
		t.Error("Expected InvalidArgument not to be retried")
	}
	if !isTransient(status.Error(codes.Unavailable, "connection refused")) {
		t.Error("Expected Unavailable to be retried")
	}
}

func TestGRPCClient_Evaluate(t *testing.T) {
	is := is.New(t)
	fake := &fakeCoach{}
	c := newTestGRPC(t, fake, healthpb.HealthCheckResponse_SERVING)

	eval, err := c.Evaluate(context.Background(), "Why Go?", "Simplicity.", interview.Context{Resume: "cv", TargetRole: "SRE"})
	is.NoErr(err)
	is.Equal(eval.Score, 72)
	is.Equal(eval.Strengths, []string{"Structured thinking"})
	is.Equal(fake.lastEval.Answer, "Simplicity.")
	is.Equal(fake.lastEval.Resume, "cv")
}

func TestGRPCClient_HealthCheck(t *testing.T) {
	c := newTestGRPC(t, &fakeCoach{}, healthpb.HealthCheckResponse_SERVING)
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("Expected healthy coach, got %v", err)
	}

	down := newTestGRPC(t, &fakeCoach{}, healthpb.HealthCheckResponse_NOT_SERVING)
	if err := down.HealthCheck(context.Background()); err == nil {
		t.Error("Expected error for NOT_SERVING coach")
	}
}

func TestNewGRPCClient_RequiresTarget(t *testing.T) {
	if _, err := NewGRPCClient(GRPCConfig{}); err == nil {
		t.Error("Expected error without target")
	}
}
