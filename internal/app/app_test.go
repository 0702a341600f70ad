package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-orchestrator/internal/audio"
	"github.com/lexiqai/interview-orchestrator/internal/config"
	"github.com/lexiqai/interview-orchestrator/internal/device"
	"github.com/lexiqai/interview-orchestrator/internal/feedback"
	"github.com/lexiqai/interview-orchestrator/internal/interview"
)

type oneQuestionCoach struct{}

func (oneQuestionCoach) NextQuestion(_ context.Context, history []string, _ interview.Context) (string, error) {
	if len(history) > 0 {
		return "", interview.ErrNoMoreQuestions
	}
	return "Describe an outage you handled.", nil
}

func (oneQuestionCoach) Evaluate(context.Context, string, string, interview.Context) (feedback.Evaluation, error) {
	return feedback.Evaluation{Score: 80, Strengths: []string{"Structured answer"}}, nil
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		MaxTurns:                   3,
		Language:                   "en",
		STTProviders:               []string{"mock"},
		STTFinalizeTimeoutMs:       2000,
		MaxCaptureSeconds:          60,
		VADEnergyThreshold:         500,
		VADMinSpeechFrames:         5,
		TTSPrimary:                 "mock",
		TTSSecondary:               "none",
		TTSSampleRate:              24000,
		CoachBackend:               "openai",
		CoachTimeout:               5,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
		RetryMaxAttempts:           1,
		RetryInitialBackoff:        10,
		SampleRate:                 16000,
		StorePath:                  filepath.Join(t.TempDir(), "reports.db"),
		StoreRetentionDays:         30,
	}
}

func speech() []byte {
	samples := make([]int16, 8000)
	for i := range samples {
		samples[i] = 3000
		if i%2 == 1 {
			samples[i] = -3000
		}
	}
	return audio.SamplesToBytes(samples)
}

func TestNewSession_SavesCompletedReport(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	a, err := New(ctx, testConfig(t), zerolog.Nop(), WithCoach(oneQuestionCoach{}))
	is.NoErr(err)
	defer a.Close()

	devs := Devices{
		Microphone: &device.MemoryMicrophone{Chunks: [][]byte{speech()}},
		Speaker:    &device.MemorySpeaker{},
	}
	session, err := a.NewSession(ctx, "app-test", devs, interview.Context{TargetRole: "SRE"})
	is.NoErr(err)
	defer session.Close()

	is.NoErr(session.Start(ctx))
	is.NoErr(session.BeginRecording(ctx))
	_, err = session.StopRecording(ctx)
	is.NoErr(err)
	is.NoErr(session.Submit(ctx))

	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not complete")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, err := a.Reports().Get(ctx, "app-test")
		if err == nil {
			is.Equal(rec.TargetRole, "SRE")
			is.Equal(rec.Report.AverageScore, 80)
			is.Equal(len(rec.Report.Turns), 1)
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("report was not saved: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestChecks(t *testing.T) {
	is := is.New(t)
	a, err := New(context.Background(), testConfig(t), zerolog.Nop(), WithCoach(oneQuestionCoach{}))
	is.NoErr(err)
	defer a.Close()

	checks := a.Checks()
	is.Equal(len(checks), 2)
	is.Equal(checks[0].Name, "coach")
	is.Equal(checks[1].Name, "report_store")
	is.NoErr(checks[1].Func(context.Background()))
}

func TestNewSession_NoUsableTranscriber(t *testing.T) {
	cfg := testConfig(t)
	cfg.STTProviders = []string{"exec"}
	cfg.StorePath = ""

	a, err := New(context.Background(), cfg, zerolog.Nop(), WithCoach(oneQuestionCoach{}))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer a.Close()

	_, err = a.NewSession(context.Background(), "", Devices{Microphone: &device.MemoryMicrophone{}}, interview.Context{})
	if err == nil {
		t.Error("Expected an error when no transcription backend is usable")
	}
}

func TestNew_UnknownTTSProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.TTSPrimary = "polly"

	a, err := New(context.Background(), cfg, zerolog.Nop(), WithCoach(oneQuestionCoach{}))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer a.Close()

	_, err = a.NewSession(context.Background(), "", Devices{
		Microphone: &device.MemoryMicrophone{},
		Speaker:    &device.MemorySpeaker{},
	}, interview.Context{})
	if err == nil {
		t.Error("Expected an error for an unknown TTS provider")
	}
}
