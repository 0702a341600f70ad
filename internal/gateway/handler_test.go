package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-orchestrator/internal/app"
	"github.com/lexiqai/interview-orchestrator/internal/audio"
	"github.com/lexiqai/interview-orchestrator/internal/config"
	"github.com/lexiqai/interview-orchestrator/internal/feedback"
	"github.com/lexiqai/interview-orchestrator/internal/interview"
)

type oneQuestionCoach struct{}

func (oneQuestionCoach) NextQuestion(_ context.Context, history []string, _ interview.Context) (string, error) {
	if len(history) > 0 {
		return "", interview.ErrNoMoreQuestions
	}
	return "Tell me about a migration you led.", nil
}

func (oneQuestionCoach) Evaluate(context.Context, string, string, interview.Context) (feedback.Evaluation, error) {
	return feedback.Evaluation{Score: 75, Strengths: []string{"Concrete detail"}}, nil
}

// recordingFactory remembers the sessions it created.
type recordingFactory struct {
	app *app.App

	mu       sync.Mutex
	sessions []*interview.Session
}

func (f *recordingFactory) NewSession(ctx context.Context, id string, devs app.Devices, ic interview.Context) (*interview.Session, error) {
	s, err := f.app.NewSession(ctx, id, devs, ic)
	if err == nil {
		f.mu.Lock()
		f.sessions = append(f.sessions, s)
		f.mu.Unlock()
	}
	return s, err
}

func (f *recordingFactory) last() *interview.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

func newTestServer(t *testing.T) (*httptest.Server, *recordingFactory, *Handler) {
	t.Helper()
	cfg := &config.Config{
		MaxTurns:                   1,
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
	}
	a, err := app.New(context.Background(), cfg, zerolog.Nop(), app.WithCoach(oneQuestionCoach{}))
	if err != nil {
		t.Fatalf("Failed to create app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	factory := &recordingFactory{app: a}
	handler := NewHandler(factory, nil, zerolog.Nop())
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, factory, handler
}

// testClient plays the browser: it acknowledges every played utterance and
// collects what the server sends.
type testClient struct {
	t      *testing.T
	ws     *websocket.Conn
	binary int
}

func dial(t *testing.T, server *httptest.Server) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return &testClient{t: t, ws: ws}
}

func (c *testClient) send(msg ClientMessage) {
	c.t.Helper()
	if err := c.ws.WriteJSON(msg); err != nil {
		c.t.Fatalf("Failed to send %s: %v", msg.Type, err)
	}
}

// waitFor reads until a JSON message satisfies match and returns it.
func (c *testClient) waitFor(match func(map[string]any) bool) map[string]any {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			c.t.Fatalf("Read failed while waiting: %v", err)
		}
		if mt == websocket.BinaryMessage {
			c.binary++
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			c.t.Fatalf("Invalid JSON from server: %v", err)
		}
		if msg["type"] == msgAudioEnd {
			c.send(ClientMessage{Type: msgPlaybackDone, Stream: int64(msg["stream"].(float64))})
		}
		if match(msg) {
			return msg
		}
	}
}

func (c *testClient) waitReply(op string) map[string]any {
	c.t.Helper()
	return c.waitFor(func(m map[string]any) bool {
		return (m["type"] == msgAck || m["type"] == msgError) && m["op"] == op
	})
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

func TestGateway_FullInterview(t *testing.T) {
	is := is.New(t)
	server, _, _ := newTestServer(t)
	c := dial(t, server)

	c.send(ClientMessage{Type: msgStart, TargetRole: "Backend Engineer"})
	// Events and replies travel on separate goroutines, so either may come first.
	var question, started map[string]any
	c.waitFor(func(m map[string]any) bool {
		if m["type"] == "question_changed" {
			question = m
		}
		if m["op"] == msgStart {
			started = m
		}
		return question != nil && started != nil
	})
	is.Equal(question["question"], "Tell me about a migration you led.")
	is.Equal(started["type"], msgAck)

	c.send(ClientMessage{Type: msgRecord})
	is.Equal(c.waitReply(msgRecord)["type"], msgAck)

	pcm := speech()
	for off := 0; off < len(pcm); off += 3200 {
		is.NoErr(c.ws.WriteMessage(websocket.BinaryMessage, pcm[off:min(off+3200, len(pcm))]))
	}
	c.send(ClientMessage{Type: msgStop})
	stop := c.waitReply(msgStop)
	is.Equal(stop["type"], msgAck)
	is.True(stop["transcript"] != "")

	c.send(ClientMessage{Type: msgSubmit})
	var submitted, done map[string]any
	c.waitFor(func(m map[string]any) bool {
		if m["type"] == "complete" {
			done = m
		}
		if m["op"] == msgSubmit {
			submitted = m
		}
		return submitted != nil && done != nil
	})
	is.Equal(submitted["type"], msgAck)
	report := done["report"].(map[string]any)
	is.Equal(report["average_score"], float64(75))
	is.True(c.binary > 0) // the question was spoken
}

func TestGateway_CommandBeforeStart(t *testing.T) {
	server, _, _ := newTestServer(t)
	c := dial(t, server)

	c.send(ClientMessage{Type: msgRecord})
	reply := c.waitReply(msgRecord)
	if reply["type"] != msgError {
		t.Errorf("Expected %s, got %v", msgError, reply["type"])
	}
}

func TestGateway_StageRejection(t *testing.T) {
	server, _, _ := newTestServer(t)
	c := dial(t, server)

	c.send(ClientMessage{Type: msgStart})
	c.waitReply(msgStart)

	c.send(ClientMessage{Type: msgStop})
	reply := c.waitReply(msgStop)
	if reply["type"] != msgError || reply["error_kind"] != "stage" {
		t.Errorf("Expected a stage rejection, got %v", reply)
	}
}

func TestGateway_DeviceErrorFailsNextRecording(t *testing.T) {
	server, _, _ := newTestServer(t)
	c := dial(t, server)

	c.send(ClientMessage{Type: msgStart})
	c.waitReply(msgStart)

	c.send(ClientMessage{Type: msgDeviceError, Reason: "denied"})
	c.send(ClientMessage{Type: msgRecord})
	reply := c.waitReply(msgRecord)
	if reply["type"] != msgError || reply["error_kind"] != "device" {
		t.Errorf("Expected a device error, got %v", reply)
	}
}

func TestGateway_UnknownMessage(t *testing.T) {
	server, _, _ := newTestServer(t)
	c := dial(t, server)

	c.send(ClientMessage{Type: "dance"})
	reply := c.waitReply("dance")
	if reply["type"] != msgError {
		t.Errorf("Expected %s, got %v", msgError, reply["type"])
	}
}

func TestGateway_SnapshotAndRestart(t *testing.T) {
	is := is.New(t)
	server, _, _ := newTestServer(t)
	c := dial(t, server)

	c.send(ClientMessage{Type: msgStart})
	c.waitReply(msgStart)

	c.send(ClientMessage{Type: msgSnapshot})
	snap := c.waitReply(msgSnapshot)["snapshot"].(map[string]any)
	is.Equal(snap["stage"], "asking_question")

	c.send(ClientMessage{Type: msgRestart})
	c.waitReply(msgRestart)

	c.send(ClientMessage{Type: msgSnapshot})
	snap = c.waitReply(msgSnapshot)["snapshot"].(map[string]any)
	is.Equal(snap["stage"], "not_started")
}

func TestGateway_DisconnectClosesSession(t *testing.T) {
	server, factory, _ := newTestServer(t)
	c := dial(t, server)

	c.send(ClientMessage{Type: msgStart})
	c.waitReply(msgStart)
	session := factory.last()
	if session == nil {
		t.Fatal("Expected a session")
	}

	_ = c.ws.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		events, _ := session.Subscribe()
		if _, open := <-events; !open {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("session was not closed after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandler_RejectsUnknownOrigin(t *testing.T) {
	h := NewHandler(&recordingFactory{}, []string{"https://app.example.com"}, zerolog.Nop())
	server := httptest.NewServer(h)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := map[string][]string{"Origin": {"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("Expected the handshake to be rejected")
	}
	if resp == nil || resp.StatusCode != 403 {
		t.Errorf("Expected 403, got %v", resp)
	}
}

func TestHandler_ShutdownClosesConnections(t *testing.T) {
	server, factory, handler := newTestServer(t)
	c := dial(t, server)

	c.send(ClientMessage{Type: msgStart})
	c.waitReply(msgStart)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := handler.Shutdown(ctx); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	events, _ := factory.last().Subscribe()
	if _, open := <-events; open {
		t.Error("Expected the session to be closed")
	}
}
