package interview

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-orchestrator/internal/feedback"
	"github.com/lexiqai/interview-orchestrator/internal/observability"
	"github.com/lexiqai/interview-orchestrator/internal/synth"
	"github.com/lexiqai/interview-orchestrator/internal/transcribe"
)

// Config configures a Session.
type Config struct {
	// ID overrides the generated session ID.
	ID       string
	MaxTurns int
	Context  Context
	Policy   *feedback.Policy
	Logger   *zerolog.Logger
}

// generation scopes everything started between two restarts. Restart cancels
// the old generation without waiting for it.
type generation struct {
	ctx     context.Context
	cancel  context.CancelFunc
	scoring sync.WaitGroup
	done    chan struct{}
}

func newGeneration() *generation {
	ctx, cancel := context.WithCancel(context.Background())
	return &generation{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// Session is the interview state machine. All methods are safe for concurrent
// use; operations that change stage are serialized, while Restart and Close
// never wait for them.
type Session struct {
	id        string
	cfg       Config
	questions QuestionSource
	scorer    Scorer
	stt       *transcribe.Provider
	tts       *synth.Provider
	policy    feedback.Policy
	logger    zerolog.Logger
	metrics   *observability.SessionMetrics
	events    *broker

	opMu sync.Mutex

	mu              sync.Mutex
	gen             *generation
	stage           Stage
	history         []feedback.Turn
	currentQuestion string
	transcript      string
	questionPending bool
	capture         *transcribe.CaptureSession
	report          *feedback.Report
	started         bool
	closed          bool
}

// NewSession wires a session to its collaborators. tts may be nil, in which
// case questions are only published as events.
func NewSession(cfg Config, questions QuestionSource, scorer Scorer, stt *transcribe.Provider, tts *synth.Provider) (*Session, error) {
	if questions == nil {
		return nil, errors.New("question source is required")
	}
	if scorer == nil {
		return nil, errors.New("scorer is required")
	}
	if stt == nil {
		return nil, errors.New("transcription provider is required")
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}

	policy := feedback.DefaultPolicy()
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}

	logger := observability.GetLogger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	logger = logger.With().Str("session_id", cfg.ID).Logger()

	return &Session{
		id:        cfg.ID,
		cfg:       cfg,
		questions: questions,
		scorer:    scorer,
		stt:       stt,
		tts:       tts,
		policy:    policy,
		logger:    logger,
		metrics:   observability.NewSessionMetrics(cfg.ID),
		events:    newBroker(logger),
		gen:       newGeneration(),
		stage:     StageNotStarted,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Subscribe returns a channel of session events and a func that ends the
// subscription. Events are dropped for subscribers that do not keep up.
func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe()
}

// Stage returns the current stage.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Done is closed when the session reaches Complete. Restart replaces it.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen.done
}

// Report returns the final report once the session is Complete.
func (s *Session) Report() (feedback.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.report == nil {
		return feedback.Report{}, false
	}
	return *s.report, true
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:              s.id,
		Stage:           s.stage,
		StageName:       s.stage.String(),
		CurrentQuestion: s.currentQuestion,
		Transcript:      s.transcript,
		QuestionPending: s.questionPending,
		History:         append([]feedback.Turn{}, s.history...),
		MaxTurns:        s.cfg.MaxTurns,
	}
	if s.report != nil {
		r := *s.report
		snap.Report = &r
	}
	return snap
}

// Start fetches the first question and begins the interview.
func (s *Session) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if err := s.checkLocked("start", StageNotStarted); err != nil {
		s.mu.Unlock()
		return err
	}
	g := s.gen
	if !s.started {
		s.started = true
		s.metrics.RecordSessionStart()
	}
	s.mu.Unlock()

	s.logger.Info().Int("max_turns", s.cfg.MaxTurns).Msg("Interview starting")

	question, err := s.fetchQuestion(ctx, g, nil)
	switch {
	case errors.Is(err, ErrNoMoreQuestions):
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen != g {
			return ErrRestarted
		}
		s.finishLocked(g)
		return nil
	case err != nil:
		return s.upstreamFailure(g, "fetch question", err)
	}

	s.mu.Lock()
	if s.gen != g {
		s.mu.Unlock()
		return ErrRestarted
	}
	s.askLocked(question)
	s.mu.Unlock()
	return nil
}

// BeginRecording opens a capture for the current question. Any question
// playback is stopped first.
func (s *Session) BeginRecording(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if err := s.checkLocked("begin recording", StageAskingQuestion); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.questionPending {
		s.mu.Unlock()
		return &StageError{Op: "begin recording before the next question arrives", Stage: s.stage}
	}
	g := s.gen
	s.mu.Unlock()

	if s.tts != nil {
		s.tts.Cancel()
	}

	capture, err := s.stt.Start(ctx)
	if err != nil {
		s.reportError(g, err)
		return err
	}

	s.mu.Lock()
	if s.gen != g {
		s.mu.Unlock()
		s.stt.Cleanup()
		return ErrRestarted
	}
	s.capture = capture
	base := s.transcript
	s.setStageLocked(StageRecording)
	s.mu.Unlock()

	go s.forwardInterim(g, capture, base)
	s.logger.Debug().Str("capture_id", capture.ID()).Str("provider", capture.Provider()).Msg("Recording started")
	return nil
}

// StopRecording ends the capture and waits for its transcript. The stage
// returns to AskingQuestion so the answer can be reviewed before Submit.
// The recognized text is appended to the transcript buffer, which is returned.
func (s *Session) StopRecording(ctx context.Context) (string, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if err := s.checkLocked("stop recording", StageRecording); err != nil {
		s.mu.Unlock()
		return "", err
	}
	g := s.gen
	capture := s.capture
	s.mu.Unlock()

	s.metrics.RecordSTTStart()
	capture.Stop()

	var result transcribe.Result
	select {
	case result = <-capture.Result():
	case <-ctx.Done():
		s.stt.Cleanup()
		s.mu.Lock()
		if s.gen == g {
			s.capture = nil
			s.setStageLocked(StageAskingQuestion)
		}
		s.mu.Unlock()
		return "", ctx.Err()
	case <-g.ctx.Done():
		return "", ErrRestarted
	}
	s.metrics.RecordSTTEnd(result.Err == nil)

	s.mu.Lock()
	if s.gen != g {
		s.mu.Unlock()
		return "", ErrRestarted
	}
	s.capture = nil
	s.setStageLocked(StageAskingQuestion)
	if result.Err != nil {
		transcript := s.transcript
		s.mu.Unlock()
		s.reportError(g, result.Err)
		return transcript, result.Err
	}

	if s.transcript == "" {
		s.transcript = result.Text
	} else {
		s.transcript = s.transcript + " " + result.Text
	}
	transcript := s.transcript
	s.publishLocked(Event{Type: EventTranscriptChanged, Transcript: transcript})
	s.mu.Unlock()

	s.logger.Info().Str("provider", result.Provider).Float64("confidence", result.Confidence).Int("chars", len(result.Text)).Msg("Answer transcribed")
	return transcript, nil
}

// EditTranscript replaces the pending answer text.
func (s *Session) EditTranscript(text string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("edit transcript", StageAskingQuestion); err != nil {
		return err
	}
	if s.questionPending {
		return &StageError{Op: "edit transcript before the next question arrives", Stage: s.stage}
	}
	s.transcript = text
	s.publishLocked(Event{Type: EventTranscriptChanged, Transcript: text})
	return nil
}

// Submit commits the current answer. Scoring runs in the background; the
// next question is fetched right away unless the interview is over, in which
// case the session enters Scoring and completes once every answer is scored.
func (s *Session) Submit(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if err := s.checkLocked("submit", StageAskingQuestion); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.questionPending {
		s.mu.Unlock()
		return &StageError{Op: "submit before the next question arrives", Stage: s.stage}
	}
	g := s.gen
	turn := feedback.Turn{Question: s.currentQuestion, Answer: s.transcript}
	s.history = append(s.history, turn)
	index := len(s.history) - 1
	s.transcript = ""
	g.scoring.Add(1)
	last := len(s.history) >= s.cfg.MaxTurns
	asked := s.askedLocked()
	s.publishLocked(Event{Type: EventTranscriptChanged, Transcript: ""})
	s.mu.Unlock()

	if s.tts != nil {
		s.tts.Cancel()
	}
	go s.score(g, index, turn)
	s.logger.Info().Int("turn", index+1).Int("answer_chars", len(turn.Answer)).Msg("Answer submitted")

	if last {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen != g {
			return ErrRestarted
		}
		s.finishLocked(g)
		return nil
	}

	return s.advance(ctx, g, asked)
}

// RetryQuestion fetches the next question again after a failed attempt.
func (s *Session) RetryQuestion(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if err := s.checkLocked("retry question", StageAskingQuestion); err != nil {
		s.mu.Unlock()
		return err
	}
	if !s.questionPending {
		s.mu.Unlock()
		return &StageError{Op: "retry question with no failed fetch", Stage: s.stage}
	}
	g := s.gen
	asked := s.askedLocked()
	s.mu.Unlock()

	return s.advance(ctx, g, asked)
}

// ReplayQuestion speaks the current question again.
func (s *Session) ReplayQuestion(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("replay question", StageAskingQuestion); err != nil {
		return err
	}
	s.speakLocked(s.currentQuestion)
	return nil
}

// Restart abandons the interview: capture and playback are cancelled,
// outstanding scoring is discarded, and all data is reset. It never blocks
// on in-flight operations.
func (s *Session) Restart() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.resetLocked()
	s.setStageLocked(StageNotStarted)
	s.mu.Unlock()
	s.logger.Info().Msg("Interview restarted")
}

// Close releases every resource and ends all subscriptions.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.resetLocked()
	s.closed = true
	s.mu.Unlock()

	s.events.close()
	s.logger.Info().Msg("Session closed")
}

func (s *Session) resetLocked() {
	s.gen.cancel()
	s.gen = newGeneration()

	s.stt.Cleanup()
	if s.tts != nil {
		s.tts.Cancel()
	}

	s.history = nil
	s.currentQuestion = ""
	s.transcript = ""
	s.questionPending = false
	s.capture = nil
	s.report = nil
	if s.started {
		s.started = false
		s.metrics.RecordSessionEnd()
	}
}

func (s *Session) checkLocked(op string, want Stage) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.stage != want {
		return &StageError{Op: op, Stage: s.stage}
	}
	return nil
}

func (s *Session) askedLocked() []string {
	asked := make([]string, len(s.history))
	for i, t := range s.history {
		asked[i] = t.Question
	}
	return asked
}

// advance fetches the question after the last submitted turn.
func (s *Session) advance(ctx context.Context, g *generation, asked []string) error {
	question, err := s.fetchQuestion(ctx, g, asked)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != g {
		return ErrRestarted
	}

	switch {
	case errors.Is(err, ErrNoMoreQuestions):
		s.questionPending = false
		s.finishLocked(g)
		return nil
	case err != nil:
		s.questionPending = true
		up := &UpstreamError{Op: "fetch question", Err: err}
		s.publishLocked(Event{Type: EventError, Kind: KindUpstream, Err: up})
		s.metrics.RecordError(KindUpstream.String(), "question_source")
		s.logger.Warn().Err(err).Int("turns", len(s.history)).Msg("Next question unavailable, previous question retained")
		return up
	}

	s.questionPending = false
	s.askLocked(question)
	return nil
}

func (s *Session) fetchQuestion(ctx context.Context, g *generation, asked []string) (string, error) {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(g.ctx, cancel)
	defer stop()

	question, err := s.questions.NextQuestion(opCtx, asked, s.cfg.Context)
	if err != nil {
		return "", err
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.New("question source returned an empty question")
	}
	return question, nil
}

func (s *Session) upstreamFailure(g *generation, op string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != g {
		return ErrRestarted
	}
	up := &UpstreamError{Op: op, Err: err}
	s.publishLocked(Event{Type: EventError, Kind: KindUpstream, Err: up})
	s.metrics.RecordError(KindUpstream.String(), "question_source")
	s.logger.Warn().Err(err).Str("op", op).Msg("Upstream call failed")
	return up
}

func (s *Session) askLocked(question string) {
	s.currentQuestion = question
	s.transcript = ""
	if s.stage != StageAskingQuestion {
		s.setStageLocked(StageAskingQuestion)
	}
	s.publishLocked(Event{Type: EventQuestionChanged, Question: question, QuestionIndex: len(s.history)})
	s.logger.Info().Int("question", len(s.history)+1).Msg("Question asked")
	s.speakLocked(question)
}

func (s *Session) speakLocked(question string) {
	if s.tts == nil || question == "" {
		return
	}
	g := s.gen
	pb, err := s.tts.Speak(g.ctx, question)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Question playback not started")
		return
	}
	s.metrics.RecordTTSStart()
	go func() {
		ev := <-pb.Done()
		s.metrics.RecordTTSEnd(ev.Type == synth.EventEnded)
		if ev.Type == synth.EventError && !errors.Is(ev.Err, synth.ErrPlaybackCancelled) {
			s.reportError(g, ev.Err)
		}
	}()
}

// finishLocked enters Scoring and completes once all answers are scored.
func (s *Session) finishLocked(g *generation) {
	s.questionPending = false
	s.setStageLocked(StageScoring)
	go func() {
		g.scoring.Wait()

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen != g || s.stage != StageScoring {
			return
		}
		report := s.policy.Aggregate(s.history)
		s.report = &report
		s.setStageLocked(StageComplete)
		close(g.done)
		s.publishLocked(Event{Type: EventComplete, Report: &report})
		if s.started {
			s.started = false
			s.metrics.RecordSessionEnd()
		}
		s.logger.Info().Int("turns", len(report.Turns)).Int("average_score", report.AverageScore).Str("tier", report.Tier).Msg("Interview complete")
	}()
}

// score evaluates one turn and attaches the result. Failures are recorded as
// a placeholder evaluation so the report always covers every turn.
func (s *Session) score(g *generation, index int, turn feedback.Turn) {
	defer g.scoring.Done()

	answer := turn.Answer
	if strings.TrimSpace(answer) == "" {
		answer = NoAnswerProvided
	}

	eval, err := s.scorer.Evaluate(g.ctx, turn.Question, answer, s.cfg.Context)
	if g.ctx.Err() != nil {
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Int("turn", index+1).Msg("Scoring failed, recording placeholder evaluation")
		eval = feedback.FailedEvaluation(err.Error())
	}
	eval.Score = clampScore(eval.Score)
	s.metrics.RecordTurnScored(eval.Score, err == nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != g || index >= len(s.history) {
		return
	}
	s.history[index].Evaluation = &eval
	if err != nil {
		s.publishLocked(Event{Type: EventError, Kind: KindUpstream, Err: &UpstreamError{Op: "score answer", Err: err}})
	}
	s.publishLocked(Event{Type: EventTurnScored, TurnIndex: index, Question: turn.Question, Evaluation: &eval})
}

func clampScore(score int) int {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}

func (s *Session) forwardInterim(g *generation, capture *transcribe.CaptureSession, base string) {
	for text := range capture.Interim() {
		s.mu.Lock()
		if s.gen != g || s.capture != capture {
			s.mu.Unlock()
			continue
		}
		display := text
		if base != "" {
			display = base + " " + text
		}
		s.publishLocked(Event{Type: EventTranscriptChanged, Transcript: display, Interim: true})
		s.mu.Unlock()
	}
}

func (s *Session) reportError(g *generation, err error) {
	kind := Classify(err)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != g {
		return
	}
	s.metrics.RecordError(kind.String(), "session")
	s.publishLocked(Event{Type: EventError, Kind: kind, Err: err})
	s.logger.Warn().Err(err).Str("kind", kind.String()).Msg("Session error")
}

func (s *Session) setStageLocked(stage Stage) {
	s.stage = stage
	s.metrics.RecordStage(stage.String())
	s.publishLocked(Event{Type: EventStageChanged})
}

func (s *Session) publishLocked(ev Event) {
	ev.SessionID = s.id
	ev.Stage = s.stage
	ev.Time = time.Now()
	s.events.publish(ev)
}
