package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/lexiqai/interview-orchestrator/internal/app"
	"github.com/lexiqai/interview-orchestrator/internal/config"
	"github.com/lexiqai/interview-orchestrator/internal/device"
	"github.com/lexiqai/interview-orchestrator/internal/feedback"
	"github.com/lexiqai/interview-orchestrator/internal/interview"
	"github.com/lexiqai/interview-orchestrator/internal/observability"
)

const practiceHelp = `Commands:
  <enter>        start or stop recording
  e <text>       replace the transcript before submitting
  s              submit the answer
  p              replay the question
  t              retry fetching the question after an error
  restart        start over
  q              quit
`

type practiceOptions struct {
	role       string
	resumePath string
	turns      int
	mute       bool
	logLevel   string
}

func newPracticeCommand() *cobra.Command {
	var opts practiceOptions
	cmd := &cobra.Command{
		Use:   "practice",
		Short: "Run a mock interview with the local microphone and speaker",
		Long: `Run a mock interview in the terminal. Audio is captured with MIC_COMMAND
and played with SPEAKER_COMMAND; questions and scores come from the
configured coach backend.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPractice(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.role, "role", "", "Target role, e.g. \"Senior Backend Engineer\"")
	cmd.Flags().StringVar(&opts.resumePath, "resume", "", "Path to a plain-text resume")
	cmd.Flags().IntVar(&opts.turns, "turns", 0, "Number of questions (default MAX_TURNS)")
	cmd.Flags().BoolVar(&opts.mute, "mute", false, "Print questions without speaking them")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "Log level for diagnostics on stderr")
	return cmd
}

func runPractice(ctx context.Context, in io.Reader, out io.Writer, opts practiceOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.turns > 0 {
		cfg.MaxTurns = opts.turns
	}
	observability.InitLogger(opts.logLevel, true, os.Stderr)
	logger := observability.GetLogger()

	ic := interview.Context{TargetRole: opts.role}
	if opts.resumePath != "" {
		resume, err := os.ReadFile(opts.resumePath)
		if err != nil {
			return fmt.Errorf("read resume: %w", err)
		}
		ic.Resume = string(resume)
	}

	devs, err := localDevices(cfg, opts.mute)
	if err != nil {
		return err
	}

	orchestrator, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer orchestrator.Close()

	session, err := orchestrator.NewSession(ctx, "", devs, ic)
	if err != nil {
		return err
	}
	defer session.Close()

	p := &practice{ctx: ctx, session: session, out: out}
	events, unsubscribe := session.Subscribe()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.printEvents(events)
	}()
	defer func() {
		unsubscribe()
		wg.Wait()
	}()

	fmt.Fprint(out, practiceHelp)
	if err := session.Start(ctx); err != nil {
		p.printf("! Could not start: %v (type t to retry)\n", err)
	}
	return p.loop(in)
}

func localDevices(cfg *config.Config, mute bool) (app.Devices, error) {
	mic, err := device.NewExecMicrophone(cfg.MicCommand, nil)
	if err != nil {
		return app.Devices{}, fmt.Errorf("microphone: %w", err)
	}
	devs := app.Devices{Microphone: mic}
	if !mute {
		speaker, err := device.NewExecSpeaker(cfg.SpeakerCommand, nil)
		if err != nil {
			return app.Devices{}, fmt.Errorf("speaker: %w", err)
		}
		devs.Speaker = speaker
	}
	return devs, nil
}

type practice struct {
	ctx     context.Context
	session *interview.Session
	out     io.Writer
	mu      sync.Mutex
}

func (p *practice) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

// loop reads commands until quit, end of input, or a completed interview.
func (p *practice) loop(in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-p.ctx.Done():
			return nil
		case <-p.session.Done():
			if report, ok := p.session.Report(); ok {
				p.mu.Lock()
				printReport(p.out, report)
				p.mu.Unlock()
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			name, arg := parseCommand(line)
			if name == "quit" {
				return nil
			}
			if err := p.run(name, arg); err != nil {
				p.printf("! %v\n", err)
			}
		}
	}
}

func (p *practice) run(name, arg string) error {
	s := p.session
	switch name {
	case "toggle":
		switch s.Stage() {
		case interview.StageRecording:
			p.printf("Transcribing...\n")
			_, err := s.StopRecording(p.ctx)
			return err
		case interview.StageNotStarted:
			return s.Start(p.ctx)
		default:
			return s.BeginRecording(p.ctx)
		}
	case "edit":
		return s.EditTranscript(arg)
	case "submit":
		return s.Submit(p.ctx)
	case "replay":
		return s.ReplayQuestion(p.ctx)
	case "retry":
		if s.Stage() == interview.StageNotStarted {
			return s.Start(p.ctx)
		}
		return s.RetryQuestion(p.ctx)
	case "restart":
		s.Restart()
		return s.Start(p.ctx)
	case "help":
		p.printf("%s", practiceHelp)
		return nil
	}
	return fmt.Errorf("unknown command %q (h for help)", name)
}

// parseCommand maps a typed line to a command name and its argument.
func parseCommand(line string) (name, arg string) {
	line = strings.TrimSpace(line)
	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(word) {
	case "", "r", "record", "stop":
		return "toggle", ""
	case "e", "edit":
		return "edit", rest
	case "s", "submit":
		return "submit", ""
	case "p", "replay":
		return "replay", ""
	case "t", "retry":
		return "retry", ""
	case "restart":
		return "restart", ""
	case "q", "quit", "exit":
		return "quit", ""
	case "h", "help", "?":
		return "help", ""
	}
	return word, rest
}

func (p *practice) printEvents(events <-chan interview.Event) {
	for ev := range events {
		switch ev.Type {
		case interview.EventQuestionChanged:
			p.printf("\nQuestion %d: %s\n", ev.QuestionIndex+1, ev.Question)
		case interview.EventStageChanged:
			if ev.Stage == interview.StageRecording {
				p.printf("Recording... press enter to stop.\n")
			}
		case interview.EventTranscriptChanged:
			if !ev.Interim && ev.Transcript != "" {
				p.printf("Transcript: %s\n(enter to add more, s to submit, e <text> to edit)\n", ev.Transcript)
			}
		case interview.EventTurnScored:
			if ev.Evaluation != nil {
				p.printf("Answer %d scored %d/100\n", ev.TurnIndex+1, ev.Evaluation.Score)
			}
		case interview.EventError:
			p.printf("! %s error: %v\n", ev.Kind, ev.Err)
		}
	}
}

func printReport(w io.Writer, r feedback.Report) {
	fmt.Fprintln(w, "\n=== Interview report ===")
	if r.Empty() {
		fmt.Fprintln(w, "No answers were scored.")
		return
	}
	fmt.Fprintf(w, "Average %d (min %d, max %d) - %s\n", r.AverageScore, r.MinScore, r.MaxScore, r.Tier)
	if len(r.Strengths) > 0 {
		fmt.Fprintln(w, "\nStrengths:")
		for _, s := range r.Strengths {
			fmt.Fprintf(w, "  + %s\n", s)
		}
	}
	if len(r.Improvements) > 0 {
		fmt.Fprintln(w, "\nTo improve:")
		for _, s := range r.Improvements {
			fmt.Fprintf(w, "  - %s\n", s)
		}
	}
	fmt.Fprintln(w)
	for i, t := range r.Turns {
		score := "not scored"
		if t.Evaluation != nil {
			score = fmt.Sprintf("%d", t.Evaluation.Score)
		}
		fmt.Fprintf(w, "%d. %s [%s]\n", i+1, t.Question, score)
	}
}
