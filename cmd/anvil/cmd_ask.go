package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"anvil/internal/domain"
)

// askCmd sends one prompt through the orchestrator and streams the answer.
var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Send one prompt and stream the answer to stdout",
	Long: `Send one prompt and stream the answer to stdout.

Tool activity and log messages go to stderr. Questions the model asks are
printed to stderr and answered from stdin, either with the text of the
answer or the number of a listed choice.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(cmd.Context(), strings.Join(args, " "), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func runAsk(parent context.Context, prompt string, in io.Reader, out, errOut io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if strings.EqualFold(cfg.Logger.Output, "stdout") {
		cfg.Logger.Output = "stderr"
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	p := newAskPrinter(out, errOut)
	unsubscribe := a.orch.Subscribe(p.handle)
	defer unsubscribe()

	if err := a.orch.Dispatch(ctx, domain.SubmitPrompt{Text: prompt}); err != nil {
		return err
	}
	if p.currentRun() == "" {
		// Handled without a run, e.g. /commands.
		return nil
	}

	answers := bufio.NewScanner(in)
	for {
		select {
		case <-ctx.Done():
			_ = a.orch.Dispatch(context.WithoutCancel(ctx), domain.Cancel{})
			return ctx.Err()

		case q := <-p.questions:
			var text string
			if answers.Scan() {
				text = strings.TrimSpace(answers.Text())
			}
			answer, freeform := pickAnswer(q, text)
			if err := a.orch.Dispatch(ctx, domain.AnswerQuestion{
				RequestID:   q.RequestID,
				Answer:      answer,
				WasFreeform: freeform,
			}); err != nil {
				return err
			}

		case err := <-p.done:
			return err
		}
	}
}

// pickAnswer maps typed text to a choice by number or by name. Anything else
// is a freeform answer.
func pickAnswer(q domain.QuestionRequested, text string) (string, bool) {
	if n, err := strconv.Atoi(text); err == nil && n >= 1 && n <= len(q.Choices) {
		return q.Choices[n-1], false
	}
	for _, c := range q.Choices {
		if strings.EqualFold(c, text) {
			return c, false
		}
	}
	return text, true
}

// askPrinter writes the events of the first foreground run as plain text.
type askPrinter struct {
	out    io.Writer
	errOut io.Writer

	questions chan domain.QuestionRequested
	done      chan error

	mu      sync.Mutex
	runID   string
	printed bool
	midLine bool
}

func newAskPrinter(out, errOut io.Writer) *askPrinter {
	return &askPrinter{
		out:       out,
		errOut:    errOut,
		questions: make(chan domain.QuestionRequested, 1),
		done:      make(chan error, 1),
	}
}

func (p *askPrinter) currentRun() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runID
}

func (p *askPrinter) handle(ev domain.Event, _ domain.HarnessState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := ev.(type) {
	case domain.RunStarted:
		if p.runID == "" {
			p.runID = e.RunID
		}

	case domain.MessageDelta:
		if e.RunID != p.runID || e.Delta == "" {
			return
		}
		fmt.Fprint(p.out, e.Delta)
		p.printed = true
		p.midLine = !strings.HasSuffix(e.Delta, "\n")

	case domain.MessageFinal:
		if e.RunID != p.runID {
			return
		}
		if !p.printed && e.Content != "" {
			fmt.Fprint(p.out, e.Content)
			p.midLine = !strings.HasSuffix(e.Content, "\n")
		}
		p.endLine()
		p.printed = false

	case domain.ToolStarted:
		if e.RunID == p.runID {
			p.endLine()
			fmt.Fprintf(p.errOut, "[tool] %s\n", e.ToolName)
		}

	case domain.Log:
		if e.Level != domain.LogDebug {
			fmt.Fprintf(p.errOut, "[%s] %s\n", e.Level, e.Message)
		}

	case domain.QuestionRequested:
		p.endLine()
		fmt.Fprintf(p.errOut, "? %s\n", e.Question)
		for i, c := range e.Choices {
			fmt.Fprintf(p.errOut, "  %d) %s\n", i+1, c)
		}
		select {
		case p.questions <- e:
		default:
		}

	case domain.RunFinished:
		if e.RunID != p.runID {
			return
		}
		p.endLine()
		var err error
		if e.Error != "" {
			err = errors.New(e.Error)
		}
		p.finish(err)

	case domain.RunCancelled:
		if e.RunID == p.runID {
			p.endLine()
			p.finish(context.Canceled)
		}
	}
}

func (p *askPrinter) endLine() {
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
}

func (p *askPrinter) finish(err error) {
	select {
	case p.done <- err:
	default:
	}
}
