package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"anvil/internal/adapter/tui/components"
	"anvil/internal/adapter/tui/theme"
	"anvil/internal/domain"
	"anvil/internal/usecase/orchestrator"
)

// Harness is the part of the orchestrator the terminal drives.
type Harness interface {
	Dispatch(ctx context.Context, action domain.Action) error
	RunEphemeralPrompt(ctx context.Context, prompt string, opts domain.EphemeralOptions) string
	State() domain.HarnessState
	Subscribe(fn orchestrator.Listener) func()
}

// Deps are the collaborators of the chat model.
type Deps struct {
	Harness Harness
	// Panes are extra side panes, usually contributed by plugins.
	Panes []domain.Pane
	// Commands lists the harness slash commands for autocomplete. It is
	// re-read whenever a log event arrives, which covers registry reloads.
	Commands func() []components.CommandDef
	Logger   *slog.Logger
}

// Model is the root Bubble Tea model. It holds the latest state snapshot and
// never mutates it; all changes go through the harness.
type Model struct {
	ctx   context.Context
	deps  Deps
	state domain.HarnessState

	transcript components.TranscriptView
	prompt     components.PromptModel
	statusBar  components.StatusBarModel
	side       components.SidePanel
	spinner    spinner.Model

	panes  []domain.Pane
	choice int
	notice string

	width    int
	height   int
	quitting bool
}

// New creates the chat model seeded with the harness's current state.
func New(ctx context.Context, deps Deps) Model {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = theme.Spinner

	panes := append([]domain.Pane{activityPane{}, sessionsPane{}}, deps.Panes...)
	titles := make([]string, len(panes))
	for i, p := range panes {
		titles[i] = p.Title()
	}

	m := Model{
		ctx:        ctx,
		deps:       deps,
		state:      deps.Harness.State(),
		transcript: components.NewTranscriptView(),
		prompt:     components.NewPrompt(),
		side:       components.NewSidePanel(0.68, titles...),
		spinner:    s,
		panes:      panes,
	}
	m.refreshCommands()
	m.refresh()
	return m
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case components.SubmitMsg:
		return m.handleSubmit(msg.Text)

	case StateMsg:
		m.applyState(msg)
		return m, nil

	case DispatchDoneMsg:
		if msg.Err != nil {
			m.deps.Logger.Warn("action rejected", "error", msg.Err)
			m.notice = msg.Err.Error()
			m.refresh()
		}
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.running() {
			m.refreshStatus()
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.transcript, cmd = m.transcript.Update(msg)
	m.refreshStatus()
	return m, cmd
}

func (m *Model) applyState(msg StateMsg) {
	prev := m.state.PendingQuestion
	m.state = msg.State
	if q := m.state.PendingQuestion; q == nil || prev == nil || q.RequestID != prev.RequestID {
		m.choice = 0
	}
	if _, ok := msg.Event.(domain.Log); ok {
		m.refreshCommands()
	}
	if _, ok := msg.Event.(domain.UserMessage); ok {
		m.notice = ""
	}
	m.layout()
	m.refresh()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.running() {
			return m, m.dispatch(domain.Cancel{})
		}
		m.quitting = true
		return m, tea.Quit

	case tea.KeyEsc:
		if m.prompt.Suggest.Visible {
			break
		}
		switch {
		case m.running():
			return m, m.dispatch(domain.Cancel{})
		case m.state.EphemeralRun != nil:
			return m, m.dispatch(domain.CloseEphemeral{})
		case m.notice != "":
			m.notice = ""
			m.refresh()
		}
		return m, nil

	case tea.KeyCtrlT:
		m.side.Toggle()
		m.layout()
		m.refresh()
		return m, nil

	case tea.KeyTab:
		if !m.prompt.Suggest.Visible && m.side.Visible {
			m.side.Next()
			return m, nil
		}

	case tea.KeyCtrlN:
		return m, m.dispatch(domain.NewSession{})

	case tea.KeyCtrlEnd:
		m.transcript.JumpToBottom()
		m.refreshStatus()
		return m, nil

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(msg)
		m.refreshStatus()
		return m, cmd
	}

	if q := m.state.PendingQuestion; q != nil && len(q.Choices) > 0 && m.prompt.Value() == "" {
		switch msg.Type {
		case tea.KeyUp:
			if m.choice > 0 {
				m.choice--
			}
			return m, nil
		case tea.KeyDown:
			if m.choice < len(q.Choices)-1 {
				m.choice++
			}
			return m, nil
		case tea.KeyEnter:
			return m, m.answer(q, q.Choices[m.choice], false)
		}
	}

	var cmd tea.Cmd
	m.prompt, cmd = m.prompt.Update(msg)
	return m, cmd
}

func (m Model) handleSubmit(value string) (tea.Model, tea.Cmd) {
	m.notice = ""
	m.transcript.JumpToBottom()
	if q := m.state.PendingQuestion; q != nil {
		return m.answerText(q, value)
	}
	if next, cmd, ok := m.handleLocalCommand(value); ok {
		next.layout()
		next.refresh()
		return next, cmd
	}
	return m, m.dispatch(domain.SubmitPrompt{Text: value})
}

// answerText answers q with typed text. Text matching a choice counts as
// picking it.
func (m Model) answerText(q *domain.QuestionRequest, value string) (tea.Model, tea.Cmd) {
	for _, c := range q.Choices {
		if strings.EqualFold(c, value) {
			return m, m.answer(q, c, false)
		}
	}
	if len(q.Choices) > 0 && !q.AllowFreeform {
		m.notice = "Pick one of the listed choices"
		m.refresh()
		return m, nil
	}
	return m, m.answer(q, value, true)
}

func (m Model) answer(q *domain.QuestionRequest, answer string, freeform bool) tea.Cmd {
	return m.dispatch(domain.AnswerQuestion{
		RequestID:   q.RequestID,
		Answer:      answer,
		WasFreeform: freeform,
	})
}

func (m Model) dispatch(action domain.Action) tea.Cmd {
	return dispatchCmd(m.ctx, m.deps.Harness, action)
}

func (m Model) running() bool {
	return m.state.Status == domain.StatusRunning
}

// showPane opens the side panel on the pane with the given id.
func (m *Model) showPane(id string) {
	for i, p := range m.panes {
		if p.ID() == id {
			m.side.Open(i)
			return
		}
	}
}

func (m *Model) refreshCommands() {
	defs := append([]components.CommandDef(nil), localCommands...)
	if m.deps.Commands != nil {
		defs = append(defs, m.deps.Commands()...)
	}
	m.prompt.Suggest.SetCommands(defs)
}

// refresh re-renders the transcript and the status bar from the snapshot.
func (m *Model) refresh() {
	m.transcript.SetContent(renderTranscript(m.state, m.transcript.Width(), m.notice))
	m.refreshStatus()

	switch q := m.state.PendingQuestion; {
	case q != nil && len(q.Choices) > 0:
		m.prompt.SetPlaceholder("Choose with Up/Down or type an answer")
	case q != nil:
		m.prompt.SetPlaceholder("Type your answer")
	case m.running():
		m.prompt.SetPlaceholder("Type to queue a follow-up")
	default:
		m.prompt.SetPlaceholder("Ask anything, /commands for skills")
	}
}

func (m *Model) refreshStatus() {
	m.statusBar.Session = sessionLabel(m.state)
	m.statusBar.Model = m.state.CurrentModel
	m.statusBar.Usage = contextLabel(m.state.ContextInfo)

	var extra []string
	if m.running() {
		activity := m.state.Intent
		if activity == "" {
			activity = "Thinking..."
		}
		extra = append(extra, m.spinner.View()+" "+activity)
	}
	if n := len(m.state.MessageQueue); n > 0 {
		extra = append(extra, fmt.Sprintf("%s %d queued", theme.Glyphs.Bullet, n))
	}
	if m.transcript.Unseen() {
		extra = append(extra, "new output below (Ctrl+End)")
	}
	m.statusBar.Activity = strings.Join(extra, " ")

	switch {
	case m.state.PendingQuestion != nil:
		m.statusBar.Hints = []components.KeyHint{
			{Key: "Enter", Desc: "Answer"},
			{Key: "Esc", Desc: "Cancel run"},
		}
	case m.running():
		m.statusBar.Hints = []components.KeyHint{
			{Key: "Enter", Desc: "Queue"},
			{Key: "Esc", Desc: "Cancel"},
			{Key: "Ctrl+T", Desc: "Panel"},
		}
	default:
		m.statusBar.Hints = []components.KeyHint{
			{Key: "Enter", Desc: "Send"},
			{Key: "Ctrl+N", Desc: "New"},
			{Key: "Ctrl+T", Desc: "Panel"},
			{Key: "Ctrl+C", Desc: "Quit"},
		}
	}
}

// layout recalculates sizes for all sub-models.
func (m *Model) layout() {
	const (
		inputH   = 3
		statusH  = 1
		dividerH = 1
	)
	questionH := 0
	if q := m.state.PendingQuestion; q != nil {
		questionH = lipgloss.Height(renderQuestion(q, m.choice, m.width))
	}
	contentH := max(m.height-inputH-statusH-dividerH-questionH, 5)

	m.statusBar.SetWidth(m.width)
	m.side.SetSize(m.width, contentH)
	m.transcript.SetSize(m.side.MainWidth(), contentH)
	m.prompt.SetWidth(m.width)
}

// View renders the entire chat UI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 {
		return "  Initializing..."
	}

	main := m.transcript.View()
	if m.side.Visible {
		w, h := m.side.BodySize()
		main = m.side.Render(main, m.panes[m.side.Active].Render(m.state, w, h))
	}

	parts := []string{main}
	if q := m.state.PendingQuestion; q != nil {
		parts = append(parts, renderQuestion(q, m.choice, m.width))
	}
	parts = append(parts,
		theme.DividerStyle.Render(strings.Repeat(theme.Glyphs.Divider, m.width)),
		m.prompt.View(),
		m.statusBar.View(),
	)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
