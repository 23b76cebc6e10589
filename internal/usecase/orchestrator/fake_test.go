package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"anvil/internal/domain"
)

type sentPrompt struct {
	text  string
	runID string
}

// fakeProvider records calls and lets tests push events through the handler
// the orchestrator registered.
type fakeProvider struct {
	mu sync.Mutex

	handler      domain.EventHandler
	inputHandler domain.UserInputHandler

	initErr      error
	sendErr      error
	abortErr     error
	switchErr    error
	ephemeralErr error

	// duringSend runs inside SendPrompt, before it returns.
	duringSend func()

	prompts    []sentPrompt
	ephemeral  []sentPrompt
	aborts     int
	model      string
	models     []domain.ModelInfo
	sessionID  string
	sessions   []domain.SessionInfo
	history    map[string][]domain.ChatMessage
	nextSessID int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		model:   "gpt-test",
		models:  []domain.ModelInfo{{ID: "gpt-test", TokenLimit: 8000}, {ID: "gpt-other"}},
		history: map[string][]domain.ChatMessage{},
	}
}

func (p *fakeProvider) Initialize(context.Context) error { return p.initErr }

func (p *fakeProvider) SendPrompt(_ context.Context, text, runID string, _ []domain.Attachment) error {
	p.mu.Lock()
	p.prompts = append(p.prompts, sentPrompt{text: text, runID: runID})
	err, during := p.sendErr, p.duringSend
	p.mu.Unlock()
	if during != nil {
		during()
	}
	return err
}

func (p *fakeProvider) Abort(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aborts++
	return p.abortErr
}

func (p *fakeProvider) SwitchModel(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.switchErr != nil {
		return p.switchErr
	}
	p.model = id
	return nil
}

func (p *fakeProvider) RunEphemeralPrompt(_ context.Context, prompt, runID string, _ domain.EphemeralOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ephemeral = append(p.ephemeral, sentPrompt{text: prompt, runID: runID})
	return p.ephemeralErr
}

func (p *fakeProvider) CreateNewSession(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextSessID++
	p.sessionID = fmt.Sprintf("s%d", p.nextSessID)
	p.sessions = append(p.sessions, domain.SessionInfo{ID: p.sessionID})
	return p.sessionID, nil
}

func (p *fakeProvider) SwitchToSession(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sessions {
		if s.ID == id {
			p.sessionID = id
			return nil
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
}

func (p *fakeProvider) ListSessions(context.Context) ([]domain.SessionInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.SessionInfo, len(p.sessions))
	copy(out, p.sessions)
	return out, nil
}

func (p *fakeProvider) SessionHistory(_ context.Context, id string) ([]domain.ChatMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history[id], nil
}

func (p *fakeProvider) CurrentModel() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model
}

func (p *fakeProvider) AvailableModels() []domain.ModelInfo { return p.models }

func (p *fakeProvider) CurrentSessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

func (p *fakeProvider) OnEvent(h domain.EventHandler)               { p.handler = h }
func (p *fakeProvider) OnUserInputRequest(h domain.UserInputHandler) { p.inputHandler = h }

func (p *fakeProvider) sent() []sentPrompt {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]sentPrompt, len(p.prompts))
	copy(out, p.prompts)
	return out
}

func (p *fakeProvider) abortCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aborts
}

// fakeCommands is an in-memory domain.CommandRegistry.
type fakeCommands map[string]domain.CommandDefinition

func (c fakeCommands) Get(name string) (domain.CommandDefinition, bool) {
	def, ok := c[name]
	return def, ok
}

func (c fakeCommands) List() []domain.CommandDefinition {
	out := make([]domain.CommandDefinition, 0, len(c))
	for _, def := range c {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c fakeCommands) BuildPrompt(name, args string) (string, error) {
	def, ok := c[name]
	if !ok {
		return "", domain.ErrCommandNotFound
	}
	return strings.ReplaceAll(def.Body, "$ARGUMENTS", args), nil
}

// recorder collects delivered events.
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
	states []domain.HarnessState
}

func (r *recorder) listen(ev domain.Event, st domain.HarnessState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.states = append(r.states, st)
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type()
	}
	return out
}

func (r *recorder) logs() []domain.Log {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Log
	for _, ev := range r.events {
		if l, ok := ev.(domain.Log); ok {
			out = append(out, l)
		}
	}
	return out
}

func (r *recorder) count(t domain.EventType) int {
	n := 0
	for _, got := range r.types() {
		if got == t {
			n++
		}
	}
	return n
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
