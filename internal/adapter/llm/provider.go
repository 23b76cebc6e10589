package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"anvil/internal/domain"
)

// Store persists sessions and their visible messages.
type Store interface {
	Create(ctx context.Context, id, model string) (domain.SessionInfo, error)
	Get(ctx context.Context, id string) (domain.SessionInfo, error)
	List(ctx context.Context, limit int) ([]domain.SessionInfo, error)
	AppendMessage(ctx context.Context, sessionID string, msg domain.ChatMessage) error
	Messages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)
	Touch(ctx context.Context, id, model string) error
}

// Options configures a Provider.
type Options struct {
	Client            domain.StreamingLLMProvider
	Store             Store
	Tools             domain.ToolExecutor // optional
	Models            []domain.ModelInfo
	Model             string
	SystemPrompt      string
	MaxToolIterations int
	Counter           TokenCounter
	Logger            *slog.Logger
}

const (
	defaultMaxToolIterations = 10
	sessionListLimit         = 50
	maxAttachmentBytes       = 256 * 1024
)

// Provider is a domain.RunProvider backed by an OpenAI-compatible chat
// completions endpoint. Each foreground prompt runs on its own goroutine and
// reports progress through the event handler.
//
// Every SendPrompt and Abort bumps a generation counter. A run only emits
// while its generation is current, so an aborted stream goes quiet even if
// the backend keeps sending.
type Provider struct {
	client       domain.StreamingLLMProvider
	store        Store
	tools        domain.ToolExecutor
	builtin      map[string]domain.Tool
	systemPrompt string
	maxIter      int
	counter      TokenCounter
	logger       *slog.Logger

	mu        sync.Mutex
	model     string
	models    []domain.ModelInfo
	sessionID string
	history   []domain.Message
	runCancel context.CancelFunc
	ephCancel context.CancelFunc
	handler   domain.EventHandler
	askUser   domain.UserInputHandler

	gen    atomic.Uint64
	ephGen atomic.Uint64
	wg     sync.WaitGroup
}

// NewProvider creates a provider. Initialize must run before prompts.
func NewProvider(opts Options) *Provider {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	counter := opts.Counter
	if counter == nil {
		counter = EstimateTokens
	}
	maxIter := opts.MaxToolIterations
	if maxIter <= 0 {
		maxIter = defaultMaxToolIterations
	}
	p := &Provider{
		client:       opts.Client,
		store:        opts.Store,
		tools:        opts.Tools,
		systemPrompt: opts.SystemPrompt,
		maxIter:      maxIter,
		counter:      counter,
		logger:       logger,
		model:        opts.Model,
		models:       slices.Clone(opts.Models),
	}
	p.builtin = builtinTools(p)
	return p
}

// Initialize validates the model list and opens a fresh session.
func (p *Provider) Initialize(ctx context.Context) error {
	if p.client == nil || p.store == nil {
		return fmt.Errorf("%w: provider needs a client and a store", domain.ErrNotInitialized)
	}

	p.mu.Lock()
	if len(p.models) == 0 && p.model != "" {
		p.models = []domain.ModelInfo{{ID: p.model, Name: p.model}}
	}
	if p.model == "" && len(p.models) > 0 {
		p.model = p.models[0].ID
	}
	model := p.model
	known := p.knownModelLocked(model)
	p.mu.Unlock()

	if !known {
		return fmt.Errorf("%w: %q", domain.ErrModelNotFound, model)
	}
	if _, err := p.CreateNewSession(ctx); err != nil {
		return err
	}
	p.logger.Info("run provider ready", "backend", p.client.Name(), "model", model)
	return nil
}

// OnEvent registers the sink for every event the provider produces.
func (p *Provider) OnEvent(handler domain.EventHandler) {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
}

// OnUserInputRequest registers the handler used by the ask_user tool.
func (p *Provider) OnUserInputRequest(handler domain.UserInputHandler) {
	p.mu.Lock()
	p.askUser = handler
	p.mu.Unlock()
}

func (p *Provider) emit(ev domain.Event) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// SendPrompt appends text to the conversation and opens the completion
// stream. It returns when the backend accepted the request.
func (p *Provider) SendPrompt(ctx context.Context, text, runID string, attachments []domain.Attachment) error {
	content, err := withAttachments(text, attachments)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.sessionID == "" {
		p.mu.Unlock()
		return domain.ErrNotInitialized
	}
	gen := p.gen.Add(1)
	if p.runCancel != nil {
		p.runCancel()
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.runCancel = cancel

	user := domain.Message{Role: domain.RoleUser, Content: content, Timestamp: time.Now()}
	r := &run{
		id:        runID,
		sessionID: p.sessionID,
		model:     p.model,
		withTools: true,
		live:      func() bool { return p.gen.Load() == gen },
		messages:  p.conversationLocked(p.systemPrompt, user),
	}
	p.mu.Unlock()

	stream, meta, err := p.client.ChatStream(runCtx, p.request(r))
	if err != nil {
		cancel()
		return err
	}

	p.mu.Lock()
	if r.live() && p.sessionID == r.sessionID {
		p.history = append(p.history, user)
	}
	p.mu.Unlock()
	p.persist(r.sessionID, domain.ChatMessage{Role: domain.RoleUser, Content: content, DisplayContent: text, At: user.Timestamp})
	p.reportQuota(meta)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		p.runLoop(runCtx, r, stream)
	}()
	return nil
}

// Abort stops the foreground run. Its remaining events are suppressed.
func (p *Provider) Abort(context.Context) error {
	p.gen.Add(1)
	p.mu.Lock()
	if p.runCancel != nil {
		p.runCancel()
		p.runCancel = nil
	}
	p.mu.Unlock()
	return nil
}

// RunEphemeralPrompt answers prompt outside the conversation. A new
// ephemeral prompt replaces a running one.
func (p *Provider) RunEphemeralPrompt(ctx context.Context, prompt, runID string, opts domain.EphemeralOptions) error {
	p.mu.Lock()
	gen := p.ephGen.Add(1)
	if p.ephCancel != nil {
		p.ephCancel()
	}
	ephCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.ephCancel = cancel

	model := opts.Model
	if model == "" {
		model = p.model
	}
	system := opts.SystemPrompt
	if system == "" {
		system = p.systemPrompt
	}
	r := &run{
		id:        runID,
		model:     model,
		ephemeral: true,
		live:      func() bool { return p.ephGen.Load() == gen },
		messages:  systemAnd(system, domain.Message{Role: domain.RoleUser, Content: prompt, Timestamp: time.Now()}),
	}
	p.mu.Unlock()

	stream, meta, err := p.client.ChatStream(ephCtx, p.request(r))
	if err != nil {
		cancel()
		return err
	}
	p.reportQuota(meta)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		p.runLoop(ephCtx, r, stream)
	}()
	return nil
}

// SwitchModel selects one of the available models.
func (p *Provider) SwitchModel(ctx context.Context, modelID string) error {
	p.mu.Lock()
	if !p.knownModelLocked(modelID) {
		p.mu.Unlock()
		return fmt.Errorf("%w: %q", domain.ErrModelNotFound, modelID)
	}
	p.model = modelID
	sessionID := p.sessionID
	p.mu.Unlock()

	if sessionID != "" {
		if err := p.store.Touch(ctx, sessionID, modelID); err != nil {
			p.logger.Warn("record session model failed", "session_id", sessionID, "error", err)
		}
	}
	return nil
}

// CreateNewSession starts an empty conversation and makes it current.
func (p *Provider) CreateNewSession(ctx context.Context) (string, error) {
	id := ulid.Make().String()
	p.mu.Lock()
	model := p.model
	p.mu.Unlock()

	if _, err := p.store.Create(ctx, id, model); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	p.mu.Lock()
	p.sessionID = id
	p.history = nil
	p.mu.Unlock()
	return id, nil
}

// SwitchToSession makes a stored session current and restores its messages
// as conversation context.
func (p *Provider) SwitchToSession(ctx context.Context, sessionID string) error {
	if _, err := p.store.Get(ctx, sessionID); err != nil {
		return err
	}
	stored, err := p.store.Messages(ctx, sessionID)
	if err != nil {
		return err
	}
	history := make([]domain.Message, 0, len(stored))
	for _, m := range stored {
		history = append(history, domain.Message{Role: m.Role, Content: m.Content, Reasoning: m.Reasoning, Timestamp: m.At})
	}

	p.mu.Lock()
	p.sessionID = sessionID
	p.history = history
	p.mu.Unlock()
	return nil
}

// ListSessions returns the most recently used sessions.
func (p *Provider) ListSessions(ctx context.Context) ([]domain.SessionInfo, error) {
	return p.store.List(ctx, sessionListLimit)
}

// SessionHistory implements domain.HistoryProvider.
func (p *Provider) SessionHistory(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	return p.store.Messages(ctx, sessionID)
}

func (p *Provider) CurrentModel() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model
}

func (p *Provider) AvailableModels() []domain.ModelInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.models)
}

func (p *Provider) CurrentSessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// Close aborts running work and waits for run goroutines to exit.
func (p *Provider) Close() error {
	p.gen.Add(1)
	p.ephGen.Add(1)
	p.mu.Lock()
	for _, cancel := range []context.CancelFunc{p.runCancel, p.ephCancel} {
		if cancel != nil {
			cancel()
		}
	}
	p.runCancel, p.ephCancel = nil, nil
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

func (p *Provider) knownModelLocked(id string) bool {
	if id == "" {
		return false
	}
	for _, m := range p.models {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (p *Provider) tokenLimitLocked(id string) int {
	for _, m := range p.models {
		if m.ID == id {
			return m.TokenLimit
		}
	}
	return 0
}

// conversationLocked returns system prompt, history and next as a new slice.
func (p *Provider) conversationLocked(system string, next domain.Message) []domain.Message {
	msgs := systemAnd(system)
	msgs = append(msgs, p.history...)
	return append(msgs, next)
}

func systemAnd(system string, rest ...domain.Message) []domain.Message {
	var msgs []domain.Message
	if system != "" {
		msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: system})
	}
	return append(msgs, rest...)
}

func (p *Provider) persist(sessionID string, msg domain.ChatMessage) {
	if sessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.AppendMessage(ctx, sessionID, msg); err != nil {
		p.logger.Warn("persist message failed", "session_id", sessionID, "error", err)
	}
}

func (p *Provider) reportQuota(meta domain.StreamMeta) {
	if meta.RemainingRequests >= 0 {
		p.emit(domain.QuotaInfo{RemainingPremiumRequests: meta.RemainingRequests})
	}
}

// withAttachments inlines readable text attachments after the prompt.
func withAttachments(text string, attachments []domain.Attachment) (string, error) {
	if len(attachments) == 0 {
		return text, nil
	}
	var b strings.Builder
	b.WriteString(text)
	for _, a := range attachments {
		data, err := os.ReadFile(a.Path)
		if err != nil {
			return "", fmt.Errorf("%w: attachment %s: %v", domain.ErrInvalidInput, a.Path, err)
		}
		if len(data) > maxAttachmentBytes {
			data = data[:maxAttachmentBytes]
		}
		name := a.Name
		if name == "" {
			name = filepath.Base(a.Path)
		}
		fmt.Fprintf(&b, "\n\n<attachment name=%q>\n%s\n</attachment>", name, data)
	}
	return b.String(), nil
}

var (
	_ domain.RunProvider     = (*Provider)(nil)
	_ domain.HistoryProvider = (*Provider)(nil)
)
