package llm

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"anvil/internal/adapter/store"
	"anvil/internal/domain"
	"anvil/internal/infra/logger"
)

const (
	testWait = 2 * time.Second
	testTick = 5 * time.Millisecond
)

// scriptedClient replays one scripted stream per ChatStream call.
type scriptedClient struct {
	mu        sync.Mutex
	turns     [][]domain.StreamDelta
	requests  []domain.ChatRequest
	streamErr error
	meta      domain.StreamMeta
	chatResp  *domain.ChatResponse
	chatErr   error
	chats     []domain.ChatRequest
	// block, when set, holds every stream until it is closed.
	block chan struct{}
}

func newScriptedClient(turns ...[]domain.StreamDelta) *scriptedClient {
	return &scriptedClient{turns: turns, meta: domain.StreamMeta{RemainingRequests: -1}}
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats = append(c.chats, req)
	if c.chatErr != nil {
		return nil, c.chatErr
	}
	return c.chatResp, nil
}

func (c *scriptedClient) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, domain.StreamMeta, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	if c.streamErr != nil {
		c.mu.Unlock()
		return nil, domain.StreamMeta{RemainingRequests: -1}, c.streamErr
	}
	if len(c.turns) == 0 {
		c.mu.Unlock()
		return nil, domain.StreamMeta{RemainingRequests: -1}, errors.New("script exhausted")
	}
	turn := c.turns[0]
	c.turns = c.turns[1:]
	block := c.block
	meta := c.meta
	c.mu.Unlock()

	ch := make(chan domain.StreamDelta)
	go func() {
		defer close(ch)
		if block != nil {
			select {
			case <-block:
			case <-ctx.Done():
				return
			}
		}
		for _, d := range turn {
			select {
			case ch <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, meta, nil
}

func (c *scriptedClient) request(i int) domain.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[i]
}

func (c *scriptedClient) requestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func textTurn(parts ...string) []domain.StreamDelta {
	var out []domain.StreamDelta
	for _, p := range parts {
		out = append(out, domain.StreamDelta{Content: p})
	}
	return append(out, domain.StreamDelta{Done: true})
}

func toolTurn(id, name, args string) []domain.StreamDelta {
	return []domain.StreamDelta{
		{ToolCalls: []domain.ToolCall{{ID: id, Name: name, Arguments: json.RawMessage(args)}}},
		{Done: true},
	}
}

// fakeTools is an in-memory domain.ToolExecutor.
type fakeTools map[string]domain.Tool

func (f fakeTools) Get(name string) (domain.Tool, error) {
	t, ok := f[name]
	if !ok {
		return nil, domain.ErrToolNotFound
	}
	return t, nil
}

func (f fakeTools) Schemas() []domain.ToolSchema {
	var out []domain.ToolSchema
	for _, t := range f {
		out = append(out, t.Schema())
	}
	return out
}

// echoTool returns its "text" argument and reports one progress line.
type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echo text" }
func (echoTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: "echo", Parameters: json.RawMessage(`{"type":"object"}`)}
}

func (echoTool) Execute(_ context.Context, params json.RawMessage, progress domain.ProgressFunc) (*domain.ToolResult, error) {
	var args struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}
	progress("echoing")
	return &domain.ToolResult{Content: args.Text}, nil
}

// events collects everything the provider emits.
type events struct {
	mu  sync.Mutex
	evs []domain.Event
}

func (e *events) handle(ev domain.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evs = append(e.evs, ev)
}

func (e *events) all() []domain.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Event, len(e.evs))
	copy(out, e.evs)
	return out
}

func (e *events) types() []domain.EventType {
	var out []domain.EventType
	for _, ev := range e.all() {
		out = append(out, ev.Type())
	}
	return out
}

func (e *events) has(t domain.EventType) bool {
	for _, ev := range e.all() {
		if ev.Type() == t {
			return true
		}
	}
	return false
}

func eventOf[T domain.Event](e *events) (T, bool) {
	for _, ev := range e.all() {
		if v, ok := ev.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func (e *events) waitFor(t *testing.T, typ domain.EventType) {
	t.Helper()
	require.Eventually(t, func() bool { return e.has(typ) }, testWait, testTick,
		"no %s event; got %v", typ, e.types())
}

type harness struct {
	p      *Provider
	client *scriptedClient
	store  *store.SQLiteStore
	events *events
}

func newHarness(t *testing.T, client *scriptedClient, tools domain.ToolExecutor, maxIter int) *harness {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	p := NewProvider(Options{
		Client: client,
		Store:  st,
		Tools:  tools,
		Models: []domain.ModelInfo{
			{ID: "gpt-test", TokenLimit: 8000},
			{ID: "gpt-other", TokenLimit: 4000},
		},
		Model:             "gpt-test",
		SystemPrompt:      "be brief",
		MaxToolIterations: maxIter,
		Logger:            logger.Discard(),
	})
	ev := &events{}
	p.OnEvent(ev.handle)
	require.NoError(t, p.Initialize(context.Background()))
	t.Cleanup(func() { p.Close() })
	return &harness{p: p, client: client, store: st, events: ev}
}
