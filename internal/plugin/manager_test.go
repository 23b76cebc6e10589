package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anvil/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePlugin struct {
	name     string
	initErr  error
	closeErr error
	initFn   func(pc *Context) error

	mu     sync.Mutex
	events []domain.EventType
	closed bool
}

func (p *fakePlugin) Manifest() Manifest { return Manifest{Name: p.name, Version: "0.1.0"} }

func (p *fakePlugin) Init(_ context.Context, pc *Context) error {
	if p.initErr != nil {
		return p.initErr
	}
	if p.initFn != nil {
		return p.initFn(pc)
	}
	return nil
}

func (p *fakePlugin) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.closeErr
}

type observingPlugin struct {
	*fakePlugin
	record func(name string)
	panics bool
}

func (p *observingPlugin) OnEvent(ev domain.Event) {
	if p.panics {
		panic("observer failure")
	}
	p.mu.Lock()
	p.events = append(p.events, ev.Type())
	p.mu.Unlock()
	if p.record != nil {
		p.record(p.name)
	}
}

func TestManagerLoadRejectsDuplicate(t *testing.T) {
	m := NewManager(newTestLogger())
	require.NoError(t, m.Load(&fakePlugin{name: "alpha"}))

	err := m.Load(&fakePlugin{name: "alpha"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicate))
	assert.Len(t, m.List(), 1)
}

func TestManagerLoadRejectsEmptyName(t *testing.T) {
	m := NewManager(newTestLogger())
	err := m.Load(&fakePlugin{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestManagerLoadInitFailure(t *testing.T) {
	m := NewManager(newTestLogger())
	err := m.Load(&fakePlugin{name: "broken", initErr: errors.New("nope")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Empty(t, m.List())
}

func TestManagerNotifyOrderAndPanicIsolation(t *testing.T) {
	m := NewManager(newTestLogger())

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	first := &observingPlugin{fakePlugin: &fakePlugin{name: "first"}, record: record}
	bad := &observingPlugin{fakePlugin: &fakePlugin{name: "bad"}, panics: true}
	second := &observingPlugin{fakePlugin: &fakePlugin{name: "second"}, record: record}
	require.NoError(t, m.Load(first))
	require.NoError(t, m.Load(bad))
	require.NoError(t, m.Load(second))

	m.Notify(domain.RunStarted{RunID: "r1"})
	m.Notify(domain.RunFinished{RunID: "r1"})

	assert.Equal(t, []string{"first", "second", "first", "second"}, order)
	assert.Equal(t, []domain.EventType{domain.EventRunStarted, domain.EventRunFinished}, second.events)
}

func TestManagerEmitBeforeEmitterIsDropped(t *testing.T) {
	m := NewManager(newTestLogger())
	var pc *Context
	require.NoError(t, m.Load(&fakePlugin{name: "p", initFn: func(c *Context) error {
		pc = c
		return nil
	}}))

	// No emitter yet: must not panic.
	pc.Emit(domain.NewLog(domain.LogInfo, "early"))

	var got []domain.Event
	m.SetEmitter(func(ev domain.Event) { got = append(got, ev) })
	pc.Emit(domain.NewLog(domain.LogInfo, "late"))

	require.Len(t, got, 1)
	assert.Equal(t, "late", got[0].(domain.Log).Message)
}

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echo the text argument" }
func (echoTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        "echo",
		Description: "echo the text argument",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {"text": {"type": "string"}},
			"required": ["text"]
		}`),
	}
}
func (echoTool) Execute(_ context.Context, params json.RawMessage, progress domain.ProgressFunc) (*domain.ToolResult, error) {
	var p struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	if progress != nil {
		progress("echoing")
	}
	return &domain.ToolResult{Content: p.Text}, nil
}

func TestManagerSharedRegistries(t *testing.T) {
	m := NewManager(newTestLogger())
	require.NoError(t, m.Load(&fakePlugin{name: "tools", initFn: func(pc *Context) error {
		if err := pc.Tools.Register(echoTool{}); err != nil {
			return err
		}
		return pc.Commands.Register(domain.PluginCommand{
			Name: "ping",
			Run:  func(context.Context) error { return nil },
		})
	}}))

	tool, err := m.Tools().Get("echo")
	require.NoError(t, err)

	var progress []string
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"text":"hi"}`), func(msg string) {
		progress = append(progress, msg)
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Content)
	assert.False(t, res.IsError)
	assert.Equal(t, []string{"echoing"}, progress)

	res, err = tool.Execute(context.Background(), json.RawMessage(`{}`), nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.True(t, strings.Contains(res.Content, "schema validation failed"))

	_, err = m.Tools().Get("missing")
	assert.ErrorIs(t, err, domain.ErrToolNotFound)

	cmd, ok := m.Command("ping")
	require.True(t, ok)
	assert.Equal(t, "ping", cmd.Name)
	assert.Len(t, m.Commands(), 1)
}

func TestManagerShutdownClosesAll(t *testing.T) {
	m := NewManager(newTestLogger())
	a := &fakePlugin{name: "a"}
	b := &fakePlugin{name: "b", closeErr: errors.New("close failed")}
	require.NoError(t, m.Load(a))
	require.NoError(t, m.Load(b))

	err := m.Shutdown()
	require.Error(t, err)
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Empty(t, m.List())
}
