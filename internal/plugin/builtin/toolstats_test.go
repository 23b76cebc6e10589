package builtin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anvil/internal/domain"
	"anvil/internal/plugin"
)

func loadToolStats(t *testing.T) (*plugin.Manager, *ToolStatsPlugin, *[]domain.Event) {
	t.Helper()
	m := plugin.NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
	var emitted []domain.Event
	m.SetEmitter(func(ev domain.Event) { emitted = append(emitted, ev) })
	p := NewToolStats()
	require.NoError(t, m.Load(p))
	return m, p, &emitted
}

func TestToolStatsCountsCalls(t *testing.T) {
	m, p, _ := loadToolStats(t)

	m.Notify(domain.ToolStarted{RunID: "r1", ToolCallID: "t1", ToolName: "read_file"})
	m.Notify(domain.ToolStarted{RunID: "r1", ToolCallID: "t1", ToolName: "read_file"}) // duplicate
	m.Notify(domain.ToolCompleted{RunID: "r1", ToolCallID: "t1", Success: true})
	m.Notify(domain.ToolStarted{RunID: "r1", ToolCallID: "t2", ToolName: "grep"})
	m.Notify(domain.ToolCompleted{RunID: "r1", ToolCallID: "t2", Success: false, Error: "exit 2"})
	m.Notify(domain.ToolStarted{RunID: "r1", ToolCallID: "t3", ToolName: "read_file"})
	m.Notify(domain.ToolCompleted{RunID: "r1", ToolCallID: "unknown", Success: false})

	stats := p.Stats()
	assert.Equal(t, ToolCount{Calls: 2}, stats["read_file"])
	assert.Equal(t, ToolCount{Calls: 1, Failures: 1}, stats["grep"])
	assert.Equal(t, []string{"read_file", "grep"}, stats.Sorted())

	slice, ok := plugin.LookupSlice[ToolStats](m.State(), ToolStatsSlice)
	require.True(t, ok)
	assert.Equal(t, uint64(4), slice.Version())
}

func TestToolStatsCommandLogsSummary(t *testing.T) {
	m, _, emitted := loadToolStats(t)

	cmd, ok := m.Command("toolstats")
	require.True(t, ok)
	require.NoError(t, cmd.Run(context.Background()))
	require.Len(t, *emitted, 1)
	assert.Equal(t, "No tool calls yet", (*emitted)[0].(domain.Log).Message)

	m.Notify(domain.ToolStarted{ToolCallID: "a", ToolName: "grep"})
	m.Notify(domain.ToolCompleted{ToolCallID: "a", Success: false})
	require.NoError(t, cmd.Run(context.Background()))
	require.Len(t, *emitted, 2)
	assert.Equal(t, "Tool calls: grep=1 (1 failed)", (*emitted)[1].(domain.Log).Message)
}

func TestToolStatsPaneRender(t *testing.T) {
	m, _, _ := loadToolStats(t)
	panes := m.Panes().List()
	require.Len(t, panes, 1)
	pane := panes[0]
	assert.Equal(t, "toolstats", pane.ID())

	assert.Equal(t, "no tool calls", pane.Render(domain.NewHarnessState(), 30, 5))

	m.Notify(domain.ToolStarted{ToolCallID: "a", ToolName: "grep"})
	state := domain.NewHarnessState()
	state.ActiveTools["a"] = domain.ToolCallItem{ToolCallID: "a", ToolName: "grep", Status: domain.ItemRunning}
	out := pane.Render(state, 30, 5)
	assert.Contains(t, out, "running: 1")
	assert.Contains(t, out, "grep")
}

func TestToolStatsRegistersCurrentTime(t *testing.T) {
	m, _, _ := loadToolStats(t)
	tool, err := m.Tools().Get("current_time")
	require.NoError(t, err)
	assert.Equal(t, "current_time", tool.Schema().Name)
}

func TestCurrentTimeTool(t *testing.T) {
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	tool := NewCurrentTimeTool(func() time.Time { return fixed })

	res, err := tool.Execute(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-04T05:06:07Z", res.Content)

	res, err = tool.Execute(context.Background(), json.RawMessage(`{"timezone":"UTC"}`), nil)
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "2026-03-04T05:06:07Z", res.Content)

	res, err = tool.Execute(context.Background(), json.RawMessage(`{"timezone":"Nowhere/Atlantis"}`), nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
