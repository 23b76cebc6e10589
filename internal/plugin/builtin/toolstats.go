// Package builtin contains the plugins shipped with anvil.
package builtin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"anvil/internal/domain"
	"anvil/internal/plugin"
)

// ToolStatsSlice is the name of the state slice kept by the toolstats plugin.
const ToolStatsSlice = "toolstats.counts"

// ToolCount is the per-tool tally.
type ToolCount struct {
	Calls    int
	Failures int
}

// ToolStats maps a tool name to its tally.
type ToolStats map[string]ToolCount

// Sorted returns tool names ordered by call count, then name.
func (s ToolStats) Sorted() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ci, cj := s[names[i]].Calls, s[names[j]].Calls
		if ci != cj {
			return ci > cj
		}
		return names[i] < names[j]
	})
	return names
}

func (s ToolStats) with(name string, fn func(ToolCount) ToolCount) ToolStats {
	next := make(ToolStats, len(s)+1)
	for k, v := range s {
		next[k] = v
	}
	next[name] = fn(next[name])
	return next
}

// ToolStatsPlugin counts tool calls observed in the event feed.
type ToolStatsPlugin struct {
	stats *plugin.Slice[ToolStats]
	emit  func(domain.Event)

	mu    sync.Mutex
	names map[string]string // tool call id -> tool name
}

// NewToolStats creates the toolstats plugin.
func NewToolStats() *ToolStatsPlugin {
	return &ToolStatsPlugin{names: make(map[string]string)}
}

func (p *ToolStatsPlugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		Name:        "toolstats",
		Version:     "1.0.0",
		Description: "Counts tool calls per tool",
	}
}

func (p *ToolStatsPlugin) Init(_ context.Context, pc *plugin.Context) error {
	stats, err := plugin.RegisterSlice(pc.State, ToolStatsSlice, ToolStats{})
	if err != nil {
		return err
	}
	p.stats = stats
	p.emit = pc.Emit

	if err := pc.Panes.Register(&toolStatsPane{stats: stats}); err != nil {
		return err
	}
	if err := pc.Commands.Register(domain.PluginCommand{
		Name:        "toolstats",
		Description: "Log tool call counts",
		Run:         p.report,
	}); err != nil {
		return err
	}
	return pc.Tools.Register(NewCurrentTimeTool(nil))
}

func (p *ToolStatsPlugin) Close() error { return nil }

// Stats returns the current tally.
func (p *ToolStatsPlugin) Stats() ToolStats {
	if p.stats == nil {
		return ToolStats{}
	}
	return p.stats.Get()
}

// OnEvent implements plugin.EventObserver.
func (p *ToolStatsPlugin) OnEvent(ev domain.Event) {
	switch e := ev.(type) {
	case domain.ToolStarted:
		p.mu.Lock()
		if _, seen := p.names[e.ToolCallID]; seen {
			p.mu.Unlock()
			return
		}
		p.names[e.ToolCallID] = e.ToolName
		p.mu.Unlock()
		p.stats.Patch(func(cur ToolStats) ToolStats {
			return cur.with(e.ToolName, func(c ToolCount) ToolCount {
				c.Calls++
				return c
			})
		})

	case domain.ToolCompleted:
		p.mu.Lock()
		name, ok := p.names[e.ToolCallID]
		delete(p.names, e.ToolCallID)
		p.mu.Unlock()
		if !ok || e.Success {
			return
		}
		p.stats.Patch(func(cur ToolStats) ToolStats {
			return cur.with(name, func(c ToolCount) ToolCount {
				c.Failures++
				return c
			})
		})

	case domain.SessionSwitched, domain.SessionCreated:
		p.mu.Lock()
		p.names = make(map[string]string)
		p.mu.Unlock()
	}
}

func (p *ToolStatsPlugin) report(context.Context) error {
	p.emit(domain.NewLog(domain.LogInfo, summarize(p.Stats())))
	return nil
}

func summarize(stats ToolStats) string {
	if len(stats) == 0 {
		return "No tool calls yet"
	}
	parts := make([]string, 0, len(stats))
	for _, name := range stats.Sorted() {
		c := stats[name]
		if c.Failures > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d (%d failed)", name, c.Calls, c.Failures))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%d", name, c.Calls))
	}
	return "Tool calls: " + strings.Join(parts, ", ")
}

type toolStatsPane struct {
	stats *plugin.Slice[ToolStats]
}

func (*toolStatsPane) ID() string    { return "toolstats" }
func (*toolStatsPane) Title() string { return "Tools" }

func (p *toolStatsPane) Render(state domain.HarnessState, width, height int) string {
	stats := p.stats.Get()
	var b strings.Builder
	if n := len(state.ActiveTools); n > 0 {
		fmt.Fprintf(&b, "running: %d\n", n)
	}
	rows := 0
	for _, name := range stats.Sorted() {
		if height > 0 && rows >= height {
			break
		}
		line := fmt.Sprintf("%-*s %d", max(width-6, 1), name, stats[name].Calls)
		if width > 0 && len(line) > width {
			line = line[:width]
		}
		b.WriteString(line)
		b.WriteByte('\n')
		rows++
	}
	if rows == 0 {
		b.WriteString("no tool calls\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
