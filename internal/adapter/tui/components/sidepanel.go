package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"anvil/internal/adapter/tui/theme"
)

// SidePanel places a tabbed panel to the right of the transcript. It is
// hidden on terminals narrower than theme.MinSplitWidth.
type SidePanel struct {
	Visible bool
	Active  int
	ratio   float64
	tabs    []string
	width   int
	height  int
}

// NewSidePanel creates a hidden panel. ratio is the share of the width kept
// by the main view.
func NewSidePanel(ratio float64, tabs ...string) SidePanel {
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.65
	}
	return SidePanel{ratio: ratio, tabs: tabs}
}

func (p *SidePanel) SetSize(w, h int) {
	p.width, p.height = w, h
	if w < theme.MinSplitWidth {
		p.Visible = false
	}
}

// Toggle shows or hides the panel. It stays hidden on narrow terminals.
func (p *SidePanel) Toggle() {
	p.Visible = !p.Visible && p.width >= theme.MinSplitWidth
}

// Open shows the panel on tab i.
func (p *SidePanel) Open(i int) {
	if i >= 0 && i < len(p.tabs) {
		p.Active = i
	}
	if !p.Visible {
		p.Toggle()
	}
}

// Next cycles to the following tab.
func (p *SidePanel) Next() {
	if len(p.tabs) > 0 {
		p.Active = (p.Active + 1) % len(p.tabs)
	}
}

// MainWidth is the width left for the transcript.
func (p SidePanel) MainWidth() int {
	if !p.Visible {
		return p.width
	}
	return int(float64(p.width-1) * p.ratio)
}

// Width is the panel width, 0 when hidden.
func (p SidePanel) Width() int {
	if !p.Visible {
		return 0
	}
	return p.width - 1 - p.MainWidth()
}

func (p SidePanel) Height() int { return p.height }

// BodySize is the space left for the active tab below the tab row.
func (p SidePanel) BodySize() (int, int) {
	return max(p.Width()-1, 0), max(p.height-2, 0)
}

// Render joins main and the panel showing body under the tab row.
func (p SidePanel) Render(main, body string) string {
	if !p.Visible {
		return main
	}

	tabs := make([]string, len(p.tabs))
	for i, t := range p.tabs {
		if i == p.Active {
			tabs[i] = theme.Bold.Render(t)
		} else {
			tabs[i] = theme.Dim.Render(t)
		}
	}
	panel := lipgloss.NewStyle().
		Width(p.Width()).
		Height(p.height).
		MaxHeight(p.height).
		PaddingLeft(1).
		Render(strings.Join(tabs, theme.Dim.Render(" | ")) + "\n\n" + body)

	divider := strings.TrimSuffix(strings.Repeat(theme.DividerStyle.Render("│")+"\n", p.height), "\n")
	return lipgloss.JoinHorizontal(lipgloss.Top, main, divider, panel)
}
