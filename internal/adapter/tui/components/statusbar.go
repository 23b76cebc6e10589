package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"anvil/internal/adapter/tui/theme"
)

// KeyHint is one keybinding shown on the left of the status bar.
type KeyHint struct {
	Key  string
	Desc string
}

// StatusBarModel is the bottom line: key hints on the left, the session,
// model and token usage on the right, then the current activity.
type StatusBarModel struct {
	Hints    []KeyHint
	Session  string
	Model    string
	Usage    string
	Activity string
	width    int
}

func (m *StatusBarModel) SetWidth(w int) { m.width = w }

// View renders one line. Hints are dropped from the end until the line fits.
func (m StatusBarModel) View() string {
	var facts []string
	for _, f := range []string{m.Session, m.Model, m.Usage} {
		if f != "" {
			facts = append(facts, f)
		}
	}
	right := theme.Quiet.Render(strings.Join(facts, " "+theme.Glyphs.Bullet+" "))
	if m.Activity != "" {
		if len(facts) > 0 {
			right += "  "
		}
		right += theme.Spinner.Render(m.Activity)
	}

	inner := m.width - 2
	hints := m.Hints
	left := renderHints(hints)
	for len(hints) > 0 && m.width > 0 && lipgloss.Width(left)+1+lipgloss.Width(right) > inner {
		hints = hints[:len(hints)-1]
		left = renderHints(hints)
	}

	gap := max(inner-lipgloss.Width(left)-lipgloss.Width(right), 1)
	return theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func renderHints(hints []KeyHint) string {
	parts := make([]string, len(hints))
	for i, h := range hints {
		parts[i] = theme.StatusKey.Render(h.Key) + " " + h.Desc
	}
	return strings.Join(parts, "  ")
}
