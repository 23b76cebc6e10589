// Package theme holds the palette, styles and glyphs of the terminal host.
// Colors adapt to light and dark backgrounds; lipgloss honours NO_COLOR.
package theme

import (
	"github.com/charmbracelet/lipgloss"

	"anvil/internal/domain"
)

// Palette roles. Each role is used by exactly one kind of transcript element
// so a glance at the color tells the user who produced a line.
var (
	ColorUser      = lipgloss.AdaptiveColor{Light: "#0277bd", Dark: "#4fc3f7"}
	ColorAssistant = lipgloss.AdaptiveColor{Light: "#6a1b9a", Dark: "#ce93d8"}
	ColorTool      = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}
	ColorOK        = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	ColorFail      = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	ColorQuiet     = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}
	ColorFrame     = lipgloss.AdaptiveColor{Light: "#bdbdbd", Dark: "#616161"}
	ColorFocus     = lipgloss.AdaptiveColor{Light: "#1565c0", Dark: "#42a5f5"}
	ColorBar       = lipgloss.AdaptiveColor{Light: "#f5f5f5", Dark: "#2d2d2d"}
)

var (
	Bold  = lipgloss.NewStyle().Bold(true)
	Dim   = lipgloss.NewStyle().Faint(true)
	Quiet = lipgloss.NewStyle().Foreground(ColorQuiet)

	User      = lipgloss.NewStyle().Foreground(ColorUser).Bold(true)
	Assistant = lipgloss.NewStyle().Foreground(ColorAssistant).Bold(true)
	ToolName  = lipgloss.NewStyle().Foreground(ColorTool).Bold(true)
	Notice    = lipgloss.NewStyle().Foreground(ColorTool).Bold(true)
	Failure   = lipgloss.NewStyle().Foreground(ColorFail)
	Highlight = lipgloss.NewStyle().Foreground(ColorAssistant)
	Clock     = lipgloss.NewStyle().Foreground(ColorQuiet).Faint(true)
)

// Frames for the side question (Ephemeral) and the pending question (Question).
var (
	Ephemeral = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(ColorFrame).Padding(0, 1)
	Question  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(ColorFocus).Padding(0, 1)
)

var (
	StatusBar    = lipgloss.NewStyle().Foreground(ColorQuiet).Background(ColorBar).Padding(0, 1)
	StatusKey    = lipgloss.NewStyle().Foreground(ColorUser).Bold(true)
	Prompt       = lipgloss.NewStyle().Foreground(ColorUser).Bold(true)
	Placeholder  = lipgloss.NewStyle().Foreground(ColorQuiet).Faint(true)
	Spinner      = lipgloss.NewStyle().Foreground(ColorUser)
	DividerStyle = lipgloss.NewStyle().Foreground(ColorFrame)
)

// Badge is a glyph plus the style it is drawn in.
type Badge struct {
	Glyph string
	Style lipgloss.Style
}

func (b Badge) String() string { return b.Style.Render(b.Glyph) }

// ForItem returns the badge for a tool, task, subagent or side question.
func ForItem(s domain.ItemStatus) Badge {
	switch s {
	case domain.ItemCompleted:
		return Badge{Glyphs.Done, lipgloss.NewStyle().Foreground(ColorOK).Bold(true)}
	case domain.ItemFailed:
		return Badge{Glyphs.Failed, lipgloss.NewStyle().Foreground(ColorFail).Bold(true)}
	case domain.ItemCancelled:
		return Badge{Glyphs.Cancelled, lipgloss.NewStyle().Foreground(ColorTool).Bold(true)}
	default:
		return Badge{Glyphs.Running, lipgloss.NewStyle().Foreground(ColorUser)}
	}
}

// ForLog returns the badge for a user-visible log entry.
func ForLog(l domain.LogLevel) Badge {
	switch l {
	case domain.LogError:
		return Badge{Glyphs.Failed, lipgloss.NewStyle().Foreground(ColorFail).Bold(true)}
	case domain.LogWarn:
		return Badge{Glyphs.Cancelled, lipgloss.NewStyle().Foreground(ColorTool).Bold(true)}
	case domain.LogDebug:
		return Badge{Glyphs.Bullet, Dim}
	default:
		return Badge{Glyphs.Info, lipgloss.NewStyle().Foreground(ColorUser)}
	}
}

// MinSplitWidth is the narrowest terminal that still shows the side pane.
const MinSplitWidth = 100
