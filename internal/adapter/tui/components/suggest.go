package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"anvil/internal/adapter/tui/theme"
)

// Origin says who handles a slash command.
type Origin string

const (
	OriginTerminal Origin = "terminal"
	OriginHarness  Origin = "harness"
	OriginSkill    Origin = "skill"
	OriginPlugin   Origin = "plugin"
)

// CommandDef is one suggestion entry.
type CommandDef struct {
	Name        string // with the leading slash
	Description string
	Origin      Origin
}

const (
	suggestLimit = 7
	nameColumn   = 16
)

// Suggestions is the slash command popup shown above the prompt.
type Suggestions struct {
	Commands []CommandDef
	Matches  []CommandDef
	Selected int
	Visible  bool
	query    string
	width    int
}

// NewSuggestions creates a hidden popup over commands.
func NewSuggestions(commands []CommandDef) Suggestions {
	return Suggestions{Commands: commands}
}

// SetCommands replaces the command list and re-filters an open popup.
func (s *Suggestions) SetCommands(commands []CommandDef) {
	s.Commands = commands
	if s.Visible {
		s.Filter(s.query)
	}
}

func (s *Suggestions) SetWidth(w int) { s.width = w }

// Filter ranks commands against the typed "/name" text. Names starting with
// the query come first, then names containing it, then descriptions
// containing it.
func (s *Suggestions) Filter(typed string) {
	s.query = strings.ToLower(strings.TrimPrefix(typed, "/"))

	var prefix, inName, inDesc []CommandDef
	for _, c := range s.Commands {
		name := strings.ToLower(strings.TrimPrefix(c.Name, "/"))
		switch {
		case strings.HasPrefix(name, s.query):
			prefix = append(prefix, c)
		case strings.Contains(name, s.query):
			inName = append(inName, c)
		case strings.Contains(strings.ToLower(c.Description), s.query):
			inDesc = append(inDesc, c)
		}
	}
	s.Matches = append(append(prefix, inName...), inDesc...)
	s.Visible = len(s.Matches) > 0
	if s.Selected >= len(s.Matches) {
		s.Selected = 0
	}
}

func (s *Suggestions) Hide() {
	s.Visible = false
	s.Matches = nil
	s.query = ""
	s.Selected = 0
}

func (s *Suggestions) Next() {
	if n := len(s.Matches); n > 0 {
		s.Selected = (s.Selected + 1) % n
	}
}

func (s *Suggestions) Prev() {
	if n := len(s.Matches); n > 0 {
		s.Selected = (s.Selected - 1 + n) % n
	}
}

// Accept returns the selected name and hides the popup.
func (s *Suggestions) Accept() string {
	if len(s.Matches) == 0 {
		return ""
	}
	name := s.Matches[s.Selected].Name
	s.Hide()
	return name
}

// Height is the number of lines View occupies.
func (s Suggestions) Height() int {
	if !s.Visible {
		return 0
	}
	return min(len(s.Matches), suggestLimit) + 2
}

func (s Suggestions) View() string {
	if !s.Visible || len(s.Matches) == 0 {
		return ""
	}

	// Keep the selection inside the visible window.
	start := 0
	if s.Selected >= suggestLimit {
		start = s.Selected - suggestLimit + 1
	}
	end := min(start+suggestLimit, len(s.Matches))

	descWidth := max(s.width-4, 30) - nameColumn - 14
	lines := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		c := s.Matches[i]
		name := c.Name
		if pad := nameColumn - lipgloss.Width(name); pad > 0 {
			name += strings.Repeat(" ", pad)
		}
		desc := c.Description
		if r := []rune(desc); descWidth > 0 && len(r) > descWidth {
			desc = string(r[:descWidth-1]) + theme.Glyphs.More
		}

		line := name + " " + theme.Quiet.Render(desc)
		if c.Origin != "" && c.Origin != OriginTerminal {
			line += " " + theme.Dim.Render("["+string(c.Origin)+"]")
		}
		if i == s.Selected {
			line = theme.Prompt.Render(theme.Glyphs.Selected+" ") + line
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}
	return theme.Question.Render(strings.Join(lines, "\n"))
}
