package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"anvil/internal/adapter/tui/theme"
)

// SubmitMsg carries a submitted prompt.
type SubmitMsg struct {
	Text string
}

const historyLimit = 100

// PromptModel is the input line: a textarea with slash command suggestions
// and a recall history of submitted prompts.
type PromptModel struct {
	Textarea textarea.Model
	Suggest  Suggestions

	history []string
	recall  int    // index into history; len(history) when editing a draft
	draft   string // text typed before browsing started
}

func NewPrompt() PromptModel {
	ta := textarea.New()
	ta.Prompt = "> "
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Prompt = theme.Prompt
	ta.FocusedStyle.Placeholder = theme.Placeholder
	ta.Focus()
	return PromptModel{Textarea: ta}
}

func (m *PromptModel) SetWidth(w int) {
	m.Textarea.SetWidth(w - 2)
	m.Suggest.SetWidth(w)
}

func (m *PromptModel) SetPlaceholder(s string) { m.Textarea.Placeholder = s }

func (m PromptModel) Value() string { return m.Textarea.Value() }

// History returns the submitted prompts, oldest first.
func (m PromptModel) History() []string { return m.history }

// Update handles keys. Enter submits and Alt+Enter inserts a newline. Up on
// the first line and Down on the last line walk the history. While the
// suggestion popup is open, Tab and the arrows move through it and Enter
// accepts the selection.
func (m PromptModel) Update(msg tea.Msg) (PromptModel, tea.Cmd) {
	if _, ok := msg.(tea.MouseMsg); ok {
		return m, nil
	}

	if key, ok := msg.(tea.KeyMsg); ok {
		if m.Suggest.Visible {
			switch key.Type {
			case tea.KeyTab, tea.KeyDown:
				m.Suggest.Next()
				return m, nil
			case tea.KeyShiftTab, tea.KeyUp:
				m.Suggest.Prev()
				return m, nil
			case tea.KeyEnter:
				if name := m.Suggest.Accept(); name != "" {
					m.Textarea.SetValue(name + " ")
					m.Textarea.CursorEnd()
				}
				return m, nil
			case tea.KeyEsc:
				m.Suggest.Hide()
				return m, nil
			}
		}

		switch key.Type {
		case tea.KeyEnter:
			if key.Alt {
				m.Textarea.InsertString("\n")
				return m, nil
			}
			text := strings.TrimSpace(m.Textarea.Value())
			if text == "" {
				return m, nil
			}
			m.remember(text)
			m.Textarea.Reset()
			m.Suggest.Hide()
			return m, func() tea.Msg { return SubmitMsg{Text: text} }

		case tea.KeyUp:
			if m.Textarea.Line() == 0 && m.browse(-1) {
				return m, nil
			}

		case tea.KeyDown:
			if m.Textarea.Line() == m.Textarea.LineCount()-1 && m.browse(1) {
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	m.Textarea, cmd = m.Textarea.Update(msg)

	if v := m.Textarea.Value(); strings.HasPrefix(v, "/") && !strings.ContainsAny(v, " \n") {
		m.Suggest.Filter(v)
	} else {
		m.Suggest.Hide()
	}
	return m, cmd
}

func (m *PromptModel) remember(text string) {
	if n := len(m.history); n == 0 || m.history[n-1] != text {
		m.history = append(m.history, text)
		if len(m.history) > historyLimit {
			m.history = m.history[len(m.history)-historyLimit:]
		}
	}
	m.recall = len(m.history)
	m.draft = ""
}

// browse moves the recall cursor by delta and loads that entry. It reports
// false at either end.
func (m *PromptModel) browse(delta int) bool {
	next := m.recall + delta
	if next < 0 || next > len(m.history) {
		return false
	}
	if m.recall == len(m.history) {
		m.draft = m.Textarea.Value()
	}
	m.recall = next
	if next == len(m.history) {
		m.Textarea.SetValue(m.draft)
	} else {
		m.Textarea.SetValue(m.history[next])
	}
	m.Textarea.CursorEnd()
	return true
}

// View renders the popup, when open, above the textarea.
func (m PromptModel) View() string {
	if popup := m.Suggest.View(); popup != "" {
		return popup + "\n" + m.Textarea.View()
	}
	return m.Textarea.View()
}
