package chat

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"anvil/internal/adapter/tui/components"
	"anvil/internal/domain"
)

// localCommands are handled by the terminal itself. Everything else is
// submitted as a prompt and resolved by the orchestrator.
var localCommands = []components.CommandDef{
	{Name: "/btw", Description: "Ask a side question", Origin: components.OriginTerminal},
	{Name: "/close", Description: "Close the side question", Origin: components.OriginTerminal},
	{Name: "/model", Description: "Show or change the model", Origin: components.OriginTerminal},
	{Name: "/new", Description: "Start a new session", Origin: components.OriginTerminal},
	{Name: "/quit", Description: "Exit anvil", Origin: components.OriginTerminal},
	{Name: "/sessions", Description: "Show sessions", Origin: components.OriginTerminal},
	{Name: "/switch", Description: "Switch session by id prefix", Origin: components.OriginTerminal},
}

// dispatchCmd runs action off the update loop.
func dispatchCmd(ctx context.Context, h Harness, action domain.Action) tea.Cmd {
	return func() tea.Msg {
		return DispatchDoneMsg{Err: h.Dispatch(ctx, action)}
	}
}

func ephemeralCmd(ctx context.Context, h Harness, prompt string) tea.Cmd {
	return func() tea.Msg {
		h.RunEphemeralPrompt(ctx, prompt, domain.EphemeralOptions{})
		return nil
	}
}

// handleLocalCommand runs a terminal command. ok is false when text should
// go to the harness instead.
func (m Model) handleLocalCommand(text string) (Model, tea.Cmd, bool) {
	parsed, isCmd := domain.ParseSlashCommand(text)
	if !isCmd {
		return m, nil, false
	}

	switch parsed.Name {
	case "quit", "exit":
		m.quitting = true
		return m, tea.Quit, true

	case "new":
		return m, m.dispatch(domain.NewSession{}), true

	case "model":
		if parsed.Args == "" {
			m.notice = "Current model: " + orDash(m.state.CurrentModel)
			return m, nil, true
		}
		return m, m.dispatch(domain.ChangeModel{ModelID: parsed.Args}), true

	case "sessions":
		m.showPane(sessionsPaneID)
		return m, m.dispatch(domain.RefreshSessions{}), true

	case "switch":
		if parsed.Args == "" {
			m.notice = "Usage: /switch <session id>"
			return m, nil, true
		}
		id, err := m.resolveSession(parsed.Args)
		if err != nil {
			m.notice = err.Error()
			return m, nil, true
		}
		return m, m.dispatch(domain.SwitchSession{SessionID: id}), true

	case "btw":
		if parsed.Args == "" {
			m.notice = "Usage: /btw <question>"
			return m, nil, true
		}
		return m, ephemeralCmd(m.ctx, m.deps.Harness, parsed.Args), true

	case "close":
		return m, m.dispatch(domain.CloseEphemeral{}), true
	}
	return m, nil, false
}

// resolveSession matches a full id or a unique id prefix against the known
// sessions.
func (m Model) resolveSession(ref string) (string, error) {
	var matches []string
	for _, s := range m.state.AvailableSessions {
		if s.ID == ref {
			return s.ID, nil
		}
		if strings.HasPrefix(s.ID, ref) {
			matches = append(matches, s.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no session matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches %d sessions", ref, len(matches))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
