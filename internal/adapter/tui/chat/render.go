package chat

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"anvil/internal/adapter/tui/theme"
	"anvil/internal/domain"
)

const (
	toolPreviewLines = 4
	queuePreviewLen  = 60
)

var plain = lipgloss.NewStyle()

// entry is one rendered block of the transcript view.
type entry struct {
	at   time.Time
	text string
}

// renderTranscript renders messages, tool calls and visible logs in time
// order, followed by the in-flight stream, the queue and the side question.
func renderTranscript(st domain.HarnessState, width int, notice string) string {
	var entries []entry
	for _, item := range st.Transcript {
		switch it := item.(type) {
		case domain.ChatMessage:
			entries = append(entries, entry{at: it.At, text: renderMessage(it, width)})
		case domain.ToolCallItem:
			entries = append(entries, entry{at: it.StartedAt, text: renderTool(it, width)})
		}
	}
	for _, l := range st.Logs {
		if l.Level == domain.LogDebug {
			continue
		}
		entries = append(entries, entry{at: l.At, text: renderLog(l, width)})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })

	blocks := make([]string, 0, len(entries)+4)
	for _, e := range entries {
		blocks = append(blocks, e.text)
	}

	if st.Status == domain.StatusRunning {
		if s := renderStreaming(st.StreamingReasoning, st.StreamingContent, width); s != "" {
			blocks = append(blocks, s)
		}
	}
	if len(st.MessageQueue) > 0 {
		blocks = append(blocks, renderQueue(st.MessageQueue))
	}
	if st.EphemeralRun != nil {
		blocks = append(blocks, renderEphemeral(st.EphemeralRun, width))
	}
	if notice != "" {
		blocks = append(blocks, theme.Notice.Render(notice))
	}

	if len(blocks) == 0 {
		return theme.Quiet.Render("Ask anything. /commands lists skills, /btw asks a side question.")
	}
	return strings.Join(blocks, "\n\n")
}

func renderMessage(msg domain.ChatMessage, width int) string {
	var label string
	switch msg.Role {
	case domain.RoleUser:
		label = theme.User.Render(theme.UserLabel)
	case domain.RoleAssistant:
		label = theme.Assistant.Render(theme.AssistantLabel)
	default:
		label = theme.Quiet.Render(msg.Role)
	}
	if !msg.At.IsZero() {
		label += " " + theme.Clock.Render(msg.At.Format("15:04"))
	}

	content := msg.Content
	if msg.DisplayContent != "" {
		content = msg.DisplayContent
	}

	var b strings.Builder
	b.WriteString(label)
	if msg.Reasoning != "" {
		b.WriteString("\n" + wrap(theme.Dim, msg.Reasoning, width))
	}
	b.WriteString("\n" + wrap(plain, content, width))
	return b.String()
}

func renderStreaming(reasoning, content string, width int) string {
	if reasoning == "" && content == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString(theme.Assistant.Render(theme.AssistantLabel))
	if reasoning != "" {
		b.WriteString("\n" + wrap(theme.Dim, reasoning, width))
	}
	if content != "" {
		b.WriteString("\n" + wrap(plain, content, width))
	}
	return b.String()
}

func renderTool(t domain.ToolCallItem, width int) string {
	line := theme.ForItem(t.Status).String() + " " + theme.ToolName.Render(t.ToolName)
	if t.Status == domain.ItemRunning && len(t.Progress) > 0 {
		line += " " + theme.Dim.Render(t.Progress[len(t.Progress)-1])
	}
	if !t.CompletedAt.IsZero() && !t.StartedAt.IsZero() {
		line += " " + theme.Clock.Render(t.CompletedAt.Sub(t.StartedAt).Round(time.Millisecond).String())
	}

	switch {
	case t.Error != "":
		line += "\n" + indent(wrap(theme.Failure, firstLines(t.Error, toolPreviewLines), width-2))
	case t.Output != "":
		line += "\n" + indent(wrap(theme.Dim, firstLines(t.Output, toolPreviewLines), width-2))
	}
	return line
}

func renderLog(l domain.LogEntry, width int) string {
	return theme.ForLog(l.Level).String() + " " + wrap(theme.Quiet, l.Message, width-2)
}

func renderQueue(queue []string) string {
	lines := []string{theme.Quiet.Render(fmt.Sprintf("Queued (%d)", len(queue)))}
	for _, text := range queue {
		lines = append(lines, theme.Dim.Render("  "+theme.Glyphs.Bullet+" "+truncate(text, queuePreviewLen)))
	}
	return strings.Join(lines, "\n")
}

func renderEphemeral(er *domain.EphemeralRun, width int) string {
	inner := width - 4
	lines := []string{theme.Highlight.Render("Side question") + " " + theme.Dim.Render(truncate(er.Prompt, queuePreviewLen))}
	for _, msg := range er.Transcript {
		if msg.Role == domain.RoleUser {
			continue
		}
		lines = append(lines, wrap(plain, msg.Content, inner))
	}
	if er.StreamingContent != "" {
		lines = append(lines, wrap(plain, er.StreamingContent, inner))
	}
	switch er.Status {
	case domain.ItemRunning:
		lines = append(lines, theme.Dim.Render("working"+theme.Glyphs.More))
	case domain.ItemFailed:
		lines = append(lines, theme.Failure.Render(er.Error))
	default:
		lines = append(lines, theme.Dim.Render("Esc or /close to dismiss"))
	}

	box := theme.Ephemeral
	if inner > 0 {
		box = box.Width(width - 2)
	}
	return box.Render(strings.Join(lines, "\n"))
}

// renderQuestion renders a pending question with its choices; choice is the
// highlighted index.
func renderQuestion(q *domain.QuestionRequest, choice, width int) string {
	lines := []string{theme.Notice.Render(theme.Glyphs.Question+" ") + theme.Bold.Render(q.Question)}
	for i, c := range q.Choices {
		if i == choice {
			lines = append(lines, theme.Highlight.Render(theme.Glyphs.Selected+" "+c))
		} else {
			lines = append(lines, "  "+c)
		}
	}

	var hint string
	switch {
	case len(q.Choices) > 0 && q.AllowFreeform:
		hint = "Up/Down to choose, Enter to answer, or type your own"
	case len(q.Choices) > 0:
		hint = "Up/Down to choose, Enter to answer"
	default:
		hint = "Type an answer and press Enter"
	}
	lines = append(lines, theme.Dim.Render(hint))

	box := theme.Question
	if width > 4 {
		box = box.Width(width - 2)
	}
	return box.Render(strings.Join(lines, "\n"))
}

// contextLabel summarizes token usage and the request quota.
func contextLabel(ci domain.ContextInfo) string {
	var parts []string
	switch {
	case ci.TokenLimit > 0:
		parts = append(parts, formatTokens(ci.CurrentTokens)+"/"+formatTokens(ci.TokenLimit)+" tok")
	case ci.CurrentTokens > 0:
		parts = append(parts, formatTokens(ci.CurrentTokens)+" tok")
	}
	if ci.QuotaReported {
		parts = append(parts, fmt.Sprintf("%d req left", ci.RemainingPremiumRequests))
	}
	return strings.Join(parts, " ")
}

func formatTokens(n int) string {
	switch {
	case n >= 1_000_000:
		return trimZero(fmt.Sprintf("%.1f", float64(n)/1_000_000)) + "M"
	case n >= 1000:
		return trimZero(fmt.Sprintf("%.1f", float64(n)/1000)) + "k"
	default:
		return fmt.Sprintf("%d", n)
	}
}

func trimZero(s string) string {
	return strings.TrimSuffix(s, ".0")
}

// sessionLabel names the current session by title, falling back to a
// short id.
func sessionLabel(st domain.HarnessState) string {
	for _, s := range st.AvailableSessions {
		if s.ID == st.CurrentSessionID && s.Title != "" {
			return truncate(s.Title, 24)
		}
	}
	return shortID(st.CurrentSessionID)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func wrap(style lipgloss.Style, s string, width int) string {
	if width > 0 {
		style = style.Width(width)
	}
	return style.Render(s)
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}

func firstLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:n], "\n") + "\n" + theme.Glyphs.More + fmt.Sprintf(" %d more lines", len(lines)-n)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); n > 0 && len(r) > n {
		return string(r[:n]) + theme.Glyphs.More
	}
	return s
}
