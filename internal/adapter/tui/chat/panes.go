package chat

import (
	"fmt"
	"strings"

	"anvil/internal/adapter/tui/theme"
	"anvil/internal/domain"
)

const (
	activityPaneID = "activity"
	sessionsPaneID = "sessions"
)

// activityPane shows what the agent reported about its work: intent, plan,
// todos, background tasks, subagents and skills.
type activityPane struct{}

func (activityPane) ID() string    { return activityPaneID }
func (activityPane) Title() string { return "Activity" }

func (activityPane) Render(st domain.HarnessState, width, _ int) string {
	var sections []string
	add := func(title, body string) {
		if body == "" {
			return
		}
		sections = append(sections, theme.Bold.Render(title)+"\n"+wrap(plain, body, width))
	}

	add("Intent", st.Intent)
	add("Plan", st.Plan)
	add("Todo", st.Todo)

	var tasks []string
	for _, t := range st.Tasks {
		tasks = append(tasks, theme.ForItem(t.Status).String()+" "+truncate(t.Description, width-2))
	}
	add("Tasks", strings.Join(tasks, "\n"))

	var subs []string
	for _, s := range st.Subagents {
		subs = append(subs, theme.ForItem(s.Status).String()+" "+truncate(s.Name, width-2))
	}
	add("Subagents", strings.Join(subs, "\n"))

	var skills []string
	for _, s := range st.Skills {
		skills = append(skills, fmt.Sprintf("%s x%d", s.Name, s.InvokeCount))
	}
	add("Skills", strings.Join(skills, "\n"))

	if len(sections) == 0 {
		return theme.Quiet.Render("Nothing yet")
	}
	return strings.Join(sections, "\n\n")
}

// sessionsPane lists stored sessions, newest first as the store returns them.
type sessionsPane struct{}

func (sessionsPane) ID() string    { return sessionsPaneID }
func (sessionsPane) Title() string { return "Sessions" }

func (sessionsPane) Render(st domain.HarnessState, width, _ int) string {
	if len(st.AvailableSessions) == 0 {
		return theme.Quiet.Render("No sessions")
	}
	lines := make([]string, 0, len(st.AvailableSessions))
	for _, s := range st.AvailableSessions {
		marker := "  "
		if s.ID == st.CurrentSessionID {
			marker = theme.Highlight.Render(theme.Glyphs.Selected) + " "
		}
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		line := marker + theme.Bold.Render(shortID(s.ID)) + " " + truncate(title, width-14)
		meta := fmt.Sprintf("%d msgs", s.MessageCount)
		if !s.UpdatedAt.IsZero() {
			meta += " " + theme.Glyphs.Bullet + " " + s.UpdatedAt.Format("Jan 2 15:04")
		}
		lines = append(lines, line+"\n    "+theme.Dim.Render(meta))
	}
	return strings.Join(lines, "\n")
}
