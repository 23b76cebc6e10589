package components

import (
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// TranscriptView is a viewport that follows new output while the user is at
// the bottom. Output that arrives while scrolled up is marked unseen until
// the user returns to the bottom.
type TranscriptView struct {
	Viewport viewport.Model
	content  string
	ready    bool
	follow   bool
	unseen   bool
}

func NewTranscriptView() TranscriptView {
	return TranscriptView{follow: true}
}

// SetSize sizes the viewport, creating it on first use.
func (v *TranscriptView) SetSize(w, h int) {
	if !v.ready {
		v.Viewport = viewport.New(w, h)
		v.Viewport.MouseWheelEnabled = true
		v.Viewport.MouseWheelDelta = 3
		v.ready = true
	} else {
		v.Viewport.Width = w
		v.Viewport.Height = h
	}
	v.Viewport.SetContent(v.content)
	if v.follow {
		v.Viewport.GotoBottom()
	}
}

// Width is 0 until the first SetSize.
func (v TranscriptView) Width() int {
	if !v.ready {
		return 0
	}
	return v.Viewport.Width
}

func (v *TranscriptView) SetContent(content string) {
	changed := content != v.content
	v.content = content
	if !v.ready {
		return
	}
	v.Viewport.SetContent(content)
	if v.follow {
		v.Viewport.GotoBottom()
	} else if changed {
		v.unseen = true
	}
}

// Unseen reports output that arrived while scrolled up.
func (v TranscriptView) Unseen() bool { return v.unseen }

// JumpToBottom scrolls to the end and resumes following.
func (v *TranscriptView) JumpToBottom() {
	v.follow, v.unseen = true, false
	if v.ready {
		v.Viewport.GotoBottom()
	}
}

func (v TranscriptView) Update(msg tea.Msg) (TranscriptView, tea.Cmd) {
	if !v.ready {
		return v, nil
	}
	var cmd tea.Cmd
	v.Viewport, cmd = v.Viewport.Update(msg)
	v.follow = v.Viewport.AtBottom()
	if v.follow {
		v.unseen = false
	}
	return v, cmd
}

func (v TranscriptView) View() string {
	if !v.ready {
		return "  Initializing..."
	}
	return v.Viewport.View()
}
