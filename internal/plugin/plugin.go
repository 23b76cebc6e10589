// Package plugin hosts in-process extensions. Plugins register tools, panes,
// state slices and commands at load time and observe every harness event
// after the reducer applied it. They cannot intercept or veto events.
package plugin

import (
	"context"
	"log/slog"

	"anvil/internal/domain"
)

// Manifest describes a plugin's identity.
type Manifest struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
}

// Plugin is the interface every in-process plugin must implement.
type Plugin interface {
	Manifest() Manifest
	Init(ctx context.Context, pc *Context) error
	Close() error
}

// EventObserver is implemented by plugins that want the event feed.
type EventObserver interface {
	OnEvent(ev domain.Event)
}

// Context is handed to a plugin during Init.
type Context struct {
	Tools    *ToolRegistry
	Panes    *PaneRegistry
	State    *StateRegistry
	Commands *CommandRegistry
	Logger   *slog.Logger

	emit func(domain.Event)
}

// Emit injects a synthetic event into the harness.
func (c *Context) Emit(ev domain.Event) {
	if c.emit != nil {
		c.emit(ev)
	}
}
