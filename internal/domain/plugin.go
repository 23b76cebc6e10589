package domain

import "context"

// Pane is a named UI panel contributed by a plugin.
type Pane interface {
	ID() string
	Title() string
	Render(state HarnessState, width, height int) string
}

// PluginCommand is a named zero-argument command contributed by a plugin.
type PluginCommand struct {
	Name        string
	Description string
	Run         func(ctx context.Context) error
}

// PluginHost is the part of the plugin manager the orchestrator drives.
type PluginHost interface {
	// Notify delivers an event to every observing plugin in load order,
	// after the reducer applied it.
	Notify(ev Event)
	Command(name string) (PluginCommand, bool)
	Commands() []PluginCommand
}
