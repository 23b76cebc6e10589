package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"anvil/internal/domain"
)

// Compile-time check: Manager implements domain.PluginHost.
var _ domain.PluginHost = (*Manager)(nil)

const defaultInitTimeout = 10 * time.Second

type observer struct {
	name string
	obs  EventObserver
}

// Manager manages the lifecycle of in-process plugins and owns the shared
// registries they populate.
type Manager struct {
	mu        sync.RWMutex
	plugins   map[string]Plugin
	manifests []Manifest
	observers []observer
	emit      func(domain.Event)
	logger    *slog.Logger

	tools    *ToolRegistry
	panes    *PaneRegistry
	state    *StateRegistry
	commands *CommandRegistry
}

// NewManager creates a plugin manager with empty registries.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		plugins:  make(map[string]Plugin),
		logger:   logger,
		tools:    NewToolRegistry(),
		panes:    &PaneRegistry{},
		state:    &StateRegistry{},
		commands: &CommandRegistry{},
	}
}

// SetEmitter wires the function plugins use to inject events. It is set once
// the orchestrator exists, before plugins are loaded.
func (m *Manager) SetEmitter(fn func(domain.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emit = fn
}

// Load initialises and registers a plugin.
func (m *Manager) Load(p Plugin) error {
	manifest := p.Manifest()
	if manifest.Name == "" {
		return fmt.Errorf("%w: plugin manifest has no name", domain.ErrInvalidInput)
	}

	// Pre-check: reject duplicate names before Init.
	m.mu.RLock()
	_, exists := m.plugins[manifest.Name]
	m.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicate, manifest.Name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultInitTimeout)
	defer cancel()

	pc := &Context{
		Tools:    m.tools,
		Panes:    m.panes,
		State:    m.state,
		Commands: m.commands,
		Logger:   m.logger.With("plugin", manifest.Name),
		emit:     m.emitEvent,
	}
	if err := p.Init(ctx, pc); err != nil {
		return fmt.Errorf("init plugin %q: %w", manifest.Name, err)
	}

	m.mu.Lock()
	if _, exists := m.plugins[manifest.Name]; exists {
		m.mu.Unlock()
		_ = p.Close()
		return fmt.Errorf("%w: %s", domain.ErrDuplicate, manifest.Name)
	}
	m.plugins[manifest.Name] = p
	m.manifests = append(m.manifests, manifest)
	if obs, ok := p.(EventObserver); ok {
		m.observers = append(m.observers, observer{name: manifest.Name, obs: obs})
	}
	m.mu.Unlock()

	m.logger.Info("plugin loaded", "name", manifest.Name, "version", manifest.Version)
	return nil
}

func (m *Manager) emitEvent(ev domain.Event) {
	m.mu.RLock()
	fn := m.emit
	m.mu.RUnlock()
	if fn == nil {
		m.logger.Warn("plugin emitted event before harness was ready", "event", string(ev.Type()))
		return
	}
	fn(ev)
}

// Notify delivers ev to every observing plugin in load order. A panicking
// observer is logged and skipped.
func (m *Manager) Notify(ev domain.Event) {
	m.mu.RLock()
	observers := make([]observer, len(m.observers))
	copy(observers, m.observers)
	m.mu.RUnlock()

	for _, o := range observers {
		m.deliver(o, ev)
	}
}

func (m *Manager) deliver(o observer, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("plugin observer panicked",
				"plugin", o.name,
				"event", string(ev.Type()),
				"panic", r,
			)
		}
	}()
	o.obs.OnEvent(ev)
}

// Command returns the plugin command with the given name.
func (m *Manager) Command(name string) (domain.PluginCommand, bool) {
	return m.commands.Get(name)
}

// Commands returns all plugin commands.
func (m *Manager) Commands() []domain.PluginCommand {
	return m.commands.List()
}

// Tools returns the shared tool registry.
func (m *Manager) Tools() *ToolRegistry { return m.tools }

// Panes returns the shared pane registry.
func (m *Manager) Panes() *PaneRegistry { return m.panes }

// State returns the shared state registry.
func (m *Manager) State() *StateRegistry { return m.state }

// List returns the manifests of loaded plugins in load order.
func (m *Manager) List() []Manifest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Manifest, len(m.manifests))
	copy(out, m.manifests)
	return out
}

// Shutdown closes all loaded plugins.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, manifest := range m.manifests {
		if err := m.plugins[manifest.Name].Close(); err != nil {
			m.logger.Warn("plugin close error during shutdown", "name", manifest.Name, "error", err)
			errs = append(errs, err)
		}
	}
	m.plugins = make(map[string]Plugin)
	m.manifests = nil
	m.observers = nil
	return errors.Join(errs...)
}
