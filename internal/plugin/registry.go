package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"anvil/internal/domain"
)

// Compile-time check: ToolRegistry implements domain.ToolExecutor.
var _ domain.ToolExecutor = (*ToolRegistry)(nil)

// ToolRegistry holds named tool handlers. Handlers with a parameter schema
// are wrapped so arguments are validated before Execute runs.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]domain.Tool
	order []string
}

// NewToolRegistry creates an empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]domain.Tool)}
}

// Register adds a tool. Names must be unique.
func (r *ToolRegistry) Register(t domain.Tool) error {
	wrapped, err := withSchemaValidation(t)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("%w: tool %s", domain.ErrDuplicate, t.Name())
	}
	r.tools[t.Name()] = wrapped
	r.order = append(r.order, t.Name())
	return nil
}

// Get returns the tool with the given name.
func (r *ToolRegistry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// Schemas returns the schemas of all tools in registration order.
func (r *ToolRegistry) Schemas() []domain.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Schema())
	}
	return out
}

// schemaValidatingTool validates params against the tool's JSON Schema before
// delegating to the inner tool.
type schemaValidatingTool struct {
	domain.Tool
	schema *jsonschema.Schema
}

func withSchemaValidation(t domain.Tool) (domain.Tool, error) {
	raw := t.Schema().Parameters
	if len(raw) == 0 || string(raw) == "null" {
		return t, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", t.Name(), err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", t.Name(), err)
	}
	return &schemaValidatingTool{Tool: t, schema: compiled}, nil
}

func (s *schemaValidatingTool) Execute(ctx context.Context, params json.RawMessage, progress domain.ProgressFunc) (*domain.ToolResult, error) {
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	var v interface{}
	if err := json.Unmarshal(params, &v); err != nil {
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("invalid JSON: %v", err)}, nil
	}
	if err := s.schema.Validate(v); err != nil {
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("schema validation failed: %v", err)}, nil
	}
	return s.Tool.Execute(ctx, params, progress)
}

// PaneRegistry holds named UI panes in registration order.
type PaneRegistry struct {
	mu    sync.RWMutex
	panes []domain.Pane
}

// Register adds a pane. IDs must be unique.
func (r *PaneRegistry) Register(p domain.Pane) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.panes {
		if existing.ID() == p.ID() {
			return fmt.Errorf("%w: pane %s", domain.ErrDuplicate, p.ID())
		}
	}
	r.panes = append(r.panes, p)
	return nil
}

// List returns all panes in registration order.
func (r *PaneRegistry) List() []domain.Pane {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Pane, len(r.panes))
	copy(out, r.panes)
	return out
}

// CommandRegistry holds named zero-argument plugin commands.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]domain.PluginCommand
}

// Register adds a command. Names must be unique.
func (r *CommandRegistry) Register(cmd domain.PluginCommand) error {
	if cmd.Name == "" || cmd.Run == nil {
		return fmt.Errorf("%w: command needs a name and a Run func", domain.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commands == nil {
		r.commands = make(map[string]domain.PluginCommand)
	}
	if _, exists := r.commands[cmd.Name]; exists {
		return fmt.Errorf("%w: command %s", domain.ErrDuplicate, cmd.Name)
	}
	r.commands[cmd.Name] = cmd
	return nil
}

// Get returns the command with the given name.
func (r *CommandRegistry) Get(name string) (domain.PluginCommand, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// List returns all commands sorted by name.
func (r *CommandRegistry) List() []domain.PluginCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PluginCommand, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
