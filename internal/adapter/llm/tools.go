package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"anvil/internal/domain"
)

// Tools the provider itself implements. They reach back into the harness:
// asking the user, running a nested completion, or updating scratch state.
const (
	ToolAskUser       = "ask_user"
	ToolSpawnSubagent = "spawn_subagent"
	ToolReportIntent  = "report_intent"
	ToolUpdatePlan    = "update_plan"
	ToolUpdateTodos   = "update_todos"
)

const subagentSystemPrompt = "You are a focused sub-agent. Complete the task you are given and reply with the result only."

func builtinTools(p *Provider) map[string]domain.Tool {
	tools := []domain.Tool{
		&askUserTool{p: p},
		&subagentTool{p: p},
		&scratchTool{p: p, name: ToolReportIntent, field: "intent",
			desc: "Report in a few words what you are currently doing."},
		&scratchTool{p: p, name: ToolUpdatePlan, field: "plan",
			desc: "Replace the current plan shown to the user."},
		&scratchTool{p: p, name: ToolUpdateTodos, field: "todos",
			desc: "Replace the todo checklist shown to the user."},
	}
	out := make(map[string]domain.Tool, len(tools))
	for _, t := range tools {
		out[t.Name()] = t
	}
	return out
}

func decodeArgs(params json.RawMessage, v any) error {
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// --- ask_user ---

type askUserTool struct{ p *Provider }

type askUserArgs struct {
	Question      string   `json:"question"`
	Choices       []string `json:"choices"`
	AllowFreeform *bool    `json:"allow_freeform"`
}

func (t *askUserTool) Name() string { return ToolAskUser }
func (t *askUserTool) Description() string {
	return "Ask the user a question and wait for the answer. Offer choices when the options are known."
}

func (t *askUserTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        ToolAskUser,
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"question": {"type": "string"},
				"choices": {"type": "array", "items": {"type": "string"}},
				"allow_freeform": {"type": "boolean"}
			},
			"required": ["question"]
		}`),
	}
}

func (t *askUserTool) Execute(ctx context.Context, params json.RawMessage, _ domain.ProgressFunc) (*domain.ToolResult, error) {
	var args askUserArgs
	if err := decodeArgs(params, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Question) == "" {
		return &domain.ToolResult{Content: "question is required", IsError: true}, nil
	}

	t.p.mu.Lock()
	ask := t.p.askUser
	t.p.mu.Unlock()
	if ask == nil {
		return &domain.ToolResult{Content: "no user is available to answer", IsError: true}, nil
	}

	freeform := len(args.Choices) == 0
	if args.AllowFreeform != nil {
		freeform = *args.AllowFreeform || len(args.Choices) == 0
	}
	resp, err := ask(ctx, domain.UserInputRequest{
		Question:      args.Question,
		Choices:       args.Choices,
		AllowFreeform: freeform,
	})
	if err != nil {
		if errors.Is(err, domain.ErrQuestionCancelled) {
			return &domain.ToolResult{Content: "the user did not answer", IsError: true}, nil
		}
		return nil, err
	}
	return &domain.ToolResult{Content: resp.Answer}, nil
}

// --- spawn_subagent ---

type subagentTool struct{ p *Provider }

type subagentArgs struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

func (t *subagentTool) Name() string { return ToolSpawnSubagent }
func (t *subagentTool) Description() string {
	return "Delegate a self-contained task to a sub-agent and receive its answer."
}

func (t *subagentTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        ToolSpawnSubagent,
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"description": {"type": "string"},
				"prompt": {"type": "string"}
			},
			"required": ["prompt"]
		}`),
	}
}

func (t *subagentTool) Execute(ctx context.Context, params json.RawMessage, progress domain.ProgressFunc) (*domain.ToolResult, error) {
	var args subagentArgs
	if err := decodeArgs(params, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Prompt) == "" {
		return &domain.ToolResult{Content: "prompt is required", IsError: true}, nil
	}
	r, ok := runFrom(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: %s outside a run", domain.ErrInvalidInput, ToolSpawnSubagent)
	}
	if args.Name == "" {
		args.Name = "subagent"
	}

	id := ulid.Make().String()
	t.p.emitFor(r, domain.SubagentStarted{
		RunID:       r.id,
		SubagentID:  id,
		Name:        args.Name,
		Description: args.Description,
		At:          time.Now(),
	})
	if progress != nil {
		progress("sub-agent " + args.Name + " working")
	}

	resp, err := t.p.client.Chat(ctx, domain.ChatRequest{
		Model: r.model,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: subagentSystemPrompt},
			{Role: domain.RoleUser, Content: args.Prompt},
		},
	})
	done := domain.SubagentCompleted{RunID: r.id, SubagentID: id, Success: err == nil, At: time.Now()}
	if err != nil {
		done.Error = err.Error()
	}
	t.p.emitFor(r, done)
	if err != nil {
		return &domain.ToolResult{Content: "sub-agent failed: " + err.Error(), IsError: true}, nil
	}
	return &domain.ToolResult{Content: resp.Message.Content}, nil
}

// --- intent / plan / todos ---

type scratchTool struct {
	p     *Provider
	name  string
	field string
	desc  string
}

func (t *scratchTool) Name() string        { return t.name }
func (t *scratchTool) Description() string { return t.desc }

func (t *scratchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.name,
		Description: t.desc,
		Parameters: json.RawMessage(fmt.Sprintf(
			`{"type":"object","properties":{%q:{"type":"string"}},"required":[%q]}`, t.field, t.field)),
	}
}

func (t *scratchTool) Execute(ctx context.Context, params json.RawMessage, _ domain.ProgressFunc) (*domain.ToolResult, error) {
	var args map[string]any
	if err := decodeArgs(params, &args); err != nil {
		return nil, err
	}
	text, _ := args[t.field].(string)
	r, ok := runFrom(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: %s outside a run", domain.ErrInvalidInput, t.name)
	}

	var ev domain.Event
	switch t.name {
	case ToolReportIntent:
		ev = domain.IntentUpdated{RunID: r.id, Intent: text}
	case ToolUpdatePlan:
		ev = domain.PlanUpdated{RunID: r.id, Plan: text}
	default:
		ev = domain.TodoUpdated{RunID: r.id, Todo: text}
	}
	t.p.emitFor(r, ev)
	return &domain.ToolResult{Content: "ok"}, nil
}
