package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"anvil/internal/domain"
)

// CurrentTimeTool reports the current time, optionally in a named zone.
type CurrentTimeTool struct {
	now func() time.Time
}

// NewCurrentTimeTool creates the current_time tool. A nil now uses time.Now.
func NewCurrentTimeTool(now func() time.Time) *CurrentTimeTool {
	if now == nil {
		now = time.Now
	}
	return &CurrentTimeTool{now: now}
}

func (t *CurrentTimeTool) Name() string { return "current_time" }
func (t *CurrentTimeTool) Description() string {
	return "Returns the current date and time in RFC 3339 format"
}

func (t *CurrentTimeTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"timezone": {"type": "string", "description": "IANA zone name, e.g. Europe/Berlin. Defaults to local time."}
			},
			"additionalProperties": false
		}`),
	}
}

type currentTimeParams struct {
	Timezone string `json:"timezone"`
}

func (t *CurrentTimeTool) Execute(_ context.Context, params json.RawMessage, _ domain.ProgressFunc) (*domain.ToolResult, error) {
	var p currentTimeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("invalid params: %v", err)}, nil
		}
	}
	now := t.now()
	if p.Timezone != "" {
		loc, err := time.LoadLocation(p.Timezone)
		if err != nil {
			return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("unknown timezone %q", p.Timezone)}, nil
		}
		now = now.In(loc)
	}
	return &domain.ToolResult{Content: now.Format(time.RFC3339)}, nil
}
