package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"anvil/internal/domain"
)

// run is one foreground or ephemeral prompt in flight.
type run struct {
	id        string
	sessionID string
	model     string
	ephemeral bool
	withTools bool
	live      func() bool
	messages  []domain.Message
}

type runKey struct{}

func withRun(ctx context.Context, r *run) context.Context {
	return context.WithValue(ctx, runKey{}, r)
}

func runFrom(ctx context.Context) (*run, bool) {
	r, ok := ctx.Value(runKey{}).(*run)
	return r, ok
}

// emitFor delivers ev only while r is the current run of its kind.
func (p *Provider) emitFor(r *run, ev domain.Event) bool {
	if !r.live() {
		return false
	}
	p.emit(ev)
	return true
}

func (p *Provider) request(r *run) domain.ChatRequest {
	req := domain.ChatRequest{Model: r.model, Messages: r.messages, Stream: true}
	if r.withTools {
		req.Tools = p.toolSchemas()
	}
	return req
}

func (p *Provider) toolSchemas() []domain.ToolSchema {
	names := make([]string, 0, len(p.builtin))
	for name := range p.builtin {
		names = append(names, name)
	}
	sort.Strings(names)
	schemas := make([]domain.ToolSchema, 0, len(names))
	for _, name := range names {
		schemas = append(schemas, p.builtin[name].Schema())
	}
	if p.tools != nil {
		for _, s := range p.tools.Schemas() {
			if _, shadowed := p.builtin[s.Name]; !shadowed {
				schemas = append(schemas, s)
			}
		}
	}
	return schemas
}

func (p *Provider) lookupTool(name string) (domain.Tool, error) {
	if t, ok := p.builtin[name]; ok {
		return t, nil
	}
	if p.tools == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrToolNotFound, name)
	}
	return p.tools.Get(name)
}

// turn is one assistant reply assembled from a stream.
type turn struct {
	content   string
	reasoning string
	toolCalls []domain.ToolCall
	usage     *domain.Usage
}

// runLoop drives a run to its end: stream, execute requested tools, stream
// again, until the model answers without tool calls.
func (p *Provider) runLoop(ctx context.Context, r *run, stream <-chan domain.StreamDelta) {
	ctx = withRun(ctx, r)
	for iter := 1; ; iter++ {
		t, err := p.consume(ctx, r, stream)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.fail(r, err)
			return
		}
		if len(t.toolCalls) == 0 {
			p.complete(r, t)
			return
		}
		if iter >= p.maxIter {
			p.fail(r, fmt.Errorf("%w (%d)", domain.ErrMaxIterations, p.maxIter))
			return
		}

		// Text that preceded the tool calls closes as its own message.
		if t.content != "" || t.reasoning != "" {
			p.emitFor(r, domain.MessageFinal{RunID: r.id, MessageID: ulid.Make().String(), At: time.Now()})
		}
		r.messages = append(r.messages, domain.Message{
			Role:      domain.RoleAssistant,
			Content:   t.content,
			ToolCalls: t.toolCalls,
			Timestamp: time.Now(),
		})
		for _, call := range t.toolCalls {
			out := p.runTool(ctx, r, call)
			r.messages = append(r.messages, domain.Message{
				Role:      domain.RoleTool,
				Content:   out,
				ToolCalls: []domain.ToolCall{{ID: call.ID, Name: call.Name}},
				Timestamp: time.Now(),
			})
		}
		if ctx.Err() != nil {
			return
		}

		var meta domain.StreamMeta
		stream, meta, err = p.client.ChatStream(ctx, p.request(r))
		if err != nil {
			if ctx.Err() == nil {
				p.fail(r, err)
			}
			return
		}
		p.reportQuota(meta)
	}
}

// consume reads one assistant turn, forwarding text and reasoning deltas.
// Tool call fragments are merged by index.
func (p *Provider) consume(ctx context.Context, r *run, stream <-chan domain.StreamDelta) (turn, error) {
	var (
		content, reasoning strings.Builder
		calls              = map[int]*domain.ToolCall{}
		order              []int
		t                  turn
	)

loop:
	for {
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case d, ok := <-stream:
			if !ok {
				break loop
			}
			if d.Err != nil {
				return t, d.Err
			}
			if d.Thinking != "" {
				reasoning.WriteString(d.Thinking)
				p.emitFor(r, domain.ReasoningDelta{RunID: r.id, Delta: d.Thinking})
			}
			if d.Content != "" {
				content.WriteString(d.Content)
				p.emitFor(r, domain.MessageDelta{RunID: r.id, Delta: d.Content})
			}
			for _, frag := range d.ToolCalls {
				tc, seen := calls[frag.Index]
				if !seen {
					tc = &domain.ToolCall{Index: frag.Index}
					calls[frag.Index] = tc
					order = append(order, frag.Index)
				}
				if frag.ID != "" {
					tc.ID = frag.ID
				}
				if frag.Name != "" {
					tc.Name = frag.Name
				}
				tc.Arguments = append(tc.Arguments, frag.Arguments...)
			}
			if d.Usage != nil {
				t.usage = d.Usage
			}
			if d.Done {
				break loop
			}
		}
	}

	t.content = content.String()
	t.reasoning = reasoning.String()
	for _, idx := range order {
		tc := *calls[idx]
		if tc.ID == "" {
			tc.ID = fmt.Sprintf("call_%d_%s", idx, ulid.Make().String())
		}
		if len(tc.Arguments) == 0 {
			tc.Arguments = json.RawMessage("{}")
		}
		t.toolCalls = append(t.toolCalls, tc)
	}
	return t, nil
}

// runTool executes one call and returns the text fed back to the model.
func (p *Provider) runTool(ctx context.Context, r *run, call domain.ToolCall) string {
	p.emitFor(r, domain.ToolStarted{
		RunID:      r.id,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Arguments:  slices.Clone(call.Arguments),
		At:         time.Now(),
	})

	var (
		res *domain.ToolResult
		err error
	)
	tool, err := p.lookupTool(call.Name)
	if err == nil {
		progress := func(msg string) {
			p.emitFor(r, domain.ToolProgress{RunID: r.id, ToolCallID: call.ID, Message: msg})
		}
		res, err = tool.Execute(ctx, call.Arguments, progress)
	}

	done := domain.ToolCompleted{RunID: r.id, ToolCallID: call.ID, At: time.Now()}
	var out string
	switch {
	case err != nil:
		done.Error = err.Error()
		out = "error: " + err.Error()
		p.logger.Debug("tool failed", "tool", call.Name, "run_id", r.id, "error", err)
	case res == nil:
		done.Success = true
	case res.IsError:
		done.Error = res.Content
		out = "error: " + res.Content
	default:
		done.Success = true
		done.Output = res.Content
		out = res.Content
	}
	p.emitFor(r, done)
	return out
}

// complete closes a run that ended with a plain answer.
func (p *Provider) complete(r *run, t turn) {
	now := time.Now()
	if !p.emitFor(r, domain.MessageFinal{RunID: r.id, MessageID: ulid.Make().String(), Content: t.content, At: now}) {
		return
	}
	if r.ephemeral {
		p.emitFor(r, domain.RunFinished{RunID: r.id, At: now})
		return
	}

	r.messages = append(r.messages, domain.Message{
		Role:      domain.RoleAssistant,
		Content:   t.content,
		Reasoning: t.reasoning,
		Timestamp: now,
	})

	p.mu.Lock()
	var history []domain.Message
	if p.sessionID == r.sessionID {
		history = r.messages
		if len(history) > 0 && history[0].Role == domain.RoleSystem {
			history = history[1:]
		}
		p.history = slices.Clone(history)
	}
	limit := p.tokenLimitLocked(r.model)
	p.mu.Unlock()

	p.persist(r.sessionID, domain.ChatMessage{
		Role:      domain.RoleAssistant,
		Content:   t.content,
		Reasoning: t.reasoning,
		At:        now,
	})

	tokens := p.counter(r.messages)
	if t.usage != nil && t.usage.TotalTokens > 0 {
		tokens = t.usage.TotalTokens
	}
	p.emitFor(r, domain.UsageInfo{CurrentTokens: tokens, TokenLimit: limit, MessagesLength: len(history)})
	p.emitFor(r, domain.RunFinished{RunID: r.id, At: now})
}

func (p *Provider) fail(r *run, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	p.logger.Warn("run failed",
		"run_id", r.id,
		"ephemeral", r.ephemeral,
		"code", domain.ErrorCodeOf(err),
		"retryable", domain.IsRetryableError(err),
		"error", err,
	)
	what := "Run failed: "
	if r.ephemeral {
		what = "Side question failed: "
	}
	if p.emitFor(r, domain.NewLog(domain.LogError, what+err.Error())) {
		p.emitFor(r, domain.RunFinished{RunID: r.id, Error: err.Error(), At: time.Now()})
	}
}
