package llm

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anvil/internal/domain"
)

func TestSendPromptStreamsAnswer(t *testing.T) {
	client := newScriptedClient([]domain.StreamDelta{
		{Thinking: "hmm"},
		{Content: "Hel"},
		{Content: "lo"},
		{Usage: &domain.Usage{TotalTokens: 42}},
		{Done: true},
	})
	client.meta = domain.StreamMeta{RemainingRequests: 7}
	h := newHarness(t, client, nil, 0)

	require.NoError(t, h.p.SendPrompt(context.Background(), "hi", "run-1", nil))
	h.events.waitFor(t, domain.EventRunFinished)

	assert.Equal(t, []domain.EventType{
		domain.EventQuotaInfo,
		domain.EventReasoningDelta,
		domain.EventMessageDelta,
		domain.EventMessageDelta,
		domain.EventMessageFinal,
		domain.EventUsageInfo,
		domain.EventRunFinished,
	}, h.events.types())

	final, _ := eventOf[domain.MessageFinal](h.events)
	assert.Equal(t, "run-1", final.RunID)
	assert.Equal(t, "Hello", final.Content)

	usage, _ := eventOf[domain.UsageInfo](h.events)
	assert.Equal(t, domain.UsageInfo{CurrentTokens: 42, TokenLimit: 8000, MessagesLength: 2}, usage)

	quota, _ := eventOf[domain.QuotaInfo](h.events)
	assert.Equal(t, 7, quota.RemainingPremiumRequests)

	done, _ := eventOf[domain.RunFinished](h.events)
	assert.Empty(t, done.Error)

	req := h.client.request(0)
	assert.Equal(t, "gpt-test", req.Model)
	assert.True(t, req.Stream)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, domain.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "be brief", req.Messages[0].Content)
	assert.Equal(t, "hi", req.Messages[1].Content)

	var names []string
	for _, s := range req.Tools {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{ToolAskUser, ToolReportIntent, ToolSpawnSubagent, ToolUpdatePlan, ToolUpdateTodos}, names)

	stored, err := h.store.Messages(context.Background(), h.p.CurrentSessionID())
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, domain.RoleUser, stored[0].Role)
	assert.Equal(t, domain.RoleAssistant, stored[1].Role)
	assert.Equal(t, "Hello", stored[1].Content)
	assert.Equal(t, "hmm", stored[1].Reasoning)
}

func TestSendPromptUsesCounterWithoutUsage(t *testing.T) {
	client := newScriptedClient(textTurn("ok"))
	st := newHarness(t, client, nil, 0)
	st.p.counter = func(msgs []domain.Message) int { return 100 * len(msgs) }

	require.NoError(t, st.p.SendPrompt(context.Background(), "hi", "r", nil))
	st.events.waitFor(t, domain.EventRunFinished)

	usage, ok := eventOf[domain.UsageInfo](st.events)
	require.True(t, ok)
	// system + user + assistant
	assert.Equal(t, 300, usage.CurrentTokens)
}

func TestSecondPromptCarriesHistory(t *testing.T) {
	client := newScriptedClient(textTurn("first answer"), textTurn("second answer"))
	h := newHarness(t, client, nil, 0)
	ctx := context.Background()

	require.NoError(t, h.p.SendPrompt(ctx, "one", "r1", nil))
	h.events.waitFor(t, domain.EventRunFinished)
	require.NoError(t, h.p.SendPrompt(ctx, "two", "r2", nil))
	require.Eventually(t, func() bool {
		n := 0
		for _, ev := range h.events.all() {
			if _, ok := ev.(domain.RunFinished); ok {
				n++
			}
		}
		return n == 2
	}, testWait, testTick)

	msgs := h.client.request(1).Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "one", msgs[1].Content)
	assert.Equal(t, "first answer", msgs[2].Content)
	assert.Equal(t, "two", msgs[3].Content)
}

func TestToolLoop(t *testing.T) {
	client := newScriptedClient(
		[]domain.StreamDelta{
			{Content: "checking"},
			{ToolCalls: []domain.ToolCall{{Index: 0, ID: "c1", Name: "echo", Arguments: json.RawMessage(`{"te`)}}},
			{ToolCalls: []domain.ToolCall{{Index: 0, Arguments: json.RawMessage(`xt":"hi"}`)}}},
			{Done: true},
		},
		textTurn("done"),
	)
	h := newHarness(t, client, fakeTools{"echo": echoTool{}}, 0)

	require.NoError(t, h.p.SendPrompt(context.Background(), "go", "r1", nil))
	h.events.waitFor(t, domain.EventRunFinished)

	assert.Equal(t, []domain.EventType{
		domain.EventMessageDelta,
		domain.EventMessageFinal,
		domain.EventToolStarted,
		domain.EventToolProgress,
		domain.EventToolCompleted,
		domain.EventMessageDelta,
		domain.EventMessageFinal,
		domain.EventUsageInfo,
		domain.EventRunFinished,
	}, h.events.types())

	started, _ := eventOf[domain.ToolStarted](h.events)
	assert.Equal(t, "c1", started.ToolCallID)
	assert.Equal(t, "echo", started.ToolName)
	assert.JSONEq(t, `{"text":"hi"}`, string(started.Arguments))

	completed, _ := eventOf[domain.ToolCompleted](h.events)
	assert.True(t, completed.Success)
	assert.Equal(t, "hi", completed.Output)

	second := h.client.request(1).Messages
	require.Len(t, second, 4)
	assistant := second[2]
	assert.Equal(t, domain.RoleAssistant, assistant.Role)
	assert.Equal(t, "checking", assistant.Content)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "c1", assistant.ToolCalls[0].ID)
	toolMsg := second[3]
	assert.Equal(t, domain.RoleTool, toolMsg.Role)
	assert.Equal(t, "hi", toolMsg.Content)
	assert.Equal(t, "c1", toolMsg.ToolCalls[0].ID)
}

func TestUnknownToolFailsCallNotRun(t *testing.T) {
	client := newScriptedClient(toolTurn("c1", "nope", `{}`), textTurn("sorry"))
	h := newHarness(t, client, fakeTools{}, 0)

	require.NoError(t, h.p.SendPrompt(context.Background(), "go", "r1", nil))
	h.events.waitFor(t, domain.EventRunFinished)

	completed, ok := eventOf[domain.ToolCompleted](h.events)
	require.True(t, ok)
	assert.False(t, completed.Success)
	assert.Contains(t, completed.Error, "tool not found")

	done, _ := eventOf[domain.RunFinished](h.events)
	assert.Empty(t, done.Error)
	assert.Contains(t, h.client.request(1).Messages[3].Content, "error:")
}

func TestMaxToolIterations(t *testing.T) {
	client := newScriptedClient(
		toolTurn("c1", "echo", `{"text":"a"}`),
		toolTurn("c2", "echo", `{"text":"b"}`),
	)
	h := newHarness(t, client, fakeTools{"echo": echoTool{}}, 2)

	require.NoError(t, h.p.SendPrompt(context.Background(), "loop", "r1", nil))
	h.events.waitFor(t, domain.EventRunFinished)

	done, _ := eventOf[domain.RunFinished](h.events)
	assert.Contains(t, done.Error, domain.ErrMaxIterations.Error())
	failed, ok := eventOf[domain.Log](h.events)
	require.True(t, ok)
	assert.Equal(t, domain.LogError, failed.Level)
	assert.Equal(t, 2, h.client.requestCount())
}

func TestStreamOpenErrorIsReturned(t *testing.T) {
	client := newScriptedClient()
	client.streamErr = domain.ErrRateLimit
	h := newHarness(t, client, nil, 0)

	err := h.p.SendPrompt(context.Background(), "hi", "r1", nil)
	require.ErrorIs(t, err, domain.ErrRateLimit)

	stored, err := h.store.Messages(context.Background(), h.p.CurrentSessionID())
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Empty(t, h.events.all())
}

func TestStreamErrorFinishesRunWithError(t *testing.T) {
	client := newScriptedClient([]domain.StreamDelta{
		{Content: "par"},
		{Done: true, Err: errors.New("connection reset")},
	})
	h := newHarness(t, client, nil, 0)

	require.NoError(t, h.p.SendPrompt(context.Background(), "hi", "r1", nil))
	h.events.waitFor(t, domain.EventRunFinished)

	done, _ := eventOf[domain.RunFinished](h.events)
	assert.Equal(t, "connection reset", done.Error)
	assert.False(t, h.events.has(domain.EventMessageFinal))

	var logs []domain.Log
	for _, ev := range h.events.all() {
		if l, ok := ev.(domain.Log); ok {
			logs = append(logs, l)
		}
	}
	require.Len(t, logs, 1)
	assert.Equal(t, domain.LogError, logs[0].Level)
	assert.Equal(t, "Run failed: connection reset", logs[0].Message)
	assert.Equal(t, []domain.EventType{domain.EventLog, domain.EventRunFinished}, h.events.types()[len(h.events.types())-2:])
}

func TestAbortSuppressesRemainingEvents(t *testing.T) {
	client := newScriptedClient(textTurn("too", "late"))
	client.block = make(chan struct{})
	h := newHarness(t, client, nil, 0)

	require.NoError(t, h.p.SendPrompt(context.Background(), "hi", "r1", nil))
	require.NoError(t, h.p.Abort(context.Background()))
	close(client.block)
	require.NoError(t, h.p.Close())

	assert.False(t, h.events.has(domain.EventMessageDelta))
	assert.False(t, h.events.has(domain.EventRunFinished))
}

func TestNewPromptAfterAbortStreams(t *testing.T) {
	client := newScriptedClient(textTurn("stale"), textTurn("fresh"))
	client.block = make(chan struct{})
	h := newHarness(t, client, nil, 0)
	ctx := context.Background()

	require.NoError(t, h.p.SendPrompt(ctx, "one", "r1", nil))
	require.NoError(t, h.p.Abort(ctx))
	client.mu.Lock()
	client.block = nil
	client.mu.Unlock()

	require.NoError(t, h.p.SendPrompt(ctx, "two", "r2", nil))
	h.events.waitFor(t, domain.EventRunFinished)

	final, _ := eventOf[domain.MessageFinal](h.events)
	assert.Equal(t, "r2", final.RunID)
	assert.Equal(t, "fresh", final.Content)
}

func TestEphemeralPromptIsIsolated(t *testing.T) {
	client := newScriptedClient(textTurn("aside"))
	h := newHarness(t, client, fakeTools{"echo": echoTool{}}, 0)

	err := h.p.RunEphemeralPrompt(context.Background(), "quick question", "eph-1",
		domain.EphemeralOptions{Model: "gpt-other", SystemPrompt: "answer tersely"})
	require.NoError(t, err)
	h.events.waitFor(t, domain.EventRunFinished)

	assert.Equal(t, []domain.EventType{
		domain.EventMessageDelta,
		domain.EventMessageFinal,
		domain.EventRunFinished,
	}, h.events.types())
	final, _ := eventOf[domain.MessageFinal](h.events)
	assert.Equal(t, "eph-1", final.RunID)

	req := h.client.request(0)
	assert.Equal(t, "gpt-other", req.Model)
	assert.Empty(t, req.Tools)
	assert.Equal(t, "answer tersely", req.Messages[0].Content)

	stored, err := h.store.Messages(context.Background(), h.p.CurrentSessionID())
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Equal(t, "gpt-test", h.p.CurrentModel())
}

func TestAskUserTool(t *testing.T) {
	client := newScriptedClient(
		toolTurn("c1", ToolAskUser, `{"question":"color?","choices":["red","blue"]}`),
		textTurn("blue it is"),
	)
	h := newHarness(t, client, nil, 0)

	var asked domain.UserInputRequest
	h.p.OnUserInputRequest(func(_ context.Context, req domain.UserInputRequest) (domain.UserInputResponse, error) {
		asked = req
		return domain.UserInputResponse{Answer: "blue"}, nil
	})

	require.NoError(t, h.p.SendPrompt(context.Background(), "pick", "r1", nil))
	h.events.waitFor(t, domain.EventRunFinished)

	assert.Equal(t, "color?", asked.Question)
	assert.Equal(t, []string{"red", "blue"}, asked.Choices)
	assert.False(t, asked.AllowFreeform)
	assert.Equal(t, "blue", h.client.request(1).Messages[3].Content)
}

func TestAskUserCancelledIsToolError(t *testing.T) {
	client := newScriptedClient(toolTurn("c1", ToolAskUser, `{"question":"name?"}`), textTurn("ok"))
	h := newHarness(t, client, nil, 0)
	h.p.OnUserInputRequest(func(context.Context, domain.UserInputRequest) (domain.UserInputResponse, error) {
		return domain.UserInputResponse{}, domain.ErrQuestionCancelled
	})

	require.NoError(t, h.p.SendPrompt(context.Background(), "hi", "r1", nil))
	h.events.waitFor(t, domain.EventRunFinished)

	completed, _ := eventOf[domain.ToolCompleted](h.events)
	assert.False(t, completed.Success)
	assert.Equal(t, "the user did not answer", completed.Error)
}

func TestSpawnSubagentTool(t *testing.T) {
	client := newScriptedClient(
		toolTurn("c1", ToolSpawnSubagent, `{"name":"researcher","prompt":"find it"}`),
		textTurn("found"),
	)
	client.chatResp = &domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: "sub result"}}
	h := newHarness(t, client, nil, 0)

	require.NoError(t, h.p.SendPrompt(context.Background(), "delegate", "r1", nil))
	h.events.waitFor(t, domain.EventRunFinished)

	started, ok := eventOf[domain.SubagentStarted](h.events)
	require.True(t, ok)
	assert.Equal(t, "researcher", started.Name)
	done, ok := eventOf[domain.SubagentCompleted](h.events)
	require.True(t, ok)
	assert.True(t, done.Success)
	assert.Equal(t, started.SubagentID, done.SubagentID)

	client.mu.Lock()
	require.Len(t, client.chats, 1)
	assert.Equal(t, "find it", client.chats[0].Messages[1].Content)
	client.mu.Unlock()
	assert.Equal(t, "sub result", h.client.request(1).Messages[3].Content)
}

func TestScratchToolsEmitUpdates(t *testing.T) {
	client := newScriptedClient(
		[]domain.StreamDelta{
			{ToolCalls: []domain.ToolCall{
				{Index: 0, ID: "a", Name: ToolReportIntent, Arguments: json.RawMessage(`{"intent":"reading"}`)},
				{Index: 1, ID: "b", Name: ToolUpdatePlan, Arguments: json.RawMessage(`{"plan":"1. read"}`)},
				{Index: 2, ID: "c", Name: ToolUpdateTodos, Arguments: json.RawMessage(`{"todos":"- [ ] read"}`)},
			}},
			{Done: true},
		},
		textTurn("ok"),
	)
	h := newHarness(t, client, nil, 0)

	require.NoError(t, h.p.SendPrompt(context.Background(), "plan", "r1", nil))
	h.events.waitFor(t, domain.EventRunFinished)

	intent, _ := eventOf[domain.IntentUpdated](h.events)
	plan, _ := eventOf[domain.PlanUpdated](h.events)
	todo, _ := eventOf[domain.TodoUpdated](h.events)
	assert.Equal(t, domain.IntentUpdated{RunID: "r1", Intent: "reading"}, intent)
	assert.Equal(t, domain.PlanUpdated{RunID: "r1", Plan: "1. read"}, plan)
	assert.Equal(t, domain.TodoUpdated{RunID: "r1", Todo: "- [ ] read"}, todo)
}

func TestSessions(t *testing.T) {
	client := newScriptedClient(textTurn("remembered"), textTurn("again"))
	h := newHarness(t, client, nil, 0)
	ctx := context.Background()

	first := h.p.CurrentSessionID()
	require.NotEmpty(t, first)
	require.NoError(t, h.p.SendPrompt(ctx, "note this", "r1", nil))
	h.events.waitFor(t, domain.EventRunFinished)

	second, err := h.p.CreateNewSession(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, second, h.p.CurrentSessionID())

	sessions, err := h.p.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	require.NoError(t, h.p.SwitchToSession(ctx, first))
	history, err := h.p.SessionHistory(ctx, first)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "note this", history[0].Content)

	require.NoError(t, h.p.SendPrompt(ctx, "and now?", "r2", nil))
	require.Eventually(t, func() bool { return h.client.requestCount() == 2 }, testWait, testTick)
	msgs := h.client.request(1).Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "remembered", msgs[2].Content)

	err = h.p.SwitchToSession(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Equal(t, first, h.p.CurrentSessionID())
}

func TestSwitchModel(t *testing.T) {
	client := newScriptedClient(textTurn("ok"))
	h := newHarness(t, client, nil, 0)
	ctx := context.Background()

	assert.ErrorIs(t, h.p.SwitchModel(ctx, "gpt-missing"), domain.ErrModelNotFound)
	require.NoError(t, h.p.SwitchModel(ctx, "gpt-other"))
	assert.Equal(t, "gpt-other", h.p.CurrentModel())

	require.NoError(t, h.p.SendPrompt(ctx, "hi", "r1", nil))
	h.events.waitFor(t, domain.EventRunFinished)
	assert.Equal(t, "gpt-other", h.client.request(0).Model)

	usage, _ := eventOf[domain.UsageInfo](h.events)
	assert.Equal(t, 4000, usage.TokenLimit)

	info, err := h.store.Get(ctx, h.p.CurrentSessionID())
	require.NoError(t, err)
	assert.Equal(t, "gpt-other", info.Model)
}

func TestInitializeRejectsUnknownModel(t *testing.T) {
	p := NewProvider(Options{
		Client: newScriptedClient(),
		Store:  nil,
		Model:  "x",
	})
	assert.ErrorIs(t, p.Initialize(context.Background()), domain.ErrNotInitialized)

	h := newHarness(t, newScriptedClient(), nil, 0)
	p = NewProvider(Options{
		Client: h.client,
		Store:  h.store,
		Models: []domain.ModelInfo{{ID: "a"}},
		Model:  "b",
	})
	assert.ErrorIs(t, p.Initialize(context.Background()), domain.ErrModelNotFound)
}

func TestSendPromptBeforeInitialize(t *testing.T) {
	p := NewProvider(Options{Client: newScriptedClient(textTurn("x"))})
	err := p.SendPrompt(context.Background(), "hi", "r1", nil)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestAttachmentsAreInlined(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("remember the milk"), 0o600))

	client := newScriptedClient(textTurn("noted"))
	h := newHarness(t, client, nil, 0)

	require.NoError(t, h.p.SendPrompt(context.Background(), "read this", "r1", []domain.Attachment{{Path: path}}))
	h.events.waitFor(t, domain.EventRunFinished)

	content := h.client.request(0).Messages[1].Content
	assert.Contains(t, content, "read this")
	assert.Contains(t, content, `<attachment name="notes.txt">`)
	assert.Contains(t, content, "remember the milk")

	stored, err := h.store.Messages(context.Background(), h.p.CurrentSessionID())
	require.NoError(t, err)
	assert.Equal(t, "read this", stored[0].DisplayContent)

	err = h.p.SendPrompt(context.Background(), "x", "r2", []domain.Attachment{{Path: filepath.Join(t.TempDir(), "gone")}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
