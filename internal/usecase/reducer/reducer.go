// Package reducer folds harness events into HarnessState.
package reducer

import (
	"maps"
	"slices"
	"time"

	"anvil/internal/domain"
)

// Reducer applies events to state under a fixed set of collection limits.
type Reducer struct {
	limits domain.Limits
}

// New creates a reducer. Zero limits fall back to domain.DefaultLimits.
func New(limits domain.Limits) Reducer {
	return Reducer{limits: limits.WithDefaults()}
}

var defaultReducer = New(domain.Limits{})

// ProcessEvent applies ev to state with the default limits.
func ProcessEvent(state domain.HarnessState, ev domain.Event, idx *ToolIndex) domain.HarnessState {
	return defaultReducer.Process(state, ev, idx)
}

// Process returns the state that results from applying ev. state is never
// modified; idx is updated to match the returned transcript. A nil idx is
// rebuilt from state for this call only. Unknown or stale events return state
// unchanged.
func (r Reducer) Process(state domain.HarnessState, ev domain.Event, idx *ToolIndex) domain.HarnessState {
	if ev == nil {
		return state
	}
	if idx == nil {
		idx = NewToolIndex()
		idx.Rebuild(state.Transcript)
	}
	if er := state.EphemeralRun; er != nil && ev.Run() != "" && ev.Run() == er.RunID {
		return r.processEphemeral(state, ev)
	}
	if isStale(state, ev) {
		return state
	}
	return r.processMain(state, ev, idx)
}

// isStale reports whether ev belongs to a run that is no longer current.
func isStale(s domain.HarnessState, ev domain.Event) bool {
	runID := ev.Run()
	if runID == "" {
		return false
	}
	switch ev.(type) {
	case domain.RunStarted, domain.EphemeralStarted, domain.EphemeralClosed:
		return false
	}
	return runID != s.CurrentRunID
}

func (r Reducer) processMain(s domain.HarnessState, ev domain.Event, idx *ToolIndex) domain.HarnessState {
	switch e := ev.(type) {
	case domain.RunStarted:
		if e.RunID == "" {
			return s
		}
		s.Status = domain.StatusRunning
		s.CurrentRunID = e.RunID
		s.StreamingContent = ""
		s.StreamingReasoning = ""
		s.Intent, s.Plan, s.Todo = "", "", ""

	case domain.RunFinished:
		if s.Status != domain.StatusRunning {
			return s
		}
		if s.StreamingContent != "" {
			s.Transcript = appendTranscript(s.Transcript, domain.ChatMessage{
				Role:      domain.RoleAssistant,
				Content:   s.StreamingContent,
				Reasoning: s.StreamingReasoning,
				At:        e.At,
			}, r.limits.MaxTranscript, idx)
		}
		s.Status = domain.StatusIdle
		s.CurrentRunID = ""
		s.StreamingContent = ""
		s.StreamingReasoning = ""
		s.ContextInfo.ConsumedRequests++

	case domain.RunCancelled:
		if s.Status != domain.StatusRunning {
			return s
		}
		s = cancelActiveTools(s, idx, e.At)
		s.Status = domain.StatusIdle
		s.CurrentRunID = ""
		s.StreamingContent = ""
		s.StreamingReasoning = ""

	case domain.MessageDelta:
		s.StreamingContent += e.Delta

	case domain.ReasoningDelta:
		s.StreamingReasoning += e.Delta

	case domain.MessageFinal:
		content := e.Content
		if content == "" {
			content = s.StreamingContent
		}
		if content != "" || s.StreamingReasoning != "" {
			s.Transcript = appendTranscript(s.Transcript, domain.ChatMessage{
				ID:        e.MessageID,
				Role:      domain.RoleAssistant,
				Content:   content,
				Reasoning: s.StreamingReasoning,
				At:        e.At,
			}, r.limits.MaxTranscript, idx)
		}
		s.StreamingContent = ""
		s.StreamingReasoning = ""

	case domain.UserMessage:
		s.Transcript = appendTranscript(s.Transcript, domain.ChatMessage{
			Role:           domain.RoleUser,
			Content:        e.Content,
			DisplayContent: e.DisplayContent,
			At:             e.At,
		}, r.limits.MaxTranscript, idx)

	case domain.Log:
		s.Logs = appendBounded(s.Logs, domain.LogEntry{Level: e.Level, Message: e.Message, At: e.At}, r.limits.MaxLogs)

	case domain.ToolStarted:
		return r.toolStarted(s, e, idx)

	case domain.ToolProgress:
		return updateTool(s, e.ToolCallID, idx, func(tc *domain.ToolCallItem) {
			tc.Progress = append(slices.Clone(tc.Progress), e.Message)
		})

	case domain.ToolCompleted:
		return updateTool(s, e.ToolCallID, idx, func(tc *domain.ToolCallItem) {
			tc.Status = domain.ItemCompleted
			if !e.Success {
				tc.Status = domain.ItemFailed
			}
			tc.Output = e.Output
			tc.Error = e.Error
			tc.CompletedAt = e.At
		})

	case domain.TaskStarted:
		s.Tasks = appendBounded(s.Tasks, domain.TaskItem{
			ID:          e.TaskID,
			Description: e.Description,
			Status:      domain.ItemRunning,
			StartedAt:   e.At,
		}, r.limits.MaxTasks)

	case domain.TaskCompleted:
		if i := lastIndex(s.Tasks, func(t domain.TaskItem) bool { return t.ID == e.TaskID }); i >= 0 {
			t := s.Tasks[i]
			t.Status = outcome(e.Success)
			t.Result = e.Result
			t.Error = e.Error
			t.CompletedAt = e.At
			s.Tasks = replaceAt(s.Tasks, i, t)
		}

	case domain.SubagentStarted:
		s.Subagents = appendBounded(s.Subagents, domain.SubagentItem{
			ID:          e.SubagentID,
			Name:        e.Name,
			Description: e.Description,
			Status:      domain.ItemRunning,
			StartedAt:   e.At,
		}, r.limits.MaxSubagents)

	case domain.SubagentCompleted:
		if i := lastIndex(s.Subagents, func(a domain.SubagentItem) bool { return a.ID == e.SubagentID }); i >= 0 {
			a := s.Subagents[i]
			a.Status = outcome(e.Success)
			a.Error = e.Error
			a.CompletedAt = e.At
			s.Subagents = replaceAt(s.Subagents, i, a)
		}

	case domain.SkillInvoked:
		if i := lastIndex(s.Skills, func(sk domain.SkillItem) bool { return sk.Name == e.Name }); i >= 0 {
			sk := s.Skills[i]
			sk.InvokeCount++
			sk.InvokedAt = e.At
			if e.Path != "" {
				sk.Path = e.Path
			}
			s.Skills = replaceAt(s.Skills, i, sk)
		} else {
			s.Skills = appendBounded(s.Skills, domain.SkillItem{
				Name:        e.Name,
				Path:        e.Path,
				InvokeCount: 1,
				InvokedAt:   e.At,
			}, r.limits.MaxSkills)
		}

	case domain.IntentUpdated:
		s.Intent = e.Intent
	case domain.PlanUpdated:
		s.Plan = e.Plan
	case domain.TodoUpdated:
		s.Todo = e.Todo

	case domain.ModelChanged:
		s.CurrentModel = e.ModelID
		s.ContextInfo = s.ContextInfo.ResetSession()

	case domain.UsageInfo:
		s.ContextInfo.CurrentTokens = e.CurrentTokens
		s.ContextInfo.TokenLimit = e.TokenLimit
		s.ContextInfo.MessagesLength = e.MessagesLength

	case domain.QuotaInfo:
		s.ContextInfo.RemainingPremiumRequests = e.RemainingPremiumRequests
		s.ContextInfo.QuotaReported = true

	case domain.QuestionRequested:
		s.PendingQuestion = &domain.QuestionRequest{
			RequestID:     e.RequestID,
			Question:      e.Question,
			Choices:       slices.Clone(e.Choices),
			AllowFreeform: e.AllowFreeform,
			At:            e.At,
		}

	case domain.QuestionAnswered:
		if s.PendingQuestion != nil && s.PendingQuestion.RequestID == e.RequestID {
			s.PendingQuestion = nil
		}

	case domain.QuestionCancelled:
		if s.PendingQuestion != nil && s.PendingQuestion.RequestID == e.RequestID {
			s.PendingQuestion = nil
		}

	case domain.SessionCreated:
		return resetSession(s, e.SessionID, idx)

	case domain.SessionSwitched:
		return resetSession(s, e.SessionID, idx)

	case domain.SessionsListed:
		s.AvailableSessions = slices.Clone(e.Sessions)

	case domain.HistoryLoaded:
		if e.SessionID != "" && e.SessionID != s.CurrentSessionID {
			return s
		}
		items := make([]domain.TranscriptItem, 0, len(s.Transcript)+len(e.Messages))
		items = append(items, s.Transcript...)
		for _, m := range e.Messages {
			items = append(items, m)
		}
		s.Transcript = truncateFront(items, r.limits.MaxTranscript)
		idx.Rebuild(s.Transcript)

	case domain.QueueEnqueued:
		s.MessageQueue = appendBounded(s.MessageQueue, e.Text, 0)

	case domain.QueueDequeued:
		if len(s.MessageQueue) > 0 {
			s.MessageQueue = slices.Clone(s.MessageQueue[1:])
		}

	case domain.EphemeralStarted:
		s.EphemeralRun = &domain.EphemeralRun{
			RunID:      e.RunID,
			Prompt:     e.Prompt,
			Transcript: []domain.ChatMessage{{Role: domain.RoleUser, Content: e.Prompt, At: e.At}},
			Status:     domain.ItemRunning,
			StartedAt:  e.At,
		}

	case domain.EphemeralClosed:
		if e.RunID == "" {
			s.EphemeralRun = nil
		}

	case domain.HarnessError:
		s.Status = domain.StatusError
		s.CurrentRunID = ""
		s.Logs = appendBounded(s.Logs, domain.LogEntry{Level: domain.LogError, Message: e.Message}, r.limits.MaxLogs)
	}
	return s
}

func (r Reducer) toolStarted(s domain.HarnessState, e domain.ToolStarted, idx *ToolIndex) domain.HarnessState {
	if pos, ok := idx.Lookup(e.ToolCallID); ok && toolAt(s.Transcript, pos, e.ToolCallID) {
		return s
	}
	item := domain.ToolCallItem{
		ToolCallID: e.ToolCallID,
		ToolName:   e.ToolName,
		Arguments:  e.Arguments,
		Status:     domain.ItemRunning,
		StartedAt:  e.At,
	}
	s.Transcript = appendTranscript(s.Transcript, item, r.limits.MaxTranscript, idx)
	active := maps.Clone(s.ActiveTools)
	if active == nil {
		active = make(map[string]domain.ToolCallItem)
	}
	active[e.ToolCallID] = item
	s.ActiveTools = active
	return s
}

// updateTool applies fn to the transcript entry for id and mirrors the result
// into ActiveTools. Unknown ids and stale index entries are ignored.
func updateTool(s domain.HarnessState, id string, idx *ToolIndex, fn func(*domain.ToolCallItem)) domain.HarnessState {
	pos, ok := idx.Lookup(id)
	if !ok || !toolAt(s.Transcript, pos, id) {
		return s
	}
	tc := s.Transcript[pos].(domain.ToolCallItem)
	fn(&tc)
	s.Transcript = replaceAt(s.Transcript, pos, domain.TranscriptItem(tc))

	active := maps.Clone(s.ActiveTools)
	if active == nil {
		active = make(map[string]domain.ToolCallItem)
	}
	if tc.Status == domain.ItemRunning {
		active[id] = tc
	} else {
		delete(active, id)
	}
	s.ActiveTools = active
	return s
}

func cancelActiveTools(s domain.HarnessState, idx *ToolIndex, at time.Time) domain.HarnessState {
	if len(s.ActiveTools) > 0 {
		transcript := slices.Clone(s.Transcript)
		for id := range s.ActiveTools {
			pos, ok := idx.Lookup(id)
			if !ok || !toolAt(transcript, pos, id) {
				continue
			}
			tc := transcript[pos].(domain.ToolCallItem)
			tc.Status = domain.ItemCancelled
			tc.CompletedAt = at
			transcript[pos] = tc
		}
		s.Transcript = transcript
	}
	s.ActiveTools = map[string]domain.ToolCallItem{}
	return s
}

func resetSession(s domain.HarnessState, sessionID string, idx *ToolIndex) domain.HarnessState {
	s.CurrentSessionID = sessionID
	s.Transcript = nil
	s.ActiveTools = map[string]domain.ToolCallItem{}
	s.StreamingContent = ""
	s.StreamingReasoning = ""
	s.Intent, s.Plan, s.Todo = "", "", ""
	s.ContextInfo = s.ContextInfo.ResetSession()
	idx.Reset()
	return s
}

func toolAt(transcript []domain.TranscriptItem, pos int, id string) bool {
	if pos < 0 || pos >= len(transcript) {
		return false
	}
	tc, ok := transcript[pos].(domain.ToolCallItem)
	return ok && tc.ToolCallID == id
}

func lastIndex[T any](s []T, match func(T) bool) int {
	for i := len(s) - 1; i >= 0; i-- {
		if match(s[i]) {
			return i
		}
	}
	return -1
}

func outcome(success bool) domain.ItemStatus {
	if success {
		return domain.ItemCompleted
	}
	return domain.ItemFailed
}
