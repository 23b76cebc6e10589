package domain

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of harness event.
type EventType string

// Run lifecycle events.
const (
	EventRunStarted   EventType = "run.started"
	EventRunFinished  EventType = "run.finished"
	EventRunCancelled EventType = "run.cancelled"
)

// Streaming and message events.
const (
	EventMessageDelta   EventType = "message.delta"
	EventReasoningDelta EventType = "reasoning.delta"
	EventMessageFinal   EventType = "message.final"
	EventUserMessage    EventType = "message.user"
	EventLog            EventType = "log"
)

// Tool, task, subagent and skill lifecycle events.
const (
	EventToolStarted       EventType = "tool.started"
	EventToolProgress      EventType = "tool.progress"
	EventToolCompleted     EventType = "tool.completed"
	EventTaskStarted       EventType = "task.started"
	EventTaskCompleted     EventType = "task.completed"
	EventSubagentStarted   EventType = "subagent.started"
	EventSubagentCompleted EventType = "subagent.completed"
	EventSkillInvoked      EventType = "skill.invoked"
)

// Scratch-pad events reported by the backend while it works.
const (
	EventIntentUpdated EventType = "intent.updated"
	EventPlanUpdated   EventType = "plan.updated"
	EventTodoUpdated   EventType = "todo.updated"
)

// Model, usage and quota notices.
const (
	EventModelChanged EventType = "model.changed"
	EventUsageInfo    EventType = "usage.info"
	EventQuotaInfo    EventType = "quota.info"
)

// Question request/answer events.
const (
	EventQuestionRequested EventType = "question.requested"
	EventQuestionAnswered  EventType = "question.answered"
	EventQuestionCancelled EventType = "question.cancelled"
)

// Session lifecycle events.
const (
	EventSessionCreated  EventType = "session.created"
	EventSessionSwitched EventType = "session.switched"
	EventSessionsListed  EventType = "sessions.listed"
	EventHistoryLoaded   EventType = "history.loaded"
)

// Orchestrator bookkeeping events.
const (
	EventQueueEnqueued    EventType = "queue.enqueued"
	EventQueueDequeued    EventType = "queue.dequeued"
	EventEphemeralStarted EventType = "ephemeral.started"
	EventEphemeralClosed  EventType = "ephemeral.closed"
	EventHarnessError     EventType = "harness.error"
)

// Event is an immutable harness event. The set of implementations is closed:
// only types declared in this package satisfy it.
type Event interface {
	// Type returns the event tag.
	Type() EventType
	// Run returns the id of the run the event belongs to, or "" when the
	// event is not run-scoped.
	Run() string

	isEvent()
}

// EventHandler receives events emitted through the orchestrator.
type EventHandler func(ev Event)

// LogLevel is the severity of a user-visible log entry.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

type RunStarted struct {
	RunID string
	At    time.Time
}

// RunFinished terminates a run. Error is non-empty when the run failed.
type RunFinished struct {
	RunID string
	Error string
	At    time.Time
}

type RunCancelled struct {
	RunID string
	At    time.Time
}

type MessageDelta struct {
	RunID string
	Delta string
}

type ReasoningDelta struct {
	RunID string
	Delta string
}

// MessageFinal closes the streamed assistant message. A non-empty Content
// takes precedence over the streamed buffer.
type MessageFinal struct {
	RunID     string
	MessageID string
	Content   string
	At        time.Time
}

// UserMessage records a prompt in the transcript. DisplayContent is what the
// user typed; Content is what was sent to the backend.
type UserMessage struct {
	Content        string
	DisplayContent string
	At             time.Time
}

type Log struct {
	Level   LogLevel
	Message string
	At      time.Time
}

type ToolStarted struct {
	RunID      string
	ToolCallID string
	ToolName   string
	Arguments  json.RawMessage
	At         time.Time
}

type ToolProgress struct {
	RunID      string
	ToolCallID string
	Message    string
}

type ToolCompleted struct {
	RunID      string
	ToolCallID string
	Success    bool
	Output     string
	Error      string
	At         time.Time
}

type TaskStarted struct {
	RunID       string
	TaskID      string
	Description string
	At          time.Time
}

type TaskCompleted struct {
	RunID   string
	TaskID  string
	Success bool
	Result  string
	Error   string
	At      time.Time
}

type SubagentStarted struct {
	RunID       string
	SubagentID  string
	Name        string
	Description string
	At          time.Time
}

type SubagentCompleted struct {
	RunID      string
	SubagentID string
	Success    bool
	Error      string
	At         time.Time
}

type SkillInvoked struct {
	Name string
	Path string
	At   time.Time
}

type IntentUpdated struct {
	RunID  string
	Intent string
}

type PlanUpdated struct {
	RunID string
	Plan  string
}

type TodoUpdated struct {
	RunID string
	Todo  string
}

type ModelChanged struct {
	ModelID string
}

type UsageInfo struct {
	CurrentTokens  int
	TokenLimit     int
	MessagesLength int
}

type QuotaInfo struct {
	RemainingPremiumRequests int
}

type QuestionRequested struct {
	RequestID     string
	Question      string
	Choices       []string
	AllowFreeform bool
	At            time.Time
}

type QuestionAnswered struct {
	RequestID   string
	Answer      string
	WasFreeform bool
}

type QuestionCancelled struct {
	RequestID string
}

type SessionCreated struct {
	SessionID string
}

type SessionSwitched struct {
	SessionID string
}

type SessionsListed struct {
	Sessions []SessionInfo
}

// HistoryLoaded restores stored messages after a session switch.
type HistoryLoaded struct {
	SessionID string
	Messages  []ChatMessage
}

type QueueEnqueued struct {
	Text string
}

type QueueDequeued struct {
	Text string
}

// EphemeralStarted opens the isolated ephemeral slot for RunID.
type EphemeralStarted struct {
	RunID  string
	Prompt string
	At     time.Time
}

type EphemeralClosed struct {
	RunID string
}

// HarnessError reports a fatal initialization failure.
type HarnessError struct {
	Message string
}

func (RunStarted) Type() EventType        { return EventRunStarted }
func (RunFinished) Type() EventType       { return EventRunFinished }
func (RunCancelled) Type() EventType      { return EventRunCancelled }
func (MessageDelta) Type() EventType      { return EventMessageDelta }
func (ReasoningDelta) Type() EventType    { return EventReasoningDelta }
func (MessageFinal) Type() EventType      { return EventMessageFinal }
func (UserMessage) Type() EventType       { return EventUserMessage }
func (Log) Type() EventType               { return EventLog }
func (ToolStarted) Type() EventType       { return EventToolStarted }
func (ToolProgress) Type() EventType      { return EventToolProgress }
func (ToolCompleted) Type() EventType     { return EventToolCompleted }
func (TaskStarted) Type() EventType       { return EventTaskStarted }
func (TaskCompleted) Type() EventType     { return EventTaskCompleted }
func (SubagentStarted) Type() EventType   { return EventSubagentStarted }
func (SubagentCompleted) Type() EventType { return EventSubagentCompleted }
func (SkillInvoked) Type() EventType      { return EventSkillInvoked }
func (IntentUpdated) Type() EventType     { return EventIntentUpdated }
func (PlanUpdated) Type() EventType       { return EventPlanUpdated }
func (TodoUpdated) Type() EventType       { return EventTodoUpdated }
func (ModelChanged) Type() EventType      { return EventModelChanged }
func (UsageInfo) Type() EventType         { return EventUsageInfo }
func (QuotaInfo) Type() EventType         { return EventQuotaInfo }
func (QuestionRequested) Type() EventType { return EventQuestionRequested }
func (QuestionAnswered) Type() EventType  { return EventQuestionAnswered }
func (QuestionCancelled) Type() EventType { return EventQuestionCancelled }
func (SessionCreated) Type() EventType    { return EventSessionCreated }
func (SessionSwitched) Type() EventType   { return EventSessionSwitched }
func (SessionsListed) Type() EventType    { return EventSessionsListed }
func (HistoryLoaded) Type() EventType     { return EventHistoryLoaded }
func (QueueEnqueued) Type() EventType     { return EventQueueEnqueued }
func (QueueDequeued) Type() EventType     { return EventQueueDequeued }
func (EphemeralStarted) Type() EventType  { return EventEphemeralStarted }
func (EphemeralClosed) Type() EventType   { return EventEphemeralClosed }
func (HarnessError) Type() EventType      { return EventHarnessError }

func (e RunStarted) Run() string        { return e.RunID }
func (e RunFinished) Run() string       { return e.RunID }
func (e RunCancelled) Run() string      { return e.RunID }
func (e MessageDelta) Run() string      { return e.RunID }
func (e ReasoningDelta) Run() string    { return e.RunID }
func (e MessageFinal) Run() string      { return e.RunID }
func (UserMessage) Run() string         { return "" }
func (Log) Run() string                 { return "" }
func (e ToolStarted) Run() string       { return e.RunID }
func (e ToolProgress) Run() string      { return e.RunID }
func (e ToolCompleted) Run() string     { return e.RunID }
func (e TaskStarted) Run() string       { return e.RunID }
func (e TaskCompleted) Run() string     { return e.RunID }
func (e SubagentStarted) Run() string   { return e.RunID }
func (e SubagentCompleted) Run() string { return e.RunID }
func (SkillInvoked) Run() string        { return "" }
func (e IntentUpdated) Run() string     { return e.RunID }
func (e PlanUpdated) Run() string       { return e.RunID }
func (e TodoUpdated) Run() string       { return e.RunID }
func (ModelChanged) Run() string        { return "" }
func (UsageInfo) Run() string           { return "" }
func (QuotaInfo) Run() string           { return "" }
func (QuestionRequested) Run() string   { return "" }
func (QuestionAnswered) Run() string    { return "" }
func (QuestionCancelled) Run() string   { return "" }
func (SessionCreated) Run() string      { return "" }
func (SessionSwitched) Run() string     { return "" }
func (SessionsListed) Run() string      { return "" }
func (HistoryLoaded) Run() string       { return "" }
func (QueueEnqueued) Run() string       { return "" }
func (QueueDequeued) Run() string       { return "" }
func (e EphemeralStarted) Run() string  { return e.RunID }
func (e EphemeralClosed) Run() string   { return e.RunID }
func (HarnessError) Run() string        { return "" }

func (RunStarted) isEvent()        {}
func (RunFinished) isEvent()       {}
func (RunCancelled) isEvent()      {}
func (MessageDelta) isEvent()      {}
func (ReasoningDelta) isEvent()    {}
func (MessageFinal) isEvent()      {}
func (UserMessage) isEvent()       {}
func (Log) isEvent()               {}
func (ToolStarted) isEvent()       {}
func (ToolProgress) isEvent()      {}
func (ToolCompleted) isEvent()     {}
func (TaskStarted) isEvent()       {}
func (TaskCompleted) isEvent()     {}
func (SubagentStarted) isEvent()   {}
func (SubagentCompleted) isEvent() {}
func (SkillInvoked) isEvent()      {}
func (IntentUpdated) isEvent()     {}
func (PlanUpdated) isEvent()       {}
func (TodoUpdated) isEvent()       {}
func (ModelChanged) isEvent()      {}
func (UsageInfo) isEvent()         {}
func (QuotaInfo) isEvent()         {}
func (QuestionRequested) isEvent() {}
func (QuestionAnswered) isEvent()  {}
func (QuestionCancelled) isEvent() {}
func (SessionCreated) isEvent()    {}
func (SessionSwitched) isEvent()   {}
func (SessionsListed) isEvent()    {}
func (HistoryLoaded) isEvent()     {}
func (QueueEnqueued) isEvent()     {}
func (QueueDequeued) isEvent()     {}
func (EphemeralStarted) isEvent()  {}
func (EphemeralClosed) isEvent()   {}
func (HarnessError) isEvent()      {}

// NewLog builds a log event stamped with the current time.
func NewLog(level LogLevel, message string) Log {
	return Log{Level: level, Message: message, At: time.Now()}
}
