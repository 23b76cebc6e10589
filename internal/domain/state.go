package domain

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// RunStatus is the foreground status of the harness.
type RunStatus string

const (
	StatusIdle    RunStatus = "idle"
	StatusRunning RunStatus = "running"
	StatusError   RunStatus = "error"
)

// ItemStatus is the lifecycle of tools, tasks, subagents and ephemeral runs.
type ItemStatus string

const (
	ItemRunning   ItemStatus = "running"
	ItemCompleted ItemStatus = "completed"
	ItemFailed    ItemStatus = "failed"
	ItemCancelled ItemStatus = "cancelled"
)

// ItemKind distinguishes transcript entries.
type ItemKind string

const (
	KindMessage  ItemKind = "message"
	KindToolCall ItemKind = "tool_call"
)

// TranscriptItem is either a ChatMessage or a ToolCallItem.
type TranscriptItem interface {
	Kind() ItemKind
	isTranscriptItem()
}

// ChatMessage is a user or assistant message in the transcript.
type ChatMessage struct {
	ID             string
	Role           string
	Content        string
	DisplayContent string
	Reasoning      string
	At             time.Time
}

// Text returns what should be shown for the message.
func (m ChatMessage) Text() string {
	if m.DisplayContent != "" {
		return m.DisplayContent
	}
	return m.Content
}

// ToolCallItem tracks one tool invocation.
type ToolCallItem struct {
	ToolCallID  string
	ToolName    string
	Arguments   json.RawMessage
	Progress    []string
	Status      ItemStatus
	Output      string
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

func (ChatMessage) Kind() ItemKind  { return KindMessage }
func (ToolCallItem) Kind() ItemKind { return KindToolCall }

func (ChatMessage) isTranscriptItem()  {}
func (ToolCallItem) isTranscriptItem() {}

// LogEntry is a user-visible log line.
type LogEntry struct {
	Level   LogLevel
	Message string
	At      time.Time
}

// TaskItem is a background task reported by the backend.
type TaskItem struct {
	ID          string
	Description string
	Status      ItemStatus
	Result      string
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// SubagentItem is a nested agent run reported by the backend.
type SubagentItem struct {
	ID          string
	Name        string
	Description string
	Status      ItemStatus
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// SkillItem records invocations of one skill.
type SkillItem struct {
	Name        string
	Path        string
	InvokeCount int
	InvokedAt   time.Time
}

// QuestionRequest is a question the backend is waiting on.
type QuestionRequest struct {
	RequestID     string
	Question      string
	Choices       []string
	AllowFreeform bool
	At            time.Time
}

// SessionInfo describes a switchable conversation.
type SessionInfo struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// EphemeralRun is the isolated background conversation slot.
type EphemeralRun struct {
	RunID              string
	Prompt             string
	Transcript         []ChatMessage
	StreamingContent   string
	StreamingReasoning string
	Status             ItemStatus
	Error              string
	StartedAt          time.Time
	CompletedAt        time.Time
}

// ContextInfo holds token usage for the current session and cross-session
// request counters.
type ContextInfo struct {
	CurrentTokens  int
	TokenLimit     int
	MessagesLength int

	ConsumedRequests         int
	RemainingPremiumRequests int
	QuotaReported            bool
}

// ResetSession zeroes the session-scoped fields and keeps the counters.
func (c ContextInfo) ResetSession() ContextInfo {
	c.CurrentTokens = 0
	c.TokenLimit = 0
	c.MessagesLength = 0
	return c
}

// Limits caps the bounded collections of HarnessState.
type Limits struct {
	MaxTranscript int `yaml:"max_transcript"`
	MaxLogs       int `yaml:"max_logs"`
	MaxTasks      int `yaml:"max_tasks"`
	MaxSubagents  int `yaml:"max_subagents"`
	MaxSkills     int `yaml:"max_skills"`
}

// DefaultLimits returns the stock collection caps.
func DefaultLimits() Limits {
	return Limits{
		MaxTranscript: 500,
		MaxLogs:       100,
		MaxTasks:      50,
		MaxSubagents:  50,
		MaxSkills:     50,
	}
}

// WithDefaults fills zero or negative caps from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.MaxTranscript <= 0 {
		l.MaxTranscript = d.MaxTranscript
	}
	if l.MaxLogs <= 0 {
		l.MaxLogs = d.MaxLogs
	}
	if l.MaxTasks <= 0 {
		l.MaxTasks = d.MaxTasks
	}
	if l.MaxSubagents <= 0 {
		l.MaxSubagents = d.MaxSubagents
	}
	if l.MaxSkills <= 0 {
		l.MaxSkills = d.MaxSkills
	}
	return l
}

// HarnessState is the aggregate conversation state. It is replaced wholesale
// on every event; collections are never written in place once published.
type HarnessState struct {
	Status       RunStatus
	CurrentRunID string
	CurrentModel string

	Transcript         []TranscriptItem
	Logs               []LogEntry
	StreamingContent   string
	StreamingReasoning string
	ActiveTools        map[string]ToolCallItem

	Tasks     []TaskItem
	Subagents []SubagentItem
	Skills    []SkillItem

	Intent string
	Plan   string
	Todo   string

	MessageQueue    []string
	PendingQuestion *QuestionRequest

	CurrentSessionID  string
	AvailableSessions []SessionInfo

	EphemeralRun *EphemeralRun
	ContextInfo  ContextInfo
}

// NewHarnessState returns an idle, empty state.
func NewHarnessState() HarnessState {
	return HarnessState{
		Status:      StatusIdle,
		ActiveTools: map[string]ToolCallItem{},
	}
}

// Clone returns a deep copy safe to hand to readers outside the orchestrator.
func (s HarnessState) Clone() HarnessState {
	out := s
	out.Transcript = make([]TranscriptItem, len(s.Transcript))
	for i, item := range s.Transcript {
		if tc, ok := item.(ToolCallItem); ok {
			tc.Progress = slices.Clone(tc.Progress)
			item = tc
		}
		out.Transcript[i] = item
	}
	out.Logs = slices.Clone(s.Logs)
	out.ActiveTools = make(map[string]ToolCallItem, len(s.ActiveTools))
	for id, tc := range s.ActiveTools {
		tc.Progress = slices.Clone(tc.Progress)
		out.ActiveTools[id] = tc
	}
	out.Tasks = slices.Clone(s.Tasks)
	out.Subagents = slices.Clone(s.Subagents)
	out.Skills = slices.Clone(s.Skills)
	out.MessageQueue = slices.Clone(s.MessageQueue)
	out.AvailableSessions = slices.Clone(s.AvailableSessions)
	if s.PendingQuestion != nil {
		q := *s.PendingQuestion
		q.Choices = slices.Clone(q.Choices)
		out.PendingQuestion = &q
	}
	if s.EphemeralRun != nil {
		er := *s.EphemeralRun
		er.Transcript = slices.Clone(er.Transcript)
		out.EphemeralRun = &er
	}
	return out
}

// ToolCalls returns the tool items currently in the transcript.
func (s HarnessState) ToolCalls() []ToolCallItem {
	var out []ToolCallItem
	for _, item := range s.Transcript {
		if tc, ok := item.(ToolCallItem); ok {
			out = append(out, tc)
		}
	}
	return out
}

// ActiveToolIDs returns the ids of running tools, sorted.
func (s HarnessState) ActiveToolIDs() []string {
	return slices.Sorted(maps.Keys(s.ActiveTools))
}
