package domain

import "context"

// LLMProvider is the interface for any chat-completion backend.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "openai", "groq").
	Name() string
}

// StreamDelta is a single incremental chunk from a streaming LLM response.
type StreamDelta struct {
	Content   string     `json:"content,omitempty"`
	Thinking  string     `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Done      bool       `json:"done,omitempty"`
	Usage     *Usage     `json:"usage,omitempty"`
	Err       error      `json:"-"`
}

// StreamMeta carries response metadata observed when a stream opens.
type StreamMeta struct {
	// RemainingRequests is the provider-reported request quota, -1 if absent.
	RemainingRequests int
}

// StreamingLLMProvider extends LLMProvider with streaming support.
type StreamingLLMProvider interface {
	LLMProvider
	// ChatStream sends a request and returns a channel of incremental deltas.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, StreamMeta, error)
}

// Attachment is a file sent along with a prompt.
type Attachment struct {
	Path     string
	Name     string
	MimeType string
}

// ModelInfo describes a selectable model.
type ModelInfo struct {
	ID          string
	Name        string
	TokenLimit  int
	Description string
}

// EphemeralOptions tunes a background prompt.
type EphemeralOptions struct {
	Model        string
	SystemPrompt string
}

// UserInputRequest is a question the backend needs answered.
type UserInputRequest struct {
	Question      string
	Choices       []string
	AllowFreeform bool
}

// UserInputResponse is the user's answer to a UserInputRequest.
type UserInputResponse struct {
	Answer      string
	WasFreeform bool
}

// UserInputHandler answers backend questions. It blocks until the user
// answers or ctx ends.
type UserInputHandler func(ctx context.Context, req UserInputRequest) (UserInputResponse, error)

// RunProvider is the backend session client driven by the orchestrator.
// SendPrompt and RunEphemeralPrompt return once the backend accepted the
// prompt; the run's progress and its terminal run.finished arrive through the
// handler registered with OnEvent.
type RunProvider interface {
	Initialize(ctx context.Context) error
	SendPrompt(ctx context.Context, text, runID string, attachments []Attachment) error
	Abort(ctx context.Context) error
	SwitchModel(ctx context.Context, modelID string) error
	RunEphemeralPrompt(ctx context.Context, prompt, runID string, opts EphemeralOptions) error

	CreateNewSession(ctx context.Context) (string, error)
	SwitchToSession(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context) ([]SessionInfo, error)

	CurrentModel() string
	AvailableModels() []ModelInfo
	CurrentSessionID() string

	OnEvent(handler EventHandler)
	OnUserInputRequest(handler UserInputHandler)
}

// HistoryProvider is implemented by run providers that can replay the stored
// messages of a session.
type HistoryProvider interface {
	SessionHistory(ctx context.Context, sessionID string) ([]ChatMessage, error)
}
