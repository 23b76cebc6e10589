package domain

// ActionType identifies a user action.
type ActionType string

const (
	ActionSubmitPrompt   ActionType = "submit.prompt"
	ActionCancel         ActionType = "cancel"
	ActionChangeModel    ActionType = "change.model"
	ActionAnswerQuestion ActionType = "answer.question"
	ActionSessionNew     ActionType = "session.new"
	ActionSessionSwitch  ActionType = "session.switch"
	ActionSessionRefresh ActionType = "session.refresh"
	ActionEphemeralClose ActionType = "ephemeral.close"
)

// Action is a user action dispatched to the orchestrator. Like Event, the set
// of implementations is closed.
type Action interface {
	ActionType() ActionType
	isAction()
}

type SubmitPrompt struct {
	Text        string
	Attachments []Attachment
}

type Cancel struct{}

type ChangeModel struct {
	ModelID string
}

// AnswerQuestion resolves a pending question. WasFreeform is false when the
// answer is one of the presented choices.
type AnswerQuestion struct {
	RequestID   string
	Answer      string
	WasFreeform bool
}

type NewSession struct{}

type SwitchSession struct {
	SessionID string
}

type RefreshSessions struct{}

type CloseEphemeral struct{}

func (SubmitPrompt) ActionType() ActionType    { return ActionSubmitPrompt }
func (Cancel) ActionType() ActionType          { return ActionCancel }
func (ChangeModel) ActionType() ActionType     { return ActionChangeModel }
func (AnswerQuestion) ActionType() ActionType  { return ActionAnswerQuestion }
func (NewSession) ActionType() ActionType      { return ActionSessionNew }
func (SwitchSession) ActionType() ActionType   { return ActionSessionSwitch }
func (RefreshSessions) ActionType() ActionType { return ActionSessionRefresh }
func (CloseEphemeral) ActionType() ActionType  { return ActionEphemeralClose }

func (SubmitPrompt) isAction()    {}
func (Cancel) isAction()          {}
func (ChangeModel) isAction()     {}
func (AnswerQuestion) isAction()  {}
func (NewSession) isAction()      {}
func (SwitchSession) isAction()   {}
func (RefreshSessions) isAction() {}
func (CloseEphemeral) isAction()  {}
