package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"anvil/internal/domain"
)

// RequestUserInput asks the user a question and blocks until it is answered
// through an answer.question action, ctx ends, or the orchestrator closes.
// It is registered as the provider's user-input handler.
func (o *Orchestrator) RequestUserInput(ctx context.Context, req domain.UserInputRequest) (domain.UserInputResponse, error) {
	id := uuid.NewString()
	ch := make(chan domain.UserInputResponse, 1)

	o.questionsMu.Lock()
	o.questions[id] = ch
	o.questionsMu.Unlock()

	o.Emit(domain.QuestionRequested{
		RequestID:     id,
		Question:      req.Question,
		Choices:       req.Choices,
		AllowFreeform: req.AllowFreeform,
		At:            now(),
	})

	var cause error
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		cause = ctx.Err()
	case <-o.ctx.Done():
		cause = o.ctx.Err()
	}

	if !o.dropQuestion(id) {
		// Answered while we were giving up.
		return <-ch, nil
	}
	o.Emit(domain.QuestionCancelled{RequestID: id})
	return domain.UserInputResponse{}, fmt.Errorf("%w: %w", domain.ErrQuestionCancelled, cause)
}

// handleAnswer resolves a pending question. Unknown or already resolved ids
// are ignored.
func (o *Orchestrator) handleAnswer(a domain.AnswerQuestion) {
	o.questionsMu.Lock()
	ch, ok := o.questions[a.RequestID]
	delete(o.questions, a.RequestID)
	o.questionsMu.Unlock()
	if !ok {
		return
	}
	ch <- domain.UserInputResponse{Answer: a.Answer, WasFreeform: a.WasFreeform}
	o.Emit(domain.QuestionAnswered{RequestID: a.RequestID, Answer: a.Answer, WasFreeform: a.WasFreeform})
}

func (o *Orchestrator) dropQuestion(id string) bool {
	o.questionsMu.Lock()
	defer o.questionsMu.Unlock()
	if _, ok := o.questions[id]; !ok {
		return false
	}
	delete(o.questions, id)
	return true
}

// pendingQuestions reports how many questions await an answer.
func (o *Orchestrator) pendingQuestions() int {
	o.questionsMu.Lock()
	defer o.questionsMu.Unlock()
	return len(o.questions)
}
