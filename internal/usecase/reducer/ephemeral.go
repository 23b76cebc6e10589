package reducer

import "anvil/internal/domain"

// processEphemeral applies an event that belongs to the ephemeral run. It only
// touches state.EphemeralRun; the main transcript, buffers and tools are left
// alone. Tool, task and scratch events of the ephemeral run are dropped.
func (r Reducer) processEphemeral(s domain.HarnessState, ev domain.Event) domain.HarnessState {
	er := *s.EphemeralRun

	switch e := ev.(type) {
	case domain.RunStarted:
		er.Status = domain.ItemRunning
		er.StreamingContent = ""
		er.StreamingReasoning = ""

	case domain.MessageDelta:
		er.StreamingContent += e.Delta

	case domain.ReasoningDelta:
		er.StreamingReasoning += e.Delta

	case domain.MessageFinal:
		content := e.Content
		if content == "" {
			content = er.StreamingContent
		}
		if content != "" {
			er.Transcript = appendBounded(er.Transcript, domain.ChatMessage{
				ID:        e.MessageID,
				Role:      domain.RoleAssistant,
				Content:   content,
				Reasoning: er.StreamingReasoning,
				At:        e.At,
			}, r.limits.MaxTranscript)
		}
		er.StreamingContent = ""
		er.StreamingReasoning = ""

	case domain.RunFinished:
		if er.Status != domain.ItemRunning {
			return s
		}
		if er.StreamingContent != "" {
			er.Transcript = appendBounded(er.Transcript, domain.ChatMessage{
				Role:      domain.RoleAssistant,
				Content:   er.StreamingContent,
				Reasoning: er.StreamingReasoning,
				At:        e.At,
			}, r.limits.MaxTranscript)
		}
		er.StreamingContent = ""
		er.StreamingReasoning = ""
		er.Status = domain.ItemCompleted
		if e.Error != "" {
			er.Status = domain.ItemFailed
			er.Error = e.Error
		}
		er.CompletedAt = e.At

	case domain.RunCancelled:
		if er.Status != domain.ItemRunning {
			return s
		}
		er.StreamingContent = ""
		er.StreamingReasoning = ""
		er.Status = domain.ItemCancelled
		er.CompletedAt = e.At

	case domain.EphemeralClosed:
		s.EphemeralRun = nil
		return s

	default:
		return s
	}

	s.EphemeralRun = &er
	return s
}
