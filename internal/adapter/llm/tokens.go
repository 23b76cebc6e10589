package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"anvil/internal/domain"
)

// TokenCounter estimates the prompt size of a conversation.
type TokenCounter func(msgs []domain.Message) int

// perMessageOverhead approximates the role and separator tokens of the chat
// format.
const perMessageOverhead = 4

// NewTiktokenCounter counts with the cl100k_base encoding. The encoding is
// loaded on first use; if it cannot be loaded the counter falls back to a
// four-characters-per-token estimate.
func NewTiktokenCounter() TokenCounter {
	var (
		once sync.Once
		enc  *tiktoken.Tiktoken
	)
	return func(msgs []domain.Message) int {
		once.Do(func() {
			e, err := tiktoken.GetEncoding("cl100k_base")
			if err == nil {
				enc = e
			}
		})
		if enc == nil {
			return EstimateTokens(msgs)
		}
		total := 0
		for _, m := range msgs {
			total += perMessageOverhead + len(enc.Encode(m.Content, nil, nil))
			for _, tc := range m.ToolCalls {
				total += len(enc.Encode(string(tc.Arguments), nil, nil))
			}
		}
		return total
	}
}

// EstimateTokens is the encoding-free estimate: four characters per token.
func EstimateTokens(msgs []domain.Message) int {
	total := 0
	for _, m := range msgs {
		n := len(m.Content)
		for _, tc := range m.ToolCalls {
			n += len(tc.Arguments)
		}
		total += perMessageOverhead + (n+3)/4
	}
	return total
}
