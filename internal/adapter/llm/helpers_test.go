package llm

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"anvil/internal/domain"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusForbidden, domain.ErrAuthInvalid},
		{http.StatusRequestEntityTooLarge, domain.ErrContextOverflow},
		{http.StatusNotFound, domain.ErrModelNotFound},
		{http.StatusInternalServerError, domain.ErrServerFailure},
		{http.StatusBadGateway, domain.ErrServerFailure},
		{http.StatusBadRequest, domain.ErrProviderError},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := mapHTTPError(tt.status, []byte(" boom \n"))
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Contains(t, err.Error(), "boom")
		})
	}
}

func TestRemainingRequests(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, -1, remainingRequests(h))

	h.Set("X-Ratelimit-Remaining-Requests", " 12 ")
	assert.Equal(t, 12, remainingRequests(h))

	h.Set("X-Ratelimit-Remaining-Requests", "lots")
	assert.Equal(t, -1, remainingRequests(h))
}

func TestEstimateTokens(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "abcd"},
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{Arguments: []byte(`{"a":1}`)}}},
	}
	// 4 + ceil(4/4), 4 + ceil(7/4)
	assert.Equal(t, 11, EstimateTokens(msgs))
	assert.Zero(t, EstimateTokens(nil))
}
