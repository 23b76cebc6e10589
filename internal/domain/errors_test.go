package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Orchestrator.SwitchSession", ErrSessionNotFound, "s-42")
	want := "Orchestrator.SwitchSession: s-42: session not found"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Provider.Run", ErrMaxIterations, "")
	want := "Provider.Run: run reached max tool iterations"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrapAndAs(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewDomainError("Model.Switch", ErrModelNotFound, "gpt-x"))
	require.ErrorIs(t, err, ErrModelNotFound)

	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "Model.Switch", de.Op)
}

func TestWrapOp(t *testing.T) {
	assert.NoError(t, WrapOp("noop", nil))

	err := WrapOp("store.Open", ErrNotFound)
	assert.EqualError(t, err, "store.Open: not found")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, CodeUnknown},
		{"sentinel", ErrRateLimit, CodeRateLimit},
		{"domain error", NewDomainError("op", ErrToolNotFound, "x"), CodeToolNotFound},
		{"wrapped", fmt.Errorf("ctx: %w", ErrRunInProgress), CodeRunInProgress},
		{"unknown", errors.New("boom"), CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeOf(tt.err))
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(fmt.Errorf("%w: 429", ErrRateLimit)))
	assert.True(t, IsRetryableError(ErrServerFailure))
	assert.False(t, IsRetryableError(ErrAuthInvalid))
}
