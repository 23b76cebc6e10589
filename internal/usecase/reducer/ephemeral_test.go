package reducer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anvil/internal/domain"
)

func TestEphemeralEventsDoNotTouchMainState(t *testing.T) {
	idx := NewToolIndex()
	r := New(domain.Limits{})
	s := fold(r, domain.NewHarnessState(), idx,
		domain.RunStarted{RunID: "fg"},
		domain.MessageDelta{RunID: "fg", Delta: "main"},
		domain.ToolStarted{RunID: "fg", ToolCallID: "t1"},
		domain.EphemeralStarted{RunID: "eph", Prompt: "summarize"},
	)
	before := s.Clone()

	s = fold(r, s, idx,
		domain.RunStarted{RunID: "eph"},
		domain.MessageDelta{RunID: "eph", Delta: "bg "},
		domain.ReasoningDelta{RunID: "eph", Delta: "hmm"},
		domain.ToolStarted{RunID: "eph", ToolCallID: "t9"},
		domain.ToolProgress{RunID: "eph", ToolCallID: "t1", Message: "hijack"},
		domain.MessageFinal{RunID: "eph"},
		domain.MessageDelta{RunID: "eph", Delta: "tail"},
		domain.RunFinished{RunID: "eph"},
	)

	if diff := cmp.Diff(before.Transcript, s.Transcript); diff != "" {
		t.Errorf("transcript changed (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(before.ActiveTools, s.ActiveTools); diff != "" {
		t.Errorf("active tools changed (-before +after):\n%s", diff)
	}
	assert.Equal(t, "main", s.StreamingContent)
	assert.Equal(t, domain.StatusRunning, s.Status)
	assert.Equal(t, "fg", s.CurrentRunID)
	assert.Equal(t, 0, s.ContextInfo.ConsumedRequests)

	er := s.EphemeralRun
	require.NotNil(t, er)
	assert.Equal(t, domain.ItemCompleted, er.Status)
	require.Len(t, er.Transcript, 3)
	assert.Equal(t, "summarize", er.Transcript[0].Content)
	assert.Equal(t, "bg ", er.Transcript[1].Content)
	assert.Equal(t, "hmm", er.Transcript[1].Reasoning)
	assert.Equal(t, "tail", er.Transcript[2].Content)
}

func TestEphemeralFailureAndClose(t *testing.T) {
	idx := NewToolIndex()
	r := New(domain.Limits{})
	s := fold(r, domain.NewHarnessState(), idx,
		domain.EphemeralStarted{RunID: "eph", Prompt: "bg"},
		domain.RunStarted{RunID: "eph"},
		domain.RunFinished{RunID: "eph", Error: "backend down"},
	)
	require.NotNil(t, s.EphemeralRun)
	assert.Equal(t, domain.ItemFailed, s.EphemeralRun.Status)
	assert.Equal(t, "backend down", s.EphemeralRun.Error)
	assert.Equal(t, domain.StatusIdle, s.Status)

	s = r.Process(s, domain.EphemeralClosed{RunID: "eph"}, idx)
	assert.Nil(t, s.EphemeralRun)

	// After close, events of the old ephemeral run are stale.
	s = r.Process(s, domain.MessageDelta{RunID: "eph", Delta: "late"}, idx)
	assert.Empty(t, s.StreamingContent)
}

func TestEphemeralCancelled(t *testing.T) {
	idx := NewToolIndex()
	s := fold(New(domain.Limits{}), domain.NewHarnessState(), idx,
		domain.EphemeralStarted{RunID: "eph", Prompt: "bg"},
		domain.MessageDelta{RunID: "eph", Delta: "partial"},
		domain.RunCancelled{RunID: "eph"},
		domain.RunFinished{RunID: "eph"},
	)
	assert.Equal(t, domain.ItemCancelled, s.EphemeralRun.Status)
	assert.Empty(t, s.EphemeralRun.StreamingContent)
	assert.Len(t, s.EphemeralRun.Transcript, 1)
}
