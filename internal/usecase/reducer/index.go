package reducer

import "anvil/internal/domain"

// ToolIndex maps a toolCallId to its position in the transcript. It is a
// derived cache of the transcript: only this package writes it, and every
// trim or clear of the transcript rebuilds it.
type ToolIndex struct {
	positions map[string]int
}

// NewToolIndex returns an empty index.
func NewToolIndex() *ToolIndex {
	return &ToolIndex{positions: make(map[string]int)}
}

// Lookup returns the transcript position recorded for id. A nil index is
// empty.
func (x *ToolIndex) Lookup(id string) (int, bool) {
	if x == nil {
		return 0, false
	}
	pos, ok := x.positions[id]
	return pos, ok
}

// Len returns the number of indexed tool calls.
func (x *ToolIndex) Len() int {
	if x == nil {
		return 0
	}
	return len(x.positions)
}

// Snapshot returns a copy of the index contents.
func (x *ToolIndex) Snapshot() map[string]int {
	if x == nil {
		return map[string]int{}
	}
	out := make(map[string]int, len(x.positions))
	for id, pos := range x.positions {
		out[id] = pos
	}
	return out
}

// Rebuild recomputes the index from transcript.
func (x *ToolIndex) Rebuild(transcript []domain.TranscriptItem) {
	if x == nil {
		return
	}
	x.positions = make(map[string]int, len(x.positions))
	for i, item := range transcript {
		if tc, ok := item.(domain.ToolCallItem); ok {
			x.positions[tc.ToolCallID] = i
		}
	}
}

// Reset empties the index.
func (x *ToolIndex) Reset() {
	if x == nil {
		return
	}
	x.positions = make(map[string]int)
}

func (x *ToolIndex) set(id string, pos int) {
	if x == nil {
		return
	}
	if x.positions == nil {
		x.positions = make(map[string]int)
	}
	x.positions[id] = pos
}

// appendTranscript appends item, evicting the oldest entries past limit, and
// keeps idx in step with the result.
func appendTranscript(transcript []domain.TranscriptItem, item domain.TranscriptItem, limit int, idx *ToolIndex) []domain.TranscriptItem {
	out := appendBounded(transcript, item, limit)
	if len(out) <= len(transcript) {
		idx.Rebuild(out)
		return out
	}
	if tc, ok := item.(domain.ToolCallItem); ok {
		idx.set(tc.ToolCallID, len(out)-1)
	}
	return out
}

// appendBounded returns a new slice holding s plus v, truncated from the front
// to at most limit entries. A limit <= 0 disables the cap.
func appendBounded[T any](s []T, v T, limit int) []T {
	n := len(s) + 1
	start := 0
	if limit > 0 && n > limit {
		start = n - limit
	}
	out := make([]T, 0, n-start)
	out = append(out, s[start:]...)
	return append(out, v)
}

// truncateFront keeps the last limit entries of s in a new slice.
func truncateFront[T any](s []T, limit int) []T {
	start := 0
	if limit > 0 && len(s) > limit {
		start = len(s) - limit
	}
	out := make([]T, len(s)-start)
	copy(out, s[start:])
	return out
}

func replaceAt[T any](s []T, i int, v T) []T {
	out := make([]T, len(s))
	copy(out, s)
	out[i] = v
	return out
}
