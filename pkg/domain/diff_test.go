package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	base := &FlowState{
		CurrentNodeID: "ask",
		Variables:     map[string]any{"a": 1, "gone": "x"},
		Components:    map[string]ComponentOutput{"begin": {Output: "Hi", Type: KindBegin}},
		History:       []HistoryEntry{{NodeID: "begin", NodeType: "begin", Output: "Hi", Timestamp: ts}},
	}

	t.Run("initial load", func(t *testing.T) {
		d := Diff(nil, base)
		require.NotNil(t, d)
		assert.Equal(t, "ask", *d.CurrentNodeID)
		assert.Nil(t, d.Completed)
		assert.Equal(t, base.Variables, d.Variables)
		assert.Len(t, d.Appended, 1)
	})

	t.Run("no changes", func(t *testing.T) {
		assert.Nil(t, Diff(base, base.Clone()))
	})

	t.Run("variables, history and completion", func(t *testing.T) {
		next := base.Clone()
		next.Variables["a"] = 2
		next.Variables["b"] = "new"
		delete(next.Variables, "gone")
		next.History = append(next.History, HistoryEntry{NodeID: "gen", NodeType: "generate", Output: "ok", Timestamp: ts})
		next.Components["gen"] = ComponentOutput{Output: "ok", Type: KindGenerate}
		next.Completed = true

		d := Diff(base, next)
		require.NotNil(t, d)
		assert.Nil(t, d.CurrentNodeID)
		assert.True(t, *d.Completed)
		assert.Equal(t, map[string]any{"a": 2, "b": "new", "gone": nil}, d.Variables)
		assert.Equal(t, map[string]ComponentOutput{"gen": {Output: "ok", Type: KindGenerate}}, d.Components)
		require.Len(t, d.Appended, 1)
		assert.Equal(t, "gen", d.Appended[0].NodeID)
	})
}

func TestFlowState_CloneIsolation(t *testing.T) {
	s := NewFlowState("begin")
	s.Variables["nested"] = map[string]any{"k": "v"}
	s.History = append(s.History, HistoryEntry{NodeID: "begin"})

	c := s.Clone()
	c.Variables["nested"].(map[string]any)["k"] = "changed"
	c.History[0].NodeID = "other"
	c.Components["x"] = ComponentOutput{Output: "y"}

	assert.Equal(t, "v", s.Variables["nested"].(map[string]any)["k"])
	assert.Equal(t, "begin", s.History[0].NodeID)
	assert.Empty(t, s.Components)
}
