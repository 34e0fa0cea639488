package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunConversationStoreContract runs a suite of tests to verify that a ConversationStore
// implementation adheres to the defined interface contract.
func RunConversationStoreContract(t *testing.T, store ConversationStore) {
	ctx := context.Background()
	suffix := time.Now().Format("20060102150405.000000000")
	now := time.Now().UTC().Truncate(time.Second)

	newState := func() *domain.FlowState {
		s := domain.NewFlowState("ask")
		s.Variables["foo"] = "bar"
		s.Variables["count"] = 42
		s.Components["begin"] = domain.ComponentOutput{Output: "Hi", Type: domain.KindBegin}
		s.History = append(s.History,
			domain.HistoryEntry{NodeID: "begin", NodeType: string(domain.KindBegin), Output: "Hi", Timestamp: now},
		)
		return s
	}

	t.Run("Save creates and Load round-trips", func(t *testing.T) {
		id, err := store.Save(ctx, SaveRequest{
			FlowID:   "contract-flow",
			State:    newState(),
			Messages: []domain.Message{{Role: domain.RoleAssistant, Content: "Hi", CreatedAt: now}},
		})
		require.NoError(t, err, "Save should not return error")
		require.NotEmpty(t, id, "Save should assign an id")
		defer func() { _ = store.Delete(ctx, id) }()

		conv, err := store.Load(ctx, id)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, id, conv.ID)
		assert.Equal(t, "contract-flow", conv.FlowID)
		require.NotNil(t, conv.State)
		assert.Equal(t, "ask", conv.State.CurrentNodeID)
		assert.Equal(t, "bar", conv.State.Variables["foo"])
		// JSON-backed stores turn ints into float64; presence is what matters.
		assert.NotNil(t, conv.State.Variables["count"])
		assert.Equal(t, "Hi", conv.State.Components["begin"].Output)
		require.Len(t, conv.State.History, 1)
		assert.Equal(t, "begin", conv.State.History[0].NodeID)
		require.Len(t, conv.Messages, 1)
		assert.Equal(t, domain.RoleAssistant, conv.Messages[0].Role)
	})

	t.Run("Save on existing id replaces state and appends messages", func(t *testing.T) {
		id, err := store.Save(ctx, SaveRequest{
			FlowID:   "contract-flow",
			State:    newState(),
			Messages: []domain.Message{{Role: domain.RoleAssistant, Content: "Hi", CreatedAt: now}},
		})
		require.NoError(t, err)
		defer func() { _ = store.Delete(ctx, id) }()

		next := newState()
		next.CurrentNodeID = "end"
		next.Completed = true
		next.History = append(next.History, domain.HistoryEntry{NodeID: "gen", NodeType: "generate", Output: "ok", Timestamp: now})

		again, err := store.Save(ctx, SaveRequest{
			FlowID:         "contract-flow",
			ConversationID: id,
			State:          next,
			Messages: []domain.Message{
				{Role: domain.RoleUser, Content: "ping", CreatedAt: now},
				{Role: domain.RoleAssistant, Content: "ok", CreatedAt: now},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, id, again)

		conv, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "end", conv.State.CurrentNodeID)
		assert.True(t, conv.State.Completed)
		assert.Len(t, conv.State.History, 2)
		require.Len(t, conv.Messages, 3)
		assert.Equal(t, "ping", conv.Messages[1].Content)
		assert.Equal(t, "ok", conv.Messages[2].Content)
	})

	t.Run("Save with unknown id creates it", func(t *testing.T) {
		id := "contract-explicit-" + suffix
		got, err := store.Save(ctx, SaveRequest{FlowID: "contract-flow", ConversationID: id, State: newState()})
		require.NoError(t, err)
		defer func() { _ = store.Delete(ctx, id) }()
		assert.Equal(t, id, got)

		_, err = store.Load(ctx, id)
		assert.NoError(t, err)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+suffix)
		assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		id, err := store.Save(ctx, SaveRequest{FlowID: "contract-flow", State: newState()})
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, id), "Delete should not return error")

		_, err = store.Load(ctx, id)
		assert.ErrorIs(t, err, domain.ErrConversationNotFound, "Load after Delete should return ErrConversationNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1, err := store.Save(ctx, SaveRequest{FlowID: "contract-flow", State: newState()})
		require.NoError(t, err)
		id2, err := store.Save(ctx, SaveRequest{FlowID: "contract-flow", State: newState()})
		require.NoError(t, err)
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}
