package domain

import (
	"maps"
	"time"
)

// Reserved variable names written by the engine.
const (
	VarUserInput = "userInput"
	VarCategory  = "category"
)

// HistoryUserInput is the node type recorded for user turns in History.
const HistoryUserInput = "user-input"

// ComponentOutput is the last output produced by a node.
type ComponentOutput struct {
	Output string   `json:"output"`
	Type   NodeKind `json:"type"`
}

// HistoryEntry records one visited node (or one user turn) of a conversation.
type HistoryEntry struct {
	NodeID    string    `json:"nodeId"`
	NodeType  string    `json:"nodeType"`
	Output    string    `json:"output,omitempty"`
	Input     string    `json:"input,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FlowState is the run-time record of one conversation.
// The engine treats it as a value: every step produces a new FlowState.
type FlowState struct {
	CurrentNodeID string                     `json:"currentNodeId"`
	Variables     map[string]any             `json:"variables"`
	Components    map[string]ComponentOutput `json:"components"`
	History       []HistoryEntry             `json:"history"`
	Completed     bool                       `json:"completed"`
}

// NewFlowState creates a clean state positioned at startNodeID.
func NewFlowState(startNodeID string) *FlowState {
	return &FlowState{
		CurrentNodeID: startNodeID,
		Variables:     make(map[string]any),
		Components:    make(map[string]ComponentOutput),
		History:       []HistoryEntry{},
	}
}

// Clone returns a copy that shares nothing mutable with s.
// Nested maps and slices inside Variables are copied as well.
func (s *FlowState) Clone() *FlowState {
	if s == nil {
		return nil
	}
	out := &FlowState{
		CurrentNodeID: s.CurrentNodeID,
		Variables:     deepCopyMap(s.Variables),
		Components:    make(map[string]ComponentOutput, len(s.Components)),
		History:       make([]HistoryEntry, len(s.History)),
		Completed:     s.Completed,
	}
	maps.Copy(out.Components, s.Components)
	copy(out.History, s.History)
	return out
}

// UserInput returns the latest user input recorded in the variables.
func (s *FlowState) UserInput() string {
	if s == nil {
		return ""
	}
	v, _ := s.Variables[VarUserInput].(string)
	return v
}

// LastOutputOf returns the output of the most recent history entry of the given kind.
func (s *FlowState) LastOutputOf(kind NodeKind) (string, bool) {
	if s == nil {
		return "", false
	}
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].NodeType == string(kind) {
			return s.History[i].Output, true
		}
	}
	return "", false
}

// VisitedNodes returns the node ids in history order, skipping user turns.
func (s *FlowState) VisitedNodes() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.History))
	for _, h := range s.History {
		if h.NodeType != HistoryUserInput {
			ids = append(ids, h.NodeID)
		}
	}
	return ids
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyValue(item)
		}
		return cp
	default:
		return v
	}
}
