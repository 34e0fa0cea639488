package domain

import (
	"reflect"
)

// StateDiff represents the changes between two flow states.
// It is serialized to JSON for clients that mirror the conversation state.
type StateDiff struct {
	CurrentNodeID *string `json:"currentNodeId,omitempty"`
	Completed     *bool   `json:"completed,omitempty"`

	// Variables contains only changed, added or deleted keys.
	// For deletions, the key is present with a nil value.
	Variables map[string]any `json:"variables,omitempty"`

	// Components contains components whose output changed.
	Components map[string]ComponentOutput `json:"components,omitempty"`

	// Appended holds the history entries added since the old state.
	Appended []HistoryEntry `json:"appended,omitempty"`
}

// Diff calculates the difference between oldState and newState.
// If oldState is nil, it returns a diff representing the entire newState.
// It returns nil when nothing changed.
func Diff(oldState, newState *FlowState) *StateDiff {
	if newState == nil {
		return nil
	}

	diff := &StateDiff{}
	if oldState == nil || oldState.CurrentNodeID != newState.CurrentNodeID {
		diff.CurrentNodeID = &newState.CurrentNodeID
	}
	if (oldState == nil && newState.Completed) || (oldState != nil && oldState.Completed != newState.Completed) {
		diff.Completed = &newState.Completed
	}

	diff.Variables = diffVariables(oldState, newState)
	diff.Components = diffComponents(oldState, newState)
	diff.Appended = diffHistory(oldState, newState)

	if diff.IsEmpty() {
		return nil
	}
	return diff
}

func diffVariables(old, new *FlowState) map[string]any {
	delta := make(map[string]any)
	if old == nil {
		for k, v := range new.Variables {
			delta[k] = v
		}
	} else {
		for k, newVal := range new.Variables {
			if oldVal, exists := old.Variables[k]; !exists || !reflect.DeepEqual(oldVal, newVal) {
				delta[k] = newVal
			}
		}
		for k := range old.Variables {
			if _, exists := new.Variables[k]; !exists {
				delta[k] = nil
			}
		}
	}
	if len(delta) == 0 {
		return nil
	}
	return delta
}

func diffComponents(old, new *FlowState) map[string]ComponentOutput {
	delta := make(map[string]ComponentOutput)
	for k, v := range new.Components {
		if old == nil {
			delta[k] = v
			continue
		}
		if prev, ok := old.Components[k]; !ok || prev != v {
			delta[k] = v
		}
	}
	if len(delta) == 0 {
		return nil
	}
	return delta
}

// diffHistory assumes append-only history.
func diffHistory(old, new *FlowState) []HistoryEntry {
	if len(new.History) == 0 {
		return nil
	}
	if old == nil {
		return new.History
	}
	if len(new.History) > len(old.History) {
		return new.History[len(old.History):]
	}
	return nil
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *StateDiff) IsEmpty() bool {
	return d.CurrentNodeID == nil &&
		d.Completed == nil &&
		len(d.Variables) == 0 &&
		len(d.Components) == 0 &&
		len(d.Appended) == 0
}
