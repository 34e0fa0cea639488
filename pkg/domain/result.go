package domain

import "time"

// ExecutionStatus is the outcome of a single node execution.
type ExecutionStatus string

const (
	// StatusInProgress means the engine continues with the next node.
	StatusInProgress ExecutionStatus = "in_progress"
	// StatusCompleted means the turn is over (pause point or end of flow).
	StatusCompleted ExecutionStatus = "completed"
	// StatusError means the node failed; the turn stops here.
	StatusError ExecutionStatus = "error"
)

// Role is the author of a message part.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
)

// MessagePart is the content passed from one node to the next.
type MessagePart struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NodeInfo identifies the node that produced a result.
type NodeInfo struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Kind NodeKind `json:"kind"`
	Role Role     `json:"role"`
}

// Execution carries the output of a node and its timing.
type Execution struct {
	Output    string     `json:"output"`
	NodeID    string     `json:"nodeId"`
	NodeName  string     `json:"nodeName"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
}

// StateDelta holds the variables and components written by one node.
type StateDelta struct {
	Variables  map[string]any             `json:"variables,omitempty"`
	Components map[string]ComponentOutput `json:"components,omitempty"`
}

// SetVariable records a variable write.
func (d *StateDelta) SetVariable(key string, value any) {
	if d.Variables == nil {
		d.Variables = make(map[string]any)
	}
	d.Variables[key] = value
}

// SetComponent records a component write.
func (d *StateDelta) SetComponent(nodeID string, out ComponentOutput) {
	if d.Components == nil {
		d.Components = make(map[string]ComponentOutput)
	}
	d.Components[nodeID] = out
}

// ExecutionResult is produced by every node execution.
type ExecutionResult struct {
	Status     ExecutionStatus `json:"status"`
	NextNodeID string          `json:"nextNodeId,omitempty"`
	NodeInfo   NodeInfo        `json:"nodeInfo"`
	Execution  Execution       `json:"execution"`
	FlowState  *StateDelta     `json:"flowState,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// Failed reports whether the result carries an error status.
func (r *ExecutionResult) Failed() bool {
	return r != nil && r.Status == StatusError
}
