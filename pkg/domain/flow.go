package domain

// Edge connects two nodes. SourceHandle labels branch edges ("out-<label>").
type Edge struct {
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
}

// Flow is the static graph definition of one agent.
// Node and edge order is significant and preserved.
type Flow struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node returns the node with the given id.
func (f *Flow) Node(id string) (*Node, bool) {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i], true
		}
	}
	return nil, false
}

// BeginNode returns the first node of kind begin.
func (f *Flow) BeginNode() (*Node, bool) {
	for i := range f.Nodes {
		if f.Nodes[i].Kind == KindBegin {
			return &f.Nodes[i], true
		}
	}
	return nil, false
}

// OutgoingEdges returns the edges leaving nodeID, in definition order.
func (f *Flow) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range f.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// BranchHandle is the sourceHandle used for the edge of a categorize label.
func BranchHandle(label string) string {
	return "out-" + label
}
