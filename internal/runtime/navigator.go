package runtime

import "github.com/aretw0/flowchat/pkg/domain"

// FindNextNode resolves the node that follows currentNodeID.
//
// Without a selector the first outgoing edge (definition order) wins.
// With a selector only the edge whose sourceHandle is "out-<selector>" matches.
// The boolean is false when no edge applies, which is not an error by itself.
func FindNextNode(flow *domain.Flow, currentNodeID, selector string) (string, bool) {
	edges := flow.OutgoingEdges(currentNodeID)
	if len(edges) == 0 {
		return "", false
	}
	if selector == "" {
		return edges[0].Target, true
	}
	handle := domain.BranchHandle(selector)
	for _, e := range edges {
		if e.SourceHandle == handle {
			return e.Target, true
		}
	}
	return "", false
}
