// Package validator checks flow definitions before they are executed.
//
// ValidateFlow checks the graph invariants the engine relies on.
// SchemaValidator checks raw flow documents against the embedded JSON Schema.
package validator

import (
	"errors"
	"fmt"
	"slices"

	"github.com/aretw0/flowchat/pkg/domain"
)

// ValidateFlow checks for broken links, unreachable nodes and nodes that can
// never hand control back to the user. All findings are joined in one error.
func ValidateFlow(flow *domain.Flow) error {
	if flow == nil {
		return &domain.ConfigurationError{Reason: "flow is nil"}
	}

	var errs []error
	report := func(nodeID, format string, args ...any) {
		errs = append(errs, &domain.ConfigurationError{NodeID: nodeID, Reason: fmt.Sprintf(format, args...)})
	}

	// 1. Nodes
	byID := make(map[string]*domain.Node, len(flow.Nodes))
	var begins, interfaces []string
	for i := range flow.Nodes {
		n := &flow.Nodes[i]
		if n.ID == "" {
			report("", "node at index %d has no id", i)
			continue
		}
		if _, dup := byID[n.ID]; dup {
			report(n.ID, "duplicate node id")
			continue
		}
		byID[n.ID] = n
		if !n.Kind.Valid() {
			report(n.ID, "unknown node kind %q", n.Kind)
			continue
		}
		if n.Form != nil && n.Form.Kind() != n.Kind {
			report(n.ID, "form of kind %q on a %q node", n.Form.Kind(), n.Kind)
		}
		switch n.Kind {
		case domain.KindBegin:
			begins = append(begins, n.ID)
		case domain.KindInterface:
			interfaces = append(interfaces, n.ID)
		}
	}
	switch len(begins) {
	case 0:
		report("", "flow has no begin node")
	case 1:
	default:
		report("", "flow has %d begin nodes: %v", len(begins), begins)
	}
	if len(interfaces) == 0 {
		report("", "flow has no interface node")
	}

	// 2. Edges
	outgoing := make(map[string][]domain.Edge)
	for _, e := range flow.Edges {
		if _, ok := byID[e.Source]; !ok {
			report(e.Source, "edge source does not exist")
			continue
		}
		if _, ok := byID[e.Target]; !ok {
			report(e.Source, "edge targets missing node %q", e.Target)
			continue
		}
		outgoing[e.Source] = append(outgoing[e.Source], e)
	}

	// 3. Forms
	for i := range flow.Nodes {
		n := &flow.Nodes[i]
		id := n.ID
		if byID[id] != n {
			continue
		}
		switch f := n.Form.(type) {
		case domain.CategorizeForm:
			checkCategorize(n, f, outgoing[id], report)
		case domain.RetrievalForm:
			switch f.OutputFormat {
			case "", domain.OutputPlain, domain.OutputCitations, domain.OutputJSON:
			default:
				report(id, "unknown output format %q", f.OutputFormat)
			}
		}
		if n.Kind != domain.KindInterface && n.Kind.Valid() && len(outgoing[id]) == 0 {
			report(id, "%s node has no outgoing edge", n.Kind)
		}
	}

	// 4. Reachability from begin
	if len(begins) == 1 {
		visited := map[string]bool{}
		queue := []string{begins[0]}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			if visited[current] {
				continue
			}
			visited[current] = true
			for _, e := range outgoing[current] {
				if !visited[e.Target] {
					queue = append(queue, e.Target)
				}
			}
		}

		// Every reachable node must be able to reach an interface node.
		canPause := map[string]bool{}
		for _, id := range interfaces {
			canPause[id] = true
		}
		for changed := true; changed; {
			changed = false
			for _, e := range flow.Edges {
				if canPause[e.Target] && !canPause[e.Source] {
					canPause[e.Source] = true
					changed = true
				}
			}
		}

		for _, n := range flow.Nodes {
			switch {
			case !visited[n.ID]:
				report(n.ID, "node is unreachable from begin")
			case !canPause[n.ID]:
				report(n.ID, "node never reaches an interface node")
			}
		}
	}

	return errors.Join(errs...)
}

func checkCategorize(n *domain.Node, f domain.CategorizeForm, edges []domain.Edge, report func(string, string, ...any)) {
	labels := f.Labels()
	if len(labels) == 0 {
		report(n.ID, "categorize node declares no categories")
	}
	if f.Default != "" && !slices.Contains(labels, f.Default) {
		report(n.ID, "default %q is not a declared category", f.Default)
	}
	handles := make(map[string]bool, len(edges))
	for _, e := range edges {
		handles[e.SourceHandle] = true
	}
	for _, label := range labels {
		if !handles[domain.BranchHandle(label)] && !handles[domain.BranchHandle(f.Default)] {
			report(n.ID, "category %q has no edge and no default edge to fall back to", label)
		}
	}
}
