package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/flowchat/pkg/domain"
)

// Overlay contains run-time state to highlight on the graph.
type Overlay struct {
	VisitedNodes []string
	CurrentNode  string
}

// OverlayFromState builds an Overlay from a conversation state.
func OverlayFromState(state *domain.FlowState) *Overlay {
	if state == nil {
		return nil
	}
	return &Overlay{VisitedNodes: state.VisitedNodes(), CurrentNode: state.CurrentNodeID}
}

// GenerateMermaid produces a Mermaid flowchart of flow.
// Node shapes follow the node kind:
//   - begin: ((circle))
//   - interface: [/parallelogram/]
//   - generate: [[subroutine]]
//   - categorize: {rhombus}
//   - retrieval: [(cylinder)]
//
// Branch edges are labelled with their category. Overlay styles are applied if provided.
func GenerateMermaid(flow *domain.Flow, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	if flow == nil {
		return sb.String()
	}

	for _, node := range flow.Nodes {
		opener, closer := shape(node.Kind)
		label := strings.ReplaceAll(node.DisplayName(), `"`, "'")
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", sanitizeMermaidID(node.ID), opener, label, closer)
	}

	for _, e := range flow.Edges {
		from, to := sanitizeMermaidID(e.Source), sanitizeMermaidID(e.Target)
		if branch, ok := strings.CutPrefix(e.SourceHandle, domain.BranchHandle("")); ok && branch != "" {
			fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", from, strings.ReplaceAll(branch, `"`, "'"), to)
			continue
		}
		fmt.Fprintf(&sb, "    %s --> %s\n", from, to)
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Black text keeps the highlight readable on light and dark themes.
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visited := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			safeID := sanitizeMermaidID(id)
			if safeID != "" && !visited[safeID] {
				visited[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}
		if overlay.CurrentNode != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.CurrentNode))
		}
	}

	return sb.String()
}

func shape(kind domain.NodeKind) (string, string) {
	switch kind {
	case domain.KindBegin:
		return "((", "))"
	case domain.KindInterface:
		return "[/", "/]"
	case domain.KindGenerate:
		return "[[", "]]"
	case domain.KindCategorize:
		return "{", "}"
	case domain.KindRetrieval:
		return "[(", ")]"
	}
	return "[", "]"
}

func sanitizeMermaidID(id string) string {
	return strings.NewReplacer(".", "_", "-", "_", "/", "_", "\\", "_", " ", "_").Replace(id)
}
