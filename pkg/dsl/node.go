package dsl

import (
	"fmt"

	"github.com/aretw0/flowchat/pkg/domain"
)

// NodeBuilder provides a fluent API for configuring a node.
// Setters that do not apply to the node kind are reported by Builder.Flow.
type NodeBuilder struct {
	b    *Builder
	id   string
	kind domain.NodeKind
	name string

	begin      domain.BeginForm
	iface      domain.InterfaceForm
	generate   domain.GenerateForm
	categorize domain.CategorizeForm
	retrieval  domain.RetrievalForm
}

func (n *NodeBuilder) expect(kind domain.NodeKind, setter string) bool {
	if n.kind == kind {
		return true
	}
	n.b.errs = append(n.b.errs, fmt.Errorf("node %q: %s applies to %s nodes, not %s", n.id, setter, kind, n.kind))
	return false
}

// Named sets the display name of the node.
func (n *NodeBuilder) Named(name string) *NodeBuilder {
	n.name = name
	return n
}

// To adds an unconditional edge to target.
func (n *NodeBuilder) To(target string) *NodeBuilder {
	n.b.edges = append(n.b.edges, domain.Edge{Source: n.id, Target: target})
	return n
}

// Var declares a flow variable on the begin node.
func (n *NodeBuilder) Var(key string, value any) *NodeBuilder {
	if n.expect(domain.KindBegin, "Var") {
		n.begin.Variables = append(n.begin.Variables, domain.VariableDecl{Key: key, Value: value})
	}
	return n
}

// Template sets the display template of an interface node.
func (n *NodeBuilder) Template(tmpl string) *NodeBuilder {
	if n.expect(domain.KindInterface, "Template") {
		n.iface.Template = tmpl
	}
	return n
}

// Model sets the model reference of a generate or categorize node.
func (n *NodeBuilder) Model(ref string) *NodeBuilder {
	switch n.kind {
	case domain.KindGenerate:
		n.generate.Model = ref
	case domain.KindCategorize:
		n.categorize.Model = ref
	default:
		n.expect(domain.KindGenerate, "Model")
	}
	return n
}

// System sets the system prompt of a generate node.
func (n *NodeBuilder) System(prompt string) *NodeBuilder {
	if n.expect(domain.KindGenerate, "System") {
		n.generate.SystemPrompt = prompt
	}
	return n
}

// Temperature sets the sampling temperature of a generate node.
func (n *NodeBuilder) Temperature(t float64) *NodeBuilder {
	if n.expect(domain.KindGenerate, "Temperature") {
		n.generate.Temperature = &t
	}
	return n
}

// MaxTokens bounds the completion length of a generate node.
func (n *NodeBuilder) MaxTokens(max int) *NodeBuilder {
	if n.expect(domain.KindGenerate, "MaxTokens") {
		n.generate.MaxTokens = max
	}
	return n
}

// Category declares a label of a categorize node, matched by keywords.
func (n *NodeBuilder) Category(label string, keywords ...string) *NodeBuilder {
	if n.expect(domain.KindCategorize, "Category") {
		n.categorize.Categories = append(n.categorize.Categories, domain.Category{Label: label, Keywords: keywords})
	}
	return n
}

// When attaches a rule over the flow variables to a declared label.
func (n *NodeBuilder) When(label, expr string) *NodeBuilder {
	if !n.expect(domain.KindCategorize, "When") {
		return n
	}
	for i := range n.categorize.Categories {
		if n.categorize.Categories[i].Label == label {
			n.categorize.Categories[i].When = expr
			return n
		}
	}
	n.b.errs = append(n.b.errs, fmt.Errorf("node %q: When on undeclared label %q", n.id, label))
	return n
}

// Default sets the label chosen when no category matches.
func (n *NodeBuilder) Default(label string) *NodeBuilder {
	if n.expect(domain.KindCategorize, "Default") {
		n.categorize.Default = label
	}
	return n
}

// Branch adds the edge followed when the categorize node picks label.
func (n *NodeBuilder) Branch(label, target string) *NodeBuilder {
	if n.expect(domain.KindCategorize, "Branch") {
		n.b.edges = append(n.b.edges, domain.Edge{Source: n.id, Target: target, SourceHandle: domain.BranchHandle(label)})
	}
	return n
}

// Limit bounds the hits returned per knowledge base.
func (n *NodeBuilder) Limit(limit int) *NodeBuilder {
	if n.expect(domain.KindRetrieval, "Limit") {
		n.retrieval.Limit = limit
	}
	return n
}

// Threshold sets the minimum similarity of retrieval hits.
func (n *NodeBuilder) Threshold(t float64) *NodeBuilder {
	if n.expect(domain.KindRetrieval, "Threshold") {
		n.retrieval.Threshold = t
	}
	return n
}

// Format selects the retrieval output format (plain, citations or json).
func (n *NodeBuilder) Format(format string) *NodeBuilder {
	if n.expect(domain.KindRetrieval, "Format") {
		n.retrieval.OutputFormat = format
	}
	return n
}

// Build returns the configured domain.Node.
func (n *NodeBuilder) Build() domain.Node {
	node := domain.Node{ID: n.id, Kind: n.kind, Name: n.name}
	switch n.kind {
	case domain.KindBegin:
		node.Form = n.begin
	case domain.KindInterface:
		node.Form = n.iface
	case domain.KindGenerate:
		node.Form = n.generate
	case domain.KindCategorize:
		node.Form = n.categorize
	case domain.KindRetrieval:
		node.Form = n.retrieval
	}
	return node
}
