package dsl

import (
	"errors"
	"fmt"

	"github.com/aretw0/flowchat/internal/validator"
	"github.com/aretw0/flowchat/pkg/adapters/memory"
	"github.com/aretw0/flowchat/pkg/domain"
)

// Builder manages the flow construction.
type Builder struct {
	id    string
	name  string
	nodes []*NodeBuilder
	index map[string]*NodeBuilder
	edges []domain.Edge
	errs  []error
}

// New creates a builder for the flow with the given id.
func New(id string) *Builder {
	return &Builder{id: id, index: make(map[string]*NodeBuilder)}
}

// Name sets the display name of the flow.
func (b *Builder) Name(name string) *Builder {
	b.name = name
	return b
}

// Begin adds the entry node with its greeting template.
func (b *Builder) Begin(id, greeting string) *NodeBuilder {
	n := b.add(id, domain.KindBegin)
	n.begin.Greeting = greeting
	return n
}

// Interface adds a pause point.
func (b *Builder) Interface(id string) *NodeBuilder {
	return b.add(id, domain.KindInterface)
}

// Generate adds a model call rendering prompt.
func (b *Builder) Generate(id, prompt string) *NodeBuilder {
	n := b.add(id, domain.KindGenerate)
	n.generate.Prompt = prompt
	return n
}

// Categorize adds a branching node. Declare its labels with Category.
func (b *Builder) Categorize(id string) *NodeBuilder {
	return b.add(id, domain.KindCategorize)
}

// Retrieval adds a lookup in the given knowledge bases.
func (b *Builder) Retrieval(id string, knowledgeIDs ...string) *NodeBuilder {
	n := b.add(id, domain.KindRetrieval)
	n.retrieval.KnowledgeIDs = knowledgeIDs
	return n
}

// Node returns the builder of an already added node.
func (b *Builder) Node(id string) (*NodeBuilder, bool) {
	n, ok := b.index[id]
	return n, ok
}

func (b *Builder) add(id string, kind domain.NodeKind) *NodeBuilder {
	n := &NodeBuilder{b: b, id: id, kind: kind}
	if _, dup := b.index[id]; dup {
		b.errs = append(b.errs, fmt.Errorf("node %q added twice", id))
		return n
	}
	b.index[id] = n
	b.nodes = append(b.nodes, n)
	return n
}

// Flow assembles and validates the flow.
func (b *Builder) Flow() (*domain.Flow, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	flow := &domain.Flow{
		ID:    b.id,
		Name:  b.name,
		Nodes: make([]domain.Node, 0, len(b.nodes)),
		Edges: append([]domain.Edge(nil), b.edges...),
	}
	for _, n := range b.nodes {
		flow.Nodes = append(flow.Nodes, n.Build())
	}
	if err := validator.ValidateFlow(flow); err != nil {
		return nil, fmt.Errorf("flow %s: %w", b.id, err)
	}
	return flow, nil
}

// Loader builds the flow and serves it from a memory loader.
func (b *Builder) Loader() (*memory.Loader, error) {
	flow, err := b.Flow()
	if err != nil {
		return nil, err
	}
	return memory.NewFromFlows(flow)
}
