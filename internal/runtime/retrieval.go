package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/aretw0/flowchat/pkg/ports"
	"golang.org/x/sync/errgroup"
)

// Messages of retrieval results that cannot run.
const (
	MsgNoKnowledgeBases = "No knowledge bases specified"
	MsgNoQuery          = "No query provided"
	MsgNoHits           = "No relevant information found."
)

func (e *Engine) executeRetrieval(ctx context.Context, node *domain.Node, ec ExecContext) (*domain.ExecutionResult, error) {
	start := e.now()
	form, err := formOf[domain.RetrievalForm](node)
	if err != nil {
		return nil, err
	}
	form = form.WithDefaults()

	if len(form.KnowledgeIDs) == 0 {
		return e.reject(node, start, MsgNoKnowledgeBases), nil
	}
	query := resolveQuery(form.Inputs, ec.State)
	if query == "" {
		return e.reject(node, start, MsgNoQuery), nil
	}
	if e.deps.Retrieval == nil {
		return nil, &domain.ConfigurationError{NodeID: node.ID, Reason: "no retrieval provider configured"}
	}

	opts := ports.SearchOptions{Limit: form.Limit, Threshold: form.Threshold}
	results := make([][]ports.Hit, len(form.KnowledgeIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, kb := range form.KnowledgeIDs {
		g.Go(func() error {
			return e.callProvider(gctx, node, "retrieval", kb, func(ctx context.Context) error {
				hits, err := e.deps.Retrieval.Search(ctx, kb, query, opts)
				if err != nil {
					return fmt.Errorf("knowledge base %q: %w", kb, err)
				}
				results[i] = hits
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &domain.ProviderError{Provider: "retrieval", Cause: err}
	}

	var hits []ports.Hit
	for _, r := range results {
		hits = append(hits, r...)
	}
	if len(hits) > form.Limit {
		hits = hits[:form.Limit]
	}

	output, err := FormatHits(hits, form.OutputFormat)
	if err != nil {
		return nil, &domain.InternalError{NodeID: node.ID, Cause: err}
	}

	next, _ := FindNextNode(ec.Flow, node.ID, "")
	res := e.proceed(node, start, domain.RoleAssistant, output, next)
	res.FlowState = componentDelta(node, output)
	return res, nil
}

// resolveQuery builds the search text from the input references.
// A reference names a node (its component output) or a variable.
// Without usable references the latest user input is used.
func resolveQuery(inputs []string, state *domain.FlowState) string {
	var parts []string
	for _, ref := range inputs {
		if c, ok := state.Components[ref]; ok && c.Output != "" {
			parts = append(parts, c.Output)
			continue
		}
		if v, ok := state.Variables[ref]; ok && v != nil {
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				parts = append(parts, s)
			}
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}
	return strings.TrimSpace(state.UserInput())
}

// FormatHits renders hits as plain text, cited text or indented JSON.
func FormatHits(hits []ports.Hit, format string) (string, error) {
	switch format {
	case domain.OutputJSON:
		if hits == nil {
			hits = []ports.Hit{}
		}
		data, err := json.MarshalIndent(hits, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	case domain.OutputCitations:
		if len(hits) == 0 {
			return MsgNoHits, nil
		}
		var b strings.Builder
		for i, h := range hits {
			fmt.Fprintf(&b, "%s [%d]\n\n", h.Text, i+1)
		}
		b.WriteString("Sources:")
		for i, h := range hits {
			fmt.Fprintf(&b, "\n[%d] %s", i+1, h.Source)
		}
		return b.String(), nil
	case domain.OutputPlain, "":
		if len(hits) == 0 {
			return MsgNoHits, nil
		}
		blocks := make([]string, len(hits))
		for i, h := range hits {
			blocks[i] = fmt.Sprintf("%d. %s\n   Source: %s", i+1, h.Text, h.Source)
		}
		return strings.Join(blocks, "\n\n"), nil
	}
	return "", fmt.Errorf("unknown output format %q", format)
}
