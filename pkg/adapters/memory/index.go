package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/aretw0/flowchat/pkg/ports"
)

// ErrKnowledgeBaseNotFound is returned when searching an unknown knowledge base.
var ErrKnowledgeBaseNotFound = errors.New("knowledge base not found")

// Document is a chunk of text indexed by the Index.
type Document struct {
	Text     string         `json:"text" yaml:"text"`
	Source   string         `json:"source" yaml:"source"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

type indexedDocument struct {
	Document
	terms map[string]struct{}
}

// Index is an in-process retrieval provider scoring documents by keyword overlap.
// The similarity of a document is the share of distinct query terms it contains.
type Index struct {
	mu   sync.RWMutex
	docs map[string][]indexedDocument
}

var _ ports.RetrievalProvider = (*Index)(nil)

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{docs: make(map[string][]indexedDocument)}
}

// Add indexes documents under a knowledge base id.
func (ix *Index) Add(knowledgeBaseID string, docs ...Document) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, d := range docs {
		ix.docs[knowledgeBaseID] = append(ix.docs[knowledgeBaseID], indexedDocument{Document: d, terms: terms(d.Text)})
	}
}

// Search returns the documents scoring at least opts.Threshold, best first.
func (ix *Index) Search(ctx context.Context, knowledgeBaseID, query string, opts ports.SearchOptions) ([]ports.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ix.mu.RLock()
	docs, ok := ix.docs[knowledgeBaseID]
	ix.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKnowledgeBaseNotFound, knowledgeBaseID)
	}

	q := terms(query)
	if len(q) == 0 {
		return []ports.Hit{}, nil
	}

	hits := make([]ports.Hit, 0)
	for _, d := range docs {
		matched := 0
		for t := range q {
			if _, ok := d.terms[t]; ok {
				matched++
			}
		}
		score := float64(matched) / float64(len(q))
		if matched == 0 || score < opts.Threshold {
			continue
		}
		hits = append(hits, ports.Hit{Text: d.Text, Source: d.Source, Similarity: score, Metadata: d.Metadata})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if opts.Limit > 0 && len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}
	return hits, nil
}

func terms(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(f) > 1 {
			out[f] = struct{}{}
		}
	}
	return out
}
