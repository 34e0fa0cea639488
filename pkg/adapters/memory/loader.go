package memory

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/aretw0/flowchat/pkg/ports"
)

// Loader implements ports.FlowLoader using an in-memory map.
type Loader struct {
	mu    sync.RWMutex
	flows map[string][]byte
}

var _ ports.FlowLoader = (*Loader)(nil)

// NewLoader creates a Loader from raw JSON flow documents keyed by flow id.
func NewLoader(data map[string]string) *Loader {
	flows := make(map[string][]byte, len(data))
	for id, doc := range data {
		flows[id] = []byte(doc)
	}
	return &Loader{flows: flows}
}

// NewFromFlows creates a Loader from domain objects.
// Flows are stored serialized so every GetFlow returns an independent copy.
func NewFromFlows(flows ...*domain.Flow) (*Loader, error) {
	l := &Loader{flows: make(map[string][]byte, len(flows))}
	for _, f := range flows {
		if err := l.Put(f); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Put adds or replaces a flow.
func (l *Loader) Put(flow *domain.Flow) error {
	if flow.ID == "" {
		return fmt.Errorf("flow missing id")
	}
	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to marshal flow %s: %w", flow.ID, err)
	}
	l.mu.Lock()
	l.flows[flow.ID] = data
	l.mu.Unlock()
	return nil
}

// GetFlow decodes the flow with the given id.
func (l *Loader) GetFlow(id string) (*domain.Flow, error) {
	l.mu.RLock()
	data, ok := l.flows[id]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrFlowNotFound, id)
	}

	var flow domain.Flow
	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, fmt.Errorf("decode flow %s: %w", id, err)
	}
	if flow.ID == "" {
		flow.ID = id
	}
	return &flow, nil
}

// ListFlows returns all flow ids, sorted.
func (l *Loader) ListFlows() ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.flows))
	for id := range l.flows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
