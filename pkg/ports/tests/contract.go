package tests

import (
	"errors"
	"testing"

	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/aretw0/flowchat/pkg/ports"
)

// FlowLoaderContractTest is a reusable test suite that verifies if an adapter complies with ports.FlowLoader.
// expected maps flow ids to the number of nodes each flow must have.
func FlowLoaderContractTest(t *testing.T, loader ports.FlowLoader, expected map[string]int) {
	t.Helper()

	t.Run("GetFlow_Success", func(t *testing.T) {
		for id, nodes := range expected {
			flow, err := loader.GetFlow(id)
			if err != nil {
				t.Fatalf("unexpected error getting flow %s: %v", id, err)
			}
			if flow.ID != id {
				t.Errorf("flow id mismatch: got %q, want %q", flow.ID, id)
			}
			if len(flow.Nodes) != nodes {
				t.Errorf("node count mismatch for %s: got %d, want %d", id, len(flow.Nodes), nodes)
			}
		}
	})

	t.Run("GetFlow_NotFound", func(t *testing.T) {
		_, err := loader.GetFlow("non-existent-flow")
		if !errors.Is(err, domain.ErrFlowNotFound) {
			t.Errorf("expected ErrFlowNotFound, got %v", err)
		}
	})

	t.Run("ListFlows", func(t *testing.T) {
		ids, err := loader.ListFlows()
		if err != nil {
			t.Fatalf("unexpected error listing flows: %v", err)
		}
		if len(ids) != len(expected) {
			t.Errorf("expected %d flows, got %d", len(expected), len(ids))
		}
		lookup := make(map[string]bool)
		for _, id := range ids {
			lookup[id] = true
		}
		for id := range expected {
			if !lookup[id] {
				t.Errorf("flow %s missing from list", id)
			}
		}
	})
}
