package runtime

import (
	"context"
	"time"

	"github.com/aretw0/flowchat/pkg/domain"
)

// newResult builds a result for node with the common fields filled in.
func (e *Engine) newResult(node *domain.Node, start time.Time, status domain.ExecutionStatus, role domain.Role, output string) *domain.ExecutionResult {
	end := e.now()
	return &domain.ExecutionResult{
		Status: status,
		NodeInfo: domain.NodeInfo{
			ID:   node.ID,
			Name: node.DisplayName(),
			Kind: node.Kind,
			Role: role,
		},
		Execution: domain.Execution{
			Output:    output,
			NodeID:    node.ID,
			NodeName:  node.DisplayName(),
			StartTime: start,
			EndTime:   &end,
		},
	}
}

// proceed builds an in_progress result that continues at next.
// An empty next is rejected by the engine as a configuration error.
func (e *Engine) proceed(node *domain.Node, start time.Time, role domain.Role, output, next string) *domain.ExecutionResult {
	res := e.newResult(node, start, domain.StatusInProgress, role, output)
	res.NextNodeID = next
	return res
}

// failure builds an error result carrying err's message.
func (e *Engine) failure(node *domain.Node, start time.Time, err error) *domain.ExecutionResult {
	res := e.newResult(node, start, domain.StatusError, domain.RoleSystem, "")
	res.Message = err.Error()
	return res
}

// reject builds an error result for an input the node cannot process.
func (e *Engine) reject(node *domain.Node, start time.Time, msg string) *domain.ExecutionResult {
	res := e.newResult(node, start, domain.StatusError, domain.RoleSystem, "")
	res.Message = msg
	return res
}

// componentDelta records node's output as its component.
func componentDelta(node *domain.Node, output string) *domain.StateDelta {
	d := &domain.StateDelta{}
	d.SetComponent(node.ID, domain.ComponentOutput{Output: output, Type: node.Kind})
	return d
}

func (e *Engine) emitNodeEnter(ctx context.Context, node *domain.Node) {
	if e.hooks.OnNodeEnter == nil {
		return
	}
	e.hooks.OnNodeEnter(ctx, &domain.NodeEvent{
		EventBase: e.eventBase(ctx, domain.EventNodeEnter),
		NodeID:    node.ID,
		NodeKind:  node.Kind,
	})
}

func (e *Engine) emitNodeLeave(ctx context.Context, node *domain.Node, status domain.ExecutionStatus, d time.Duration) {
	if e.hooks.OnNodeLeave == nil {
		return
	}
	e.hooks.OnNodeLeave(ctx, &domain.NodeEvent{
		EventBase: e.eventBase(ctx, domain.EventNodeLeave),
		NodeID:    node.ID,
		NodeKind:  node.Kind,
		Status:    status,
		Duration:  d,
	})
}

// callProvider wraps a provider call with the provider hooks.
func (e *Engine) callProvider(ctx context.Context, node *domain.Node, provider, target string, call func(context.Context) error) error {
	if e.hooks.OnProviderCall != nil {
		e.hooks.OnProviderCall(ctx, &domain.ProviderEvent{
			EventBase: e.eventBase(ctx, domain.EventProviderCall),
			NodeID:    node.ID,
			Provider:  provider,
			Target:    target,
		})
	}
	start := e.now()
	err := call(ctx)
	if e.hooks.OnProviderReturn != nil {
		e.hooks.OnProviderReturn(ctx, &domain.ProviderEvent{
			EventBase: e.eventBase(ctx, domain.EventProviderReturn),
			NodeID:    node.ID,
			Provider:  provider,
			Target:    target,
			Duration:  e.now().Sub(start),
			IsError:   err != nil,
		})
	}
	return err
}
