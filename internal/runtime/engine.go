package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/flowchat/internal/logging"
	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/aretw0/flowchat/pkg/ports"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// ExecContext is everything a handler may read while executing a node.
// Handlers must treat Flow and State as read-only and report their writes
// through ExecutionResult.FlowState.
type ExecContext struct {
	Flow  *domain.Flow
	State *domain.FlowState
	Input domain.MessagePart
}

// Handler executes one node kind.
type Handler interface {
	Execute(ctx context.Context, node *domain.Node, ec ExecContext) (*domain.ExecutionResult, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, node *domain.Node, ec ExecContext) (*domain.ExecutionResult, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, node *domain.Node, ec ExecContext) (*domain.ExecutionResult, error) {
	return f(ctx, node, ec)
}

// Dependencies are the providers the built-in handlers call.
// Any of them may be nil; the handlers that need a missing one fail with a ConfigurationError.
type Dependencies struct {
	Catalog    ports.ModelCatalog
	Models     ports.ModelProvider
	Retrieval  ports.RetrievalProvider
	Classifier Classifier
}

// Step is the outcome of one node execution together with the state after folding it.
type Step struct {
	Result *domain.ExecutionResult
	State  *domain.FlowState
}

// StreamEvent is delivered by Stream. Exactly one of Step or Err is set.
type StreamEvent struct {
	Step
	Err error
}

// Outcome is the full result of a turn.
type Outcome struct {
	Result *domain.ExecutionResult
	State  *domain.FlowState
	Steps  []Step
}

// Engine is the flow state machine.
// It is stateless across calls and safe for concurrent use by different conversations.
type Engine struct {
	deps     Dependencies
	handlers map[domain.NodeKind]Handler
	hooks    domain.LifecycleHooks
	logger   *slog.Logger
	tracer   trace.Tracer
	maxSteps int
	now      func() time.Time
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) EngineOption {
	return func(e *Engine) {
		e.hooks = e.hooks.Merge(hooks)
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxSteps bounds the number of nodes visited in one turn.
// Zero keeps the default of len(flow.Nodes)+1.
func WithMaxSteps(n int) EngineOption {
	return func(e *Engine) {
		e.maxSteps = n
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithTracerProvider sets the OpenTelemetry provider used for turn and node spans.
func WithTracerProvider(tp trace.TracerProvider) EngineOption {
	return func(e *Engine) {
		e.tracer = tp.Tracer(tracerName)
	}
}

// WithHandler replaces the handler of a node kind.
func WithHandler(kind domain.NodeKind, h Handler) EngineOption {
	return func(e *Engine) {
		e.handlers[kind] = h
	}
}

// NewEngine creates an engine with the built-in handlers for every node kind.
func NewEngine(deps Dependencies, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		deps:   deps,
		logger: logging.NewNop(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	if e.deps.Classifier == nil {
		e.deps.Classifier = NewRuleClassifier()
	}
	e.handlers = map[domain.NodeKind]Handler{
		domain.KindBegin:      HandlerFunc(e.executeBegin),
		domain.KindInterface:  HandlerFunc(e.executeInterface),
		domain.KindGenerate:   HandlerFunc(e.executeGenerate),
		domain.KindCategorize: HandlerFunc(e.executeCategorize),
		domain.KindRetrieval:  HandlerFunc(e.executeRetrieval),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, kind := range domain.NodeKinds {
		if e.handlers[kind] == nil {
			return nil, fmt.Errorf("no handler registered for node kind %q", kind)
		}
	}
	return e, nil
}

// Continue runs one turn and returns every step it produced.
func (e *Engine) Continue(ctx context.Context, flow *domain.Flow, state *domain.FlowState, input domain.MessagePart) (*Outcome, error) {
	out := &Outcome{State: state}
	err := e.run(ctx, flow, state, input, func(s Step) error {
		out.Steps = append(out.Steps, s)
		out.Result = s.Result
		out.State = s.State
		return nil
	})
	return out, err
}

// Stream runs one turn in the background and emits one event per visited node.
// The channel is closed when the turn ends. Cancelling ctx stops dispatch after
// the in-flight node returns; that node's result is dropped.
func (e *Engine) Stream(ctx context.Context, flow *domain.Flow, state *domain.FlowState, input domain.MessagePart) <-chan StreamEvent {
	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		err := e.run(ctx, flow, state, input, func(s Step) error {
			select {
			case events <- StreamEvent{Step: s}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			select {
			case events <- StreamEvent{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return events
}

func (e *Engine) run(ctx context.Context, flow *domain.Flow, state *domain.FlowState, input domain.MessagePart, yield func(Step) error) (err error) {
	if flow == nil {
		return &domain.ConfigurationError{Reason: "flow is nil"}
	}
	ctx, span := e.startTurnSpan(ctx, flow.ID)
	defer func() { endSpan(span, err) }()

	current := state.Clone()
	if current == nil {
		current = domain.NewFlowState("")
	}
	if current.Completed {
		// A finished conversation starts over from begin, keeping its variables.
		current.Completed = false
		current.CurrentNodeID = ""
	}

	node, ok := flow.Node(current.CurrentNodeID)
	if !ok {
		if node, ok = flow.BeginNode(); !ok {
			return &domain.ConfigurationError{Reason: "flow has no begin node"}
		}
		current.CurrentNodeID = node.ID
	}

	if input.Role == domain.RoleUser && strings.TrimSpace(input.Content) != "" {
		current.History = append(current.History, domain.HistoryEntry{
			NodeID:    current.CurrentNodeID,
			NodeType:  domain.HistoryUserInput,
			Input:     input.Content,
			Timestamp: e.now(),
		})
	}

	maxSteps := e.maxSteps
	if maxSteps <= 0 {
		maxSteps = len(flow.Nodes) + 1
	}

	for step := 0; ; step++ {
		if step >= maxSteps {
			return &domain.ConfigurationError{
				NodeID: node.ID,
				Reason: fmt.Sprintf("turn exceeded %d steps; the flow loops without reaching an interface node", maxSteps),
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		res := e.dispatch(ctx, flow, node, current, input)
		if err := ctx.Err(); err != nil {
			return err
		}

		var cfgErr error
		if res.Status == domain.StatusInProgress {
			if cfgErr = checkNext(flow, node, res); cfgErr != nil {
				res.Status = domain.StatusError
				res.Message = cfgErr.Error()
			}
		}

		current = e.fold(current, node, res)
		if err := yield(Step{Result: res, State: current}); err != nil {
			return err
		}
		if cfgErr != nil {
			return cfgErr
		}

		if res.Status != domain.StatusInProgress {
			e.logger.DebugContext(ctx, "turn finished", "node_id", node.ID, "status", res.Status)
			return nil
		}
		if res.NextNodeID == "" {
			// An interface node consumed the input and the flow has nowhere else to go.
			return nil
		}

		node, _ = flow.Node(res.NextNodeID)
		input = domain.MessagePart{Role: res.NodeInfo.Role, Content: res.Execution.Output}
	}
}

// checkNext validates the continuation of an in_progress result.
func checkNext(flow *domain.Flow, node *domain.Node, res *domain.ExecutionResult) error {
	if res.NextNodeID == "" {
		if node.Kind == domain.KindInterface {
			return nil
		}
		return &domain.ConfigurationError{NodeID: node.ID, Reason: "no outgoing edge to continue from"}
	}
	if _, ok := flow.Node(res.NextNodeID); !ok {
		return &domain.ConfigurationError{NodeID: node.ID, Reason: fmt.Sprintf("edge targets unknown node %q", res.NextNodeID)}
	}
	return nil
}

// fold applies a result to state and returns the new state. state is not modified.
func (e *Engine) fold(state *domain.FlowState, node *domain.Node, res *domain.ExecutionResult) *domain.FlowState {
	next := state.Clone()
	if res.FlowState != nil {
		for k, v := range res.FlowState.Variables {
			next.Variables[k] = v
		}
		for k, v := range res.FlowState.Components {
			next.Components[k] = v
		}
	}

	if res.Status == domain.StatusError {
		return next
	}

	if res.NextNodeID != "" {
		next.CurrentNodeID = res.NextNodeID
	} else {
		next.Completed = true
	}

	if node.Kind != domain.KindInterface {
		ts := res.Execution.StartTime
		if res.Execution.EndTime != nil {
			ts = *res.Execution.EndTime
		}
		next.History = append(next.History, domain.HistoryEntry{
			NodeID:    node.ID,
			NodeType:  string(node.Kind),
			Output:    res.Execution.Output,
			Timestamp: ts,
		})
	}
	return next
}

// dispatch runs the handler of node, converting failures and panics into error results.
func (e *Engine) dispatch(ctx context.Context, flow *domain.Flow, node *domain.Node, state *domain.FlowState, input domain.MessagePart) (res *domain.ExecutionResult) {
	start := e.now()
	ctx = logging.WithNodeID(ctx, node.ID)
	ctx, span := e.startNodeSpan(ctx, node)
	e.emitNodeEnter(ctx, node)

	defer func() {
		if r := recover(); r != nil {
			err := &domain.InternalError{NodeID: node.ID, Cause: fmt.Errorf("panic: %v", r)}
			e.logger.ErrorContext(ctx, "handler panicked", "error", err)
			res = e.failure(node, start, err)
		}
		endNodeSpan(span, res)
		e.emitNodeLeave(ctx, node, res.Status, e.now().Sub(start))
	}()

	out, err := e.handlers[node.Kind].Execute(ctx, node, ExecContext{Flow: flow, State: state, Input: input})
	switch {
	case err != nil:
		e.logger.WarnContext(ctx, "node failed", "kind", node.Kind, "error", err)
		return e.failure(node, start, err)
	case out == nil:
		return e.failure(node, start, &domain.InternalError{NodeID: node.ID, Cause: errors.New("handler returned no result")})
	}
	return out
}
