package runtime

import (
	"context"
	"errors"

	"github.com/aretw0/flowchat/internal/logging"
	"github.com/aretw0/flowchat/pkg/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/aretw0/flowchat/runtime"

// Span names.
const (
	SpanTurn = "flowchat.turn"
	SpanNode = "flowchat.node"
)

func (e *Engine) startTurnSpan(ctx context.Context, flowID string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, SpanTurn,
		trace.WithAttributes(
			attribute.String("flow.id", flowID),
			attribute.String("conversation.id", logging.ConversationID(ctx)),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (e *Engine) startNodeSpan(ctx context.Context, node *domain.Node) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, SpanNode,
		trace.WithAttributes(
			attribute.String("node.id", node.ID),
			attribute.String("node.kind", string(node.Kind)),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// endSpan completes a span, recording err if set.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// endNodeSpan completes a node span from the node's result.
func endNodeSpan(span trace.Span, res *domain.ExecutionResult) {
	span.SetAttributes(attribute.String("node.status", string(res.Status)))
	var err error
	if res.Failed() {
		err = errors.New(res.Message)
	}
	endSpan(span, err)
}

func (e *Engine) eventBase(ctx context.Context, typ domain.EventType) domain.EventBase {
	return domain.EventBase{
		Timestamp:      e.now(),
		Type:           typ,
		ConversationID: logging.ConversationID(ctx),
	}
}
