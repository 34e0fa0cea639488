package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/flowchat/pkg/domain"
)

// LoggingHooks returns lifecycle hooks that log every event at debug level,
// and failed nodes or provider calls at warn level.
func LoggingHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			logger.DebugContext(ctx, "node_enter", "node_id", e.NodeID, "kind", e.NodeKind)
		},
		OnNodeLeave: func(ctx context.Context, e *domain.NodeEvent) {
			level := slog.LevelDebug
			if e.Status == domain.StatusError {
				level = slog.LevelWarn
			}
			logger.Log(ctx, level, "node_leave",
				"node_id", e.NodeID,
				"kind", e.NodeKind,
				"status", e.Status,
				"duration", e.Duration,
			)
		},
		OnProviderCall: func(ctx context.Context, e *domain.ProviderEvent) {
			logger.DebugContext(ctx, "provider_call", "provider", e.Provider, "target", e.Target)
		},
		OnProviderReturn: func(ctx context.Context, e *domain.ProviderEvent) {
			level := slog.LevelDebug
			if e.IsError {
				level = slog.LevelWarn
			}
			logger.Log(ctx, level, "provider_return",
				"provider", e.Provider,
				"target", e.Target,
				"is_error", e.IsError,
				"duration", e.Duration,
			)
		},
	}
}
