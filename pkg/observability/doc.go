/*
Package observability turns engine lifecycle events into metrics and logs.

Metrics registers Prometheus collectors and exposes them as
domain.LifecycleHooks; LoggingHooks writes the same events to a slog logger.
Both sets of hooks can be combined with LifecycleHooks.Merge.
*/
package observability
