package observability

import (
	"context"

	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flowchat"

// Metrics holds the Prometheus collectors of the engine.
type Metrics struct {
	NodeVisits       *prometheus.CounterVec
	NodeDuration     *prometheus.HistogramVec
	ProviderCalls    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	Turns            *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		NodeVisits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_visits_total",
			Help:      "Total number of node executions by kind and status.",
		}, []string{"kind", "status"}),
		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Duration of node executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Total number of model and retrieval provider calls.",
		}, []string{"provider", "outcome"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_duration_seconds",
			Help:      "Duration of provider calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of conversation turns by flow and final status.",
		}, []string{"flow", "status"}),
	}

	for _, c := range []prometheus.Collector{m.NodeVisits, m.NodeDuration, m.ProviderCalls, m.ProviderDuration, m.Turns} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Hooks returns lifecycle hooks recording node and provider metrics.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeLeave: func(_ context.Context, e *domain.NodeEvent) {
			m.NodeVisits.WithLabelValues(string(e.NodeKind), string(e.Status)).Inc()
			m.NodeDuration.WithLabelValues(string(e.NodeKind)).Observe(e.Duration.Seconds())
		},
		OnProviderReturn: func(_ context.Context, e *domain.ProviderEvent) {
			outcome := "ok"
			if e.IsError {
				outcome = "error"
			}
			m.ProviderCalls.WithLabelValues(e.Provider, outcome).Inc()
			m.ProviderDuration.WithLabelValues(e.Provider).Observe(e.Duration.Seconds())
		},
	}
}

// ObserveTurn records the final status of a turn.
func (m *Metrics) ObserveTurn(flowID string, status domain.ExecutionStatus) {
	m.Turns.WithLabelValues(flowID, string(status)).Inc()
}
