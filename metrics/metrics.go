// Package metrics reports engine activity to Prometheus.
package metrics

import (
	"context"
	"sync"

	"github.com/Comcast/tortoise/core"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer is a core.Observer that counts persisted changes.
type Observer struct {
	changes  *prometheus.CounterVec
	pending  *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	entering *prometheus.CounterVec
}

// NewObserver makes an Observer and registers its collectors.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tortoise",
			Subsystem: "engine",
			Name:      "changes_total",
			Help:      "Persisted changes by workflow and kind (advance, attempt, fire, reset).",
		}, []string{"workflow", "kind"}),
		pending: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tortoise",
			Subsystem: "engine",
			Name:      "deferred_total",
			Help:      "Changes composed as deferred commands instead of written.",
		}, []string{"workflow"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tortoise",
			Subsystem: "engine",
			Name:      "change_seconds",
			Help:      "Time from the start of an engine call to each change it persisted.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workflow", "kind"}),
		entering: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tortoise",
			Subsystem: "engine",
			Name:      "entered_total",
			Help:      "Advances by workflow and the event entered.",
		}, []string{"workflow", "event"}),
	}
	for _, c := range []prometheus.Collector{o.changes, o.pending, o.latency, o.entering} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

var (
	defaultOnce     sync.Once
	defaultObserver *Observer
)

// Default returns the Observer registered with the default
// Prometheus registry.
func Default() *Observer {
	defaultOnce.Do(func() {
		o, err := NewObserver(prometheus.DefaultRegisterer)
		if err != nil {
			panic(err)
		}
		defaultObserver = o
	})
	return defaultObserver
}

// Observe implements core.Observer.
func (o *Observer) Observe(ctx context.Context, obs core.Observation) {
	o.changes.WithLabelValues(obs.Workflow, obs.Kind).Inc()
	o.latency.WithLabelValues(obs.Workflow, obs.Kind).Observe(obs.Elapsed.Seconds())
	if obs.Pending != "" {
		o.pending.WithLabelValues(obs.Workflow).Inc()
	}
	if obs.Kind == core.KindAdvance {
		o.entering.WithLabelValues(obs.Workflow, obs.To.Name).Inc()
	}
}
