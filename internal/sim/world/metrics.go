package world

import (
	"github.com/prometheus/client_golang/prometheus"

	"voxelforge.ai/internal/sim/logic/matcher"
)

// Metrics counts outcomes and search effort. A nil *Metrics is a no-op.
type Metrics struct {
	outcomes     *prometheus.CounterVec
	queries      prometheus.Histogram
	orientations prometheus.Histogram
	entities     prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voxelforge",
			Name:      "outcomes_total",
			Help:      "Probe, assemble and token-craft outcomes by code.",
		}, []string{"op", "code"}),
		queries: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "voxelforge",
			Name:      "search_grid_queries",
			Help:      "Distinct grid cells read per pattern search.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		orientations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "voxelforge",
			Name:      "search_orientations",
			Help:      "Anchor and orientation pairs tried per pattern search.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		entities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxelforge",
			Name:      "entities",
			Help:      "Entities spawned by assemblies.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.outcomes, m.queries, m.orientations, m.entities)
	}
	return m
}

func (m *Metrics) outcome(op, code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "OK"
	}
	m.outcomes.WithLabelValues(op, code).Inc()
}

func (m *Metrics) search(st matcher.Stats) {
	if m == nil {
		return
	}
	m.queries.Observe(float64(st.Queries))
	m.orientations.Observe(float64(st.Orientations))
}

func (m *Metrics) setEntities(n int) {
	if m == nil {
		return
	}
	m.entities.Set(float64(n))
}
