package accesskit

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes decision and reload metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	decisions        *prometheus.CounterVec
	vetoes           *prometheus.CounterVec
	decisionDuration prometheus.Histogram
	unmatched        *prometheus.CounterVec
	reloads          *prometheus.CounterVec
	entries          *prometheus.GaugeVec
	closureCache     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. Collectors
// that are already registered are reused, so NewMetrics may be called more
// than once with the same registerer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accesskit",
			Name:      "decisions_total",
			Help:      "Total number of access decisions by outcome and strategy.",
		}, []string{"outcome", "strategy"}),
		vetoes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accesskit",
			Name:      "vetoes_total",
			Help:      "Total number of vetoes by voter.",
		}, []string{"voter"}),
		decisionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "accesskit",
			Name:      "decision_duration_seconds",
			Help:      "Duration of access decisions in seconds.",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		unmatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accesskit",
			Name:      "unmatched_total",
			Help:      "Total number of requests without a matching rule, by policy.",
		}, []string{"policy"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accesskit",
			Name:      "reloads_total",
			Help:      "Total number of snapshot reloads by component and result.",
		}, []string{"component", "result"}),
		entries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "accesskit",
			Name:      "snapshot_entries",
			Help:      "Number of entries in the current snapshot by component.",
		}, []string{"component"}),
		closureCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accesskit",
			Name:      "closure_cache_total",
			Help:      "Authority closure cache lookups by result.",
		}, []string{"result"}),
	}

	if reg == nil {
		return m, nil
	}

	var err error
	if m.decisions, err = register(reg, m.decisions); err != nil {
		return nil, err
	}
	if m.vetoes, err = register(reg, m.vetoes); err != nil {
		return nil, err
	}
	if m.decisionDuration, err = register(reg, m.decisionDuration); err != nil {
		return nil, err
	}
	if m.unmatched, err = register(reg, m.unmatched); err != nil {
		return nil, err
	}
	if m.reloads, err = register(reg, m.reloads); err != nil {
		return nil, err
	}
	if m.entries, err = register(reg, m.entries); err != nil {
		return nil, err
	}
	if m.closureCache, err = register(reg, m.closureCache); err != nil {
		return nil, err
	}
	return m, nil
}

// register registers c, returning the existing collector when one with the
// same descriptor is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

func (m *Metrics) observeDecision(v Verdict, strategy Strategy, d time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(v.Outcome.String(), string(strategy)).Inc()
	m.decisionDuration.Observe(d.Seconds())
	if v.VetoingVoter != "" {
		m.vetoes.WithLabelValues(v.VetoingVoter).Inc()
	}
}

func (m *Metrics) observeUnmatched(p UnmatchedPolicy) {
	if m == nil {
		return
	}
	m.unmatched.WithLabelValues(string(p)).Inc()
}

func (m *Metrics) observeReload(component string, err error, size int) {
	if m == nil {
		return
	}
	if err != nil {
		m.reloads.WithLabelValues(component, "failure").Inc()
		return
	}
	m.reloads.WithLabelValues(component, "success").Inc()
	m.entries.WithLabelValues(component).Set(float64(size))
}

func (m *Metrics) observeClosureCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.closureCache.WithLabelValues("hit").Inc()
		return
	}
	m.closureCache.WithLabelValues("miss").Inc()
}
