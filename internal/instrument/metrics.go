// Package instrument exports engine activity as Prometheus metrics.
package instrument

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's collectors. A nil *Metrics records nothing.
type Metrics struct {
	checkIns           *prometheus.CounterVec
	objectiveMutations *prometheus.CounterVec
	cycleTransitions   *prometheus.CounterVec
	alignmentRepairs   *prometheus.CounterVec
	reconcileDuration  *prometheus.HistogramVec
}

// New registers the engine collectors on reg under namespace. Collectors
// already registered by an earlier call are reused.
func New(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = "okrengine"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var err error
	m := &Metrics{}
	if m.checkIns, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkins_total",
		Help:      "Check-ins recorded, by key result type.",
	}, []string{"type"})); err != nil {
		return nil, err
	}
	if m.objectiveMutations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "objective_mutations_total",
		Help:      "Objective writes, by operation.",
	}, []string{"operation"})); err != nil {
		return nil, err
	}
	if m.cycleTransitions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycle_transitions_total",
		Help:      "Cycle lifecycle transitions, by target status.",
	}, []string{"status"})); err != nil {
		return nil, err
	}
	if m.alignmentRepairs, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alignment_repairs_total",
		Help:      "Parent/child link repairs applied, by kind.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if m.reconcileDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reconcile_duration_seconds",
		Help:      "Latency of one reconcile pass over a cycle.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"result"})); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register engine metric: %w", err)
	}
	return c, nil
}

func (m *Metrics) CheckInRecorded(measureType string) {
	if m == nil {
		return
	}
	m.checkIns.WithLabelValues(measureType).Inc()
}

func (m *Metrics) ObjectiveMutated(operation string) {
	if m == nil {
		return
	}
	m.objectiveMutations.WithLabelValues(operation).Inc()
}

func (m *Metrics) CycleTransitioned(status string) {
	if m == nil {
		return
	}
	m.cycleTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) AlignmentRepaired(kind string) {
	if m == nil {
		return
	}
	m.alignmentRepairs.WithLabelValues(kind).Inc()
}

// ReconcileObserved records how long one reconcile pass took.
func (m *Metrics) ReconcileObserved(duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reconcileDuration.WithLabelValues(result).Observe(duration.Seconds())
}
