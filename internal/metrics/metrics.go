package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	actionsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmos",
			Subsystem: "actions",
			Name:      "emitted_total",
			Help:      "Number of actions recorded by the registry.",
		}, []string{"kind", "source"},
	)
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmos",
			Subsystem: "actions",
			Name:      "transitions_total",
			Help:      "Number of status transitions between action states.",
		}, []string{"from", "to"},
	)
	rejectedUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmos",
			Subsystem: "actions",
			Name:      "rejected_updates_total",
			Help:      "Updates refused by the registry, by reason.",
		}, []string{"reason"},
	)
	observerFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "llmos",
			Subsystem: "observer",
			Name:      "failures_total",
			Help:      "Observer callbacks that panicked during notification.",
		},
	)
	logSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "llmos",
			Subsystem: "actions",
			Name:      "log_size",
			Help:      "Current number of records held in the action log.",
		},
	)
	trimmed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "llmos",
			Subsystem: "actions",
			Name:      "trimmed_total",
			Help:      "Records dropped by retention cleanup.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{actionsEmitted, transitions, rejectedUpdates, observerFailures, logSize, trimmed}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncEmitted(kind, source string) {
	if regOK.Load() {
		actionsEmitted.WithLabelValues(kind, source).Inc()
	}
}

func RecordTransition(from, to string) {
	if regOK.Load() {
		transitions.WithLabelValues(from, to).Inc()
	}
}

func IncRejectedUpdate(reason string) {
	if regOK.Load() {
		rejectedUpdates.WithLabelValues(reason).Inc()
	}
}

func IncObserverFailure() {
	if regOK.Load() {
		observerFailures.Inc()
	}
}

func SetLogSize(n int) {
	if regOK.Load() {
		logSize.Set(float64(n))
	}
}

func AddTrimmed(n int) {
	if regOK.Load() {
		trimmed.Add(float64(n))
	}
}
