package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	simulationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cupforecast",
		Name:      "simulation_duration_seconds",
		Help:      "Wall time of a simulation run by simulator.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"simulator"})

	overrideTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cupforecast",
		Name:      "bracket_overrides_total",
		Help:      "Bracket override requests by outcome.",
	}, []string{"action"})

	bracketRecompute = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cupforecast",
		Name:      "bracket_recompute_seconds",
		Help:      "Time to rebuild a bracket probability table.",
		Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 12),
	})

	bracketSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cupforecast",
		Name:      "bracket_sessions",
		Help:      "Live bracket sessions.",
	})
)

func observeSimulation(simulator string, start time.Time) {
	simulationDuration.WithLabelValues(simulator).Observe(time.Since(start).Seconds())
}

func observeRecompute(d time.Duration) {
	bracketRecompute.Observe(d.Seconds())
}
