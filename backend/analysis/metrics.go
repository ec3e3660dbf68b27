package analysis

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("qtranspile.analysis")

var (
	// levelsTotal counts evaluated levels.
	// Labels: backend, mode (exact, sampled, none), result (ok, error, cached)
	levelsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qtranspile",
		Subsystem: "analysis",
		Name:      "levels_total",
		Help:      "Optimization levels evaluated",
	}, []string{"backend", "mode", "result"})

	levelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "qtranspile",
		Subsystem: "analysis",
		Name:      "level_duration_seconds",
		Help:      "Transpile plus ideal and noisy simulation time per level",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
	}, []string{"mode"})

	fidelityHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "qtranspile",
		Subsystem: "analysis",
		Name:      "fidelity",
		Help:      "Fidelity of noisy against ideal outcome",
		Buckets:   []float64{0.5, 0.7, 0.8, 0.9, 0.95, 0.99, 0.999, 1.0},
	}, []string{"backend"})
)
