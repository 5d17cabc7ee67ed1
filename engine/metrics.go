package engine

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the counters exported on /metrics
type Metrics struct {
	Registry        *prometheus.Registry
	FeedbackLines   *prometheus.CounterVec
	Analyses        *prometheus.CounterVec
	ProblemsCreated prometheus.Counter
	ImportDuration  *prometheus.HistogramVec
}

// NewMetrics registers the collectors on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		FeedbackLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedbackd_feedback_lines_total",
			Help: "Imported feedback lines by import source and result.",
		}, []string{"source", "result"}),
		Analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedbackd_analyses_total",
			Help: "Feedback analyses by analyzer (llm or rules).",
		}, []string{"analyzer"}),
		ProblemsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedbackd_problems_created_total",
			Help: "Problems created from feedback that matched no existing problem.",
		}),
		ImportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feedbackd_import_duration_seconds",
			Help:    "Time spent processing one import request.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"source"}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		m.FeedbackLines,
		m.Analyses,
		m.ProblemsCreated,
		m.ImportDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
