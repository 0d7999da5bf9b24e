// Package metrics provides Prometheus metrics for the answering pipeline
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Question outcomes.
const (
	OutcomeAnswered              = "answered"
	OutcomeInvalidInput          = "invalid_input"
	OutcomeRetrievalUnavailable  = "retrieval_unavailable"
	OutcomeGenerationUnavailable = "generation_unavailable"
	OutcomeError                 = "error"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	QuestionsTotal    *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	RetriesTotal      *prometheus.CounterVec
	ChunksIngested    prometheus.Counter
	RetrievedPassages prometheus.Histogram
}

// New creates and registers all metrics with reg. Pass
// prometheus.DefaultRegisterer to expose them on promhttp.Handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{}

	m.QuestionsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filingrag_questions_total",
			Help: "Total number of questions answered, by outcome",
		},
		[]string{"outcome"},
	)

	m.StageDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filingrag_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds, retries included",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	m.RetriesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filingrag_retries_total",
			Help: "Total number of retried calls, by dependency",
		},
		[]string{"dependency"},
	)

	m.ChunksIngested = f.NewCounter(
		prometheus.CounterOpts{
			Name: "filingrag_chunks_ingested_total",
			Help: "Total number of chunks written to the vector store",
		},
	)

	m.RetrievedPassages = f.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "filingrag_retrieved_passages",
			Help:    "Number of passages retrieved per question",
			Buckets: prometheus.LinearBuckets(0, 2, 11),
		},
	)

	return m
}

// RecordQuestion counts one finished question.
func (m *Metrics) RecordQuestion(outcome string) {
	if m == nil {
		return
	}
	m.QuestionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) ObservePassages(n int) {
	if m == nil {
		return
	}
	m.RetrievedPassages.Observe(float64(n))
}

func (m *Metrics) AddChunks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ChunksIngested.Add(float64(n))
}

// RetryHook returns a resilience OnRetry callback counting retries against dependency.
func (m *Metrics) RetryHook(dependency string) func(int, error, time.Duration) {
	return func(int, error, time.Duration) {
		if m == nil {
			return
		}
		m.RetriesTotal.WithLabelValues(dependency).Inc()
	}
}
