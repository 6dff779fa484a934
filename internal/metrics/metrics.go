// Package metrics exposes Prometheus collectors for the bot.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bskybot"

// Metrics holds all collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	polls           *prometheus.CounterVec
	mentions        *prometheus.CounterVec
	stageFailures   *prometheus.CounterVec
	pipelineSeconds prometheus.Histogram
	replies         prometheus.Counter
	lastPoll        prometheus.Gauge
	processed       prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Mention polls by result.",
		}, []string{"result"}),
		mentions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mentions_total",
			Help:      "Processed mentions by outcome.",
		}, []string{"outcome"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Pipeline failures by stage and error kind.",
		}, []string{"stage", "kind"}),
		pipelineSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Time spent processing a single mention.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		replies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_posted_total",
			Help:      "Replies successfully posted.",
		}),
		lastPoll: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_poll_timestamp_seconds",
			Help:      "Unix time of the last completed poll.",
		}),
		processed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processed_threads",
			Help:      "Thread roots in the processed set.",
		}),
	}

	m.registry.MustRegister(
		m.polls,
		m.mentions,
		m.stageFailures,
		m.pipelineSeconds,
		m.replies,
		m.lastPoll,
		m.processed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// PollCompleted records a poll and its result ("ok" or "error").
func (m *Metrics) PollCompleted(at time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.polls.WithLabelValues(result).Inc()
	m.lastPoll.Set(float64(at.Unix()))
}

// MentionProcessed records the outcome of one pipeline run.
func (m *Metrics) MentionProcessed(outcome string, d time.Duration) {
	m.mentions.WithLabelValues(outcome).Inc()
	m.pipelineSeconds.Observe(d.Seconds())
}

// StageFailed records a pipeline failure.
func (m *Metrics) StageFailed(stage, kind string) {
	m.stageFailures.WithLabelValues(stage, kind).Inc()
}

// ReplyPosted records a posted reply.
func (m *Metrics) ReplyPosted() {
	m.replies.Inc()
}

// SetProcessedThreads sets the processed-set size.
func (m *Metrics) SetProcessedThreads(n int) {
	m.processed.Set(float64(n))
}
