package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeCached  = "cached"
)

// Metrics groups the scraper's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	Requests       *prometheus.CounterVec
	Attempts       *prometheus.CounterVec
	PollIterations prometheus.Counter
	Duration       prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopee_scrape_requests_total",
				Help: "Scrape requests by final outcome",
			},
			[]string{"outcome"},
		),
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopee_scrape_attempts_total",
				Help: "Individual scrape attempts by outcome",
			},
			[]string{"outcome"},
		),
		PollIterations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shopee_poll_iterations_total",
				Help: "DOM extraction passes made while waiting for product data",
			},
		),
		Duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shopee_scrape_duration_seconds",
				Help:    "Wall time of a scrape request including retries",
				Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 180, 300},
			},
		),
	}

	m.registry.MustRegister(
		m.Requests,
		m.Attempts,
		m.PollIterations,
		m.Duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(outcome).Inc()
	m.Duration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveAttempt(outcome string) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObservePollIteration() {
	if m == nil {
		return
	}
	m.PollIterations.Inc()
}
