// Package observability exports the service's Prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/b0gdan00/Aspirantura-research/internal/ports"
)

type Metrics struct {
	polls           prometheus.Counter
	missedSamples   prometheus.Counter
	framesFlushed   prometheus.Counter
	flushFailures   prometheus.Counter
	framesDropped   prometheus.Counter
	framesIngested  prometheus.Counter
	activePollers   prometheus.Gauge
	exchangeLatency prometheus.Histogram
}

// NewMetrics registers every metric on reg. Passing a fresh registry in tests
// keeps registration from colliding across packages.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stand_polls_total",
			Help: "Telemetry read exchanges attempted by pollers.",
		}),
		missedSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stand_missed_samples_total",
			Help: "Polls that produced no parsable telemetry sample.",
		}),
		framesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stand_frames_flushed_total",
			Help: "Frames written to storage by poller batch flushes.",
		}),
		flushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stand_flush_failures_total",
			Help: "Batch flushes that failed and degraded the buffer.",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stand_frames_dropped_total",
			Help: "Buffered frames discarded under flush-failure backpressure.",
		}),
		framesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stand_frames_ingested_total",
			Help: "Frames accepted through the batch ingestion endpoint.",
		}),
		activePollers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stand_active_pollers",
			Help: "Currently running telemetry pollers.",
		}),
		exchangeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stand_exchange_latency_seconds",
			Help:    "Duration of one serial command/response exchange.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	reg.MustRegister(
		m.polls, m.missedSamples, m.framesFlushed, m.flushFailures,
		m.framesDropped, m.framesIngested, m.activePollers, m.exchangeLatency,
	)
	return m
}

func (m *Metrics) IncPolls()                        { m.polls.Inc() }
func (m *Metrics) IncMissedSamples()                { m.missedSamples.Inc() }
func (m *Metrics) AddFramesFlushed(n int)           { m.framesFlushed.Add(float64(n)) }
func (m *Metrics) IncFlushFailures()                { m.flushFailures.Inc() }
func (m *Metrics) AddFramesDropped(n int)           { m.framesDropped.Add(float64(n)) }
func (m *Metrics) AddFramesIngested(n int)          { m.framesIngested.Add(float64(n)) }
func (m *Metrics) ObserveExchangeSeconds(s float64) { m.exchangeLatency.Observe(s) }
func (m *Metrics) SetActivePollers(n int)           { m.activePollers.Set(float64(n)) }

var _ ports.Metrics = (*Metrics)(nil)
