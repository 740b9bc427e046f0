// Package metrics exposes sequencer counters and timings to Prometheus.
//
// All recording methods are safe on a nil *Metrics, so components can take
// an optional collector without guarding every call.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qseq"

type Metrics struct {
	reg *prometheus.Registry

	runs          *prometheus.CounterVec
	steps         *prometheus.CounterVec
	stepDuration  prometheus.Histogram
	stepLag       prometheus.Histogram
	slowSteps     prometheus.Counter
	cacheFetches  *prometheus.CounterVec
	cacheDuration *prometheus.HistogramVec
	cacheStale    *prometheus.CounterVec
	events        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Sequence runs by result.",
		}, []string{"result"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Evaluated operations by phase and result.",
		}, []string{"phase", "result"}),
		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Time spent evaluating one step.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		stepLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_lag_seconds",
			Help:      "How late a step started relative to its scheduled time.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
		slowSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_steps_total",
			Help:      "Steps that took longer than the slow threshold.",
		}),
		cacheFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "acquisitions_total",
			Help:      "Background data acquisitions by cache and result.",
		}, []string{"cache", "result"}),
		cacheDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "acquisition_duration_seconds",
			Help:      "Duration of background data acquisitions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"cache"}),
		cacheStale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "stale_reads_total",
			Help:      "Reads that returned an already fetched dataset.",
		}, []string{"cache"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventlog",
			Name:      "records_total",
			Help:      "Event log records written by source.",
		}, []string{"source"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs, m.steps, m.stepDuration, m.stepLag, m.slowSteps,
		m.cacheFetches, m.cacheDuration, m.cacheStale, m.events,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) RunFinished(err error) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result(err)).Inc()
}

// StepDone records one evaluated operation. phase is "init", "step" or
// "fini"; lag is only observed for timed steps.
func (m *Metrics) StepDone(phase string, took, lag time.Duration, err error) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(phase, result(err)).Inc()
	if phase == "step" {
		m.stepDuration.Observe(took.Seconds())
		m.stepLag.Observe(max(lag, 0).Seconds())
	}
}

func (m *Metrics) SlowStep() {
	if m == nil {
		return
	}
	m.slowSteps.Inc()
}

func (m *Metrics) CacheAcquired(cache string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.cacheFetches.WithLabelValues(cache, result(err)).Inc()
	m.cacheDuration.WithLabelValues(cache).Observe(took.Seconds())
}

func (m *Metrics) CacheStaleRead(cache string) {
	if m == nil {
		return
	}
	m.cacheStale.WithLabelValues(cache).Inc()
}

func (m *Metrics) EventWritten(source string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(source).Inc()
}
