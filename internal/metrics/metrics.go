// Package metrics exposes tick pipeline counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pushalert/internal/rules"
	"pushalert/internal/tick"
)

const namespace = "pushalert"

var _ tick.Observer = (*Metrics)(nil)

// Metrics uses its own registry so tests and multiple instances never
// collide on the global one.
type Metrics struct {
	reg *prometheus.Registry

	ticks       *prometheus.CounterVec
	claims      *prometheus.CounterVec
	fired       *prometheus.CounterVec
	messages    *prometheus.CounterVec
	invalid     prometheus.Counter
	duration    prometheus.Histogram
	lastSuccess prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Ticks by outcome (ok, errors, aborted, skipped).",
		}, []string{"outcome"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_claims_total",
			Help:      "Rule gate decisions by outcome.",
		}, []string{"outcome"}),
		fired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_fired_total",
			Help:      "Rules whose condition triggered, by kind.",
		}, []string{"kind"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_messages_total",
			Help:      "Push message units by delivery status.",
		}, []string{"status"}),
		invalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_invalid_tokens_total",
			Help:      "Recipient tokens reported unregistered by the push provider.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of a tick.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_tick_success_timestamp_seconds",
			Help:      "Unix time of the last tick that did not abort.",
		}),
	}
	m.reg.MustRegister(
		m.ticks, m.claims, m.fired, m.messages, m.invalid, m.duration, m.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ObserveClaim(o rules.Outcome) {
	m.claims.WithLabelValues(string(o)).Inc()
}

func (m *Metrics) ObserveFired(k rules.Kind) {
	m.fired.WithLabelValues(string(k)).Inc()
}

func (m *Metrics) ObserveTick(res tick.Result) {
	switch {
	case res.Skipped != "":
		m.ticks.WithLabelValues("skipped").Inc()
		return
	case res.Aborted:
		m.ticks.WithLabelValues("aborted").Inc()
	case len(res.Errors) > 0 || res.Dispatch.Failure > 0:
		m.ticks.WithLabelValues("errors").Inc()
	default:
		m.ticks.WithLabelValues("ok").Inc()
	}
	m.duration.Observe(res.Duration.Seconds())
	if res.Dispatch.Success > 0 {
		m.messages.WithLabelValues("success").Add(float64(res.Dispatch.Success))
	}
	if res.Dispatch.Failure > 0 {
		m.messages.WithLabelValues("failure").Add(float64(res.Dispatch.Failure))
	}
	m.invalid.Add(float64(len(res.Dispatch.InvalidTokens)))
	if !res.Aborted {
		m.lastSuccess.SetToCurrentTime()
	}
}
