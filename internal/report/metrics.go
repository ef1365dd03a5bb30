package report

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rotisserie/eris"

	"github.com/agri-ai/farm-monitor/internal/model"
)

const (
	namespace = "farmmon"
	pushJob   = "farm_monitor"
)

// Metrics holds the run collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	runs        *prometheus.CounterVec
	farms       *prometheus.CounterVec
	alerts      *prometheus.CounterVec
	costUSD     prometheus.Counter
	duration    prometheus.Histogram
	failureRate prometheus.Gauge
	lastRun     *prometheus.GaugeVec
}

// NewMetrics registers the run collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Daily runs by final status.",
		}, []string{"status"}),
		farms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "farm_outcomes_total",
			Help:      "Farm outcomes across runs.",
		}, []string{"outcome"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts by delivery result.",
		}, []string{"result"}),
		costUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_cost_usd_total",
			Help:      "Estimated agent spend in USD.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of daily runs.",
			Buckets:   []float64{30, 60, 300, 600, 1200, 1800, 2700, 3600},
		}),
		failureRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_failure_rate",
			Help:      "Fraction of farms that failed in the latest run.",
		}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Finish time of the latest run by status.",
		}, []string{"status"}),
	}
	m.reg.MustRegister(m.runs, m.farms, m.alerts, m.costUSD, m.duration, m.failureRate, m.lastRun)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Observe folds one finished report into the collectors.
func (m *Metrics) Observe(r *model.RunReport) {
	m.runs.WithLabelValues(string(r.Status)).Inc()
	for _, o := range model.Outcomes {
		m.farms.WithLabelValues(string(o)).Add(float64(r.Counts[o]))
	}
	m.alerts.WithLabelValues("dispatched").Add(float64(r.AlertsDispatched))
	m.alerts.WithLabelValues("undelivered").Add(float64(r.AlertsUndelivered))
	m.alerts.WithLabelValues("partial").Add(float64(r.PartialDeliveries))
	m.costUSD.Add(r.CostUSD)
	m.duration.Observe(float64(r.ElapsedMs) / 1000)
	m.failureRate.Set(r.FailureRate())
	m.lastRun.WithLabelValues(string(r.Status)).Set(float64(r.FinishedAt.Unix()))
}

// Publish implements the orchestrator's report sink.
func (m *Metrics) Publish(_ context.Context, r *model.RunReport) error {
	m.Observe(r)
	return nil
}

// PushSink observes each report and pushes the registry to a Prometheus
// pushgateway. Short-lived CLI runs use it instead of a scrape endpoint.
type PushSink struct {
	metrics *Metrics
	pusher  *push.Pusher
}

// NewPushSink creates a sink pushing m to the gateway at url.
func NewPushSink(url string, m *Metrics) *PushSink {
	return &PushSink{
		metrics: m,
		pusher:  push.New(url, pushJob).Gatherer(m.reg),
	}
}

// Publish observes r and pushes every collector.
func (p *PushSink) Publish(ctx context.Context, r *model.RunReport) error {
	p.metrics.Observe(r)
	if err := p.pusher.PushContext(ctx); err != nil {
		return eris.Wrap(err, "report: push metrics")
	}
	return nil
}
