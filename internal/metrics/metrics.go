// Package metrics bundles the Prometheus collectors for the engine, its
// delivery path and the HTTP surface.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every recorder becomes a no-op.
type Metrics struct {
	gatherer prometheus.Gatherer

	Samples       *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	Alerts        *prometheus.CounterVec
	Deliveries    *prometheus.CounterVec
	QueueDrops    *prometheus.CounterVec
	ActiveAlerts  prometheus.Gauge
	Tourists      prometheus.Gauge
	ZoneVersion   prometheus.Gauge
	ActiveZones   prometheus.Gauge
	EvalDuration  prometheus.Histogram
	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
}

// New registers the collectors against reg, defaulting to the global
// registry when nil. Registering twice against the same registry reuses the
// existing collectors.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{gatherer: gatherer}
	var err error

	if m.Samples, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tourguard_samples_total",
		Help: "Position samples by outcome (accepted or the reject reason).",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if m.Transitions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tourguard_zone_transitions_total",
		Help: "Zone entry and exit transitions.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if m.Alerts, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tourguard_alerts_total",
		Help: "Routing outcomes labeled by alert kind and outcome (created, refreshed, suppressed, forwarded, resolved).",
	}, []string{"kind", "outcome"})); err != nil {
		return nil, err
	}
	if m.Deliveries, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tourguard_deliveries_total",
		Help: "Notification delivery attempts by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if m.QueueDrops, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tourguard_queue_drops_total",
		Help: "Notifications that could not be queued for delivery.",
	}, []string{"queue"})); err != nil {
		return nil, err
	}
	if m.ActiveAlerts, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tourguard_active_alerts",
		Help: "Open alerts held by the engine at the last sweep.",
	})); err != nil {
		return nil, err
	}
	if m.Tourists, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tourguard_tourists",
		Help: "Tourists tracked by the engine at the last sweep.",
	})); err != nil {
		return nil, err
	}
	if m.ZoneVersion, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tourguard_zone_version",
		Help: "Current zone snapshot version.",
	})); err != nil {
		return nil, err
	}
	if m.ActiveZones, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tourguard_active_zones",
		Help: "Zones in the current snapshot.",
	})); err != nil {
		return nil, err
	}
	if m.EvalDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tourguard_evaluation_duration_seconds",
		Help:    "Time from accepting a sample to finishing routing for it.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})); err != nil {
		return nil, err
	}
	if m.HTTPRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tourguard_http_requests_total",
		Help: "Handled HTTP requests by route, method and status code.",
	}, []string{"route", "method", "code"})); err != nil {
		return nil, err
	}
	if m.HTTPDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tourguard_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"route", "method"})); err != nil {
		return nil, err
	}
	return m, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Sample(outcome string) {
	if m == nil {
		return
	}
	m.Samples.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Transition(kind string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(kind).Inc()
}

func (m *Metrics) Alert(kind, outcome string) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Delivery(result string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) QueueDrop(queue string) {
	if m == nil {
		return
	}
	m.QueueDrops.WithLabelValues(queue).Inc()
}

func (m *Metrics) SetEngineCounts(tourists, activeAlerts int) {
	if m == nil {
		return
	}
	m.Tourists.Set(float64(tourists))
	m.ActiveAlerts.Set(float64(activeAlerts))
}

func (m *Metrics) SetZones(version uint64, active int) {
	if m == nil {
		return
	}
	m.ZoneVersion.Set(float64(version))
	m.ActiveZones.Set(float64(active))
}

func (m *Metrics) ObserveEvaluation(d time.Duration) {
	if m == nil {
		return
	}
	m.EvalDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveHTTP(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, fmt.Sprint(code)).Inc()
	m.HTTPDurations.WithLabelValues(route, method).Observe(d.Seconds())
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		var zero T
		return zero, err
	}
	return c, nil
}
