// Package metrics — счётчики Prometheus для чата, звонков, уведомлений и советника.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agrilink/internal/model"
)

type Metrics struct {
	reg *prometheus.Registry

	messagesSent     *prometheus.CounterVec
	messagesRejected prometheus.Counter
	messagesDeleted  *prometheus.CounterVec
	calls            *prometheus.CounterVec
	callOutcomes     *prometheus.CounterVec
	callDuration     prometheus.Histogram
	notifications    *prometheus.CounterVec
	advisory         *prometheus.CounterVec
	wsConnections    prometheus.Gauge
}

// New регистрирует метрики в собственном реестре (вместе с Go- и process-коллекторами).
func New(service string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	labels := prometheus.Labels{"service": service}
	m := &Metrics{
		reg: reg,
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agrilink_messages_sent_total", Help: "Messages appended, by payload kind.", ConstLabels: labels,
		}, []string{"kind"}),
		messagesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agrilink_messages_rejected_total", Help: "Messages blocked by moderation.", ConstLabels: labels,
		}),
		messagesDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agrilink_messages_deleted_total", Help: "Message deletions, by scope.", ConstLabels: labels,
		}, []string{"scope"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agrilink_calls_started_total", Help: "Calls offered, by type.", ConstLabels: labels,
		}, []string{"type"}),
		callOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agrilink_calls_finished_total", Help: "Calls finished, by outcome.", ConstLabels: labels,
		}, []string{"outcome"}),
		callDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "agrilink_call_duration_seconds", Help: "Duration of accepted calls.", ConstLabels: labels,
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1800},
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agrilink_notifications_total", Help: "Notifications created, by type.", ConstLabels: labels,
		}, []string{"type"}),
		advisory: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agrilink_advisory_requests_total", Help: "Advisory requests, by mode and result.", ConstLabels: labels,
		}, []string{"mode", "result"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agrilink_ws_connections", Help: "Open WebSocket connections.", ConstLabels: labels,
		}),
	}
	reg.MustRegister(m.messagesSent, m.messagesRejected, m.messagesDeleted, m.calls, m.callOutcomes,
		m.callDuration, m.notifications, m.advisory, m.wsConnections)
	return m
}

// Handler — /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) MessageSent(kind model.PayloadKind) { m.messagesSent.WithLabelValues(string(kind)).Inc() }
func (m *Metrics) MessageRejected()                   { m.messagesRejected.Inc() }
func (m *Metrics) MessageDeleted(scope string)        { m.messagesDeleted.WithLabelValues(scope).Inc() }

func (m *Metrics) CallStarted(t model.CallType) { m.calls.WithLabelValues(string(t)).Inc() }

func (m *Metrics) CallFinished(outcome string, d time.Duration) {
	m.callOutcomes.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.callDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) NotificationCreated(t model.NotificationType) {
	m.notifications.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) AdvisoryResult(mode string, ok bool) {
	result := "ok"
	if !ok {
		result = "fallback"
	}
	m.advisory.WithLabelValues(mode, result).Inc()
}

func (m *Metrics) WSConnected()    { m.wsConnections.Inc() }
func (m *Metrics) WSDisconnected() { m.wsConnections.Dec() }
