// Package metrics holds the Prometheus instruments of the chat server.
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace префикс всех метрик
const Namespace = "gophchat"

// Результаты для label result
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"
	ResultAnon     = "anonymous"
)

// Metrics набор метрик сервера
type Metrics struct {
	logins          *prometheus.CounterVec
	registrations   *prometheus.CounterVec
	handshakes      *prometheus.CounterVec
	messages        *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	wsActive        prometheus.Gauge
	droppedMessages prometheus.Counter
}

// New регистрирует метрики в reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),

		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "registrations_total",
			Help:      "Registration attempts by result",
		}, []string{"result"}),

		handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ws_handshakes_total",
			Help:      "STOMP CONNECT handshakes by result",
		}, []string{"result"}),

		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "chat_messages_total",
			Help:      "Chat events routed by kind",
		}, []string{"kind"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code",
		}, []string{"method", "status"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		wsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "ws_connections_active",
			Help:      "Currently open WebSocket connections",
		}),

		droppedMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "chat_deliveries_dropped_total",
			Help:      "Deliveries dropped because a session send queue was full",
		}),
	}
}

// Handler отдает метрики в формате Prometheus
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Login учитывает попытку входа
func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

// Registration учитывает попытку регистрации
func (m *Metrics) Registration(result string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(result).Inc()
}

// Handshake учитывает результат CONNECT
func (m *Metrics) Handshake(result string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(result).Inc()
}

// MessageRouted учитывает маршрутизированное событие чата
func (m *Metrics) MessageRouted(kind string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind).Inc()
}

// DeliveryDropped учитывает сообщение, не поместившееся в очередь сессии
func (m *Metrics) DeliveryDropped() {
	if m == nil {
		return
	}
	m.droppedMessages.Inc()
}

// ConnectionOpened увеличивает число активных соединений
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.wsActive.Inc()
}

// ConnectionClosed уменьшает число активных соединений
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.wsActive.Dec()
}

// ObserveRequest учитывает завершенный HTTP запрос
func (m *Metrics) ObserveRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(duration.Seconds())
}
