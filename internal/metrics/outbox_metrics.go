package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты доставки outbox-сообщений.
const (
	OutboxResultSent       = "sent"
	OutboxResultRetry      = "retry_error"
	OutboxResultFailed     = "failed"
	OutboxResultDLQFailed  = "dlq_failed"
	OutboxResultDeadLetter = "dead_lettered"
)

// OutboxMetrics описывает доставку и backlog transactional outbox.
// Методы безопасно вызывать на nil-получателе.
type OutboxMetrics struct {
	attempts      *prometheus.CounterVec
	pending       prometheus.Gauge
	oldestPending prometheus.Gauge
	cleaned       prometheus.Counter
}

// NewOutboxMetrics создаёт метрики outbox в DefaultRegisterer.
func NewOutboxMetrics() *OutboxMetrics {
	return NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOutboxMetricsWithRegisterer создаёт метрики outbox в указанном registerer.
func NewOutboxMetricsWithRegisterer(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OutboxMetrics{
		attempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orders_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result",
		}, []string{"result"}),
		pending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "orders_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox",
		}),
		oldestPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "orders_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record",
		}),
		cleaned: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orders_outbox_cleaned_records_total",
			Help: "Total number of sent outbox records removed by retention cleanup",
		}),
	}
}

// RecordAttempt учитывает результат попытки доставки.
func (m *OutboxMetrics) RecordAttempt(result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
}

// SetBacklog обновляет размер и возраст backlog. Нулевой oldest сбрасывает возраст.
func (m *OutboxMetrics) SetBacklog(pending int, oldest time.Time, now time.Time) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
	if pending == 0 || oldest.IsZero() {
		m.oldestPending.Set(0)
		return
	}
	m.oldestPending.Set(max(now.Sub(oldest).Seconds(), 0))
}

// RecordCleaned добавляет число удалённых при очистке записей.
func (m *OutboxMetrics) RecordCleaned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cleaned.Add(float64(n))
}
