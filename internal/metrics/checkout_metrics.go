package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты оформления заказа для метки result.
const (
	ResultPlaced      = "placed"
	ResultConflict    = "conflict"
	ResultEmptyCart   = "empty_cart"
	ResultUnavailable = "unavailable"
	ResultTimeout     = "timeout"
	ResultError       = "error"
)

// CheckoutMetrics содержит метрики оформления заказов.
type CheckoutMetrics struct {
	attempts      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	retries       prometheus.Counter
	conflictLines *prometheus.CounterVec
	inFlight      prometheus.Gauge
	breakerState  prometheus.Gauge
}

// NewCheckoutMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer регистрирует метрики в заданном registerer.
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	return &CheckoutMetrics{
		attempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "stockcart_checkout_total",
			Help: "Total number of checkout attempts grouped by result.",
		}, []string{"result"}),
		duration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "stockcart_checkout_duration_seconds",
			Help:    "Duration of checkout including retries.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"result"}),
		retries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "stockcart_checkout_retries_total",
			Help: "Total number of checkout retries after transient ledger errors.",
		}),
		conflictLines: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "stockcart_stock_conflict_lines_total",
			Help: "Cart lines rejected at checkout grouped by verdict.",
		}, []string{"verdict"}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "stockcart_checkout_in_flight",
			Help: "Number of checkouts currently executing.",
		}),
		breakerState: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "stockcart_checkout_breaker_open",
			Help: "1 when the ledger circuit breaker is open, 0 otherwise.",
		}),
	}
}

// Started отмечает начало оформления и возвращает функцию завершения.
func (m *CheckoutMetrics) Started() func(result string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.inFlight.Inc()
	return func(result string) {
		m.inFlight.Dec()
		m.attempts.WithLabelValues(result).Inc()
		m.duration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}
}

// RecordRetry увеличивает счётчик повторов.
func (m *CheckoutMetrics) RecordRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// RecordConflictLine учитывает отклонённую позицию.
func (m *CheckoutMetrics) RecordConflictLine(verdict string) {
	if m == nil {
		return
	}
	m.conflictLines.WithLabelValues(verdict).Inc()
}

// SetBreakerOpen отражает состояние circuit breaker.
func (m *CheckoutMetrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.breakerState.Set(1)
		return
	}
	m.breakerState.Set(0)
}
