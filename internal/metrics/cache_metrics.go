package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics считает обращения к кэшу корзин.
type CacheMetrics struct {
	lookups *prometheus.CounterVec
}

// NewCacheMetricsWithRegisterer регистрирует метрики кэша.
func NewCacheMetricsWithRegisterer(registerer prometheus.Registerer) *CacheMetrics {
	return &CacheMetrics{
		lookups: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "stockcart_cart_cache_lookups_total",
			Help: "Cart cache lookups grouped by result (hit, miss, error).",
		}, []string{"result"}),
	}
}

func (m *CacheMetrics) record(result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(result).Inc()
}

// Hit учитывает попадание.
func (m *CacheMetrics) Hit() { m.record("hit") }

// Miss учитывает промах.
func (m *CacheMetrics) Miss() { m.record("miss") }

// Error учитывает ошибку кэша.
func (m *CacheMetrics) Error() { m.record("error") }
