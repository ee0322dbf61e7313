package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the backend's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SalesProcessed        *prometheus.CounterVec
	SaleFailures          *prometheus.CounterVec
	LowStockNotifications *prometheus.CounterVec
	AlertDispatch         *prometheus.CounterVec
	ReconcileUpdates      *prometheus.CounterVec
	FanoutSessions        prometheus.Gauge
	FanoutDropped         prometheus.Counter
	RequestDuration       *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SalesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stockroom_sales_processed_total",
			Help: "Sales committed, by kind (product or credit-payment)",
		}, []string{"kind"}),
		SaleFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stockroom_sale_failures_total",
			Help: "Rejected or aborted sales, by reason",
		}, []string{"reason"}),
		LowStockNotifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stockroom_low_stock_notifications_total",
			Help: "Low-stock notifications created, by trigger path",
		}, []string{"path"}),
		AlertDispatch: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stockroom_alert_dispatch_total",
			Help: "Alert collaborator calls, by result",
		}, []string{"result"}),
		ReconcileUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stockroom_reconcile_updates_total",
			Help: "Records changed by reconciliation jobs",
		}, []string{"job"}),
		FanoutSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stockroom_fanout_sessions",
			Help: "Currently attached live sessions",
		}),
		FanoutDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "stockroom_fanout_dropped_total",
			Help: "Broadcast messages dropped because a session queue was full",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockroom_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncSale(kind string) {
	if m == nil {
		return
	}
	m.SalesProcessed.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncSaleFailure(reason string) {
	if m == nil {
		return
	}
	m.SaleFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncLowStock(path string) {
	if m == nil {
		return
	}
	m.LowStockNotifications.WithLabelValues(path).Inc()
}

func (m *Metrics) IncAlert(result string) {
	if m == nil {
		return
	}
	m.AlertDispatch.WithLabelValues(result).Inc()
}

func (m *Metrics) AddReconciled(job string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ReconcileUpdates.WithLabelValues(job).Add(float64(n))
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.FanoutSessions.Set(float64(n))
}

func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.FanoutDropped.Inc()
}

func (m *Metrics) ObserveRequest(method string, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, status).Observe(elapsed.Seconds())
}
