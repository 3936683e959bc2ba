package metrics

import (
	"dbgate/internal/database"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name
const DefaultNamespace = "dbgate"

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Collector exports client outcomes to Prometheus. It implements
// database.Observer.
type Collector struct {
	queries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	rows     *prometheus.CounterVec
	pool     *prometheus.GaugeVec
}

var _ database.Observer = (*Collector)(nil)

// New registers the collector's metrics with reg
func New(reg prometheus.Registerer, namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Collector{
		queries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Number of executed operations by outcome",
		}, []string{"driver", "query_type", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Operation latency including retries",
			Buckets:   durationBuckets,
		}, []string{"driver", "query_type"}),
		rows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_affected_total",
			Help:      "Rows returned or affected by successful operations",
		}, []string{"driver"}),
		pool: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_connections",
			Help:      "Pool connections by state",
		}, []string{"driver", "state"}),
	}
}

// ObserveQuery records one operation outcome
func (c *Collector) ObserveQuery(driver string, m database.QueryMetrics) {
	status := "success"
	if !m.Success {
		status = "error"
	}
	qt := string(m.QueryType)

	c.queries.WithLabelValues(driver, qt, status).Inc()
	c.duration.WithLabelValues(driver, qt).Observe(m.ExecutionTime.Seconds())
	if m.Success && m.RowsAffected > 0 {
		c.rows.WithLabelValues(driver).Add(float64(m.RowsAffected))
	}
}

// ObservePool records a pool snapshot
func (c *Collector) ObservePool(driver string, s database.PoolStats) {
	c.pool.WithLabelValues(driver, "active").Set(float64(s.Active))
	c.pool.WithLabelValues(driver, "available").Set(float64(s.Available))
	c.pool.WithLabelValues(driver, "pending").Set(float64(s.Pending))
	c.pool.WithLabelValues(driver, "size").Set(float64(s.Size))
	c.pool.WithLabelValues(driver, "max").Set(float64(s.MaxSize))
}
