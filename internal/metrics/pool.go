package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStatter is satisfied by *pgxpool.Pool.
type PoolStatter interface {
	Stat() *pgxpool.Stat
}

// ListenerStatus reports whether the rule invalidation listener holds a live
// LISTEN connection.
type ListenerStatus interface {
	Listening() bool
}

type dbCollector struct {
	pool     PoolStatter
	listener ListenerStatus

	connections   *prometheus.Desc
	maxConns      *prometheus.Desc
	acquires      *prometheus.Desc
	emptyAcquires *prometheus.Desc
	acquireWait   *prometheus.Desc
	listenerUp    *prometheus.Desc
}

// RegisterDBMetrics registers a collector that reads pool statistics and the
// invalidation listener state on every scrape. listener may be nil, in which
// case comboz_rule_listener_up is not exported.
func RegisterDBMetrics(reg prometheus.Registerer, pool PoolStatter, listener ListenerStatus) {
	reg.MustRegister(&dbCollector{
		pool:     pool,
		listener: listener,
		connections: prometheus.NewDesc(
			"comboz_db_pool_connections",
			"Database connections in the pool by state.",
			[]string{"state"}, nil,
		),
		maxConns: prometheus.NewDesc(
			"comboz_db_pool_max_connections",
			"Maximum number of database connections allowed in the pool.",
			nil, nil,
		),
		acquires: prometheus.NewDesc(
			"comboz_db_pool_acquires_total",
			"Successful connection acquires from the pool.",
			nil, nil,
		),
		emptyAcquires: prometheus.NewDesc(
			"comboz_db_pool_empty_acquires_total",
			"Acquires that had to wait because no idle connection was available.",
			nil, nil,
		),
		acquireWait: prometheus.NewDesc(
			"comboz_db_pool_acquire_wait_seconds_total",
			"Cumulative time spent acquiring connections.",
			nil, nil,
		),
		listenerUp: prometheus.NewDesc(
			"comboz_rule_listener_up",
			"Whether the rule invalidation listener is connected (1) or not (0).",
			nil, nil,
		),
	})
}

func (c *dbCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	ch <- c.maxConns
	ch <- c.acquires
	ch <- c.emptyAcquires
	ch <- c.acquireWait
	if c.listener != nil {
		ch <- c.listenerUp
	}
}

func (c *dbCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()

	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(stat.AcquiredConns()), "acquired")
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(stat.IdleConns()), "idle")
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(stat.ConstructingConns()), "constructing")
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(stat.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(stat.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.emptyAcquires, prometheus.CounterValue, float64(stat.EmptyAcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.acquireWait, prometheus.CounterValue, stat.AcquireDuration().Seconds())

	if c.listener != nil {
		up := 0.0
		if c.listener.Listening() {
			up = 1
		}
		ch <- prometheus.MustNewConstMetric(c.listenerUp, prometheus.GaugeValue, up)
	}
}
