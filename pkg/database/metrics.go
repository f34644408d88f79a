package database

import (
	"database/sql"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// poolStat is one sql.DBStats field exported as a metric.
type poolStat struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(sql.DBStats) float64
}

func newPoolStat(name, help string, vt prometheus.ValueType, value func(sql.DBStats) float64) poolStat {
	return poolStat{
		desc:      prometheus.NewDesc("db_"+name, help, []string{"db"}, nil),
		valueType: vt,
		value:     value,
	}
}

// DBStatsCollector exports the connection pool statistics of a *sql.DB.
type DBStatsCollector struct {
	db    *sql.DB
	name  string
	stats []poolStat
}

// NewDBStatsCollector creates a collector whose metrics carry db=name.
func NewDBStatsCollector(db *sql.DB, name string) *DBStatsCollector {
	gauge, counter := prometheus.GaugeValue, prometheus.CounterValue
	return &DBStatsCollector{
		db:   db,
		name: name,
		stats: []poolStat{
			newPoolStat("open_connections", "Established connections, in use and idle.", gauge,
				func(s sql.DBStats) float64 { return float64(s.OpenConnections) }),
			newPoolStat("in_use_connections", "Connections currently in use.", gauge,
				func(s sql.DBStats) float64 { return float64(s.InUse) }),
			newPoolStat("idle_connections", "Idle connections.", gauge,
				func(s sql.DBStats) float64 { return float64(s.Idle) }),
			newPoolStat("max_open_connections", "Configured connection limit.", gauge,
				func(s sql.DBStats) float64 { return float64(s.MaxOpenConnections) }),
			newPoolStat("wait_count_total", "Connections waited for.", counter,
				func(s sql.DBStats) float64 { return float64(s.WaitCount) }),
			newPoolStat("wait_duration_seconds_total", "Time blocked waiting for a connection.", counter,
				func(s sql.DBStats) float64 { return s.WaitDuration.Seconds() }),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *DBStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, s := range c.stats {
		ch <- s.desc
	}
}

// Collect implements prometheus.Collector.
func (c *DBStatsCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.db.Stats()
	for _, s := range c.stats {
		ch <- prometheus.MustNewConstMetric(s.desc, s.valueType, s.value(st), c.name)
	}
}

// RegisterDBStats registers a collector for db with the default registry.
// Registering the same name twice is not an error.
func RegisterDBStats(db *sql.DB, name string) error {
	err := prometheus.Register(NewDBStatsCollector(db, name))
	if are := (prometheus.AlreadyRegisteredError{}); errors.As(err, &are) {
		return nil
	}
	return err
}
