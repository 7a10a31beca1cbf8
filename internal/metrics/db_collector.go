package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DBStatsCollector collects database connection statistics
type DBStatsCollector struct {
	pgxPool *pgxpool.Pool
	sqlxDB  *sql.DB
	stopCh  chan struct{}
}

// NewDBStatsCollector creates a new database stats collector
func NewDBStatsCollector(pgxPool *pgxpool.Pool, sqlxDB *sql.DB) *DBStatsCollector {
	return &DBStatsCollector{
		pgxPool: pgxPool,
		sqlxDB:  sqlxDB,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting database statistics at regular intervals
func (c *DBStatsCollector) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Collect initial stats
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()

	slog.Info("Database stats collector started", slog.Duration("interval", interval))
}

// Stop stops the database stats collector
func (c *DBStatsCollector) Stop() {
	close(c.stopCh)
	slog.Info("Database stats collector stopped")
}

// collect gathers database statistics and updates Prometheus metrics
func (c *DBStatsCollector) collect() {
	if c.pgxPool != nil {
		stat := c.pgxPool.Stat()
		DBConnectionsOpen.WithLabelValues("pgx").Set(float64(stat.TotalConns()))
		DBConnectionsInUse.WithLabelValues("pgx").Set(float64(stat.AcquiredConns()))
		DBConnectionsIdle.WithLabelValues("pgx").Set(float64(stat.IdleConns()))
		DBConnectionsMaxOpen.WithLabelValues("pgx").Set(float64(stat.MaxConns()))
	}

	if c.sqlxDB != nil {
		stats := c.sqlxDB.Stats()
		DBConnectionsOpen.WithLabelValues("sql").Set(float64(stats.OpenConnections))
		DBConnectionsInUse.WithLabelValues("sql").Set(float64(stats.InUse))
		DBConnectionsIdle.WithLabelValues("sql").Set(float64(stats.Idle))
		DBConnectionsMaxOpen.WithLabelValues("sql").Set(float64(stats.MaxOpenConnections))
	}
}

// RecordQueryDuration records the duration of a database query
func RecordQueryDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// TimeQuery is a helper function to time database queries
// Usage: defer metrics.TimeQuery("select_user")()
func TimeQuery(operation string) func() {
	start := time.Now()
	return func() {
		RecordQueryDuration(operation, time.Since(start))
	}
}

// Pinger is a database handle that can be pinged
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingDatabase checks database connectivity and records the result
func PingDatabase(ctx context.Context, db Pinger) error {
	start := time.Now()
	err := db.Ping(ctx)
	RecordQueryDuration("ping", time.Since(start))
	return err
}
