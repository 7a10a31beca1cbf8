// Package query runs validated admin SQL against the event store with a
// statement timeout and a row cap, and holds the catalog of predefined
// admin queries.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/welldanyogia/home-iot/internal/metrics"
)

// Defaults for the bounded executor
const (
	DefaultTimeout = 10 * time.Second
	DefaultMaxRows = 1000
)

// ErrQueryTimeout is returned when a query runs past the executor timeout
var ErrQueryTimeout = errors.New("query timed out")

// Result is the outcome of a bounded query. Rows preserve result order and
// map column names to values; Limited is set when rows past MaxRows were
// dropped.
type Result struct {
	Columns []string                 `json:"columns"`
	Rows    []map[string]interface{} `json:"data"`
	Limited bool                     `json:"limited"`
}

// Count returns the number of returned rows
func (r *Result) Count() int {
	return len(r.Rows)
}

// Executor runs read-only queries with a timeout and a row cap. Every call
// uses its own transaction, released on every exit path.
type Executor struct {
	db       *sqlx.DB
	timeout  time.Duration
	maxRows  int
	postgres bool
	logger   *slog.Logger
}

// NewExecutor creates an Executor over db. Non-positive limits fall back to
// the defaults.
func NewExecutor(db *sqlx.DB, timeout time.Duration, maxRows int, logger *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		db:       db,
		timeout:  timeout,
		maxRows:  maxRows,
		postgres: isPostgres(db.DriverName()),
		logger:   logger,
	}
}

// MaxRows returns the row cap
func (e *Executor) MaxRows() int {
	return e.maxRows
}

// Execute runs query with optional bound arguments. Arguments use "?"
// placeholders and are rebound for the driver; a query without arguments is
// sent untouched.
//
// On PostgreSQL the query runs in a READ ONLY transaction with a
// statement_timeout, so a statement that slipped past the SQL guard still
// cannot write.
func (e *Executor) Execute(ctx context.Context, query string, args ...interface{}) (*Result, error) {
	start := time.Now()
	result, err := e.execute(ctx, query, args)
	duration := time.Since(start)

	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrQueryTimeout) {
			outcome = "timeout"
		}
		metrics.QueryExecutions.WithLabelValues(outcome).Inc()
		e.logger.Error("Query execution error",
			slog.String("error", err.Error()),
			slog.Duration("duration", duration),
		)
		return nil, err
	}

	metrics.QueryExecutions.WithLabelValues("success").Inc()
	metrics.QueryRows.Observe(float64(result.Count()))
	e.logger.Debug("Query executed",
		slog.Int("rows", result.Count()),
		slog.Bool("limited", result.Limited),
		slog.Duration("duration", duration),
	)
	return result, nil
}

func (e *Executor) execute(ctx context.Context, query string, args []interface{}) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tx, err := e.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: e.postgres})
	if err != nil {
		return nil, e.wrap(ctx, err)
	}
	// Nothing is ever committed.
	defer func() { _ = tx.Rollback() }()

	if e.postgres {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", e.timeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, e.wrap(ctx, err)
		}
	}

	if len(args) > 0 {
		query = e.db.Rebind(query)
	}

	rows, err := tx.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, e.wrap(ctx, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, e.wrap(ctx, err)
	}

	result := &Result{Columns: columns, Rows: make([]map[string]interface{}, 0)}
	for rows.Next() {
		if len(result.Rows) == e.maxRows {
			result.Limited = true
			break
		}

		row := make(map[string]interface{}, len(columns))
		if err := rows.MapScan(row); err != nil {
			return nil, e.wrap(ctx, err)
		}
		normalizeRow(row)
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, e.wrap(ctx, err)
	}

	return result, nil
}

// wrap maps a context deadline to ErrQueryTimeout
func (e *Executor) wrap(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrQueryTimeout, e.timeout)
	}
	return err
}

// normalizeRow converts driver byte slices to strings so rows encode as
// text in JSON and CSV
func normalizeRow(row map[string]interface{}) {
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
		}
	}
}

func isPostgres(driverName string) bool {
	switch driverName {
	case "pgx", "pgx/v5", "postgres":
		return true
	}
	return false
}
