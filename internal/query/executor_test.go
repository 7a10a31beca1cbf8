package query

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newEventDB opens an in-memory SQLite database holding n events
func newEventDB(t *testing.T, n int) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	db.MustExec(`CREATE TABLE water_events (
		id INTEGER PRIMARY KEY,
		device_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		volume_ml INTEGER NOT NULL,
		algorithm_data BLOB
	)`)

	tx := db.MustBegin()
	for i := 0; i < n; i++ {
		device := "DOLEWKA"
		if i%2 == 1 {
			device = "OTHER"
		}
		tx.MustExec(`INSERT INTO water_events (device_id, event_type, volume_ml, algorithm_data) VALUES (?, ?, ?, ?)`,
			device, "AUTO_PUMP", i, []byte(fmt.Sprintf("run-%d", i)))
	}
	require.NoError(t, tx.Commit())

	return db
}

func TestExecutor_RowCap(t *testing.T) {
	db := newEventDB(t, 1500)
	exec := NewExecutor(db, time.Second, DefaultMaxRows, discardLogger())

	result, err := exec.Execute(context.Background(), "SELECT * FROM water_events")
	require.NoError(t, err)

	assert.Equal(t, 1000, result.Count())
	assert.True(t, result.Limited)
	assert.Equal(t, []string{"id", "device_id", "event_type", "volume_ml", "algorithm_data"}, result.Columns)
	// Order is preserved.
	assert.EqualValues(t, 1, result.Rows[0]["id"])
	assert.EqualValues(t, 1000, result.Rows[999]["id"])
}

func TestExecutor_ExactlyMaxRowsIsNotLimited(t *testing.T) {
	db := newEventDB(t, 50)
	exec := NewExecutor(db, time.Second, 50, discardLogger())

	result, err := exec.Execute(context.Background(), "SELECT * FROM water_events")
	require.NoError(t, err)

	assert.Equal(t, 50, result.Count())
	assert.False(t, result.Limited)
}

func TestExecutor_BoundArguments(t *testing.T) {
	db := newEventDB(t, 10)
	exec := NewExecutor(db, time.Second, DefaultMaxRows, discardLogger())

	result, err := exec.Execute(context.Background(),
		"SELECT id, device_id FROM water_events WHERE device_id = ? ORDER BY id", "DOLEWKA")
	require.NoError(t, err)

	require.Equal(t, 5, result.Count())
	for _, row := range result.Rows {
		assert.Equal(t, "DOLEWKA", row["device_id"])
	}
}

func TestExecutor_BytesBecomeStrings(t *testing.T) {
	db := newEventDB(t, 1)
	exec := NewExecutor(db, time.Second, DefaultMaxRows, discardLogger())

	result, err := exec.Execute(context.Background(), "SELECT algorithm_data FROM water_events")
	require.NoError(t, err)

	require.Equal(t, 1, result.Count())
	assert.Equal(t, "run-0", result.Rows[0]["algorithm_data"])
}

func TestExecutor_EmptyResult(t *testing.T) {
	db := newEventDB(t, 0)
	exec := NewExecutor(db, time.Second, DefaultMaxRows, discardLogger())

	result, err := exec.Execute(context.Background(), "SELECT * FROM water_events")
	require.NoError(t, err)

	assert.NotNil(t, result.Rows)
	assert.Equal(t, 0, result.Count())
	assert.False(t, result.Limited)
}

func TestExecutor_ErrorsAreReturned(t *testing.T) {
	db := newEventDB(t, 1)
	exec := NewExecutor(db, time.Second, DefaultMaxRows, discardLogger())

	_, err := exec.Execute(context.Background(), "SELECT * FROM no_such_table")
	assert.Error(t, err)

	// The connection was released: the next query still runs.
	result, err := exec.Execute(context.Background(), "SELECT COUNT(*) AS n FROM water_events")
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.Rows[0]["n"])
}

func TestExecutor_CancelledContext(t *testing.T) {
	db := newEventDB(t, 1)
	exec := NewExecutor(db, time.Second, DefaultMaxRows, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Execute(ctx, "SELECT * FROM water_events")
	assert.Error(t, err)
}

func TestExecutor_Defaults(t *testing.T) {
	db := newEventDB(t, 0)
	exec := NewExecutor(db, 0, 0, nil)

	assert.Equal(t, DefaultMaxRows, exec.MaxRows())
	assert.Equal(t, DefaultTimeout, exec.timeout)
	assert.False(t, exec.postgres)
}
