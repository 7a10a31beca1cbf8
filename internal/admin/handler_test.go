package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/welldanyogia/home-iot/internal/query"
	"github.com/welldanyogia/home-iot/internal/repository"
	"github.com/welldanyogia/home-iot/internal/sqlguard"
)

// fakeRunner records executed queries and returns a canned result
type fakeRunner struct {
	sql    string
	args   []interface{}
	calls  int
	result *query.Result
	err    error
}

func (f *fakeRunner) Execute(ctx context.Context, sqlText string, args ...interface{}) (*query.Result, error) {
	f.calls++
	f.sql = sqlText
	f.args = args
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fakeDashboard implements DashboardStore
type fakeDashboard struct {
	counts []repository.DeviceTypeCount
	events []repository.WaterEvent
	err    error
}

func (f *fakeDashboard) CountByDeviceType(ctx context.Context, deviceTypes []string) ([]repository.DeviceTypeCount, error) {
	return f.counts, f.err
}

func (f *fakeDashboard) List(ctx context.Context, filter repository.EventFilter) ([]repository.WaterEvent, error) {
	return f.events, f.err
}

func passThrough(next http.Handler) http.Handler { return next }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(runner QueryRunner, dashboard DashboardStore) http.Handler {
	h := NewHandler(runner, sqlguard.New("water_events"), dashboard, discardLogger())
	h.now = func() time.Time { return time.Date(2023, 10, 16, 14, 30, 22, 0, time.UTC) }

	r := chi.NewRouter()
	RegisterRoutes(r, h, passThrough, Limits{Query: passThrough, QuickQuery: passThrough})
	return r
}

func sampleResult() *query.Result {
	return &query.Result{
		Columns: []string{"device_id", "volume_ml"},
		Rows:    []map[string]interface{}{{"device_id": "DOLEWKA", "volume_ml": int64(250)}},
	}
}

type envelope struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func do(t *testing.T, router http.Handler, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") && rec.Header().Get("Content-Disposition") == "" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func TestQuery(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		code    string
		message string
		runs    bool
	}{
		{"valid", `{"query":"SELECT * FROM water_events LIMIT 10"}`, http.StatusOK, "", "", true},
		{"no body", `{}`, http.StatusBadRequest, "VALIDATION_ERROR", "No query provided", false},
		{"empty", `{"query":"   "}`, http.StatusBadRequest, "VALIDATION_ERROR", "Empty query", false},
		{"drop", `{"query":"SELECT * FROM water_events; DROP TABLE water_events"}`, http.StatusBadRequest, CodeInvalidQuery, "Forbidden keyword: DROP", false},
		{"other table", `{"query":"select * from other_table"}`, http.StatusBadRequest, CodeInvalidQuery, "Only water_events table is allowed", false},
		{"union", `{"query":"SELECT * FROM water_events UNION SELECT password FROM admin_sessions"}`, http.StatusBadRequest, CodeInvalidQuery, "Forbidden keyword: UNION", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{result: sampleResult()}
			router := newTestRouter(runner, &fakeDashboard{})

			rec, env := do(t, router, http.MethodPost, "/api/admin-query", tt.body)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.runs, runner.calls == 1)
			if tt.code != "" {
				assert.Equal(t, tt.code, env.Error.Code)
				assert.Equal(t, tt.message, env.Error.Message)
				return
			}
			assert.Equal(t, float64(1), env.Data["count"])
			assert.Equal(t, false, env.Data["limited"])
		})
	}
}

func TestQuery_ExecutorError(t *testing.T) {
	runner := &fakeRunner{err: errors.New(`column "nope" does not exist`)}
	router := newTestRouter(runner, &fakeDashboard{})

	rec, env := do(t, router, http.MethodPost, "/api/admin-query", `{"query":"SELECT nope FROM water_events"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeQueryError, env.Error.Code)
	assert.Equal(t, `Query error: column "nope" does not exist`, env.Error.Message)
}

func TestQuickQuery(t *testing.T) {
	runner := &fakeRunner{result: sampleResult()}
	router := newTestRouter(runner, &fakeDashboard{})

	rec, env := do(t, router, http.MethodGet, "/api/admin-quick-query/last_100_events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "last_100_events", env.Data["query_type"])
	assert.Contains(t, runner.sql, "LIMIT 100")
	assert.Empty(t, runner.args)

	rec, env = do(t, router, http.MethodGet, "/api/admin-quick-query/nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeUnknownQuery, env.Error.Code)
}

func TestDeviceQuery(t *testing.T) {
	runner := &fakeRunner{result: sampleResult()}
	router := newTestRouter(runner, &fakeDashboard{})

	rec, env := do(t, router, http.MethodGet, "/api/admin-device-query/water_system/algorithm_failures", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "water_system", env.Data["device_type"])
	assert.Equal(t, []interface{}{"water_system"}, runner.args)

	rec, env = do(t, router, http.MethodGet, "/api/admin-device-query/toaster/errors", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Unknown device type: toaster", env.Error.Message)

	rec, env = do(t, router, http.MethodGet, "/api/admin-device-query/doser_system/algorithm_stats", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Unknown query type: algorithm_stats for device: doser_system", env.Error.Message)
}

func TestAvailableQueries(t *testing.T) {
	router := newTestRouter(&fakeRunner{}, &fakeDashboard{})

	rec, env := do(t, router, http.MethodGet, "/api/available-queries/water_system", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.Data["queries"], 9)
}

func TestExport(t *testing.T) {
	runner := &fakeRunner{result: sampleResult()}
	router := newTestRouter(runner, &fakeDashboard{})

	rec, _ := do(t, router, http.MethodGet, "/api/admin-export/csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DefaultExportQuery, runner.sql)
	assert.Equal(t, "attachment; filename=water_events_20231016_143022.csv", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "device_id,volume_ml\nDOLEWKA,250\n", rec.Body.String())

	rec, env := do(t, router, http.MethodGet, "/api/admin-export/xml", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Unsupported format. Use csv or json", env.Error.Message)

	rec, env = do(t, router, http.MethodGet, "/api/admin-export/json?query=DELETE+FROM+water_events", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Forbidden keyword: DELETE", env.Error.Message)
}

func TestQuickExport(t *testing.T) {
	runner := &fakeRunner{result: sampleResult()}
	router := newTestRouter(runner, &fakeDashboard{})

	rec, _ := do(t, router, http.MethodGet, "/api/quick-export/water_system/last24h/json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "attachment; filename=water_system_last24h_20231016_143022.json", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, []interface{}{"water_system"}, runner.args)

	rec, _ = do(t, router, http.MethodGet, "/api/quick-export/errors/csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "attachment; filename=errors_20231016_143022.csv", rec.Header().Get("Content-Disposition"))

	rec, env := do(t, router, http.MethodGet, "/api/quick-export/nope/csv", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeUnknownQuery, env.Error.Code)
}

func TestDashboard(t *testing.T) {
	last := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dashboard := &fakeDashboard{
		counts: []repository.DeviceTypeCount{{DeviceType: "water_system", EventCount: 42, LastEvent: &last}},
		events: []repository.WaterEvent{{DeviceID: "DOLEWKA", DeviceType: "water_system", EventType: "AUTO_PUMP", VolumeML: 250, SystemStatus: "OK", ReceivedAt: last}},
	}
	router := newTestRouter(&fakeRunner{}, dashboard)

	for _, path := range []string{"/", "/admin", "/dashboard"} {
		rec, env := do(t, router, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)

		devices := env.Data["device_types"].([]interface{})
		require.Len(t, devices, 1)
		device := devices[0].(map[string]interface{})
		assert.Equal(t, "Top Off Water", device["name"])
		assert.Equal(t, float64(42), device["event_count"])
		assert.Equal(t, "active", device["status"])
		assert.Len(t, env.Data["recent_activity"], 1)
	}

	dashboard.err = errors.New("db down")
	rec, env := do(t, router, http.MethodGet, "/dashboard", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Dashboard error", env.Error.Message)
}

func TestDeviceContext(t *testing.T) {
	router := newTestRouter(&fakeRunner{}, &fakeDashboard{})

	rec, _ := do(t, router, http.MethodGet, "/admin/water_system", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, router, http.MethodGet, "/admin/toaster", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// The admin query path end to end over a real database: guard, executor and
// the 1000 row cap.
func TestQuery_WithExecutor(t *testing.T) {
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	db.MustExec(`CREATE TABLE water_events (id INTEGER PRIMARY KEY, volume_ml INTEGER)`)
	tx := db.MustBegin()
	for i := 0; i < 1200; i++ {
		tx.MustExec(`INSERT INTO water_events (volume_ml) VALUES (?)`, i)
	}
	require.NoError(t, tx.Commit())

	executor := query.NewExecutor(db, time.Second, query.DefaultMaxRows, discardLogger())
	router := newTestRouter(executor, &fakeDashboard{})

	rec, env := do(t, router, http.MethodPost, "/api/admin-query", `{"query":"SELECT * FROM water_events"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1000), env.Data["count"])
	assert.Equal(t, true, env.Data["limited"])

	rec, env = do(t, router, http.MethodPost, "/api/admin-query", `{"query":"SELECT missing FROM water_events"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeQueryError, env.Error.Code)
}
