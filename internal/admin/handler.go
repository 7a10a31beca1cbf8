// Package admin implements the session-protected admin API: free-form and
// predefined queries over the event store, exports and the dashboard summary.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/welldanyogia/home-iot/internal/api"
	appctx "github.com/welldanyogia/home-iot/internal/context"
	"github.com/welldanyogia/home-iot/internal/metrics"
	"github.com/welldanyogia/home-iot/internal/query"
	"github.com/welldanyogia/home-iot/internal/security"
	"github.com/welldanyogia/home-iot/internal/sqlguard"
)

// Error codes for admin API responses
const (
	CodeInvalidQuery      = "INVALID_QUERY"
	CodeQueryError        = "QUERY_ERROR"
	CodeUnknownQuery      = "UNKNOWN_QUERY"
	CodeUnknownDeviceType = "UNKNOWN_DEVICE_TYPE"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
)

// QueryRunner executes validated SQL
type QueryRunner interface {
	Execute(ctx context.Context, query string, args ...interface{}) (*query.Result, error)
}

// QueryRequest is the body of POST /api/admin-query
type QueryRequest struct {
	Query *string `json:"query"`
}

// Handler serves the admin API
type Handler struct {
	runner    QueryRunner
	guard     *sqlguard.Guard
	dashboard DashboardStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewHandler creates a new admin Handler
func NewHandler(runner QueryRunner, guard *sqlguard.Guard, dashboard DashboardStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		runner:    runner,
		guard:     guard,
		dashboard: dashboard,
		logger:    logger,
		now:       time.Now,
	}
}

// Query runs a free-form SELECT after it passes the SQL guard
// POST /api/admin-query
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	var req QueryRequest
	if err := api.DecodeJSON(r, &req); err != nil || req.Query == nil {
		api.WriteError(w, http.StatusBadRequest, api.CodeValidationError, "No query provided", nil)
		return
	}

	sqlText := strings.TrimSpace(*req.Query)
	if sqlText == "" {
		api.WriteError(w, http.StatusBadRequest, api.CodeValidationError, "Empty query", nil)
		return
	}

	if !h.validate(w, sqlText, ip) {
		return
	}

	result, ok := h.run(w, r, ip, sqlText)
	if !ok {
		return
	}

	h.logger.Info("Admin query executed",
		slog.String("client_ip", ip),
		slog.Int("rows", result.Count()),
	)
	api.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"data":    result.Rows,
		"columns": result.Columns,
		"count":   result.Count(),
		"limited": result.Limited,
	})
}

// QuickQuery runs a predefined query across all devices
// GET /api/admin-quick-query/{query_type}
func (h *Handler) QuickQuery(w http.ResponseWriter, r *http.Request) {
	queryType := chi.URLParam(r, "query_type")

	sqlText, args, err := query.BuildQuick(queryType)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, CodeUnknownQuery, "Unknown quick query type", nil)
		return
	}

	result, ok := h.run(w, r, clientIP(r), sqlText, args...)
	if !ok {
		return
	}

	api.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"data":       result.Rows,
		"columns":    result.Columns,
		"count":      result.Count(),
		"limited":    result.Limited,
		"query_type": queryType,
	})
}

// DeviceQuery runs a predefined query filtered to a device type
// GET /api/admin-device-query/{device_type}/{query_type}
func (h *Handler) DeviceQuery(w http.ResponseWriter, r *http.Request) {
	deviceType := chi.URLParam(r, "device_type")
	queryType := chi.URLParam(r, "query_type")

	if _, ok := query.LookupDeviceType(deviceType); !ok {
		api.WriteError(w, http.StatusBadRequest, CodeUnknownDeviceType, "Unknown device type: "+deviceType, nil)
		return
	}

	sqlText, args, err := query.Build(queryType, deviceType)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, CodeUnknownQuery,
			"Unknown query type: "+queryType+" for device: "+deviceType, nil)
		return
	}

	result, ok := h.run(w, r, clientIP(r), sqlText, args...)
	if !ok {
		return
	}

	api.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"data":        result.Rows,
		"columns":     result.Columns,
		"count":       result.Count(),
		"limited":     result.Limited,
		"device_type": deviceType,
		"query_type":  queryType,
	})
}

// AvailableQueries lists the catalog queries for a device type
// GET /api/available-queries/{device_type}
func (h *Handler) AvailableQueries(w http.ResponseWriter, r *http.Request) {
	deviceType := chi.URLParam(r, "device_type")

	if _, ok := query.LookupDeviceType(deviceType); !ok {
		api.WriteError(w, http.StatusBadRequest, CodeUnknownDeviceType, "Unknown device type: "+deviceType, nil)
		return
	}

	api.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"device_type": deviceType,
		"queries":     query.Available(deviceType),
	})
}

// validate runs the SQL guard and writes the rejection, if any
func (h *Handler) validate(w http.ResponseWriter, sqlText, ip string) bool {
	if err := h.guard.Validate(sqlText); err != nil {
		metrics.QueryRejections.Inc()
		h.logger.Warn("Invalid SQL query",
			slog.String("client_ip", ip),
			slog.String("reason", err.Error()),
		)
		api.WriteError(w, http.StatusBadRequest, CodeInvalidQuery, err.Error(), nil)
		return false
	}
	return true
}

// run executes sqlText and writes the error response on failure
func (h *Handler) run(w http.ResponseWriter, r *http.Request, ip, sqlText string, args ...interface{}) (*query.Result, bool) {
	result, err := h.runner.Execute(r.Context(), sqlText, args...)
	if err != nil {
		h.logger.Error("SQL query error",
			slog.String("client_ip", ip),
			slog.String("error", err.Error()),
		)
		api.WriteError(w, http.StatusBadRequest, CodeQueryError, "Query error: "+err.Error(), nil)
		return nil, false
	}
	return result, true
}

func clientIP(r *http.Request) string {
	if ip, ok := appctx.ExtractClientIP(r.Context()); ok && ip != "" {
		return ip
	}
	return security.PeerIP(r)
}
