package admin

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/welldanyogia/home-iot/internal/api"
	"github.com/welldanyogia/home-iot/internal/export"
	"github.com/welldanyogia/home-iot/internal/query"
)

// DefaultExportQuery is exported when no query parameter is given
const DefaultExportQuery = "SELECT * FROM water_events ORDER BY received_at DESC LIMIT 1000"

const unsupportedFormatMessage = "Unsupported format. Use csv or json"

// Export runs a free-form query and returns it as a file
// GET /api/admin-export/{format}?query=
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	format, err := export.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, CodeUnsupportedFormat, unsupportedFormatMessage, nil)
		return
	}

	sqlText := r.URL.Query().Get("query")
	if sqlText == "" {
		sqlText = DefaultExportQuery
	}

	if !h.validate(w, sqlText, ip) {
		return
	}

	result, ok := h.run(w, r, ip, sqlText)
	if !ok {
		return
	}

	h.write(w, format, export.Filename(h.guard.Table(), "", format, h.now()), result)
}

// QuickExport exports a predefined query, optionally filtered to a device type
// GET /api/quick-export/{query_type}/{format}
// GET /api/quick-export/{device_type}/{query_type}/{format}
func (h *Handler) QuickExport(w http.ResponseWriter, r *http.Request) {
	deviceType := chi.URLParam(r, "device_type")
	queryType := chi.URLParam(r, "query_type")

	format, err := export.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, CodeUnsupportedFormat, unsupportedFormatMessage, nil)
		return
	}

	if deviceType != "" {
		if _, ok := query.LookupDeviceType(deviceType); !ok {
			api.WriteError(w, http.StatusBadRequest, CodeUnknownDeviceType, "Unknown device type: "+deviceType, nil)
			return
		}
	}

	var (
		sqlText string
		args    []interface{}
	)
	if deviceType == "" {
		sqlText, args, err = query.BuildQuick(queryType)
	} else {
		sqlText, args, err = query.Build(queryType, deviceType)
	}
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, CodeUnknownQuery, "Unknown query type", nil)
		return
	}

	result, ok := h.run(w, r, clientIP(r), sqlText, args...)
	if !ok {
		return
	}

	h.write(w, format, export.Filename(queryType, deviceType, format, h.now()), result)
}

func (h *Handler) write(w http.ResponseWriter, format export.Format, filename string, result *query.Result) {
	if err := export.Write(w, format, filename, result); err != nil {
		// Headers are already sent; the client sees a truncated file.
		h.logger.Error("Export write failed",
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("Data exported",
		slog.String("filename", filename),
		slog.Int("rows", result.Count()),
	)
}
