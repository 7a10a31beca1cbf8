package events

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/welldanyogia/home-iot/internal/api"
	appctx "github.com/welldanyogia/home-iot/internal/context"
	"github.com/welldanyogia/home-iot/internal/repository"
	"github.com/welldanyogia/home-iot/internal/security"
)

// MaxPayloadBytes bounds the size of a device event body
const MaxPayloadBytes = 64 << 10

// Handler serves the device event endpoints
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new event Handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Middleware is an HTTP middleware
type Middleware func(http.Handler) http.Handler

// RegisterRoutes registers the device endpoints. Every route is wrapped by
// deviceAuth; ingestion is additionally throttled by ingestLimit.
func RegisterRoutes(r chi.Router, h *Handler, deviceAuth, ingestLimit Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(deviceAuth)

		r.With(ingestLimit).Post("/api/water-events", h.Receive)
		r.Get("/api/events", h.List)
		r.Get("/api/stats", h.Stats)
	})
}

// Receive stores an event posted by a device
// POST /api/water-events
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	r.Body = http.MaxBytesReader(w, r.Body, MaxPayloadBytes)
	var payload Payload
	if err := api.DecodeJSON(r, &payload); err != nil {
		api.WriteError(w, http.StatusBadRequest, api.CodeValidationError, decodeMessage(err), nil)
		return
	}

	event, err := h.service.Ingest(r.Context(), &payload, ip)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			api.WriteError(w, http.StatusBadRequest, api.CodeValidationError, verr.Message, nil)
			return
		}
		h.logger.Error("Error processing event",
			slog.String("client_ip", ip),
			slog.String("error", err.Error()),
		)
		api.WriteError(w, http.StatusInternalServerError, api.CodeInternalError, "Internal server error", nil)
		return
	}

	api.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"event_id": event.ID.String(),
	})
}

// List returns recent events
// GET /api/events?limit=&device_id=&event_type=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil {
		limit = repository.DefaultEventLimit
	}

	events, err := h.service.List(r.Context(), repository.EventFilter{
		DeviceID:  q.Get("device_id"),
		EventType: q.Get("event_type"),
		Limit:     limit,
	})
	if err != nil {
		h.logger.Error("Error fetching events", slog.String("error", err.Error()))
		api.WriteError(w, http.StatusInternalServerError, api.CodeInternalError, "Internal server error", nil)
		return
	}

	api.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"count":  len(events),
		"events": events,
	})
}

// Stats returns aggregate event statistics
// GET /api/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.logger.Error("Error fetching stats", slog.String("error", err.Error()))
		api.WriteError(w, http.StatusInternalServerError, api.CodeInternalError, "Internal server error", nil)
		return
	}

	api.WriteSuccess(w, http.StatusOK, stats)
}

// decodeMessage turns a JSON decoding failure into a device-facing message
func decodeMessage(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		switch typeErr.Type.Kind() {
		case reflect.Int, reflect.Int32, reflect.Int64:
			return typeErr.Field + " must be an integer"
		}
		return typeErr.Field + " has an invalid type"
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return "Payload too large"
	}
	return "Invalid JSON payload"
}

func clientIP(r *http.Request) string {
	if ip, ok := appctx.ExtractClientIP(r.Context()); ok && ip != "" {
		return ip
	}
	return security.PeerIP(r)
}
