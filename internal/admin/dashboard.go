package admin

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/welldanyogia/home-iot/internal/api"
	"github.com/welldanyogia/home-iot/internal/query"
	"github.com/welldanyogia/home-iot/internal/repository"
)

// RecentActivityLimit is the number of recent events on the dashboard
const RecentActivityLimit = 10

// DashboardStore reads the aggregates shown on the dashboard
type DashboardStore interface {
	CountByDeviceType(ctx context.Context, deviceTypes []string) ([]repository.DeviceTypeCount, error)
	List(ctx context.Context, filter repository.EventFilter) ([]repository.WaterEvent, error)
}

// DeviceSummary is a device type with its activity
type DeviceSummary struct {
	query.DeviceType
	EventCount   int        `json:"event_count"`
	LastActivity *time.Time `json:"last_activity"`
	Status       string     `json:"status"`
}

// Activity is one entry of the recent activity list
type Activity struct {
	DeviceID     string    `json:"device_id"`
	DeviceType   string    `json:"device_type"`
	EventType    string    `json:"event_type"`
	ReceivedAt   time.Time `json:"received_at"`
	VolumeML     int       `json:"volume_ml"`
	SystemStatus string    `json:"system_status"`
}

// Dashboard returns the device types seen in the event store and the most
// recent activity
// GET /, /admin, /dashboard
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	names := query.DeviceTypeNames()
	sort.Strings(names)

	counts, err := h.dashboard.CountByDeviceType(ctx, names)
	if err != nil {
		h.logger.Error("Dashboard error", slog.String("error", err.Error()))
		api.WriteError(w, http.StatusInternalServerError, api.CodeInternalError, "Dashboard error", nil)
		return
	}

	devices := make([]DeviceSummary, 0, len(counts))
	for _, c := range counts {
		dt, _ := query.LookupDeviceType(c.DeviceType)
		status := "inactive"
		if c.LastEvent != nil {
			status = "active"
		}
		devices = append(devices, DeviceSummary{
			DeviceType:   dt,
			EventCount:   c.EventCount,
			LastActivity: c.LastEvent,
			Status:       status,
		})
	}

	recent, err := h.dashboard.List(ctx, repository.EventFilter{Limit: RecentActivityLimit})
	if err != nil {
		h.logger.Error("Dashboard error", slog.String("error", err.Error()))
		api.WriteError(w, http.StatusInternalServerError, api.CodeInternalError, "Dashboard error", nil)
		return
	}

	activity := make([]Activity, 0, len(recent))
	for _, e := range recent {
		activity = append(activity, Activity{
			DeviceID:     e.DeviceID,
			DeviceType:   e.DeviceType,
			EventType:    e.EventType,
			ReceivedAt:   e.ReceivedAt,
			VolumeML:     e.VolumeML,
			SystemStatus: e.SystemStatus,
		})
	}

	h.logger.Info("Dashboard accessed",
		slog.String("client_ip", clientIP(r)),
		slog.Int("device_types", len(devices)),
	)
	api.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"device_types":    devices,
		"recent_activity": activity,
	})
}

// DeviceContext describes one device type for the admin panel
// GET /admin/{device_type}
func (h *Handler) DeviceContext(w http.ResponseWriter, r *http.Request) {
	deviceType := chi.URLParam(r, "device_type")

	dt, ok := query.LookupDeviceType(deviceType)
	if !ok {
		api.WriteError(w, http.StatusNotFound, CodeUnknownDeviceType, "Unknown device type: "+deviceType, nil)
		return
	}

	api.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"device_context": dt,
		"queries":        query.Available(deviceType),
	})
}
