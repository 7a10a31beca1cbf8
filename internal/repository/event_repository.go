package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/welldanyogia/home-iot/internal/metrics"
)

// Event repository limits
const (
	DefaultEventLimit = 100
	MaxEventLimit     = 1000
)

// EventRepository handles water_events database operations
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create stores a device event. ReceivedAt defaults to the current time.
func (r *EventRepository) Create(ctx context.Context, event *WaterEvent) error {
	defer metrics.TimeQuery("event_create")()

	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO water_events (
			id, device_id, device_type, timestamp, unix_time, event_type, volume_ml,
			water_status, system_status, client_ip,
			time_gap_1, time_gap_2, water_trigger_time, pump_duration, pump_attempts,
			gap1_fail_sum, gap2_fail_sum, water_fail_sum, last_reset_timestamp, algorithm_data,
			daily_volume_ml, received_at
		) VALUES (
			:id, :device_id, :device_type, :timestamp, :unix_time, :event_type, :volume_ml,
			:water_status, :system_status, :client_ip,
			:time_gap_1, :time_gap_2, :water_trigger_time, :pump_duration, :pump_attempts,
			:gap1_fail_sum, :gap2_fail_sum, :water_fail_sum, :last_reset_timestamp, :algorithm_data,
			:daily_volume_ml, :received_at
		)
	`

	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	return nil
}

// List returns the most recent events matching the filter, newest first.
// The limit is clamped to MaxEventLimit.
func (r *EventRepository) List(ctx context.Context, filter EventFilter) ([]WaterEvent, error) {
	defer metrics.TimeQuery("event_list")()

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	if limit > MaxEventLimit {
		limit = MaxEventLimit
	}

	query := `SELECT * FROM water_events WHERE 1=1`
	args := []interface{}{}

	if filter.DeviceID != "" {
		query += ` AND device_id = ?`
		args = append(args, filter.DeviceID)
	}
	if filter.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, filter.EventType)
	}

	query += ` ORDER BY received_at DESC LIMIT ?`
	args = append(args, limit)

	events := []WaterEvent{}
	if err := r.db.SelectContext(ctx, &events, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	return events, nil
}

// Stats aggregates totals over all stored events
func (r *EventRepository) Stats(ctx context.Context) (*EventStats, error) {
	defer metrics.TimeQuery("event_stats")()

	stats := &EventStats{EventTypes: map[string]int{}}

	var totals struct {
		Total   int   `db:"total"`
		Devices int   `db:"devices"`
		Volume  int64 `db:"volume"`
	}
	err := r.db.GetContext(ctx, &totals, `
		SELECT COUNT(*) AS total,
		       COUNT(DISTINCT device_id) AS devices,
		       COALESCE(SUM(volume_ml), 0) AS volume
		FROM water_events
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate events: %w", err)
	}
	stats.TotalEvents = totals.Total
	stats.UniqueDevices = totals.Devices
	stats.TotalVolumeML = totals.Volume

	var byType []struct {
		EventType string `db:"event_type"`
		Count     int    `db:"count"`
	}
	err = r.db.SelectContext(ctx, &byType, `
		SELECT event_type, COUNT(*) AS count
		FROM water_events
		GROUP BY event_type
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count event types: %w", err)
	}
	for _, row := range byType {
		stats.EventTypes[row.EventType] = row.Count
	}

	var last time.Time
	err = r.db.GetContext(ctx, &last, `SELECT received_at FROM water_events ORDER BY received_at DESC LIMIT 1`)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to get last event: %w", err)
	default:
		stats.LastEvent = &last
	}

	return stats, nil
}

// CountByDeviceType returns per-device-type event counts for the given types
func (r *EventRepository) CountByDeviceType(ctx context.Context, deviceTypes []string) ([]DeviceTypeCount, error) {
	counts := []DeviceTypeCount{}
	if len(deviceTypes) == 0 {
		return counts, nil
	}

	query, args, err := sqlx.In(`
		SELECT device_type, COUNT(*) AS event_count, MAX(received_at) AS last_event
		FROM water_events
		WHERE device_type IN (?)
		GROUP BY device_type
		ORDER BY event_count DESC
	`, deviceTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to build device type query: %w", err)
	}

	if err := r.db.SelectContext(ctx, &counts, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to count device types: %w", err)
	}

	return counts, nil
}
