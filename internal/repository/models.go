package repository

import (
	"time"

	"github.com/google/uuid"
)

// AdminSession represents an authenticated admin panel session.
// Timestamps are unix seconds.
type AdminSession struct {
	SessionID    string `db:"session_id"`
	ClientIP     string `db:"client_ip"`
	CreatedAt    int64  `db:"created_at"`
	LastActivity int64  `db:"last_activity"`
	UserAgent    string `db:"user_agent"`
}

// FailedLoginAttempt is the per-IP failed login counter used for lockouts.
// Timestamps are unix seconds; LockedUntil is nil while the IP is not locked.
type FailedLoginAttempt struct {
	ClientIP     string `db:"client_ip"`
	AttemptCount int    `db:"attempt_count"`
	LastAttempt  int64  `db:"last_attempt"`
	LockedUntil  *int64 `db:"locked_until"`
}

// WaterEvent represents a telemetry event reported by a device
type WaterEvent struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	DeviceID           string    `db:"device_id" json:"device_id"`
	DeviceType         string    `db:"device_type" json:"device_type"`
	Timestamp          string    `db:"timestamp" json:"timestamp"`
	UnixTime           int64     `db:"unix_time" json:"unix_time"`
	EventType          string    `db:"event_type" json:"event_type"`
	VolumeML           int       `db:"volume_ml" json:"volume_ml"`
	WaterStatus        string    `db:"water_status" json:"water_status"`
	SystemStatus       string    `db:"system_status" json:"system_status"`
	ClientIP           *string   `db:"client_ip" json:"client_ip,omitempty"`
	TimeGap1           *int      `db:"time_gap_1" json:"time_gap_1,omitempty"`
	TimeGap2           *int      `db:"time_gap_2" json:"time_gap_2,omitempty"`
	WaterTriggerTime   *int      `db:"water_trigger_time" json:"water_trigger_time,omitempty"`
	PumpDuration       *int      `db:"pump_duration" json:"pump_duration,omitempty"`
	PumpAttempts       *int      `db:"pump_attempts" json:"pump_attempts,omitempty"`
	Gap1FailSum        *int      `db:"gap1_fail_sum" json:"gap1_fail_sum,omitempty"`
	Gap2FailSum        *int      `db:"gap2_fail_sum" json:"gap2_fail_sum,omitempty"`
	WaterFailSum       *int      `db:"water_fail_sum" json:"water_fail_sum,omitempty"`
	LastResetTimestamp *int64    `db:"last_reset_timestamp" json:"last_reset_timestamp,omitempty"`
	AlgorithmData      *string   `db:"algorithm_data" json:"algorithm_data,omitempty"`
	DailyVolumeML      *int      `db:"daily_volume_ml" json:"daily_volume_ml,omitempty"`
	ReceivedAt         time.Time `db:"received_at" json:"received_at"`
}

// EventFilter holds optional filters for listing events
type EventFilter struct {
	DeviceID  string
	EventType string
	Limit     int
}

// EventStats is the aggregate summary of stored events
type EventStats struct {
	TotalEvents   int            `json:"total_events"`
	UniqueDevices int            `json:"unique_devices"`
	TotalVolumeML int64          `json:"total_volume_ml"`
	EventTypes    map[string]int `json:"event_types"`
	LastEvent     *time.Time     `json:"last_event"`
}

// DeviceTypeCount is the number of stored events per device type
type DeviceTypeCount struct {
	DeviceType string     `db:"device_type" json:"device_type"`
	EventCount int        `db:"event_count" json:"event_count"`
	LastEvent  *time.Time `db:"last_event" json:"last_event"`
}
