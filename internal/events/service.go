package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/welldanyogia/home-iot/internal/metrics"
	"github.com/welldanyogia/home-iot/internal/query"
	"github.com/welldanyogia/home-iot/internal/repository"
	"github.com/welldanyogia/home-iot/internal/sanitizer"
)

// timestampLayout is the format of timestamps derived from unix_time
const timestampLayout = "2006-01-02T15:04:05Z"

// Store persists and reads device events
type Store interface {
	Create(ctx context.Context, event *repository.WaterEvent) error
	List(ctx context.Context, filter repository.EventFilter) ([]repository.WaterEvent, error)
	Stats(ctx context.Context) (*repository.EventStats, error)
}

// Service validates and stores device events
type Service struct {
	store     Store
	validator *Validator
	sanitizer sanitizer.Sanitizer
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a new event Service
func NewService(store Store, validator *Validator, sanitizer sanitizer.Sanitizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		validator: validator,
		sanitizer: sanitizer,
		logger:    logger,
		now:       time.Now,
	}
}

// Ingest validates p and stores it as an event received from clientIP.
// Validation failures are returned as *ValidationError.
func (s *Service) Ingest(ctx context.Context, p *Payload, clientIP string) (*repository.WaterEvent, error) {
	if err := s.validator.Validate(p); err != nil {
		metrics.EventsRejected.Inc()
		s.logger.Warn("Invalid event data",
			slog.String("device_id", p.DeviceID),
			slog.String("client_ip", clientIP),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if p.Timestamp != nil {
		s.logger.Warn("Deprecated timestamp field received", slog.String("device_id", p.DeviceID))
	}

	event := s.buildEvent(p, clientIP)
	if err := s.store.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to store event: %w", err)
	}

	metrics.EventsReceived.WithLabelValues(event.EventType).Inc()
	s.logger.Info("Event saved",
		slog.String("device_id", event.DeviceID),
		slog.String("device_type", event.DeviceType),
		slog.String("event_type", event.EventType),
		slog.String("event_id", event.ID.String()),
	)
	return event, nil
}

func (s *Service) buildEvent(p *Payload, clientIP string) *repository.WaterEvent {
	timestamp := time.Unix(*p.UnixTime, 0).UTC().Format(timestampLayout)
	if p.Timestamp != nil && *p.Timestamp != "" {
		timestamp = s.sanitizer.Sanitize(*p.Timestamp)
	}

	var algorithmData *string
	if p.AlgorithmData != nil {
		clean := s.sanitizer.Sanitize(*p.AlgorithmData)
		algorithmData = &clean
	}

	var ip *string
	if clientIP != "" {
		ip = &clientIP
	}

	return &repository.WaterEvent{
		ID:                 uuid.New(),
		DeviceID:           p.DeviceID,
		DeviceType:         query.DefaultDeviceType,
		Timestamp:          timestamp,
		UnixTime:           *p.UnixTime,
		EventType:          p.EventType,
		VolumeML:           *p.VolumeML,
		WaterStatus:        p.WaterStatus,
		SystemStatus:       s.sanitizer.Sanitize(p.SystemStatus),
		ClientIP:           ip,
		TimeGap1:           p.TimeGap1,
		TimeGap2:           p.TimeGap2,
		WaterTriggerTime:   p.WaterTriggerTime,
		PumpDuration:       p.PumpDuration,
		PumpAttempts:       p.PumpAttempts,
		Gap1FailSum:        p.Gap1FailSum,
		Gap2FailSum:        p.Gap2FailSum,
		WaterFailSum:       p.WaterFailSum,
		LastResetTimestamp: p.LastResetTimestamp,
		AlgorithmData:      algorithmData,
		DailyVolumeML:      p.DailyVolumeML,
		ReceivedAt:         s.now().UTC(),
	}
}

// List returns stored events, newest first
func (s *Service) List(ctx context.Context, filter repository.EventFilter) ([]repository.WaterEvent, error) {
	return s.store.List(ctx, filter)
}

// Stats returns aggregate event statistics
func (s *Service) Stats(ctx context.Context) (*repository.EventStats, error) {
	return s.store.Stats(ctx)
}
