// Package events receives telemetry events from devices, validates and
// stores them, and serves event history and statistics back to devices.
package events

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Event types reported by devices
const (
	EventAutoPump          = "AUTO_PUMP"
	EventManualNormal      = "MANUAL_NORMAL"
	EventManualExtended    = "MANUAL_EXTENDED"
	EventAutoCycleComplete = "AUTO_CYCLE_COMPLETE"
	EventStatisticsReset   = "STATISTICS_RESET"
)

// ErrInvalidPayload wraps every payload validation failure
var ErrInvalidPayload = errors.New("invalid event payload")

// ValidationError carries the message returned to the device
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidPayload
}

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// AlgorithmFields are the measurements reported with AUTO_CYCLE_COMPLETE
type AlgorithmFields struct {
	TimeGap1         *int `json:"time_gap_1" validate:"omitempty,min=0"`
	TimeGap2         *int `json:"time_gap_2" validate:"omitempty,min=0"`
	WaterTriggerTime *int `json:"water_trigger_time" validate:"omitempty,min=0"`
	PumpDuration     *int `json:"pump_duration" validate:"omitempty,min=0"`
	PumpAttempts     *int `json:"pump_attempts" validate:"omitempty,min=1,max=10"`
	Gap1FailSum      *int `json:"gap1_fail_sum" validate:"omitempty,min=0,max=65535"`
	Gap2FailSum      *int `json:"gap2_fail_sum" validate:"omitempty,min=0,max=65535"`
	WaterFailSum     *int `json:"water_fail_sum" validate:"omitempty,min=0,max=65535"`
}

// Payload is the JSON body posted by a device. Timestamp is optional and
// derived from UnixTime when absent.
type Payload struct {
	DeviceID     string  `json:"device_id" validate:"required"`
	Timestamp    *string `json:"timestamp"`
	UnixTime     *int64  `json:"unix_time" validate:"required"`
	EventType    string  `json:"event_type" validate:"required,oneof=AUTO_PUMP MANUAL_NORMAL MANUAL_EXTENDED AUTO_CYCLE_COMPLETE STATISTICS_RESET"`
	VolumeML     *int    `json:"volume_ml" validate:"required"`
	WaterStatus  string  `json:"water_status" validate:"required,oneof=OK LOW PARTIAL CHECKING NORMAL BOTH_LOW SENSOR1_LOW SENSOR2_LOW"`
	SystemStatus string  `json:"system_status" validate:"required"`

	AlgorithmFields `validate:"-"`

	LastResetTimestamp *int64  `json:"last_reset_timestamp"`
	AlgorithmData      *string `json:"algorithm_data"`
	DailyVolumeML      *int    `json:"daily_volume_ml"`
}

// Validator checks payloads against the field rules and the set of known
// device IDs
type Validator struct {
	validate  *validator.Validate
	deviceIDs map[string]struct{}
}

// NewValidator creates a Validator accepting the given device IDs
func NewValidator(deviceIDs []string) *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	ids := make(map[string]struct{}, len(deviceIDs))
	for _, id := range deviceIDs {
		ids[id] = struct{}{}
	}
	return &Validator{validate: v, deviceIDs: ids}
}

// Validate returns a *ValidationError describing the first problem found
func (v *Validator) Validate(p *Payload) error {
	if err := v.validate.Struct(p); err != nil {
		return fieldError(err)
	}

	if _, ok := v.deviceIDs[p.DeviceID]; !ok {
		return invalid("Invalid device_id: %s", p.DeviceID)
	}

	if p.EventType == EventAutoCycleComplete {
		if err := v.validate.Struct(&p.AlgorithmFields); err != nil {
			return fieldError(err)
		}
	}

	return nil
}

// fieldError converts the first validator failure into a device-facing message
func fieldError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return invalid("Invalid payload: %v", err)
	}

	fe := errs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return invalid("Missing required field: %s", field)
	case "oneof":
		return invalid("Invalid %s: %v", field, fe.Value())
	case "min", "max":
		switch field {
		case "pump_attempts":
			return invalid("%s must be between 1-10", field)
		case "gap1_fail_sum", "gap2_fail_sum", "water_fail_sum":
			return invalid("%s must be 0-65535", field)
		default:
			return invalid("%s must be >= 0", field)
		}
	}
	return invalid("Invalid %s", field)
}
