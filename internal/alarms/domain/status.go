package alarms

import (
	"context"
	"time"
)

// Status is the latest alarm state of one device.
type Status struct {
	DevEUI                string
	TemperatureAlarm      bool
	HumidityAlarm         bool
	TemperatureObservedAt time.Time
	HumidityObservedAt    time.Time
	UpdatedAt             time.Time
}

// Alarmed returns the flag for signal.
func (s Status) Alarmed(signal Signal) bool {
	if signal == SignalHumidity {
		return s.HumidityAlarm
	}
	return s.TemperatureAlarm
}

// StatusRepository stores per-device alarm statuses.
type StatusRepository interface {
	List(ctx context.Context) ([]Status, error)
	// UpsertSignal writes one flag unless a newer observation is already
	// stored. It reports whether the write was applied.
	UpsertSignal(ctx context.Context, devEUI string, signal Signal, alarmed bool, observedAt time.Time) (bool, error)
}

// AnyAlarmed reports whether any device has signal set.
func AnyAlarmed(statuses []Status, signal Signal) bool {
	for _, s := range statuses {
		if s.Alarmed(signal) {
			return true
		}
	}
	return false
}
