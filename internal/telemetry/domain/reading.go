package telemetry

import (
	"context"
	"time"
)

// Reading is a calibrated temperature/humidity sample from one device.
type Reading struct {
	DeviceName  string
	DevEUI      string
	Temperature float64
	Humidity    float64
	ObservedAt  time.Time
}

// Heartbeat is a liveness ping carrying no measurement.
type Heartbeat struct {
	DeviceName string
	DevEUI     string
	ObservedAt time.Time
}

// Calibration is an additive per-device correction.
type Calibration struct {
	DevEUI            string
	TemperatureOffset float64
	HumidityOffset    float64
	UpdatedAt         time.Time
}

// DeviceActivity is the last time a device was heard from.
type DeviceActivity struct {
	DevEUI     string
	DeviceName string
	LastSeen   time.Time
}

// ReadingRepository persists readings. Append is idempotent per (DevEUI, ObservedAt).
type ReadingRepository interface {
	Append(ctx context.Context, reading Reading) error
	Range(ctx context.Context, devEUIs []string, from, to time.Time) ([]Reading, error)
	Latest(ctx context.Context) ([]Reading, error)
}

// HeartbeatRepository persists heartbeats.
type HeartbeatRepository interface {
	Append(ctx context.Context, heartbeat Heartbeat) error
	LatestByDevice(ctx context.Context) ([]DeviceActivity, error)
}

// CalibrationRepository stores calibrations. Get returns nil, nil when absent.
type CalibrationRepository interface {
	Get(ctx context.Context, devEUI string) (*Calibration, error)
	Upsert(ctx context.Context, calibration Calibration) error
	List(ctx context.Context) ([]Calibration, error)
}
