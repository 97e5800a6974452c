package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	telemetry "climate-guard/internal/telemetry/domain"
)

type readingKey struct {
	devEUI string
	at     int64
}

// ReadingRepository is an in-memory reading store.
type ReadingRepository struct {
	mu       sync.Mutex
	seen     map[readingKey]struct{}
	readings []telemetry.Reading
}

// NewReadingRepository constructs an empty store.
func NewReadingRepository() *ReadingRepository {
	return &ReadingRepository{seen: make(map[readingKey]struct{})}
}

// Append stores reading once per device and observation time.
func (r *ReadingRepository) Append(_ context.Context, reading telemetry.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := readingKey{devEUI: reading.DevEUI, at: reading.ObservedAt.UnixNano()}
	if _, ok := r.seen[key]; ok {
		return nil
	}
	r.seen[key] = struct{}{}
	r.readings = append(r.readings, reading)
	return nil
}

// Range returns readings for devEUIs in [from, to) ordered by time. An empty
// device list matches every device.
func (r *ReadingRepository) Range(_ context.Context, devEUIs []string, from, to time.Time) ([]telemetry.Reading, error) {
	wanted := make(map[string]bool, len(devEUIs))
	for _, id := range devEUIs {
		wanted[id] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []telemetry.Reading
	for _, reading := range r.readings {
		if len(wanted) > 0 && !wanted[reading.DevEUI] {
			continue
		}
		if reading.ObservedAt.Before(from) || !reading.ObservedAt.Before(to) {
			continue
		}
		out = append(out, reading)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out, nil
}

// Latest returns the newest reading per device ordered by device.
func (r *ReadingRepository) Latest(_ context.Context) ([]telemetry.Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest := make(map[string]telemetry.Reading)
	for _, reading := range r.readings {
		if cur, ok := latest[reading.DevEUI]; !ok || reading.ObservedAt.After(cur.ObservedAt) {
			latest[reading.DevEUI] = reading
		}
	}
	out := make([]telemetry.Reading, 0, len(latest))
	for _, reading := range latest {
		out = append(out, reading)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DevEUI < out[j].DevEUI })
	return out, nil
}

// Count returns the number of stored readings.
func (r *ReadingRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.readings)
}

// HeartbeatRepository is an in-memory heartbeat store.
type HeartbeatRepository struct {
	mu         sync.Mutex
	heartbeats []telemetry.Heartbeat
}

// NewHeartbeatRepository constructs an empty store.
func NewHeartbeatRepository() *HeartbeatRepository {
	return &HeartbeatRepository{}
}

// Append stores a heartbeat.
func (r *HeartbeatRepository) Append(_ context.Context, hb telemetry.Heartbeat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats = append(r.heartbeats, hb)
	return nil
}

// LatestByDevice returns the newest heartbeat per device.
func (r *HeartbeatRepository) LatestByDevice(_ context.Context) ([]telemetry.DeviceActivity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest := make(map[string]telemetry.DeviceActivity)
	for _, hb := range r.heartbeats {
		if cur, ok := latest[hb.DevEUI]; !ok || hb.ObservedAt.After(cur.LastSeen) {
			latest[hb.DevEUI] = telemetry.DeviceActivity{DevEUI: hb.DevEUI, DeviceName: hb.DeviceName, LastSeen: hb.ObservedAt}
		}
	}
	out := make([]telemetry.DeviceActivity, 0, len(latest))
	for _, a := range latest {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DevEUI < out[j].DevEUI })
	return out, nil
}

// Count returns the number of stored heartbeats.
func (r *HeartbeatRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.heartbeats)
}

// CalibrationRepository is an in-memory calibration store.
type CalibrationRepository struct {
	mu           sync.RWMutex
	calibrations map[string]telemetry.Calibration
}

// NewCalibrationRepository constructs a store seeded with calibrations.
func NewCalibrationRepository(seed ...telemetry.Calibration) *CalibrationRepository {
	r := &CalibrationRepository{calibrations: make(map[string]telemetry.Calibration, len(seed))}
	for _, c := range seed {
		r.calibrations[c.DevEUI] = c
	}
	return r
}

// Get returns the calibration for devEUI or nil.
func (r *CalibrationRepository) Get(_ context.Context, devEUI string) (*telemetry.Calibration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calibrations[devEUI]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// Upsert stores c.
func (r *CalibrationRepository) Upsert(_ context.Context, c telemetry.Calibration) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calibrations[c.DevEUI] = c
	return nil
}

// List returns every calibration ordered by device.
func (r *CalibrationRepository) List(_ context.Context) ([]telemetry.Calibration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]telemetry.Calibration, 0, len(r.calibrations))
	for _, c := range r.calibrations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DevEUI < out[j].DevEUI })
	return out, nil
}
