package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	alarms "climate-guard/internal/alarms/domain"
)

// StatusRepository is an in-memory alarm status store.
type StatusRepository struct {
	mu       sync.Mutex
	statuses map[string]alarms.Status
}

// NewStatusRepository constructs an empty store.
func NewStatusRepository() *StatusRepository {
	return &StatusRepository{statuses: make(map[string]alarms.Status)}
}

// UpsertSignal writes one flag unless a newer observation is stored.
func (r *StatusRepository) UpsertSignal(_ context.Context, devEUI string, signal alarms.Signal, alarmed bool, observedAt time.Time) (bool, error) {
	if !signal.Valid() {
		return false, alarms.ErrUnknownSignal
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	status := r.statuses[devEUI]
	status.DevEUI = devEUI
	switch signal {
	case alarms.SignalTemperature:
		if !status.TemperatureObservedAt.IsZero() && observedAt.Before(status.TemperatureObservedAt) {
			return false, nil
		}
		status.TemperatureAlarm = alarmed
		status.TemperatureObservedAt = observedAt
	case alarms.SignalHumidity:
		if !status.HumidityObservedAt.IsZero() && observedAt.Before(status.HumidityObservedAt) {
			return false, nil
		}
		status.HumidityAlarm = alarmed
		status.HumidityObservedAt = observedAt
	}
	status.UpdatedAt = time.Now().UTC()
	r.statuses[devEUI] = status
	return true, nil
}

// List returns every status ordered by device.
func (r *StatusRepository) List(_ context.Context) ([]alarms.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]alarms.Status, 0, len(r.statuses))
	for _, status := range r.statuses {
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DevEUI < out[j].DevEUI })
	return out, nil
}
