package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	alarms "climate-guard/internal/alarms/domain"
)

// BuzzerRepository is an in-memory fleet buzzer singleton.
type BuzzerRepository struct {
	mu    sync.Mutex
	state alarms.FleetBuzzerState
}

// NewBuzzerRepository returns both signals inactive at version 0.
func NewBuzzerRepository() *BuzzerRepository {
	return &BuzzerRepository{state: alarms.FleetBuzzerState{
		Temperature: alarms.SignalState{Signal: alarms.SignalTemperature, State: alarms.BuzzerInactive},
		Humidity:    alarms.SignalState{Signal: alarms.SignalHumidity, State: alarms.BuzzerInactive},
	}}
}

// Get returns a copy of the singleton.
func (r *BuzzerRepository) Get(_ context.Context) (alarms.FleetBuzzerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, nil
}

// CompareAndSet moves the signal record to next when state and version match.
func (r *BuzzerRepository) CompareAndSet(_ context.Context, expected alarms.SignalState, next alarms.BuzzerState, at time.Time) (bool, error) {
	if !next.Valid() {
		return false, fmt.Errorf("buzzer repo: invalid state %q", next)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var slot *alarms.SignalState
	switch expected.Signal {
	case alarms.SignalTemperature:
		slot = &r.state.Temperature
	case alarms.SignalHumidity:
		slot = &r.state.Humidity
	default:
		return false, alarms.ErrUnknownSignal
	}
	if slot.State != expected.State || slot.Version != expected.Version {
		return false, nil
	}
	slot.State = next
	slot.Version++
	slot.UpdatedAt = at
	return true, nil
}
