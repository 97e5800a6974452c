package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alarms "climate-guard/internal/alarms/domain"
)

// BuzzerRepository stores the fleet buzzer singleton, one row per signal.
// Rows are seeded by the migration.
type BuzzerRepository struct {
	db *sql.DB
}

// NewBuzzerRepository constructs a repository.
func NewBuzzerRepository(db *sql.DB) *BuzzerRepository {
	return &BuzzerRepository{db: db}
}

// Get loads both signal records.
func (r *BuzzerRepository) Get(ctx context.Context) (alarms.FleetBuzzerState, error) {
	if r == nil || r.db == nil {
		return alarms.FleetBuzzerState{}, errors.New("buzzer repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `SELECT signal, state, version, updated_at FROM buzzer_states`)
	if err != nil {
		return alarms.FleetBuzzerState{}, err
	}
	defer rows.Close()

	var fleet alarms.FleetBuzzerState
	seen := 0
	for rows.Next() {
		var st alarms.SignalState
		var signal, state string
		if err := rows.Scan(&signal, &state, &st.Version, &st.UpdatedAt); err != nil {
			return alarms.FleetBuzzerState{}, err
		}
		st.Signal = alarms.Signal(signal)
		st.State = alarms.BuzzerState(state)
		st.UpdatedAt = st.UpdatedAt.UTC()
		if !st.State.Valid() {
			return alarms.FleetBuzzerState{}, fmt.Errorf("buzzer repo: invalid state %q for %s", state, signal)
		}
		switch st.Signal {
		case alarms.SignalTemperature:
			fleet.Temperature = st
		case alarms.SignalHumidity:
			fleet.Humidity = st
		default:
			continue
		}
		seen++
	}
	if err := rows.Err(); err != nil {
		return alarms.FleetBuzzerState{}, err
	}
	if seen != len(alarms.Signals) {
		return alarms.FleetBuzzerState{}, fmt.Errorf("buzzer repo: %w: expected %d rows, got %d", alarms.ErrNotFound, len(alarms.Signals), seen)
	}
	return fleet, nil
}

// CompareAndSet moves the signal record to next when state and version match.
func (r *BuzzerRepository) CompareAndSet(ctx context.Context, expected alarms.SignalState, next alarms.BuzzerState, at time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("buzzer repo: nil db")
	}
	if !next.Valid() {
		return false, fmt.Errorf("buzzer repo: invalid state %q", next)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE buzzer_states
SET state = $1, version = version + 1, updated_at = $2
WHERE signal = $3 AND state = $4 AND version = $5`,
		string(next), at.UTC(), string(expected.Signal), string(expected.State), expected.Version)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
