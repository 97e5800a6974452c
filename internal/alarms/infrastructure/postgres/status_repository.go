package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alarms "climate-guard/internal/alarms/domain"
)

// StatusRepository stores per-device alarm statuses in alarm_statuses.
type StatusRepository struct {
	db *sql.DB
}

// NewStatusRepository constructs a repository.
func NewStatusRepository(db *sql.DB) *StatusRepository {
	return &StatusRepository{db: db}
}

func signalColumns(signal alarms.Signal) (flag, observed string, err error) {
	switch signal {
	case alarms.SignalTemperature:
		return "temperature_alarm", "temperature_observed_at", nil
	case alarms.SignalHumidity:
		return "humidity_alarm", "humidity_observed_at", nil
	default:
		return "", "", alarms.ErrUnknownSignal
	}
}

// UpsertSignal writes one flag unless a newer observation is stored.
func (r *StatusRepository) UpsertSignal(ctx context.Context, devEUI string, signal alarms.Signal, alarmed bool, observedAt time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("alarm status repo: nil db")
	}
	flag, observed, err := signalColumns(signal)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`
INSERT INTO alarm_statuses (dev_eui, %[1]s, %[2]s, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (dev_eui) DO UPDATE SET
	%[1]s = EXCLUDED.%[1]s,
	%[2]s = EXCLUDED.%[2]s,
	updated_at = EXCLUDED.updated_at
WHERE alarm_statuses.%[2]s IS NULL OR alarm_statuses.%[2]s <= EXCLUDED.%[2]s`, flag, observed)

	res, err := r.db.ExecContext(ctx, query, devEUI, alarmed, observedAt.UTC(), time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns every status ordered by device.
func (r *StatusRepository) List(ctx context.Context) ([]alarms.Status, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm status repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT dev_eui, temperature_alarm, humidity_alarm, temperature_observed_at, humidity_observed_at, updated_at
FROM alarm_statuses
ORDER BY dev_eui`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alarms.Status
	for rows.Next() {
		var status alarms.Status
		var tAt, hAt sql.NullTime
		if err := rows.Scan(&status.DevEUI, &status.TemperatureAlarm, &status.HumidityAlarm, &tAt, &hAt, &status.UpdatedAt); err != nil {
			return nil, err
		}
		if tAt.Valid {
			status.TemperatureObservedAt = tAt.Time.UTC()
		}
		if hAt.Valid {
			status.HumidityObservedAt = hAt.Time.UTC()
		}
		status.UpdatedAt = status.UpdatedAt.UTC()
		out = append(out, status)
	}
	return out, rows.Err()
}

// AnyAlarmed answers the fleet aggregate with a single EXISTS query.
func (r *StatusRepository) AnyAlarmed(ctx context.Context, signal alarms.Signal) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("alarm status repo: nil db")
	}
	flag, _, err := signalColumns(signal)
	if err != nil {
		return false, err
	}
	var exists bool
	err = r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM alarm_statuses WHERE %s)`, flag)).Scan(&exists)
	return exists, err
}
