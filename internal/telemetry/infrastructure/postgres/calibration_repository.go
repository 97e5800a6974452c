package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	telemetry "climate-guard/internal/telemetry/domain"
)

// CalibrationRepository stores per-device offsets.
type CalibrationRepository struct {
	db *sql.DB
}

// NewCalibrationRepository constructs a repository.
func NewCalibrationRepository(db *sql.DB) *CalibrationRepository {
	return &CalibrationRepository{db: db}
}

// Get returns the calibration for devEUI, or nil when none exists.
func (r *CalibrationRepository) Get(ctx context.Context, devEUI string) (*telemetry.Calibration, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("calibration repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT dev_eui, temperature_offset, humidity_offset, updated_at
FROM calibrations
WHERE dev_eui = $1`, devEUI)
	var c telemetry.Calibration
	if err := row.Scan(&c.DevEUI, &c.TemperatureOffset, &c.HumidityOffset, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

// Upsert inserts or replaces the offsets for a device.
func (r *CalibrationRepository) Upsert(ctx context.Context, c telemetry.Calibration) error {
	if r == nil || r.db == nil {
		return errors.New("calibration repo: nil db")
	}
	if c.DevEUI == "" {
		return errors.New("calibration repo: empty dev eui")
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO calibrations (dev_eui, temperature_offset, humidity_offset, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (dev_eui) DO UPDATE SET
	temperature_offset = EXCLUDED.temperature_offset,
	humidity_offset = EXCLUDED.humidity_offset,
	updated_at = EXCLUDED.updated_at`,
		c.DevEUI, c.TemperatureOffset, c.HumidityOffset, c.UpdatedAt)
	return err
}

// List returns every calibration ordered by device.
func (r *CalibrationRepository) List(ctx context.Context) ([]telemetry.Calibration, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("calibration repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT dev_eui, temperature_offset, humidity_offset, updated_at
FROM calibrations
ORDER BY dev_eui`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []telemetry.Calibration
	for rows.Next() {
		var c telemetry.Calibration
		if err := rows.Scan(&c.DevEUI, &c.TemperatureOffset, &c.HumidityOffset, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.UpdatedAt = c.UpdatedAt.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}
