package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	telemetry "climate-guard/internal/telemetry/domain"
)

const defaultReadingsTable = "readings"

// ReadingRepository is a Postgres implementation for readings.
type ReadingRepository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*ReadingRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *ReadingRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewReadingRepository constructs a repository with default table name.
func NewReadingRepository(db *sql.DB, opts ...RepositoryOption) *ReadingRepository {
	repo := &ReadingRepository{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Append inserts reading. A second reading for the same device and
// observation time is ignored.
func (r *ReadingRepository) Append(ctx context.Context, reading telemetry.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if reading.DevEUI == "" || reading.ObservedAt.IsZero() {
		return errors.New("reading repo: invalid reading")
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (dev_eui, device_name, temperature, humidity, observed_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (dev_eui, observed_at) DO NOTHING`, r.table),
		reading.DevEUI, reading.DeviceName, reading.Temperature, reading.Humidity, reading.ObservedAt.UTC())
	return err
}

// Range returns readings for devEUIs within [from, to) ordered by time. An
// empty device list matches every device.
func (r *ReadingRepository) Range(ctx context.Context, devEUIs []string, from, to time.Time) ([]telemetry.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if from.IsZero() || to.IsZero() {
		return nil, errors.New("reading repo: invalid range")
	}
	query := fmt.Sprintf(`
SELECT dev_eui, device_name, temperature, humidity, observed_at
FROM %s
WHERE observed_at >= $1
	AND observed_at < $2
	AND (cardinality($3::text[]) = 0 OR dev_eui = ANY($3))
ORDER BY observed_at ASC, dev_eui ASC`, r.table)
	if devEUIs == nil {
		devEUIs = []string{}
	}
	rows, err := r.db.QueryContext(ctx, query, from.UTC(), to.UTC(), devEUIs)
	if err != nil {
		return nil, err
	}
	return scanReadings(rows)
}

// Latest returns the newest reading per device.
func (r *ReadingRepository) Latest(ctx context.Context) ([]telemetry.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT DISTINCT ON (dev_eui) dev_eui, device_name, temperature, humidity, observed_at
FROM %s
ORDER BY dev_eui, observed_at DESC`, r.table))
	if err != nil {
		return nil, err
	}
	return scanReadings(rows)
}

func scanReadings(rows *sql.Rows) ([]telemetry.Reading, error) {
	defer rows.Close()
	var out []telemetry.Reading
	for rows.Next() {
		var reading telemetry.Reading
		if err := rows.Scan(&reading.DevEUI, &reading.DeviceName, &reading.Temperature, &reading.Humidity, &reading.ObservedAt); err != nil {
			return nil, err
		}
		reading.ObservedAt = reading.ObservedAt.UTC()
		out = append(out, reading)
	}
	return out, rows.Err()
}
