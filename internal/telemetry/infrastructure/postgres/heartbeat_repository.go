package postgres

import (
	"context"
	"database/sql"
	"errors"

	telemetry "climate-guard/internal/telemetry/domain"
)

// HeartbeatRepository stores liveness pings.
type HeartbeatRepository struct {
	db *sql.DB
}

// NewHeartbeatRepository constructs a repository.
func NewHeartbeatRepository(db *sql.DB) *HeartbeatRepository {
	return &HeartbeatRepository{db: db}
}

// Append inserts a heartbeat.
func (r *HeartbeatRepository) Append(ctx context.Context, hb telemetry.Heartbeat) error {
	if r == nil || r.db == nil {
		return errors.New("heartbeat repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO heartbeats (dev_eui, device_name, observed_at)
VALUES ($1, $2, $3)
ON CONFLICT (dev_eui, observed_at) DO NOTHING`, hb.DevEUI, hb.DeviceName, hb.ObservedAt.UTC())
	return err
}

// LatestByDevice returns the newest heartbeat per device.
func (r *HeartbeatRepository) LatestByDevice(ctx context.Context) ([]telemetry.DeviceActivity, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("heartbeat repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT ON (dev_eui) dev_eui, device_name, observed_at
FROM heartbeats
ORDER BY dev_eui, observed_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []telemetry.DeviceActivity
	for rows.Next() {
		var a telemetry.DeviceActivity
		if err := rows.Scan(&a.DevEUI, &a.DeviceName, &a.LastSeen); err != nil {
			return nil, err
		}
		a.LastSeen = a.LastSeen.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}
