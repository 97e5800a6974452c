package influx

import (
	"context"
	"errors"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	telemetry "climate-guard/internal/telemetry/domain"
)

const measurement = "climate_reading"

// ReadingMirror copies readings into an InfluxDB bucket for dashboards.
type ReadingMirror struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

// NewReadingMirror constructs a mirror writing to org/bucket.
func NewReadingMirror(url, token, org, bucket string) (*ReadingMirror, error) {
	if url == "" || org == "" || bucket == "" {
		return nil, errors.New("influx mirror: url, org and bucket required")
	}
	client := influxdb2.NewClient(url, token)
	return &ReadingMirror{client: client, write: client.WriteAPIBlocking(org, bucket)}, nil
}

// Mirror writes one point tagged by device.
func (m *ReadingMirror) Mirror(ctx context.Context, reading telemetry.Reading) error {
	if m == nil || m.write == nil {
		return errors.New("influx mirror: not configured")
	}
	point := influxdb2.NewPoint(
		measurement,
		map[string]string{"dev_eui": reading.DevEUI, "device_name": reading.DeviceName},
		map[string]interface{}{"temperature": reading.Temperature, "humidity": reading.Humidity},
		reading.ObservedAt,
	)
	if err := m.write.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("influx mirror: %w", err)
	}
	return nil
}

// Close releases the client.
func (m *ReadingMirror) Close() {
	if m != nil && m.client != nil {
		m.client.Close()
	}
}
