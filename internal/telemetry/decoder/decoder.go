// Package decoder turns raw sensor payloads into calibrated readings.
package decoder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	telemetry "climate-guard/internal/telemetry/domain"
)

// Format identifies a payload encoding by its leading marker byte.
type Format int

const (
	FormatUnknown Format = iota
	// FormatCentiTemp carries temperature in hundredths and humidity in tenths.
	FormatCentiTemp
	// FormatDeciTemp carries temperature and humidity in tenths.
	FormatDeciTemp
	// FormatHeartbeat carries no measurement.
	FormatHeartbeat
)

// Marker bytes.
const (
	MarkerCentiTemp byte = 0xCB
	MarkerDeciTempA byte = 0x0C
	MarkerDeciTempB byte = 0x0D
	MarkerHeartbeat byte = 0xFA
)

// Field offsets within a payload.
const (
	temperatureOffset = 7
	centiHumidityAt   = 4
	deciHumidityAt    = 9
)

func (f Format) String() string {
	switch f {
	case FormatCentiTemp:
		return "centi_temp"
	case FormatDeciTemp:
		return "deci_temp"
	case FormatHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// FormatOf maps a marker byte to its format.
func FormatOf(marker byte) Format {
	switch marker {
	case MarkerCentiTemp:
		return FormatCentiTemp
	case MarkerDeciTempA, MarkerDeciTempB:
		return FormatDeciTemp
	case MarkerHeartbeat:
		return FormatHeartbeat
	default:
		return FormatUnknown
	}
}

// CalibrationSource looks up calibrations. A nil calibration means none exists.
type CalibrationSource interface {
	Get(ctx context.Context, devEUI string) (*telemetry.Calibration, error)
}

// Result is a decoded payload. Heartbeat results carry no measurement.
type Result struct {
	Format      Format
	Heartbeat   bool
	Temperature float64
	Humidity    float64
}

// Decoder decodes payloads using per-device calibration.
type Decoder struct {
	calibrations CalibrationSource
}

// New constructs a decoder.
func New(calibrations CalibrationSource) (*Decoder, error) {
	if calibrations == nil {
		return nil, errors.New("decoder: nil calibration source")
	}
	return &Decoder{calibrations: calibrations}, nil
}

// Decode selects the variant from payload[0] and returns a calibrated result.
func (d *Decoder) Decode(ctx context.Context, devEUI string, payload []byte) (Result, error) {
	if len(payload) == 0 {
		return Result{}, fmt.Errorf("%w: empty payload", telemetry.ErrMalformedPayload)
	}
	format := FormatOf(payload[0])
	switch format {
	case FormatUnknown:
		return Result{}, fmt.Errorf("%w: marker 0x%02x", telemetry.ErrUnsupportedFormat, payload[0])
	case FormatHeartbeat:
		return Result{Format: format, Heartbeat: true}, nil
	}

	cal, err := d.calibrations.Get(ctx, devEUI)
	if err != nil {
		return Result{}, fmt.Errorf("decoder: calibration lookup: %w", err)
	}
	if cal == nil {
		return Result{}, fmt.Errorf("%w: %s", telemetry.ErrMissingCalibration, devEUI)
	}

	var rawTemp, rawHum uint64
	var tempDiv float64
	switch format {
	case FormatCentiTemp:
		if len(payload) < temperatureOffset+2 {
			return Result{}, fmt.Errorf("%w: %s needs %d bytes, got %d", telemetry.ErrMalformedPayload, format, temperatureOffset+2, len(payload))
		}
		rawTemp = uint64(binary.BigEndian.Uint16(payload[temperatureOffset:]))
		rawHum = uint64(binary.BigEndian.Uint16(payload[centiHumidityAt:]))
		tempDiv = 100
	case FormatDeciTemp:
		trailing := payload[min(deciHumidityAt, len(payload)):]
		if len(payload) <= deciHumidityAt || len(trailing) > 8 {
			return Result{}, fmt.Errorf("%w: %s with %d bytes", telemetry.ErrMalformedPayload, format, len(payload))
		}
		rawTemp = uint64(binary.BigEndian.Uint16(payload[temperatureOffset:]))
		rawHum = beUint(trailing)
		tempDiv = 10
	}

	return Result{
		Format:      format,
		Temperature: float64(rawTemp)/tempDiv + cal.TemperatureOffset,
		Humidity:    float64(rawHum)/10 + cal.HumidityOffset,
	}, nil
}

// beUint reads a big-endian unsigned integer of up to 8 bytes.
func beUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
