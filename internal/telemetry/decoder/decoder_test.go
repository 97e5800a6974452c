package decoder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	telemetry "climate-guard/internal/telemetry/domain"
)

type stubCalibrations map[string]telemetry.Calibration

func (s stubCalibrations) Get(_ context.Context, devEUI string) (*telemetry.Calibration, error) {
	cal, ok := s[devEUI]
	if !ok {
		return nil, nil
	}
	return &cal, nil
}

type failingCalibrations struct{}

func (failingCalibrations) Get(context.Context, string) (*telemetry.Calibration, error) {
	return nil, errors.New("store unavailable")
}

const devEUI = "a84041000181c2f1"

func newDecoder(t *testing.T, cal telemetry.Calibration) *Decoder {
	t.Helper()
	cal.DevEUI = devEUI
	d, err := New(stubCalibrations{devEUI: cal})
	require.NoError(t, err)
	return d
}

func TestDecode_CentiTemp(t *testing.T) {
	d := newDecoder(t, telemetry.Calibration{})
	// humidity 0x01f4 (500) at 4, temperature 0x0834 (2100) at 7
	payload := []byte{0xcb, 0x0b, 0xb8, 0x00, 0x01, 0xf4, 0x01, 0x08, 0x34, 0x7f, 0xff}

	res, err := d.Decode(context.Background(), devEUI, payload)
	require.NoError(t, err)
	assert.Equal(t, FormatCentiTemp, res.Format)
	assert.False(t, res.Heartbeat)
	assert.InDelta(t, 21.00, res.Temperature, 1e-9)
	assert.InDelta(t, 50.0, res.Humidity, 1e-9)
}

func TestDecode_CentiTempAppliesOffsets(t *testing.T) {
	d := newDecoder(t, telemetry.Calibration{TemperatureOffset: -1.5, HumidityOffset: 2.25})
	payload := []byte{0xcb, 0x00, 0x00, 0x00, 0x02, 0x26, 0x00, 0x09, 0xc4}

	res, err := d.Decode(context.Background(), devEUI, payload)
	require.NoError(t, err)
	assert.InDelta(t, 23.5, res.Temperature, 1e-9) // 2500/100 - 1.5
	assert.InDelta(t, 57.25, res.Humidity, 1e-9)   // 550/10 + 2.25
}

func TestDecode_DeciTempBothMarkers(t *testing.T) {
	d := newDecoder(t, telemetry.Calibration{TemperatureOffset: 0.5})
	for _, marker := range []byte{MarkerDeciTempA, MarkerDeciTempB} {
		// temperature 0x00d2 (210) at 7, trailing humidity 0x01c2 (450) at 9
		payload := []byte{marker, 0, 0, 0, 0, 0, 0, 0x00, 0xd2, 0x01, 0xc2}

		res, err := d.Decode(context.Background(), devEUI, payload)
		require.NoError(t, err)
		assert.Equal(t, FormatDeciTemp, res.Format)
		assert.InDelta(t, 21.5, res.Temperature, 1e-9)
		assert.InDelta(t, 45.0, res.Humidity, 1e-9)
	}
}

func TestDecode_HeartbeatNeedsNoCalibration(t *testing.T) {
	d, err := New(stubCalibrations{})
	require.NoError(t, err)

	res, err := d.Decode(context.Background(), devEUI, []byte{0xfa, 0x01})
	require.NoError(t, err)
	assert.True(t, res.Heartbeat)
	assert.Equal(t, FormatHeartbeat, res.Format)
}

func TestDecode_UnknownMarker(t *testing.T) {
	d := newDecoder(t, telemetry.Calibration{})
	_, err := d.Decode(context.Background(), devEUI, []byte{0x42, 0, 0, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, telemetry.ErrUnsupportedFormat)
}

func TestDecode_MissingCalibration(t *testing.T) {
	d, err := New(stubCalibrations{})
	require.NoError(t, err)
	_, err = d.Decode(context.Background(), devEUI, []byte{0xcb, 0, 0, 0, 0, 0, 0, 0x08, 0x34})
	assert.ErrorIs(t, err, telemetry.ErrMissingCalibration)
}

func TestDecode_CalibrationStoreError(t *testing.T) {
	d, err := New(failingCalibrations{})
	require.NoError(t, err)
	_, err = d.Decode(context.Background(), devEUI, []byte{0xcb, 0, 0, 0, 0, 0, 0, 0x08, 0x34})
	require.Error(t, err)
	assert.NotErrorIs(t, err, telemetry.ErrMissingCalibration)
}

func TestDecode_ShortPayloads(t *testing.T) {
	d := newDecoder(t, telemetry.Calibration{})
	cases := [][]byte{
		{},
		{0xcb, 0, 0, 0, 0, 0, 0, 0x08},
		{0x0d, 0, 0, 0, 0, 0, 0, 0x00, 0xd2},
	}
	for _, payload := range cases {
		_, err := d.Decode(context.Background(), devEUI, payload)
		assert.ErrorIs(t, err, telemetry.ErrMalformedPayload, "payload %x", payload)
	}
}
