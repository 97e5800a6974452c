package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"climate-guard/internal/retry"
	"climate-guard/internal/telemetry/decoder"
	telemetry "climate-guard/internal/telemetry/domain"
	"climate-guard/internal/telemetry/infrastructure/memory"
)

var publishedAt = time.Date(2024, 3, 1, 8, 15, 0, 0, time.UTC)

type recordingAlarms struct {
	mu       sync.Mutex
	readings []telemetry.Reading
	err      error
}

func (a *recordingAlarms) HandleReading(_ context.Context, r telemetry.Reading) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.readings = append(a.readings, r)
	return a.err
}

func (a *recordingAlarms) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.readings)
}

type failingReadings struct {
	*memory.ReadingRepository
}

func (failingReadings) Append(context.Context, telemetry.Reading) error {
	return errors.New("connection refused")
}

type flakyReadings struct {
	*memory.ReadingRepository
	failures int
}

func (r *flakyReadings) Append(ctx context.Context, reading telemetry.Reading) error {
	if r.failures > 0 {
		r.failures--
		return errors.New("connection reset")
	}
	return r.ReadingRepository.Append(ctx, reading)
}

type failingMirror struct{ calls int }

func (m *failingMirror) Mirror(context.Context, telemetry.Reading) error {
	m.calls++
	return errors.New("influx down")
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type ingestFixture struct {
	service    *IngestService
	readings   *memory.ReadingRepository
	heartbeats *memory.HeartbeatRepository
	alarms     *recordingAlarms
}

func newIngestFixture(t *testing.T, opts ...Option) *ingestFixture {
	t.Helper()
	calibrations := memory.NewCalibrationRepository(telemetry.Calibration{DevEUI: "a1", TemperatureOffset: 0.5, HumidityOffset: -1})
	dec, err := decoder.New(calibrations)
	require.NoError(t, err)
	f := &ingestFixture{
		readings:   memory.NewReadingRepository(),
		heartbeats: memory.NewHeartbeatRepository(),
		alarms:     &recordingAlarms{},
	}
	opts = append([]Option{WithRetryPolicy(retry.Policy{Attempts: 1})}, opts...)
	f.service, err = NewIngestService(dec, f.readings, f.heartbeats, f.alarms, opts...)
	require.NoError(t, err)
	return f
}

func centiPayload() []byte {
	return []byte{0xCB, 0x00, 0x00, 0x00, 0x01, 0xC2, 0x00, 0x08, 0x34}
}

func TestProcess_StoresCalibratedReading(t *testing.T) {
	f := newIngestFixture(t)
	outcome, err := f.service.Process(context.Background(), Uplink{DevEUI: "a1", DeviceName: "cold-room", Payload: centiPayload(), PublishedAt: publishedAt})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStored, outcome)

	latest, err := f.readings.Latest(context.Background())
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.InDelta(t, 21.5, latest[0].Temperature, 1e-9)
	assert.InDelta(t, 44.0, latest[0].Humidity, 1e-9)
	assert.Equal(t, publishedAt, latest[0].ObservedAt)
	require.Equal(t, 1, f.alarms.count())
	assert.Equal(t, latest[0], f.alarms.readings[0])
}

func TestProcess_HeartbeatSkipsPipeline(t *testing.T) {
	f := newIngestFixture(t)
	outcome, err := f.service.Process(context.Background(), Uplink{DevEUI: "zz", DeviceName: "door", Payload: []byte{0xFA, 0x01}, PublishedAt: publishedAt})
	require.NoError(t, err)
	assert.Equal(t, OutcomeHeartbeat, outcome)
	assert.Equal(t, 1, f.heartbeats.Count())
	assert.Equal(t, 0, f.readings.Count())
	assert.Equal(t, 0, f.alarms.count())
}

func TestProcess_DropsWithoutMutation(t *testing.T) {
	cases := []struct {
		name    string
		up      Uplink
		outcome Outcome
	}{
		{name: "unknown marker", up: Uplink{DevEUI: "a1", Payload: []byte{0x99, 1, 2, 3}}, outcome: OutcomeUnsupportedFormat},
		{name: "missing calibration", up: Uplink{DevEUI: "b2", Payload: centiPayload()}, outcome: OutcomeMissingCalibration},
		{name: "short payload", up: Uplink{DevEUI: "a1", Payload: []byte{0xCB, 0x00}}, outcome: OutcomeMalformedPayload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newIngestFixture(t)
			outcome, err := f.service.Process(context.Background(), tc.up)
			require.NoError(t, err)
			assert.Equal(t, tc.outcome, outcome)
			assert.Equal(t, 0, f.readings.Count())
			assert.Equal(t, 0, f.heartbeats.Count())
			assert.Equal(t, 0, f.alarms.count())
		})
	}
}

func TestProcess_FallsBackToClock(t *testing.T) {
	now := time.Date(2024, 5, 5, 5, 5, 5, 0, time.UTC)
	f := newIngestFixture(t, WithClock(fixedClock{now: now}))
	_, err := f.service.Process(context.Background(), Uplink{DevEUI: "a1", Payload: centiPayload()})
	require.NoError(t, err)
	require.Equal(t, 1, f.alarms.count())
	assert.Equal(t, now, f.alarms.readings[0].ObservedAt)
}

func TestProcess_StoreFailure(t *testing.T) {
	calibrations := memory.NewCalibrationRepository(telemetry.Calibration{DevEUI: "a1"})
	dec, err := decoder.New(calibrations)
	require.NoError(t, err)
	alarms := &recordingAlarms{}
	svc, err := NewIngestService(dec, failingReadings{memory.NewReadingRepository()}, memory.NewHeartbeatRepository(), alarms,
		WithRetryPolicy(retry.Policy{Attempts: 2, Initial: time.Millisecond}))
	require.NoError(t, err)

	outcome, err := svc.Process(context.Background(), Uplink{DevEUI: "a1", Payload: centiPayload()})
	assert.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 0, alarms.count())
}

func TestProcess_TransientStoreFailureIsRetriedAndLogged(t *testing.T) {
	calibrations := memory.NewCalibrationRepository(telemetry.Calibration{DevEUI: "a1"})
	dec, err := decoder.New(calibrations)
	require.NoError(t, err)
	core, logs := observer.New(zapcore.WarnLevel)
	readings := &flakyReadings{ReadingRepository: memory.NewReadingRepository(), failures: 1}
	alarms := &recordingAlarms{}
	svc, err := NewIngestService(dec, readings, memory.NewHeartbeatRepository(), alarms,
		WithRetryPolicy(retry.Policy{Attempts: 3, Initial: time.Millisecond}), WithLogger(zap.New(core)))
	require.NoError(t, err)

	outcome, err := svc.Process(context.Background(), Uplink{DevEUI: "a1", Payload: centiPayload(), PublishedAt: publishedAt})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStored, outcome)
	assert.Equal(t, 1, alarms.count())

	entries := logs.FilterMessage("telemetry store call failed, retrying").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "append_reading", entries[0].ContextMap()["op"])
	assert.Equal(t, "connection reset", entries[0].ContextMap()["error"])
}

func TestProcess_MirrorFailureIsIgnored(t *testing.T) {
	mirror := &failingMirror{}
	f := newIngestFixture(t, WithMirror(mirror))
	outcome, err := f.service.Process(context.Background(), Uplink{DevEUI: "a1", Payload: centiPayload(), PublishedAt: publishedAt})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStored, outcome)
	assert.Equal(t, 1, mirror.calls)
	assert.Equal(t, 1, f.alarms.count())
}

func TestProcess_DuplicateUplinkStoresOnce(t *testing.T) {
	f := newIngestFixture(t)
	up := Uplink{DevEUI: "a1", Payload: centiPayload(), PublishedAt: publishedAt}
	_, err := f.service.Process(context.Background(), up)
	require.NoError(t, err)
	_, err = f.service.Process(context.Background(), up)
	require.NoError(t, err)
	assert.Equal(t, 1, f.readings.Count())
}

func TestNewIngestService_Validation(t *testing.T) {
	dec, err := decoder.New(memory.NewCalibrationRepository())
	require.NoError(t, err)
	_, err = NewIngestService(nil, memory.NewReadingRepository(), memory.NewHeartbeatRepository(), &recordingAlarms{})
	assert.Error(t, err)
	_, err = NewIngestService(dec, nil, memory.NewHeartbeatRepository(), &recordingAlarms{})
	assert.Error(t, err)
	_, err = NewIngestService(dec, memory.NewReadingRepository(), memory.NewHeartbeatRepository(), nil)
	assert.Error(t, err)
}
