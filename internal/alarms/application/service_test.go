package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alarms "climate-guard/internal/alarms/domain"
	"climate-guard/internal/alarms/infrastructure/memory"
	commandapp "climate-guard/internal/commands/application"
	"climate-guard/internal/retry"
	telemetry "climate-guard/internal/telemetry/domain"
)

const actuatorEUI = "ff0006f201000001"

var testActuator = Actuator{
	DevEUI:      actuatorEUI,
	Temperature: CommandPair{On: "+gcMRE00PTRJ", Off: "+gcMRE00PTNI"},
	Humidity:    CommandPair{On: "+gcMRE01PTRK", Off: "+gcMRE01PTNJ"},
}

type fakeDispatcher struct {
	mu    sync.Mutex
	err   error
	delay time.Duration
	sent  []commandapp.Request
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req commandapp.Request) error {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, req)
	return nil
}

func (d *fakeDispatcher) payloads() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.sent))
	for _, req := range d.sent {
		out = append(out, req.Payload)
	}
	return out
}

func (d *fakeDispatcher) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

// gatedDispatcher parks Dispatch calls while hold is set until release fires.
type gatedDispatcher struct {
	fakeDispatcher
	mu      sync.Mutex
	hold    bool
	entered chan commandapp.Request
	release chan struct{}
}

func newGatedDispatcher() *gatedDispatcher {
	return &gatedDispatcher{
		entered: make(chan commandapp.Request, 1),
		release: make(chan struct{}),
	}
}

func (d *gatedDispatcher) setHold(hold bool) {
	d.mu.Lock()
	d.hold = hold
	d.mu.Unlock()
}

func (d *gatedDispatcher) Dispatch(ctx context.Context, req commandapp.Request) error {
	d.mu.Lock()
	hold := d.hold
	d.mu.Unlock()
	if hold {
		d.entered <- req
		<-d.release
	}
	return d.fakeDispatcher.Dispatch(ctx, req)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []TransitionEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event TransitionEvent) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

type fixture struct {
	service    *Service
	statuses   *memory.StatusRepository
	buzzer     *memory.BuzzerRepository
	dispatcher *fakeDispatcher
	clock      *fakeClock
	notifier   *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		statuses:   memory.NewStatusRepository(),
		buzzer:     memory.NewBuzzerRepository(),
		dispatcher: &fakeDispatcher{},
		clock:      &fakeClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)},
		notifier:   &recordingNotifier{},
	}
	service, err := NewService(f.statuses, f.buzzer, f.dispatcher, testActuator,
		WithClock(f.clock),
		WithNotifier(f.notifier),
		WithRetryPolicy(retry.Policy{Attempts: 1}),
		WithRetryAfter(30*time.Second),
	)
	require.NoError(t, err)
	f.service = service
	return f
}

func (f *fixture) reading(devEUI string, temperature float64, offset time.Duration) telemetry.Reading {
	return telemetry.Reading{
		DeviceName:  "sensor-" + devEUI,
		DevEUI:      devEUI,
		Temperature: temperature,
		Humidity:    50,
		ObservedAt:  time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC).Add(offset),
	}
}

func TestHandleReading_FleetDebounce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.HandleReading(ctx, f.reading("a", 30, 1*time.Minute)))
	assert.Equal(t, []string{"+gcMRE00PTRJ"}, f.dispatcher.payloads())

	require.NoError(t, f.service.HandleReading(ctx, f.reading("b", 31, 2*time.Minute)))
	require.NoError(t, f.service.HandleReading(ctx, f.reading("c", 22, 3*time.Minute)))
	require.NoError(t, f.service.HandleReading(ctx, f.reading("a", 22, 4*time.Minute)))
	assert.Equal(t, []string{"+gcMRE00PTRJ"}, f.dispatcher.payloads(), "buzzer stays on while b is alarmed")

	require.NoError(t, f.service.HandleReading(ctx, f.reading("b", 22, 5*time.Minute)))
	assert.Equal(t, []string{"+gcMRE00PTRJ", "+gcMRE00PTNI"}, f.dispatcher.payloads())

	state, err := f.service.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, alarms.BuzzerInactive, state.Temperature.State)
	assert.Equal(t, alarms.BuzzerInactive, state.Humidity.State)
	assert.Equal(t, int64(4), state.Temperature.Version)

	require.Len(t, f.notifier.events, 2)
	assert.Equal(t, alarms.BuzzerActive, f.notifier.events[0].State)
	assert.Equal(t, alarms.BuzzerInactive, f.notifier.events[1].State)
}

func TestHandleReading_SignalsAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := f.reading("a", 23, time.Minute)
	r.Humidity = 70
	require.NoError(t, f.service.HandleReading(ctx, r))
	assert.Equal(t, []string{"+gcMRE01PTRK"}, f.dispatcher.payloads())

	state, err := f.service.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, alarms.BuzzerInactive, state.Temperature.State)
	assert.Equal(t, alarms.BuzzerActive, state.Humidity.State)
}

func TestHandleReading_DuplicateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.reading("a", 19.99, time.Minute)

	require.NoError(t, f.service.HandleReading(ctx, r))
	first, err := f.service.ListStatuses(ctx)
	require.NoError(t, err)

	require.NoError(t, f.service.HandleReading(ctx, r))
	second, err := f.service.ListStatuses(ctx)
	require.NoError(t, err)

	assert.Len(t, f.dispatcher.payloads(), 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].TemperatureAlarm, second[0].TemperatureAlarm)
	assert.Equal(t, first[0].TemperatureObservedAt, second[0].TemperatureObservedAt)
	assert.True(t, second[0].TemperatureAlarm)
}

func TestHandleReading_OlderObservationDoesNotOverwrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.HandleReading(ctx, f.reading("a", 22, 5*time.Minute)))
	require.NoError(t, f.service.HandleReading(ctx, f.reading("a", 35, 1*time.Minute)))

	statuses, err := f.service.ListStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].TemperatureAlarm)
	assert.Empty(t, f.dispatcher.payloads())
}

func TestHandleReading_ConcurrentAlarmsSendOneActivate(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.delay = 5 * time.Millisecond
	ctx := context.Background()

	var wg sync.WaitGroup
	for i, dev := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(dev string, i int) {
			defer wg.Done()
			assert.NoError(t, f.service.HandleReading(ctx, f.reading(dev, 30, time.Duration(i)*time.Second)))
		}(dev, i)
	}
	wg.Wait()

	assert.Equal(t, []string{"+gcMRE00PTRJ"}, f.dispatcher.payloads())
	state, err := f.service.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, alarms.BuzzerActive, state.Temperature.State)
}

func TestHandleReading_DispatchFailureStaysPendingAndRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.dispatcher.setErr(errors.New("network server unavailable"))

	err := f.service.HandleReading(ctx, f.reading("a", 30, time.Minute))
	require.Error(t, err)

	state, err := f.service.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, alarms.BuzzerPendingActive, state.Temperature.State)
	assert.False(t, state.Temperature.ConfirmedActive())

	f.dispatcher.setErr(nil)
	f.clock.Advance(10 * time.Second)
	require.NoError(t, f.service.HandleReading(ctx, f.reading("b", 30, 2*time.Minute)))
	assert.Empty(t, f.dispatcher.payloads(), "fresh pending claim is honored")

	f.clock.Advance(31 * time.Second)
	require.NoError(t, f.service.Reconcile(ctx))
	assert.Equal(t, []string{"+gcMRE00PTRJ"}, f.dispatcher.payloads())

	state, err = f.service.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, alarms.BuzzerActive, state.Temperature.State)
}

func TestHandleReading_AlarmDuringInFlightDeactivateIsFollowedUp(t *testing.T) {
	dispatcher := newGatedDispatcher()
	statuses := memory.NewStatusRepository()
	buzzer := memory.NewBuzzerRepository()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	service, err := NewService(statuses, buzzer, dispatcher, testActuator,
		WithClock(clock),
		WithRetryPolicy(retry.Policy{Attempts: 1}),
		WithRetryAfter(30*time.Second),
	)
	require.NoError(t, err)
	f := &fixture{service: service}
	ctx := context.Background()

	require.NoError(t, service.HandleReading(ctx, f.reading("a", 30, time.Minute)))
	require.Equal(t, []string{"+gcMRE00PTRJ"}, dispatcher.payloads())

	// a clears; its deactivate parks inside the dispatcher.
	dispatcher.setHold(true)
	done := make(chan error, 1)
	go func() { done <- service.HandleReading(ctx, f.reading("a", 22, 2*time.Minute)) }()
	parked := <-dispatcher.entered
	assert.Equal(t, "+gcMRE00PTNI", parked.Payload)

	// b alarms while the claim is fresh and defers to the in-flight owner.
	require.NoError(t, service.HandleReading(ctx, f.reading("b", 31, 3*time.Minute)))
	assert.Equal(t, []string{"+gcMRE00PTRJ"}, dispatcher.payloads())

	dispatcher.setHold(false)
	dispatcher.release <- struct{}{}
	require.NoError(t, <-done)

	assert.Equal(t, []string{"+gcMRE00PTRJ", "+gcMRE00PTNI", "+gcMRE00PTRJ"}, dispatcher.payloads())
	state, err := service.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, alarms.BuzzerActive, state.Temperature.State)
	assert.Equal(t, int64(6), state.Temperature.Version)
	assert.Equal(t, alarms.BuzzerInactive, state.Humidity.State)
}

func TestOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.service.Override(ctx, alarms.SignalHumidity, true)
	require.NoError(t, err)
	assert.Equal(t, alarms.BuzzerActive, st.State)
	assert.Equal(t, int64(1), st.Version)

	// No device is alarmed, so the next evaluation turns it off.
	require.NoError(t, f.service.Reconcile(ctx))
	assert.Equal(t, []string{"+gcMRE01PTNJ"}, f.dispatcher.payloads())

	_, err = f.service.Override(ctx, alarms.Signal("pressure"), true)
	assert.ErrorIs(t, err, alarms.ErrUnknownSignal)
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(nil, memory.NewBuzzerRepository(), &fakeDispatcher{}, testActuator)
	assert.Error(t, err)
	_, err = NewService(memory.NewStatusRepository(), memory.NewBuzzerRepository(), nil, testActuator)
	assert.Error(t, err)
	_, err = NewService(memory.NewStatusRepository(), memory.NewBuzzerRepository(), &fakeDispatcher{}, Actuator{})
	assert.Error(t, err)
}
