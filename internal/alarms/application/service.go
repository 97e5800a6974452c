package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	alarms "climate-guard/internal/alarms/domain"
	commandapp "climate-guard/internal/commands/application"
	"climate-guard/internal/observability/logging"
	"climate-guard/internal/observability/metrics"
	"climate-guard/internal/retry"
	telemetry "climate-guard/internal/telemetry/domain"
)

// maxFollowUps bounds the transitions one reconcile call performs per signal.
const maxFollowUps = 3

// CommandDispatcher submits actuator commands.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, req commandapp.Request) error
}

// FleetAggregator answers the fleet aggregate without listing every status.
// Status repositories may implement it.
type FleetAggregator interface {
	AnyAlarmed(ctx context.Context, signal alarms.Signal) (bool, error)
}

// TransitionNotifier publishes confirmed buzzer transitions.
type TransitionNotifier interface {
	Notify(ctx context.Context, event TransitionEvent)
}

// TransitionEvent describes a confirmed buzzer transition.
type TransitionEvent struct {
	Signal  alarms.Signal      `json:"signal"`
	State   alarms.BuzzerState `json:"state"`
	Command alarms.Command     `json:"command"`
	At      time.Time          `json:"at"`
}

// CommandPair holds the on/off payloads for one signal.
type CommandPair struct {
	On  string
	Off string
}

// Actuator identifies the buzzer device and its command payloads.
type Actuator struct {
	DevEUI      string
	Temperature CommandPair
	Humidity    CommandPair
}

func (a Actuator) payload(signal alarms.Signal, cmd alarms.Command) string {
	pair := a.Temperature
	if signal == alarms.SignalHumidity {
		pair = a.Humidity
	}
	if cmd == alarms.CommandActivate {
		return pair.On
	}
	return pair.Off
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Service evaluates readings, maintains per-device alarm statuses and drives
// the fleet buzzer.
type Service struct {
	statuses   alarms.StatusRepository
	buzzer     alarms.BuzzerRepository
	dispatcher CommandDispatcher
	actuator   Actuator
	thresholds alarms.Thresholds
	retryAfter time.Duration
	retry      retry.Policy
	notifier   TransitionNotifier
	clock      Clock
	logger     *zap.Logger
}

// ServiceOption customizes the alarm service.
type ServiceOption func(*Service)

// WithThresholds overrides the default ranges.
func WithThresholds(t alarms.Thresholds) ServiceOption {
	return func(s *Service) {
		s.thresholds = t
	}
}

// WithRetryAfter sets how long a pending claim is honored before re-claiming.
func WithRetryAfter(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.retryAfter = d
		}
	}
}

// WithRetryPolicy overrides the store retry policy.
func WithRetryPolicy(p retry.Policy) ServiceOption {
	return func(s *Service) {
		s.retry = p
	}
}

// WithNotifier assigns a notifier.
func WithNotifier(notifier TransitionNotifier) ServiceOption {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logging.OrNop(logger)
	}
}

// NewService constructs an alarm service.
func NewService(statuses alarms.StatusRepository, buzzer alarms.BuzzerRepository, dispatcher CommandDispatcher, actuator Actuator, opts ...ServiceOption) (*Service, error) {
	if statuses == nil || buzzer == nil {
		return nil, errors.New("alarms: nil repository")
	}
	if dispatcher == nil {
		return nil, errors.New("alarms: nil dispatcher")
	}
	if actuator.DevEUI == "" {
		return nil, errors.New("alarms: empty actuator dev eui")
	}
	s := &Service{
		statuses:   statuses,
		buzzer:     buzzer,
		dispatcher: dispatcher,
		actuator:   actuator,
		thresholds: alarms.DefaultThresholds(),
		retryAfter: 30 * time.Second,
		retry:      retry.Default,
		clock:      systemClock{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// HandleReading evaluates reading, stores the per-device flags and reconciles
// the fleet buzzer for both signals.
func (s *Service) HandleReading(ctx context.Context, reading telemetry.Reading) error {
	if s == nil {
		return errors.New("alarms: nil service")
	}
	if reading.DevEUI == "" {
		return errors.New("alarms: reading missing dev eui")
	}
	observedAt := reading.ObservedAt
	if observedAt.IsZero() {
		observedAt = s.clock.Now()
	}
	eval := s.thresholds.Evaluate(reading.Temperature, reading.Humidity)

	for _, signal := range alarms.Signals {
		alarmed := eval.For(signal)
		var applied bool
		err := s.withRetry(ctx, "upsert_status", func(ctx context.Context) error {
			var err error
			applied, err = s.statuses.UpsertSignal(ctx, reading.DevEUI, signal, alarmed, observedAt)
			return err
		})
		if err != nil {
			metrics.IncAlarmStatusUpdate(string(signal), metrics.ResultError)
			return fmt.Errorf("alarms: upsert %s status: %w", signal, err)
		}
		outcome := "applied"
		if !applied {
			outcome = "stale"
		}
		metrics.IncAlarmStatusUpdate(string(signal), outcome)
	}

	s.logger.Debug("alarm status evaluated",
		zap.String("dev_eui", reading.DevEUI),
		zap.Bool("temperature_alarm", eval.TemperatureAlarm),
		zap.Bool("humidity_alarm", eval.HumidityAlarm))

	return s.Reconcile(ctx)
}

// Reconcile aligns the buzzer with the current fleet aggregate for each
// signal independently. It also retries stale pending transitions.
func (s *Service) Reconcile(ctx context.Context) error {
	if s == nil {
		return errors.New("alarms: nil service")
	}
	aggregate, err := s.fleetAggregate(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, signal := range alarms.Signals {
		if err := s.reconcileSignal(ctx, signal, aggregate[signal]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) fleetAggregate(ctx context.Context) (map[alarms.Signal]bool, error) {
	out := make(map[alarms.Signal]bool, len(alarms.Signals))
	if _, ok := s.statuses.(FleetAggregator); ok {
		for _, signal := range alarms.Signals {
			alarmed, err := s.signalAggregate(ctx, signal)
			if err != nil {
				return nil, err
			}
			out[signal] = alarmed
		}
		return out, nil
	}

	var statuses []alarms.Status
	err := s.withRetry(ctx, "list_statuses", func(ctx context.Context) error {
		var err error
		statuses, err = s.statuses.List(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("alarms: list statuses: %w", err)
	}
	for _, signal := range alarms.Signals {
		out[signal] = alarms.AnyAlarmed(statuses, signal)
	}
	return out, nil
}

// signalAggregate reports whether any device currently has signal set.
func (s *Service) signalAggregate(ctx context.Context, signal alarms.Signal) (bool, error) {
	if agg, ok := s.statuses.(FleetAggregator); ok {
		var alarmed bool
		err := s.withRetry(ctx, "fleet_aggregate", func(ctx context.Context) error {
			var err error
			alarmed, err = agg.AnyAlarmed(ctx, signal)
			return err
		})
		if err != nil {
			return false, fmt.Errorf("alarms: fleet aggregate: %w", err)
		}
		return alarmed, nil
	}
	var statuses []alarms.Status
	err := s.withRetry(ctx, "list_statuses", func(ctx context.Context) error {
		var err error
		statuses, err = s.statuses.List(ctx)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("alarms: list statuses: %w", err)
	}
	return alarms.AnyAlarmed(statuses, signal), nil
}

// reconcileSignal drives signal towards fleetAlarmed. Readings that land while
// a command is in flight see the pending claim and defer to its owner, so after
// confirming a transition the owner re-reads the aggregate and follows up.
func (s *Service) reconcileSignal(ctx context.Context, signal alarms.Signal, fleetAlarmed bool) error {
	for round := 1; ; round++ {
		target, confirmed, err := s.stepSignal(ctx, signal, fleetAlarmed)
		if err != nil || !confirmed {
			return err
		}
		alarmed, err := s.signalAggregate(ctx, signal)
		if err != nil {
			return err
		}
		if alarmed == (target == alarms.BuzzerActive) {
			return nil
		}
		if round >= maxFollowUps {
			s.logger.Warn("buzzer still diverges from fleet after follow-ups",
				zap.String("signal", string(signal)),
				zap.Bool("fleet_alarmed", alarmed),
				zap.Int("rounds", round))
			return nil
		}
		s.logger.Info("fleet changed during buzzer transition, following up",
			zap.String("signal", string(signal)),
			zap.Bool("fleet_alarmed", alarmed))
		fleetAlarmed = alarmed
	}
}

// stepSignal performs at most one transition. confirmed reports whether this
// call delivered a command and persisted target.
func (s *Service) stepSignal(ctx context.Context, signal alarms.Signal, fleetAlarmed bool) (target alarms.BuzzerState, confirmed bool, err error) {
	fleet, err := s.loadBuzzer(ctx)
	if err != nil {
		return "", false, err
	}
	current := fleet.For(signal)
	now := s.clock.Now()

	decision := alarms.Decide(current, fleetAlarmed, now, s.retryAfter)
	switch decision.Kind {
	case alarms.DecisionNone:
		metrics.SetBuzzerActive(string(signal), current.State == alarms.BuzzerActive)
		return decision.Target, false, nil
	case alarms.DecisionWait:
		s.logger.Debug("buzzer transition in flight",
			zap.String("signal", string(signal)),
			zap.String("state", string(current.State)))
		return decision.Target, false, nil
	}

	ok, err := s.buzzer.CompareAndSet(ctx, current, decision.Pending, now)
	if err != nil {
		return "", false, fmt.Errorf("alarms: claim %s buzzer: %w", signal, err)
	}
	if !ok {
		metrics.IncBuzzerConflict(string(signal))
		s.logger.Debug("buzzer claim lost", zap.String("signal", string(signal)))
		return decision.Target, false, nil
	}
	metrics.IncBuzzerTransition(string(signal), string(decision.Pending))
	claimed := alarms.SignalState{
		Signal:    signal,
		State:     decision.Pending,
		Version:   current.Version + 1,
		UpdatedAt: now,
	}

	err = s.dispatcher.Dispatch(ctx, commandapp.Request{
		DevEUI:  s.actuator.DevEUI,
		Payload: s.actuator.payload(signal, decision.Command),
		Signal:  string(signal),
		Action:  string(decision.Command),
	})
	if err != nil {
		s.logger.Error("buzzer command failed, transition left pending",
			zap.String("signal", string(signal)),
			zap.String("command", string(decision.Command)),
			zap.Error(err))
		return "", false, fmt.Errorf("alarms: %s %s: %w", signal, decision.Command, err)
	}

	confirmedAt := s.clock.Now()
	ok, err = s.buzzer.CompareAndSet(ctx, claimed, decision.Target, confirmedAt)
	if err != nil {
		return "", false, fmt.Errorf("alarms: confirm %s buzzer: %w", signal, err)
	}
	if !ok {
		metrics.IncBuzzerConflict(string(signal))
		s.logger.Warn("buzzer claim re-taken before confirmation", zap.String("signal", string(signal)))
		return decision.Target, false, nil
	}
	metrics.IncBuzzerTransition(string(signal), string(decision.Target))
	metrics.SetBuzzerActive(string(signal), decision.Target == alarms.BuzzerActive)
	s.logger.Info("buzzer transition",
		zap.String("signal", string(signal)),
		zap.String("command", string(decision.Command)),
		zap.String("state", string(decision.Target)))

	if s.notifier != nil {
		s.notifier.Notify(ctx, TransitionEvent{
			Signal:  signal,
			State:   decision.Target,
			Command: decision.Command,
			At:      confirmedAt,
		})
	}
	return decision.Target, true, nil
}

func (s *Service) loadBuzzer(ctx context.Context) (alarms.FleetBuzzerState, error) {
	var fleet alarms.FleetBuzzerState
	err := s.withRetry(ctx, "load_buzzer", func(ctx context.Context) error {
		var err error
		fleet, err = s.buzzer.Get(ctx)
		return err
	})
	if err != nil {
		return alarms.FleetBuzzerState{}, fmt.Errorf("alarms: load buzzer state: %w", err)
	}
	return fleet, nil
}

func (s *Service) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return s.retry.DoNotify(ctx, fn, func(err error, next time.Duration) {
		s.logger.Warn("alarm store call failed, retrying",
			zap.String("op", op),
			zap.Duration("backoff", next),
			zap.Error(err))
	})
}

// State returns the fleet buzzer singleton.
func (s *Service) State(ctx context.Context) (alarms.FleetBuzzerState, error) {
	if s == nil {
		return alarms.FleetBuzzerState{}, errors.New("alarms: nil service")
	}
	return s.loadBuzzer(ctx)
}

// Override rewrites the debounce memory for signal without sending a command.
// It returns alarms.ErrConflict when the record changed concurrently.
func (s *Service) Override(ctx context.Context, signal alarms.Signal, active bool) (alarms.SignalState, error) {
	if s == nil {
		return alarms.SignalState{}, errors.New("alarms: nil service")
	}
	if !signal.Valid() {
		return alarms.SignalState{}, alarms.ErrUnknownSignal
	}
	fleet, err := s.loadBuzzer(ctx)
	if err != nil {
		return alarms.SignalState{}, err
	}
	current := fleet.For(signal)
	next := alarms.BuzzerInactive
	if active {
		next = alarms.BuzzerActive
	}
	if current.State == next {
		return current, nil
	}
	now := s.clock.Now()
	ok, err := s.buzzer.CompareAndSet(ctx, current, next, now)
	if err != nil {
		return alarms.SignalState{}, err
	}
	if !ok {
		return alarms.SignalState{}, alarms.ErrConflict
	}
	metrics.SetBuzzerActive(string(signal), active)
	s.logger.Warn("buzzer state overridden",
		zap.String("signal", string(signal)),
		zap.String("from", string(current.State)),
		zap.String("to", string(next)))
	return alarms.SignalState{Signal: signal, State: next, Version: current.Version + 1, UpdatedAt: now}, nil
}

// ListStatuses returns every per-device status.
func (s *Service) ListStatuses(ctx context.Context) ([]alarms.Status, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	return s.statuses.List(ctx)
}

// Thresholds returns the configured ranges.
func (s *Service) Thresholds() alarms.Thresholds {
	return s.thresholds
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
