package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"climate-guard/internal/observability/logging"
	"climate-guard/internal/observability/metrics"
	"climate-guard/internal/retry"
	"climate-guard/internal/telemetry/decoder"
	telemetry "climate-guard/internal/telemetry/domain"
)

// Uplink is a decoded webhook envelope.
type Uplink struct {
	DevEUI      string
	DeviceName  string
	Payload     []byte
	PublishedAt time.Time
}

// Outcome is the terminal result of processing one uplink.
type Outcome string

const (
	OutcomeStored             Outcome = "stored"
	OutcomeHeartbeat          Outcome = "heartbeat"
	OutcomeUnsupportedFormat  Outcome = "unsupported_format"
	OutcomeMissingCalibration Outcome = "missing_calibration"
	OutcomeMalformedPayload   Outcome = "malformed_payload"
	OutcomeFailed             Outcome = "failed"
)

// PayloadDecoder decodes raw payload bytes.
type PayloadDecoder interface {
	Decode(ctx context.Context, devEUI string, payload []byte) (decoder.Result, error)
}

// AlarmHandler evaluates a stored reading.
type AlarmHandler interface {
	HandleReading(ctx context.Context, reading telemetry.Reading) error
}

// ReadingMirror receives a copy of every stored reading. Mirror failures are
// logged and never fail the uplink.
type ReadingMirror interface {
	Mirror(ctx context.Context, reading telemetry.Reading) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// IngestService runs the uplink pipeline: decode, persist, evaluate.
type IngestService struct {
	decoder    PayloadDecoder
	readings   telemetry.ReadingRepository
	heartbeats telemetry.HeartbeatRepository
	alarms     AlarmHandler
	mirror     ReadingMirror
	retry      retry.Policy
	clock      Clock
	logger     *zap.Logger
}

// Option customizes the ingest service.
type Option func(*IngestService)

// WithMirror assigns a reading mirror.
func WithMirror(mirror ReadingMirror) Option {
	return func(s *IngestService) {
		s.mirror = mirror
	}
}

// WithRetryPolicy overrides the store retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *IngestService) {
		s.retry = p
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(s *IngestService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *IngestService) {
		s.logger = logging.OrNop(logger)
	}
}

// NewIngestService constructs the pipeline.
func NewIngestService(dec PayloadDecoder, readings telemetry.ReadingRepository, heartbeats telemetry.HeartbeatRepository, alarms AlarmHandler, opts ...Option) (*IngestService, error) {
	if dec == nil {
		return nil, errors.New("ingest: nil decoder")
	}
	if readings == nil || heartbeats == nil {
		return nil, errors.New("ingest: nil repository")
	}
	if alarms == nil {
		return nil, errors.New("ingest: nil alarm handler")
	}
	s := &IngestService{
		decoder:    dec,
		readings:   readings,
		heartbeats: heartbeats,
		alarms:     alarms,
		retry:      retry.Default,
		clock:      systemClock{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Process runs the pipeline for one uplink. Decode failures are terminal and
// reported through the outcome with a nil error; a non-nil error means a store
// or dispatch failure after retries.
func (s *IngestService) Process(ctx context.Context, up Uplink) (Outcome, error) {
	start := time.Now()
	outcome, err := s.process(ctx, up)
	result := metrics.ResultSuccess
	switch {
	case err != nil:
		result = metrics.ResultError
	case outcome != OutcomeStored && outcome != OutcomeHeartbeat:
		result = metrics.ResultDropped
	}
	metrics.IncIngestEvent("up", result)
	metrics.ObserveIngest(result, time.Since(start))
	return outcome, err
}

func (s *IngestService) process(ctx context.Context, up Uplink) (Outcome, error) {
	logger := s.logger.With(zap.String("dev_eui", up.DevEUI), zap.String("device_name", up.DeviceName))
	observedAt := up.PublishedAt
	if observedAt.IsZero() {
		observedAt = s.clock.Now()
	}
	observedAt = observedAt.UTC()

	res, err := s.decoder.Decode(ctx, up.DevEUI, up.Payload)
	if err != nil {
		outcome := classify(err)
		if outcome == OutcomeFailed {
			logger.Error("uplink decode failed", zap.Error(err))
			return outcome, err
		}
		metrics.IncDecodeError(string(outcome))
		logger.Warn("uplink dropped", zap.String("reason", string(outcome)), zap.Error(err))
		return outcome, nil
	}

	if res.Heartbeat {
		hb := telemetry.Heartbeat{DeviceName: up.DeviceName, DevEUI: up.DevEUI, ObservedAt: observedAt}
		if err := s.withRetry(ctx, "append_heartbeat", func(ctx context.Context) error { return s.heartbeats.Append(ctx, hb) }); err != nil {
			logger.Error("heartbeat store failed", zap.Error(err))
			return OutcomeFailed, fmt.Errorf("ingest: append heartbeat: %w", err)
		}
		logger.Debug("heartbeat stored")
		return OutcomeHeartbeat, nil
	}

	reading := telemetry.Reading{
		DeviceName:  up.DeviceName,
		DevEUI:      up.DevEUI,
		Temperature: res.Temperature,
		Humidity:    res.Humidity,
		ObservedAt:  observedAt,
	}
	if err := s.withRetry(ctx, "append_reading", func(ctx context.Context) error { return s.readings.Append(ctx, reading) }); err != nil {
		logger.Error("reading store failed", zap.Error(err))
		return OutcomeFailed, fmt.Errorf("ingest: append reading: %w", err)
	}
	logger.Info("reading stored",
		zap.String("format", res.Format.String()),
		zap.Float64("temperature", reading.Temperature),
		zap.Float64("humidity", reading.Humidity))

	if s.mirror != nil {
		if err := s.mirror.Mirror(ctx, reading); err != nil {
			logger.Warn("reading mirror failed", zap.Error(err))
		}
	}

	if err := s.alarms.HandleReading(ctx, reading); err != nil {
		logger.Error("alarm evaluation failed", zap.Error(err))
		return OutcomeStored, err
	}
	return OutcomeStored, nil
}

func classify(err error) Outcome {
	switch {
	case errors.Is(err, telemetry.ErrUnsupportedFormat):
		return OutcomeUnsupportedFormat
	case errors.Is(err, telemetry.ErrMissingCalibration):
		return OutcomeMissingCalibration
	case errors.Is(err, telemetry.ErrMalformedPayload):
		return OutcomeMalformedPayload
	default:
		return OutcomeFailed
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func (s *IngestService) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return s.retry.DoNotify(ctx, fn, func(err error, next time.Duration) {
		s.logger.Warn("telemetry store call failed, retrying",
			zap.String("op", op),
			zap.Duration("backoff", next),
			zap.Error(err))
	})
}
