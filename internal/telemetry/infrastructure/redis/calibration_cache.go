package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"climate-guard/internal/observability/logging"
	telemetry "climate-guard/internal/telemetry/domain"
)

const keyPrefix = "climate-guard:calibration:"

// CalibrationCache is a read-through cache in front of a calibration
// repository. Absent calibrations are never cached. Redis failures fall back
// to the repository.
type CalibrationCache struct {
	client *goredis.Client
	repo   telemetry.CalibrationRepository
	ttl    time.Duration
	logger *zap.Logger
}

// NewCalibrationCache constructs a cache.
func NewCalibrationCache(client *goredis.Client, repo telemetry.CalibrationRepository, ttl time.Duration, logger *zap.Logger) (*CalibrationCache, error) {
	if client == nil {
		return nil, errors.New("calibration cache: nil redis client")
	}
	if repo == nil {
		return nil, errors.New("calibration cache: nil repository")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CalibrationCache{client: client, repo: repo, ttl: ttl, logger: logging.OrNop(logger)}, nil
}

type cachedCalibration struct {
	DevEUI            string    `json:"dev_eui"`
	TemperatureOffset float64   `json:"temperature_offset"`
	HumidityOffset    float64   `json:"humidity_offset"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Get returns the calibration for devEUI, or nil when none exists.
func (c *CalibrationCache) Get(ctx context.Context, devEUI string) (*telemetry.Calibration, error) {
	raw, err := c.client.Get(ctx, keyPrefix+devEUI).Bytes()
	switch {
	case err == nil:
		var cached cachedCalibration
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			return &telemetry.Calibration{
				DevEUI:            cached.DevEUI,
				TemperatureOffset: cached.TemperatureOffset,
				HumidityOffset:    cached.HumidityOffset,
				UpdatedAt:         cached.UpdatedAt,
			}, nil
		}
		c.logger.Warn("calibration cache entry corrupt", zap.String("dev_eui", devEUI))
	case errors.Is(err, goredis.Nil):
	default:
		c.logger.Warn("calibration cache read failed", zap.String("dev_eui", devEUI), zap.Error(err))
	}

	cal, err := c.repo.Get(ctx, devEUI)
	if err != nil || cal == nil {
		return cal, err
	}
	c.store(ctx, *cal)
	return cal, nil
}

// Upsert writes through to the repository and drops the cached entry.
func (c *CalibrationCache) Upsert(ctx context.Context, cal telemetry.Calibration) error {
	if err := c.repo.Upsert(ctx, cal); err != nil {
		return err
	}
	c.Invalidate(ctx, cal.DevEUI)
	return nil
}

// List reads from the repository.
func (c *CalibrationCache) List(ctx context.Context) ([]telemetry.Calibration, error) {
	return c.repo.List(ctx)
}

// Invalidate removes the cached entry for devEUI.
func (c *CalibrationCache) Invalidate(ctx context.Context, devEUI string) {
	if err := c.client.Del(ctx, keyPrefix+devEUI).Err(); err != nil {
		c.logger.Warn("calibration cache invalidate failed", zap.String("dev_eui", devEUI), zap.Error(err))
	}
}

func (c *CalibrationCache) store(ctx context.Context, cal telemetry.Calibration) {
	raw, err := json.Marshal(cachedCalibration{
		DevEUI:            cal.DevEUI,
		TemperatureOffset: cal.TemperatureOffset,
		HumidityOffset:    cal.HumidityOffset,
		UpdatedAt:         cal.UpdatedAt,
	})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, keyPrefix+cal.DevEUI, raw, c.ttl).Err(); err != nil {
		c.logger.Debug("calibration cache write failed", zap.String("dev_eui", cal.DevEUI), zap.Error(err))
	}
}
