package cli

import (
	"context"
	"database/sql"
	"fmt"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	alarmapp "climate-guard/internal/alarms/application"
	alarms "climate-guard/internal/alarms/domain"
	alarmmemory "climate-guard/internal/alarms/infrastructure/memory"
	alarmpostgres "climate-guard/internal/alarms/infrastructure/postgres"
	"climate-guard/internal/alarms/notify"
	"climate-guard/internal/audit"
	"climate-guard/internal/chirpstack"
	commandapp "climate-guard/internal/commands/application"
	commands "climate-guard/internal/commands/domain"
	commandmemory "climate-guard/internal/commands/infrastructure/memory"
	commandpostgres "climate-guard/internal/commands/infrastructure/postgres"
	"climate-guard/internal/config"
	"climate-guard/internal/storage"
	telemetryapp "climate-guard/internal/telemetry/application"
	"climate-guard/internal/telemetry/decoder"
	telemetry "climate-guard/internal/telemetry/domain"
	"climate-guard/internal/telemetry/infrastructure/influx"
	telemetrymemory "climate-guard/internal/telemetry/infrastructure/memory"
	telemetrypostgres "climate-guard/internal/telemetry/infrastructure/postgres"
	telemetryredis "climate-guard/internal/telemetry/infrastructure/redis"
)

type auditStore interface {
	audit.Logger
	audit.Reader
}

// app holds the wired components shared by the commands.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	db     *sql.DB
	redis  *goredis.Client
	mirror *influx.ReadingMirror

	readings     telemetry.ReadingRepository
	heartbeats   telemetry.HeartbeatRepository
	calibrations telemetry.CalibrationRepository
	statuses     alarms.StatusRepository
	buzzer       alarms.BuzzerRepository
	commandLog   commands.Repository
	audit        auditStore

	dispatcher *commandapp.Dispatcher
	alarms     *alarmapp.Service
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.openStores(ctx); err != nil {
		a.close()
		return nil, err
	}
	if err := a.wireAlarms(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// newStoreApp opens persistence only, for commands that never dispatch.
func newStoreApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.openStores(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStores(ctx context.Context) error {
	switch a.cfg.Storage.Driver {
	case "memory":
		a.logger.Warn("using in-memory storage, state is lost on restart")
		a.readings = telemetrymemory.NewReadingRepository()
		a.heartbeats = telemetrymemory.NewHeartbeatRepository()
		a.calibrations = telemetrymemory.NewCalibrationRepository()
		a.statuses = alarmmemory.NewStatusRepository()
		a.buzzer = alarmmemory.NewBuzzerRepository()
		a.commandLog = commandmemory.NewRepository()
		a.audit = audit.NewMemoryLog()
	default:
		db, err := storage.Open(ctx, a.cfg.Database.URL)
		if err != nil {
			return err
		}
		a.db = db
		a.readings = telemetrypostgres.NewReadingRepository(db)
		a.heartbeats = telemetrypostgres.NewHeartbeatRepository(db)
		a.calibrations = telemetrypostgres.NewCalibrationRepository(db)
		a.statuses = alarmpostgres.NewStatusRepository(db)
		a.buzzer = alarmpostgres.NewBuzzerRepository(db)
		a.commandLog = commandpostgres.NewCommandRepository(db)
		a.audit = audit.NewRepository(db)
	}

	if a.cfg.Redis.Addr != "" {
		a.redis = goredis.NewClient(&goredis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		cache, err := telemetryredis.NewCalibrationCache(a.redis, a.calibrations, a.cfg.Redis.TTL, a.logger)
		if err != nil {
			return err
		}
		a.calibrations = cache
	}

	if a.cfg.Influx.URL != "" {
		mirror, err := influx.NewReadingMirror(a.cfg.Influx.URL, a.cfg.Influx.Token, a.cfg.Influx.Org, a.cfg.Influx.Bucket)
		if err != nil {
			return err
		}
		a.mirror = mirror
	}
	return nil
}

func (a *app) wireAlarms() error {
	client, err := chirpstack.NewClient(a.cfg.ChirpStack.BaseURL, a.cfg.ChirpStack.Token, a.cfg.ChirpStack.Timeout)
	if err != nil {
		return err
	}
	a.dispatcher, err = commandapp.NewDispatcher(client, a.commandLog, a.cfg.Buzzer.FPort, a.logger)
	if err != nil {
		return err
	}

	actuator := alarmapp.Actuator{
		DevEUI:      a.cfg.Buzzer.DevEUI,
		Temperature: alarmapp.CommandPair{On: a.cfg.Buzzer.Commands.Temperature.On, Off: a.cfg.Buzzer.Commands.Temperature.Off},
		Humidity:    alarmapp.CommandPair{On: a.cfg.Buzzer.Commands.Humidity.On, Off: a.cfg.Buzzer.Commands.Humidity.Off},
	}
	opts := []alarmapp.ServiceOption{
		alarmapp.WithThresholds(a.thresholds()),
		alarmapp.WithRetryAfter(a.cfg.Buzzer.RetryAfter),
		alarmapp.WithLogger(a.logger),
	}
	notifier, err := a.notifier()
	if err != nil {
		return err
	}
	if notifier != nil {
		opts = append(opts, alarmapp.WithNotifier(notifier))
	}
	a.alarms, err = alarmapp.NewService(a.statuses, a.buzzer, a.dispatcher, actuator, opts...)
	return err
}

func (a *app) notifier() (*notify.Notifier, error) {
	if a.cfg.Notify.WebhookURL == "" {
		return nil, nil
	}
	var (
		tpl *notify.Template
		err error
	)
	if a.cfg.Notify.TemplateFile != "" {
		tpl, err = notify.LoadTemplateFile(a.cfg.Notify.TemplateFile)
	} else {
		tpl, err = notify.NewTemplate(a.cfg.Notify.Template)
	}
	if err != nil {
		return nil, fmt.Errorf("notify template: %w", err)
	}
	channel, err := notify.NewWebhookChannel(a.cfg.Notify.WebhookURL, notify.WithTimeout(a.cfg.Notify.Timeout))
	if err != nil {
		return nil, err
	}
	return notify.NewNotifier(channel, tpl,
		notify.WithRequestTimeout(a.cfg.Notify.Timeout),
		notify.WithLogger(a.logger),
	)
}

func (a *app) ingestService() (*telemetryapp.IngestService, error) {
	dec, err := decoder.New(a.calibrations)
	if err != nil {
		return nil, err
	}
	opts := []telemetryapp.Option{telemetryapp.WithLogger(a.logger)}
	if a.mirror != nil {
		opts = append(opts, telemetryapp.WithMirror(a.mirror))
	}
	return telemetryapp.NewIngestService(dec, a.readings, a.heartbeats, a.alarms, opts...)
}

func (a *app) thresholds() alarms.Thresholds {
	return alarms.Thresholds{
		Temperature: alarms.Range{Min: a.cfg.Alarm.Temperature.Min, Max: a.cfg.Alarm.Temperature.Max},
		Humidity:    alarms.Range{Min: a.cfg.Alarm.Humidity.Min, Max: a.cfg.Alarm.Humidity.Max},
	}
}

func (a *app) close() {
	if a.mirror != nil {
		a.mirror.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.logger.Sync()
}
