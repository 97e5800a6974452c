package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	alarmhttp "climate-guard/internal/alarms/interfaces/http"
	apihttp "climate-guard/internal/api/http"
	commandhttp "climate-guard/internal/commands/interfaces/http"
	"climate-guard/internal/observability/metrics"
	"climate-guard/internal/storage"
	telemetryapp "climate-guard/internal/telemetry/application"
	"climate-guard/internal/telemetry/interfaces/chirpstack"
	telemetryhttp "climate-guard/internal/telemetry/interfaces/http"
)

const shutdownTimeout = 10 * time.Second

var skipMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook receiver and management API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply database migrations on start")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init(prometheus.DefaultRegisterer)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if a.db != nil && !skipMigrate {
		if err := storage.Migrate(ctx, a.db, logger); err != nil {
			return err
		}
	}

	ingest, err := a.ingestService()
	if err != nil {
		return err
	}
	var (
		processor chirpstack.UplinkProcessor = ingest
		queue     *telemetryapp.QueuedPipeline
	)
	if cfg.Ingest.QueueSize > 0 {
		queue, err = telemetryapp.NewQueuedPipeline(ingest, cfg.Ingest.QueueSize, cfg.Ingest.Workers, logger)
		if err != nil {
			return err
		}
		processor = queue
	}
	webhook, err := chirpstack.NewIngestHandler(processor, logger)
	if err != nil {
		return err
	}

	handler, err := a.router(webhook)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if queue != nil {
		g.Go(func() error { return queue.Run(gctx) })
	}
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *app) router(webhook http.Handler) (http.Handler, error) {
	alarmHandler, err := alarmhttp.NewHandler(a.alarms, a.audit, a.logger)
	if err != nil {
		return nil, err
	}
	telemetryHandler, err := telemetryhttp.NewHandler(a.readings, a.heartbeats, a.calibrations, a.thresholds(),
		telemetryhttp.WithAudit(a.audit),
		telemetryhttp.WithLogger(a.logger),
		telemetryhttp.WithOfflineAfter(a.cfg.Offline.After),
	)
	if err != nil {
		return nil, err
	}
	commandHandler, err := commandhttp.NewHandler(a.dispatcher)
	if err != nil {
		return nil, err
	}
	return apihttp.NewRouter(apihttp.Options{
		Ingest:      webhook,
		IngestToken: a.cfg.Ingest.Token,
		Registrars:  []apihttp.Registrar{alarmHandler, telemetryHandler},
		Commands:    commandHandler,
		Readings:    a.readings,
		Thresholds:  a.thresholds(),
		Audit:       a.audit,
		JWTSecret:   a.cfg.Auth.JWTSecret,
		CORSOrigins: a.cfg.CORS.AllowedOrigins,
		Logger:      a.logger,
	})
}

