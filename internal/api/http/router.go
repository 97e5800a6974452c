package apihttp

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	alarms "climate-guard/internal/alarms/domain"
	"climate-guard/internal/audit"
	"climate-guard/internal/auth"
	"climate-guard/internal/observability/logging"
	telemetry "climate-guard/internal/telemetry/domain"
)

// IngestPath is the network-server webhook endpoint.
const IngestPath = "/ingest/chirpstack"

// Registrar mounts its routes on a router.
type Registrar interface {
	Register(r *mux.Router)
}

// Options carries the handlers and settings for NewRouter.
type Options struct {
	Ingest      http.Handler
	IngestToken string
	Registrars  []Registrar
	Commands    http.Handler
	Readings    telemetry.ReadingRepository
	Thresholds  alarms.Thresholds
	Audit       audit.Reader
	JWTSecret   string
	CORSOrigins []string
	Metrics     http.Handler
	Logger      *zap.Logger
}

// NewRouter builds the service HTTP handler.
func NewRouter(opts Options) (http.Handler, error) {
	if opts.Ingest == nil {
		return nil, errors.New("router: nil ingest handler")
	}
	logger := logging.OrNop(opts.Logger)

	r := mux.NewRouter()
	metricsHandler := opts.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle(IngestPath, auth.NewIngestTokenMiddleware(opts.IngestToken, logger).Wrap(opts.Ingest))

	for _, reg := range opts.Registrars {
		if reg != nil {
			reg.Register(r)
		}
	}
	if opts.Commands != nil {
		r.Handle("/api/v1/commands", opts.Commands)
	}
	if opts.Readings != nil {
		for _, format := range []ExportFormat{ExportXLSX, ExportPDF} {
			h, err := NewReadingsExportHandler(opts.Readings, opts.Thresholds, format)
			if err != nil {
				return nil, err
			}
			r.Handle("/api/v1/readings/export."+string(format), h)
		}
	}
	if opts.Audit != nil {
		r.Handle("/api/v1/audit", NewAuditHandler(opts.Audit))
	}

	var handler http.Handler = r
	if opts.JWTSecret != "" {
		policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics", IngestPath}, nil)
		handler = auth.NewMiddleware([]byte(opts.JWTSecret), policy).Wrap(handler)
	} else {
		logger.Warn("auth.jwt_secret not set, management API is unauthenticated")
	}
	if len(opts.CORSOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
		}).Handler(handler)
	}
	return loggingMiddleware(handler, logger), nil
}
