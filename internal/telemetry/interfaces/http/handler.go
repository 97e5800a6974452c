package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	alarms "climate-guard/internal/alarms/domain"
	"climate-guard/internal/audit"
	"climate-guard/internal/observability/logging"
	telemetry "climate-guard/internal/telemetry/domain"
)

const timeLayout = time.RFC3339

// Handler serves reading, device activity and calibration endpoints.
type Handler struct {
	readings     telemetry.ReadingRepository
	heartbeats   telemetry.HeartbeatRepository
	calibrations telemetry.CalibrationRepository
	thresholds   alarms.Thresholds
	offlineAfter time.Duration
	audit        audit.Logger
	logger       *zap.Logger
	now          func() time.Time
}

// Option configures Handler.
type Option func(*Handler)

// WithAudit records calibration edits.
func WithAudit(logger audit.Logger) Option {
	return func(h *Handler) {
		h.audit = logger
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		h.logger = logging.OrNop(logger)
	}
}

// WithOfflineAfter sets the default offline threshold.
func WithOfflineAfter(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.offlineAfter = d
		}
	}
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a handler. calibrations should be the cache-fronted
// repository so writes invalidate cached entries.
func NewHandler(readings telemetry.ReadingRepository, heartbeats telemetry.HeartbeatRepository, calibrations telemetry.CalibrationRepository, thresholds alarms.Thresholds, opts ...Option) (*Handler, error) {
	if readings == nil {
		return nil, errors.New("telemetry handler: nil reading repository")
	}
	if heartbeats == nil {
		return nil, errors.New("telemetry handler: nil heartbeat repository")
	}
	if calibrations == nil {
		return nil, errors.New("telemetry handler: nil calibration repository")
	}
	h := &Handler{
		readings:     readings,
		heartbeats:   heartbeats,
		calibrations: calibrations,
		thresholds:   thresholds,
		offlineAfter: 2 * time.Hour,
		logger:       zap.NewNop(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/v1/readings/latest", h.handleLatest).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/devices/offline", h.handleOffline).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/calibrations", h.handleListCalibrations).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/calibrations/{devEUI}", h.handleGetCalibration).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/calibrations/{devEUI}", h.handlePutCalibration).Methods(http.MethodPut)
}

type readingResponse struct {
	DevEUI      string  `json:"dev_eui"`
	DeviceName  string  `json:"device_name"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	ObservedAt  string  `json:"observed_at"`
	WithinRange bool    `json:"within_range"`
}

type activityResponse struct {
	DevEUI     string `json:"dev_eui"`
	DeviceName string `json:"device_name"`
	LastSeen   string `json:"last_seen"`
}

type calibrationResponse struct {
	DevEUI            string  `json:"dev_eui"`
	TemperatureOffset float64 `json:"temperature_offset"`
	HumidityOffset    float64 `json:"humidity_offset"`
	UpdatedAt         string  `json:"updated_at,omitempty"`
}

type calibrationRequest struct {
	TemperatureOffset *float64 `json:"temperature_offset"`
	HumidityOffset    *float64 `json:"humidity_offset"`
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	readings, err := h.readings.Latest(r.Context())
	if err != nil {
		http.Error(w, "query latest readings error", http.StatusInternalServerError)
		return
	}
	out := make([]readingResponse, 0, len(readings))
	for _, rd := range readings {
		eval := h.thresholds.Evaluate(rd.Temperature, rd.Humidity)
		out = append(out, readingResponse{
			DevEUI:      rd.DevEUI,
			DeviceName:  rd.DeviceName,
			Temperature: rd.Temperature,
			Humidity:    rd.Humidity,
			ObservedAt:  rd.ObservedAt.UTC().Format(timeLayout),
			WithinRange: !eval.TemperatureAlarm && !eval.HumidityAlarm,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleOffline(w http.ResponseWriter, r *http.Request) {
	after := h.offlineAfter
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid after duration", http.StatusBadRequest)
			return
		}
		after = parsed
	}
	readings, err := h.readings.Latest(r.Context())
	if err != nil {
		http.Error(w, "query latest readings error", http.StatusInternalServerError)
		return
	}
	heartbeats, err := h.heartbeats.LatestByDevice(r.Context())
	if err != nil {
		http.Error(w, "query heartbeats error", http.StatusInternalServerError)
		return
	}
	offline := telemetry.Offline(telemetry.MergeActivity(readings, heartbeats), h.now(), after)
	out := make([]activityResponse, 0, len(offline))
	for _, a := range offline {
		out = append(out, activityResponse{
			DevEUI:     a.DevEUI,
			DeviceName: a.DeviceName,
			LastSeen:   a.LastSeen.UTC().Format(timeLayout),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleListCalibrations(w http.ResponseWriter, r *http.Request) {
	list, err := h.calibrations.List(r.Context())
	if err != nil {
		http.Error(w, "list calibrations error", http.StatusInternalServerError)
		return
	}
	out := make([]calibrationResponse, 0, len(list))
	for _, c := range list {
		out = append(out, toCalibration(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetCalibration(w http.ResponseWriter, r *http.Request) {
	devEUI := strings.ToLower(mux.Vars(r)["devEUI"])
	cal, err := h.calibrations.Get(r.Context(), devEUI)
	if err != nil {
		http.Error(w, "load calibration error", http.StatusInternalServerError)
		return
	}
	if cal == nil {
		http.Error(w, "calibration not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toCalibration(*cal))
}

func (h *Handler) handlePutCalibration(w http.ResponseWriter, r *http.Request) {
	devEUI := strings.ToLower(mux.Vars(r)["devEUI"])
	if !validDevEUI(devEUI) {
		http.Error(w, "dev_eui must be 16 hex characters", http.StatusBadRequest)
		return
	}
	var req calibrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TemperatureOffset == nil || req.HumidityOffset == nil {
		http.Error(w, "temperature_offset and humidity_offset are required", http.StatusBadRequest)
		return
	}
	cal := telemetry.Calibration{
		DevEUI:            devEUI,
		TemperatureOffset: *req.TemperatureOffset,
		HumidityOffset:    *req.HumidityOffset,
		UpdatedAt:         h.now(),
	}
	if err := h.calibrations.Upsert(r.Context(), cal); err != nil {
		http.Error(w, "save calibration error", http.StatusInternalServerError)
		return
	}
	if h.audit != nil {
		if err := h.audit.Log(r.Context(), audit.FromRequest(r, "calibration.upsert", "calibration", devEUI, req)); err != nil {
			h.logger.Warn("audit write failed", zap.String("action", "calibration.upsert"), zap.String("dev_eui", devEUI), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, toCalibration(cal))
}

func toCalibration(c telemetry.Calibration) calibrationResponse {
	out := calibrationResponse{
		DevEUI:            c.DevEUI,
		TemperatureOffset: c.TemperatureOffset,
		HumidityOffset:    c.HumidityOffset,
	}
	if !c.UpdatedAt.IsZero() {
		out.UpdatedAt = c.UpdatedAt.UTC().Format(timeLayout)
	}
	return out
}

func validDevEUI(v string) bool {
	if len(v) != 16 {
		return false
	}
	for _, c := range v {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
