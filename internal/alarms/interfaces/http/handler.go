package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	alarmapp "climate-guard/internal/alarms/application"
	alarms "climate-guard/internal/alarms/domain"
	"climate-guard/internal/audit"
	"climate-guard/internal/observability/logging"
)

const timeLayout = time.RFC3339

// Service is the subset of the alarm service the handler uses.
type Service interface {
	ListStatuses(ctx context.Context) ([]alarms.Status, error)
	State(ctx context.Context) (alarms.FleetBuzzerState, error)
	Override(ctx context.Context, signal alarms.Signal, active bool) (alarms.SignalState, error)
	Reconcile(ctx context.Context) error
}

var _ Service = (*alarmapp.Service)(nil)

// Handler provides alarm and buzzer endpoints.
type Handler struct {
	service Service
	audit   audit.Logger
	logger  *zap.Logger
}

// NewHandler constructs a handler. auditLogger and logger may be nil.
func NewHandler(service Service, auditLogger audit.Logger, logger *zap.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alarms handler: nil service")
	}
	return &Handler{service: service, audit: auditLogger, logger: logging.OrNop(logger)}, nil
}

// Register mounts the routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/v1/alarms", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/buzzer", h.handleState).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/buzzer/reconcile", h.handleReconcile).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/buzzer/{signal}", h.handleOverride).Methods(http.MethodPut)
}

type statusResponse struct {
	DevEUI                string `json:"dev_eui"`
	TemperatureAlarm      bool   `json:"temperature_alarm"`
	HumidityAlarm         bool   `json:"humidity_alarm"`
	TemperatureObservedAt string `json:"temperature_observed_at,omitempty"`
	HumidityObservedAt    string `json:"humidity_observed_at,omitempty"`
	UpdatedAt             string `json:"updated_at"`
}

type signalStateResponse struct {
	Signal    string `json:"signal"`
	State     string `json:"state"`
	Active    bool   `json:"active"`
	Version   int64  `json:"version"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type buzzerResponse struct {
	Temperature signalStateResponse `json:"temperature"`
	Humidity    signalStateResponse `json:"humidity"`
}

type overrideRequest struct {
	Active *bool `json:"active"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.service.ListStatuses(r.Context())
	if err != nil {
		http.Error(w, "list alarm statuses error", http.StatusInternalServerError)
		return
	}
	out := make([]statusResponse, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, statusResponse{
			DevEUI:                s.DevEUI,
			TemperatureAlarm:      s.TemperatureAlarm,
			HumidityAlarm:         s.HumidityAlarm,
			TemperatureObservedAt: formatTime(s.TemperatureObservedAt),
			HumidityObservedAt:    formatTime(s.HumidityObservedAt),
			UpdatedAt:             formatTime(s.UpdatedAt),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.State(r.Context())
	if err != nil {
		http.Error(w, "load buzzer state error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, buzzerResponse{
		Temperature: toSignalState(state.Temperature),
		Humidity:    toSignalState(state.Humidity),
	})
}

func (h *Handler) handleOverride(w http.ResponseWriter, r *http.Request) {
	signal, err := alarms.ParseSignal(mux.Vars(r)["signal"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		http.Error(w, "body must be {\"active\": bool}", http.StatusBadRequest)
		return
	}
	state, err := h.service.Override(r.Context(), signal, *req.Active)
	if err != nil {
		if errors.Is(err, alarms.ErrConflict) {
			http.Error(w, "buzzer state changed concurrently, retry", http.StatusConflict)
			return
		}
		http.Error(w, "override error", http.StatusInternalServerError)
		return
	}
	if h.audit != nil {
		if err := h.audit.Log(r.Context(), audit.FromRequest(r, "buzzer.override", "buzzer", string(signal), req)); err != nil {
			h.logger.Warn("audit write failed", zap.String("action", "buzzer.override"), zap.String("signal", string(signal)), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, toSignalState(state))
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Reconcile(r.Context()); err != nil {
		http.Error(w, "reconcile error: "+err.Error(), http.StatusBadGateway)
		return
	}
	h.handleState(w, r)
}

func toSignalState(s alarms.SignalState) signalStateResponse {
	return signalStateResponse{
		Signal:    string(s.Signal),
		State:     string(s.State),
		Active:    s.ConfirmedActive(),
		Version:   s.Version,
		UpdatedAt: formatTime(s.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
