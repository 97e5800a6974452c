package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	alarms "climate-guard/internal/alarms/domain"
	"climate-guard/internal/audit"
)

type stubService struct {
	state     alarms.FleetBuzzerState
	statuses  []alarms.Status
	overrides []alarms.Signal
	err       error
}

func (s *stubService) ListStatuses(context.Context) ([]alarms.Status, error) {
	return s.statuses, nil
}

func (s *stubService) State(context.Context) (alarms.FleetBuzzerState, error) {
	return s.state, nil
}

func (s *stubService) Override(_ context.Context, signal alarms.Signal, active bool) (alarms.SignalState, error) {
	if s.err != nil {
		return alarms.SignalState{}, s.err
	}
	s.overrides = append(s.overrides, signal)
	state := alarms.BuzzerInactive
	if active {
		state = alarms.BuzzerActive
	}
	return alarms.SignalState{Signal: signal, State: state, Version: 1}, nil
}

func (s *stubService) Reconcile(context.Context) error { return nil }

func newRouter(t *testing.T, svc Service, log audit.Logger) *mux.Router {
	t.Helper()
	h, err := NewHandler(svc, log, nil)
	require.NoError(t, err)
	r := mux.NewRouter()
	h.Register(r)
	return r
}

func TestHandler_State(t *testing.T) {
	svc := &stubService{state: alarms.FleetBuzzerState{
		Temperature: alarms.SignalState{Signal: alarms.SignalTemperature, State: alarms.BuzzerPendingInactive, Version: 3},
		Humidity:    alarms.SignalState{Signal: alarms.SignalHumidity, State: alarms.BuzzerInactive},
	}}
	rec := httptest.NewRecorder()
	newRouter(t, svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/buzzer", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body buzzerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "pending_inactive", body.Temperature.State)
	assert.True(t, body.Temperature.Active)
	assert.Equal(t, int64(3), body.Temperature.Version)
	assert.False(t, body.Humidity.Active)
}

func TestHandler_ListStatuses(t *testing.T) {
	svc := &stubService{statuses: []alarms.Status{{DevEUI: "a1", HumidityAlarm: true, UpdatedAt: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}}}
	rec := httptest.NewRecorder()
	newRouter(t, svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alarms", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"dev_eui":"a1","temperature_alarm":false,"humidity_alarm":true,"updated_at":"2024-03-01T08:00:00Z"}]`, rec.Body.String())
}

func TestHandler_Override(t *testing.T) {
	svc := &stubService{}
	log := audit.NewMemoryLog()
	router := newRouter(t, svc, log)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/buzzer/humidity", strings.NewReader(`{"active":true}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []alarms.Signal{alarms.SignalHumidity}, svc.overrides)

	entries, err := log.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "buzzer.override", entries[0].Action)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/buzzer/pressure", strings.NewReader(`{"active":true}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/buzzer/humidity", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_OverrideConflict(t *testing.T) {
	svc := &stubService{err: alarms.ErrConflict}
	rec := httptest.NewRecorder()
	newRouter(t, svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/buzzer/temperature", strings.NewReader(`{"active":false}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

type failingAudit struct{}

func (failingAudit) Log(context.Context, audit.Entry) error {
	return errors.New("audit table missing")
}

func TestHandler_OverrideAuditFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	h, err := NewHandler(&stubService{}, failingAudit{}, zap.New(core))
	require.NoError(t, err)
	r := mux.NewRouter()
	h.Register(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/buzzer/temperature", strings.NewReader(`{"active":true}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	entries := logs.FilterMessage("audit write failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "buzzer.override", entries[0].ContextMap()["action"])
	assert.Equal(t, "audit table missing", entries[0].ContextMap()["error"])
}
