package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Subject", SubjectFromContext(r.Context()))
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	mw := NewMiddleware([]byte("test-secret"), NewDefaultPolicy(nil, nil))
	rec := serve(mw.Wrap(okHandler), http.MethodGet, "/api/v1/buzzer", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_RoleChecks(t *testing.T) {
	secret := []byte("test-secret")
	viewer, err := IssueToken(secret, "user-1", RoleViewer, time.Hour)
	require.NoError(t, err)
	operator, err := IssueToken(secret, "user-2", RoleOperator, time.Hour)
	require.NoError(t, err)
	admin, err := IssueToken(secret, "user-3", RoleAdmin, time.Hour)
	require.NoError(t, err)

	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler)

	cases := []struct {
		name   string
		method string
		target string
		token  string
		want   int
	}{
		{"viewer reads buzzer", http.MethodGet, "/api/v1/buzzer", viewer, http.StatusOK},
		{"viewer cannot override", http.MethodPut, "/api/v1/buzzer/temperature", viewer, http.StatusForbidden},
		{"operator cannot override", http.MethodPut, "/api/v1/buzzer/temperature", operator, http.StatusForbidden},
		{"admin overrides", http.MethodPut, "/api/v1/buzzer/temperature", admin, http.StatusOK},
		{"viewer cannot calibrate", http.MethodPut, "/api/v1/calibrations/a1", viewer, http.StatusForbidden},
		{"operator calibrates", http.MethodPut, "/api/v1/calibrations/a1", operator, http.StatusOK},
		{"viewer exports", http.MethodGet, "/api/v1/readings/export.xlsx", viewer, http.StatusOK},
		{"garbage token", http.MethodGet, "/api/v1/alarms", "not-a-jwt", http.StatusUnauthorized},
		{"non api path", http.MethodGet, "/other", "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(handler, tc.method, tc.target, tc.token)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestAuthMiddleware_IdentityInContext(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueToken(secret, "user-9", RoleViewer, time.Hour)
	require.NoError(t, err)
	rec := serve(NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler), http.MethodGet, "/api/v1/alarms", token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-9", rec.Header().Get("X-Subject"))
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueToken(secret, "user-1", RoleAdmin, -time.Minute)
	require.NoError(t, err)
	rec := serve(NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler), http.MethodGet, "/api/v1/alarms", token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_Exempt(t *testing.T) {
	mw := NewMiddleware([]byte("s"), NewDefaultPolicy([]string{"/healthz"}, []string{"/ingest/"}))
	assert.Equal(t, http.StatusOK, serve(mw.Wrap(okHandler), http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, serve(mw.Wrap(okHandler), http.MethodPost, "/ingest/chirpstack", "").Code)
}

func TestIngestTokenMiddleware(t *testing.T) {
	handler := NewIngestTokenMiddleware("hook-secret", nil).Wrap(okHandler)
	assert.Equal(t, http.StatusOK, serve(handler, http.MethodPost, "/ingest/chirpstack?event=up", "hook-secret").Code)
	assert.Equal(t, http.StatusOK, serve(handler, http.MethodPost, "/ingest/chirpstack?event=up&token=hook-secret", "").Code)

	open := NewIngestTokenMiddleware("", nil).Wrap(okHandler)
	assert.Equal(t, http.StatusOK, serve(open, http.MethodPost, "/ingest/chirpstack?event=up", "").Code)
}

func TestIngestTokenMiddleware_BadTokenIsDroppedWith200(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	reached := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached++
		w.WriteHeader(http.StatusOK)
	})
	handler := NewIngestTokenMiddleware("hook-secret", zap.New(core)).Wrap(next)

	for _, token := range []string{"", "wrong"} {
		rec := serve(handler, http.MethodPost, "/ingest/chirpstack?event=up", token)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 0, reached)

	entries := logs.FilterMessage("ingest token rejected, event dropped").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "up", entries[0].ContextMap()["event"])
	assert.Equal(t, false, entries[0].ContextMap()["token_present"])
	assert.Equal(t, true, entries[1].ContextMap()["token_present"])
}

func TestIssueToken_InvalidRole(t *testing.T) {
	_, err := IssueToken([]byte("s"), "u", Role("root"), time.Hour)
	assert.Error(t, err)
}
