package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"climate-guard/internal/observability/logging"
	"climate-guard/internal/observability/metrics"
)

// Middleware validates JWTs and enforces RBAC.
type Middleware struct {
	Secret []byte
	Policy Policy
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{Secret: secret, Policy: policy}
}

// Wrap applies auth and RBAC to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		required, ok := m.Policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := ParseJWT(extractBearer(r), m.Secret)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		role, _ := NormalizeRole(claims.Role)
		if !RoleAtLeast(role, required) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), role, claims.Subject)))
	})
}

// IngestTokenMiddleware guards the network-server webhook with a shared
// token sent as a bearer header or a ?token= query parameter. An empty token
// disables the check. Rejected events are dropped with 200 so the network
// server does not queue retries for them.
type IngestTokenMiddleware struct {
	Token  string
	Logger *zap.Logger
}

// NewIngestTokenMiddleware constructs the webhook guard.
func NewIngestTokenMiddleware(token string, logger *zap.Logger) *IngestTokenMiddleware {
	return &IngestTokenMiddleware{Token: token, Logger: logging.OrNop(logger)}
}

// Wrap enforces the shared token.
func (m *IngestTokenMiddleware) Wrap(next http.Handler) http.Handler {
	if m == nil || m.Token == "" {
		return next
	}
	logger := logging.OrNop(m.Logger)
	expected := []byte(m.Token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := extractBearer(r)
		if presented == "" {
			presented = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			event := r.URL.Query().Get("event")
			metrics.IncIngestEvent(event, metrics.ResultDropped)
			logger.Warn("ingest token rejected, event dropped",
				zap.String("event", event),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Bool("token_present", presented != ""),
			)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearer(r *http.Request) string {
	if r == nil {
		return ""
	}
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
