package chirpstack

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"climate-guard/internal/observability/logging"
	"climate-guard/internal/observability/metrics"
	telemetryapp "climate-guard/internal/telemetry/application"
	telemetry "climate-guard/internal/telemetry/domain"
)

const maxBodyBytes = 1 << 20

// EventKind is the network-server event named by the ?event= query parameter.
type EventKind string

const (
	EventUplink  EventKind = "up"
	EventJoin    EventKind = "join"
	EventAck     EventKind = "ack"
	EventTxAck   EventKind = "txack"
	EventUnknown EventKind = "unknown"
)

// ParseEventKind classifies the query value.
func ParseEventKind(value string) EventKind {
	switch EventKind(strings.ToLower(strings.TrimSpace(value))) {
	case EventUplink:
		return EventUplink
	case EventJoin:
		return EventJoin
	case EventAck:
		return EventAck
	case EventTxAck:
		return EventTxAck
	default:
		return EventUnknown
	}
}

// UplinkProcessor runs the pipeline for one uplink.
type UplinkProcessor interface {
	Process(ctx context.Context, up telemetryapp.Uplink) (telemetryapp.Outcome, error)
}

// IngestHandler is the HTTP integration endpoint. It answers 200 to every
// POST so the network server never retries.
type IngestHandler struct {
	processor UplinkProcessor
	logger    *zap.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(processor UplinkProcessor, logger *zap.Logger) (*IngestHandler, error) {
	if processor == nil {
		return nil, errors.New("chirpstack ingest: nil processor")
	}
	return &IngestHandler{processor: processor, logger: logging.OrNop(logger)}, nil
}

// ServeHTTP handles POST /ingest/chirpstack?event=<kind>.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	kind := ParseEventKind(r.URL.Query().Get("event"))
	if kind != EventUplink {
		_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, maxBodyBytes))
		metrics.IncIngestEvent(string(kind), metrics.ResultSuccess)
		h.logger.Info("network server event acknowledged", zap.String("event", string(kind)))
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.dropEnvelope(w, fmt.Errorf("%w: read body: %v", telemetry.ErrTransportDecode, err))
		return
	}
	up, err := DecodeUplink(body)
	if err != nil {
		h.dropEnvelope(w, err)
		return
	}

	outcome, err := h.processor.Process(r.Context(), up)
	if err != nil {
		h.logger.Error("uplink processing failed",
			zap.String("dev_eui", up.DevEUI),
			zap.String("outcome", string(outcome)),
			zap.Error(err))
	}
	w.WriteHeader(http.StatusOK)
}

func (h *IngestHandler) dropEnvelope(w http.ResponseWriter, err error) {
	metrics.IncIngestEvent(string(EventUplink), metrics.ResultDropped)
	metrics.IncDecodeError("transport")
	h.logger.Warn("uplink envelope dropped", zap.Error(err))
	w.WriteHeader(http.StatusOK)
}

type uplinkEnvelope struct {
	DevEUI      string `json:"devEUI"`
	DeviceName  string `json:"deviceName"`
	Data        string `json:"data"`
	PublishedAt string `json:"publishedAt"`
}

// DecodeUplink parses the JSON uplink body. devEUI and data are base64; the
// DevEUI is returned as lowercase hex. A missing or unparseable publishedAt
// yields a zero time.
func DecodeUplink(body []byte) (telemetryapp.Uplink, error) {
	var env uplinkEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return telemetryapp.Uplink{}, fmt.Errorf("%w: %v", telemetry.ErrTransportDecode, err)
	}
	if env.DevEUI == "" {
		return telemetryapp.Uplink{}, fmt.Errorf("%w: missing devEUI", telemetry.ErrTransportDecode)
	}
	eui, err := base64.StdEncoding.DecodeString(env.DevEUI)
	if err != nil {
		return telemetryapp.Uplink{}, fmt.Errorf("%w: devEUI: %v", telemetry.ErrTransportDecode, err)
	}
	payload, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return telemetryapp.Uplink{}, fmt.Errorf("%w: data: %v", telemetry.ErrTransportDecode, err)
	}
	var publishedAt time.Time
	if env.PublishedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, env.PublishedAt); err == nil {
			publishedAt = ts.UTC()
		}
	}
	return telemetryapp.Uplink{
		DevEUI:      hex.EncodeToString(eui),
		DeviceName:  env.DeviceName,
		Payload:     payload,
		PublishedAt: publishedAt,
	}, nil
}
