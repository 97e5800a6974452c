package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	alarms "climate-guard/internal/alarms/domain"
	"climate-guard/internal/audit"
	telemetry "climate-guard/internal/telemetry/domain"
)

const (
	timeLayout = time.RFC3339
	maxRange   = 31 * 24 * time.Hour
)

// ExportFormat selects the export renderer.
type ExportFormat string

const (
	ExportXLSX ExportFormat = "xlsx"
	ExportPDF  ExportFormat = "pdf"
)

// ReadingsExportHandler serves reading exports for a time range.
type ReadingsExportHandler struct {
	readings   telemetry.ReadingRepository
	thresholds alarms.Thresholds
	format     ExportFormat
}

// NewReadingsExportHandler constructs a ReadingsExportHandler.
func NewReadingsExportHandler(readings telemetry.ReadingRepository, thresholds alarms.Thresholds, format ExportFormat) (*ReadingsExportHandler, error) {
	if readings == nil {
		return nil, errors.New("export handler: nil reading repository")
	}
	if format != ExportXLSX && format != ExportPDF {
		return nil, errors.New("export handler: unknown format " + string(format))
	}
	return &ReadingsExportHandler{readings: readings, thresholds: thresholds, format: format}, nil
}

// ServeHTTP handles GET /api/v1/readings/export.{xlsx,pdf}?dev_eui=&from=&to=.
func (h *ReadingsExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}
	if to.Sub(from) > maxRange {
		http.Error(w, "range must not exceed 31 days", http.StatusBadRequest)
		return
	}
	devEUIs := parseDevEUIs(r)

	readings, err := h.readings.Range(r.Context(), devEUIs, from, to)
	if err != nil {
		http.Error(w, "query readings error", http.StatusInternalServerError)
		return
	}
	report := ReadingsReport{From: from, To: to, DevEUIs: devEUIs, Thresholds: h.thresholds, Readings: readings}

	var (
		body        []byte
		contentType string
	)
	switch h.format {
	case ExportPDF:
		body, err = BuildReadingsPDF(report)
		contentType = "application/pdf"
	default:
		body, err = BuildReadingsXLSX(report)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		http.Error(w, "render export error", http.StatusInternalServerError)
		return
	}
	filename := "readings-" + from.Format("20060102") + "-" + to.Format("20060102") + "." + string(h.format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(body)
}

// AuditHandler lists audit entries.
type AuditHandler struct {
	reader audit.Reader
}

// NewAuditHandler constructs an AuditHandler.
func NewAuditHandler(reader audit.Reader) *AuditHandler {
	return &AuditHandler{reader: reader}
}

// ServeHTTP handles GET /api/v1/audit?limit=.
func (h *AuditHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.reader == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			http.Error(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	entries, err := h.reader.List(r.Context(), limit)
	if err != nil {
		http.Error(w, "query audit error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

// parseDevEUIs accepts repeated or comma separated dev_eui parameters.
func parseDevEUIs(r *http.Request) []string {
	var out []string
	for _, raw := range r.URL.Query()["dev_eui"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
