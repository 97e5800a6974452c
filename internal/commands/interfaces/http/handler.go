package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	commands "climate-guard/internal/commands/domain"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Lister returns the most recent commands.
type Lister interface {
	ListRecent(ctx context.Context, limit int) ([]commands.Command, error)
}

// Handler provides the command log endpoint.
type Handler struct {
	lister Lister
}

// NewHandler constructs a handler.
func NewHandler(lister Lister) (*Handler, error) {
	if lister == nil {
		return nil, errors.New("commands handler: nil lister")
	}
	return &Handler{lister: lister}, nil
}

type commandResponse struct {
	CommandID string `json:"command_id"`
	DevEUI    string `json:"dev_eui"`
	Signal    string `json:"signal"`
	Action    string `json:"action"`
	Payload   string `json:"payload"`
	FPort     int    `json:"fport"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ServeHTTP handles GET /api/v1/commands?limit=.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	list, err := h.lister.ListRecent(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]commandResponse, 0, len(list))
	for _, cmd := range list {
		out = append(out, commandResponse{
			CommandID: cmd.CommandID,
			DevEUI:    cmd.DevEUI,
			Signal:    cmd.Signal,
			Action:    cmd.Action,
			Payload:   cmd.Payload,
			FPort:     cmd.FPort,
			Status:    cmd.Status,
			Error:     cmd.Error,
			CreatedAt: cmd.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
