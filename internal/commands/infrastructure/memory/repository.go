package memory

import (
	"context"
	"errors"
	"sync"

	commands "climate-guard/internal/commands/domain"
)

// Repository is an in-memory command log.
type Repository struct {
	mu       sync.Mutex
	commands []commands.Command
}

// NewRepository constructs an empty repository.
func NewRepository() *Repository {
	return &Repository{}
}

// Create appends cmd.
func (r *Repository) Create(_ context.Context, cmd *commands.Command) error {
	if cmd == nil {
		return errors.New("command repo: nil command")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, *cmd)
	return nil
}

// ListRecent returns up to limit commands, newest first.
func (r *Repository) ListRecent(_ context.Context, limit int) ([]commands.Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]commands.Command, 0, min(limit, len(r.commands)))
	for i := len(r.commands) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.commands[i])
	}
	return out, nil
}
