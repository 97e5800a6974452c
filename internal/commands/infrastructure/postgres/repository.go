package postgres

import (
	"context"
	"database/sql"
	"errors"

	commands "climate-guard/internal/commands/domain"
)

// CommandRepository is a Postgres implementation of the command log.
type CommandRepository struct {
	db *sql.DB
}

// NewCommandRepository constructs a repository.
func NewCommandRepository(db *sql.DB) *CommandRepository {
	return &CommandRepository{db: db}
}

// Create inserts a command.
func (r *CommandRepository) Create(ctx context.Context, cmd *commands.Command) error {
	if r == nil || r.db == nil {
		return errors.New("command repo: nil db")
	}
	if cmd == nil {
		return errors.New("command repo: nil command")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO commands (
	command_id, dev_eui, signal, action, payload, fport, status, error, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9
)
ON CONFLICT (command_id) DO NOTHING`,
		cmd.CommandID, cmd.DevEUI, cmd.Signal, cmd.Action, cmd.Payload, cmd.FPort, cmd.Status,
		sql.NullString{String: cmd.Error, Valid: cmd.Error != ""}, cmd.CreatedAt)
	return err
}

// ListRecent returns up to limit commands, newest first.
func (r *CommandRepository) ListRecent(ctx context.Context, limit int) ([]commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT command_id, dev_eui, signal, action, payload, fport, status, error, created_at
FROM commands
ORDER BY created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commands.Command
	for rows.Next() {
		var cmd commands.Command
		var errText sql.NullString
		if err := rows.Scan(&cmd.CommandID, &cmd.DevEUI, &cmd.Signal, &cmd.Action, &cmd.Payload, &cmd.FPort, &cmd.Status, &errText, &cmd.CreatedAt); err != nil {
			return nil, err
		}
		cmd.Error = errText.String
		cmd.CreatedAt = cmd.CreatedAt.UTC()
		out = append(out, cmd)
	}
	return out, rows.Err()
}
