package application

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	commands "climate-guard/internal/commands/domain"
	"climate-guard/internal/observability/logging"
	"climate-guard/internal/observability/metrics"
)

// DownlinkQueue enqueues a downlink on the network server.
type DownlinkQueue interface {
	Enqueue(ctx context.Context, devEUI, payload string, fPort int, confirmed bool) error
}

// Request is a single actuator command.
type Request struct {
	DevEUI  string
	Payload string
	Signal  string
	Action  string
}

// Dispatcher submits confirmed downlinks on a fixed port and records them.
type Dispatcher struct {
	queue  DownlinkQueue
	repo   commands.Repository
	fPort  int
	logger *zap.Logger
	now    func() time.Time
}

// NewDispatcher constructs a dispatcher. repo may be nil.
func NewDispatcher(queue DownlinkQueue, repo commands.Repository, fPort int, logger *zap.Logger) (*Dispatcher, error) {
	if queue == nil {
		return nil, errors.New("commands: nil downlink queue")
	}
	if fPort <= 0 {
		return nil, errors.New("commands: invalid fport")
	}
	return &Dispatcher{
		queue:  queue,
		repo:   repo,
		fPort:  fPort,
		logger: logging.OrNop(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Dispatch enqueues req. A nil error means the API accepted the item.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) error {
	if req.DevEUI == "" || req.Payload == "" {
		return errors.New("commands: dev_eui and payload required")
	}
	start := time.Now()
	err := d.queue.Enqueue(ctx, req.DevEUI, req.Payload, d.fPort, true)

	now := d.now()
	cmd := &commands.Command{
		CommandID: buildCommandID(req, now),
		DevEUI:    req.DevEUI,
		Signal:    req.Signal,
		Action:    req.Action,
		Payload:   req.Payload,
		FPort:     d.fPort,
		Status:    commands.StatusSent,
		CreatedAt: now,
	}
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
		cmd.Status = commands.StatusFailed
		cmd.Error = err.Error()
	}
	metrics.ObserveCommand(result, time.Since(start))
	d.record(ctx, cmd)

	if err != nil {
		d.logger.Error("downlink rejected",
			zap.String("dev_eui", req.DevEUI),
			zap.String("signal", req.Signal),
			zap.String("action", req.Action),
			zap.Error(err))
		return fmt.Errorf("%w: %v", commands.ErrDispatch, err)
	}
	d.logger.Info("downlink queued",
		zap.String("dev_eui", req.DevEUI),
		zap.String("signal", req.Signal),
		zap.String("action", req.Action),
		zap.String("command_id", cmd.CommandID))
	return nil
}

// ListRecent returns the command log, newest first.
func (d *Dispatcher) ListRecent(ctx context.Context, limit int) ([]commands.Command, error) {
	if d.repo == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return d.repo.ListRecent(ctx, limit)
}

func (d *Dispatcher) record(ctx context.Context, cmd *commands.Command) {
	if d.repo == nil {
		return
	}
	if err := d.repo.Create(ctx, cmd); err != nil {
		d.logger.Warn("command log write failed", zap.String("command_id", cmd.CommandID), zap.Error(err))
	}
}

func buildCommandID(req Request, at time.Time) string {
	sum := sha1.Sum([]byte(req.DevEUI + "|" + req.Signal + "|" + req.Action + "|" + at.Format(time.RFC3339Nano)))
	return "cmd-" + hex.EncodeToString(sum[:8])
}
