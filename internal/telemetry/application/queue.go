package application

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"climate-guard/internal/observability/logging"
	"climate-guard/internal/observability/metrics"
)

// Processor handles one uplink.
type Processor interface {
	Process(ctx context.Context, up Uplink) (Outcome, error)
}

// QueuedPipeline decouples webhook acknowledgement from processing with a
// bounded queue drained by a fixed worker pool. When the queue is full the
// uplink is processed on the caller's goroutine.
type QueuedPipeline struct {
	next    Processor
	queue   chan Uplink
	workers int
	logger  *zap.Logger
}

// NewQueuedPipeline constructs a pipeline with the given capacity and workers.
func NewQueuedPipeline(next Processor, size, workers int, logger *zap.Logger) (*QueuedPipeline, error) {
	if next == nil {
		return nil, errors.New("ingest queue: nil processor")
	}
	if size <= 0 {
		return nil, errors.New("ingest queue: size must be positive")
	}
	if workers <= 0 {
		workers = 1
	}
	return &QueuedPipeline{
		next:    next,
		queue:   make(chan Uplink, size),
		workers: workers,
		logger:  logging.OrNop(logger),
	}, nil
}

// Process enqueues up. The returned outcome is empty when the uplink was queued.
func (p *QueuedPipeline) Process(ctx context.Context, up Uplink) (Outcome, error) {
	select {
	case p.queue <- up:
		metrics.SetQueueDepth(len(p.queue))
		return "", nil
	default:
		p.logger.Warn("ingest queue full, processing inline", zap.String("dev_eui", up.DevEUI))
		return p.next.Process(ctx, up)
	}
}

// Run drains the queue until ctx is cancelled, then finishes queued uplinks.
func (p *QueuedPipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case up := <-p.queue:
					p.handle(up)
				case <-gctx.Done():
					p.drain()
					return nil
				}
			}
		})
	}
	return g.Wait()
}

func (p *QueuedPipeline) drain() {
	for {
		select {
		case up := <-p.queue:
			p.handle(up)
		default:
			return
		}
	}
}

// handle runs detached from the request context, which is gone by now.
func (p *QueuedPipeline) handle(up Uplink) {
	metrics.SetQueueDepth(len(p.queue))
	outcome, err := p.next.Process(context.Background(), up)
	if err != nil {
		p.logger.Error("queued uplink failed",
			zap.String("dev_eui", up.DevEUI),
			zap.String("outcome", string(outcome)),
			zap.Error(err))
	}
}
