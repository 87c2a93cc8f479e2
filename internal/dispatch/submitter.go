package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"analysisweb/internal/store"
	"analysisweb/pkg/api"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/time/rate"
)

// TaskSubmitter hands a task to the asynchronous execution layer. Submit
// returns once the task is accepted; it never waits for the execution.
type TaskSubmitter interface {
	Submit(ctx context.Context, task api.DispatchTask) error
}

// TaskRunner executes a task to completion.
type TaskRunner interface {
	Run(ctx context.Context, task api.DispatchTask) error
}

// QueueSubmitter enqueues tasks in the dispatch queue consumed by workers.
type QueueSubmitter struct {
	queue store.Queue
}

func NewQueueSubmitter(q store.Queue) *QueueSubmitter {
	return &QueueSubmitter{queue: q}
}

// Submit serializes the task with the caller's trace context and enqueues it.
func (s *QueueSubmitter) Submit(ctx context.Context, task api.DispatchTask) error {
	jobID, err := uuid.Parse(task.JobID)
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", task.JobID, err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	task.Trace = carrier

	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}

	if _, err := s.queue.Enqueue(ctx, nil, jobID, payload, time.Now()); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}
	return nil
}

// ErrPoolClosed is returned by PoolSubmitter.Submit after Close.
var ErrPoolClosed = errors.New("dispatch pool is closed")

// PoolConfig configures a PoolSubmitter.
type PoolConfig struct {
	Concurrency int
	// Rate limits task starts per second. Zero means unlimited.
	Rate  float64
	Burst int
}

// PoolSubmitter runs tasks in-process on a bounded goroutine pool.
type PoolSubmitter struct {
	runner  TaskRunner
	limiter *rate.Limiter
	sem     chan struct{}
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewPoolSubmitter(runner TaskRunner, cfg PoolConfig, logger *slog.Logger) *PoolSubmitter {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &PoolSubmitter{
		runner:  runner,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		sem:     make(chan struct{}, cfg.Concurrency),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit schedules the task and returns immediately. The task does not
// inherit ctx: it keeps running after the submitting request has ended.
func (p *PoolSubmitter) Submit(ctx context.Context, task api.DispatchTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		if err := p.limiter.Wait(p.ctx); err != nil {
			p.logger.Warn("dispatch cancelled before start", "job_id", task.JobID, "error", err)
			return
		}

		select {
		case p.sem <- struct{}{}:
		case <-p.ctx.Done():
			return
		}
		defer func() { <-p.sem }()

		if err := p.runner.Run(p.ctx, task); err != nil {
			p.logger.Error("dispatch task failed", "job_id", task.JobID, "error", err)
		}
	}()
	return nil
}

// Close stops accepting tasks and waits for running ones until ctx is done,
// then cancels them.
func (p *PoolSubmitter) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
