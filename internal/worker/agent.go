// Package worker runs dispatched analysis jobs: the Agent pulls tasks from
// the dispatch queue and the Runner executes them.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"analysisweb/internal/dispatch"
	"analysisweb/internal/store"
	"analysisweb/pkg/api"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID                  string
	Concurrency         int
	PollInterval        time.Duration
	MaxBackoff          time.Duration // Maximum backoff when queue is empty (default: 30s)
	HeartbeatInterval   time.Duration // Interval between heartbeat calls (default: 2m)
	VisibilityExtension time.Duration // How long to extend visibility on heartbeat (default: 5m)
}

// Agent is the main worker agent that runs the pull-loop for job execution.
type Agent struct {
	queue  store.Queue
	runner dispatch.TaskRunner
	config AgentConfig
	logger *slog.Logger
	done   chan struct{}
}

// New creates a new worker agent.
func New(q store.Queue, runner dispatch.TaskRunner, config AgentConfig, logger *slog.Logger) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}

	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}

	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}

	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 2 * time.Minute
	}

	if config.VisibilityExtension <= 0 {
		config.VisibilityExtension = 5 * time.Minute
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Agent{
		queue:  q,
		runner: runner,
		config: config,
		logger: logger.With("agent", config.ID),
		done:   make(chan struct{}),
	}
}

// Run starts the main pull-loop. It blocks until the context is cancelled.
// On SIGTERM, it stops dequeuing new work and allows in-flight tasks to finish.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent starting", "concurrency", a.config.Concurrency)

	// Semaphore to limit concurrency
	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	// Channel to signal when a slot becomes available (adaptive polling)
	pollNow := make(chan struct{}, 1)

	// Current backoff duration (increases on empty queue, resets on work found)
	currentBackoff := a.config.PollInterval

	// Helper to trigger immediate non-blocking re-poll
	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
			// Already a poll pending
		}
	}

	// Initial poll
	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("context cancelled, waiting for running tasks to finish")
			wg.Wait()
			close(a.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			availableSlots := a.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			items, err := a.queue.DequeueBatch(ctx, availableSlots)
			if err != nil {
				a.logger.Error("dequeue failed", "error", err)
				continue
			}

			if len(items) == 0 {
				// Empty queue - increase backoff (exponential, capped at MaxBackoff)
				currentBackoff = currentBackoff * 2
				if currentBackoff > a.config.MaxBackoff {
					currentBackoff = a.config.MaxBackoff
				}
				continue
			}

			// Found work - reset backoff to minimum
			currentBackoff = a.config.PollInterval

			a.logger.Info("claimed dispatch tasks", "count", len(items))

			for _, item := range items {
				sem <- struct{}{}

				wg.Add(1)
				go func(item store.QueueItem) {
					defer wg.Done()
					defer func() {
						<-sem
						// A slot is free again
						triggerPoll()
					}()
					a.processItem(ctx, item)
				}(item)
			}

			// If we got tasks and there are still slots available, poll again immediately
			if len(items) < availableSlots {
				triggerPoll()
			}
		}
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// processItem runs a single task that has already been dequeued.
func (a *Agent) processItem(ctx context.Context, item store.QueueItem) {
	log := a.logger.With("job_id", item.JobID, "attempt", item.Attempt)

	var task api.DispatchTask
	if err := json.Unmarshal(item.Payload, &task); err != nil {
		log.Error("invalid task payload", "error", err)
		a.fail(log, item.JobID, fmt.Sprintf("Invalid payload: %v", err))
		return
	}

	traceCtx := ctx
	if task.Trace != nil {
		traceCtx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(task.Trace))
	}

	tracer := otel.Tracer("worker-agent")
	spanCtx, span := tracer.Start(traceCtx, "process_job",
		trace.WithAttributes(
			attribute.String("job.id", task.JobID),
			attribute.String("job.bundle", task.BundlePath),
			attribute.Int("dispatch.attempt", item.Attempt),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	log.Info("processing task")

	// In-flight tasks are drained on shutdown, so the run does not inherit
	// the cancellation of the poll context.
	runCtx := context.WithoutCancel(spanCtx)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(context.Background())
	defer cancelHeartbeat()
	go a.runHeartbeat(heartbeatCtx, item.JobID, log)

	if err := a.runner.Run(runCtx, task); err != nil {
		span.RecordError(err)
		log.Error("task failed", "error", err)
		a.fail(log, item.JobID, err.Error())
		return
	}

	if err := a.queue.Complete(context.Background(), nil, item.JobID); err != nil {
		log.Error("failed to complete task", "error", err)
		return
	}
	log.Info("task completed")
}

func (a *Agent) fail(log *slog.Logger, jobID uuid.UUID, msg string) {
	if err := a.queue.Fail(context.Background(), nil, jobID, msg); err != nil {
		log.Error("failed to record task failure", "error", err)
	}
}

// runHeartbeat refreshes the visibility timeout periodically while a task is running.
// This prevents long-running tasks from being picked up by another worker.
func (a *Agent) runHeartbeat(ctx context.Context, jobID uuid.UUID, log *slog.Logger) {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			visibleAfter := time.Now().Add(a.config.VisibilityExtension)
			if err := a.queue.SetVisibleAfter(context.Background(), nil, jobID, visibleAfter); err != nil {
				log.Warn("heartbeat failed", "error", err)
			}
		}
	}
}
