package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "analysisweb"

// Ingestion outcomes reported on analysisweb.jobs.ingestions.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)

// Instruments are the service level counters. A nil *Instruments is valid
// and records nothing.
type Instruments struct {
	jobsCreated      metric.Int64Counter
	ingestions       metric.Int64Counter
	dispatchFailures metric.Int64Counter
}

// NewInstruments registers the service counters on the global meter provider.
func NewInstruments() (*Instruments, error) {
	meter := otel.Meter(meterName)

	jobsCreated, err := meter.Int64Counter("analysisweb.jobs.created",
		metric.WithDescription("Jobs accepted and handed to dispatch"))
	if err != nil {
		return nil, fmt.Errorf("failed to create jobs counter: %w", err)
	}

	ingestions, err := meter.Int64Counter("analysisweb.jobs.ingestions",
		metric.WithDescription("Output, report and log callbacks by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestion counter: %w", err)
	}

	dispatchFailures, err := meter.Int64Counter("analysisweb.dispatch.failures",
		metric.WithDescription("Jobs whose dispatch submission failed"))
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch failure counter: %w", err)
	}

	return &Instruments{
		jobsCreated:      jobsCreated,
		ingestions:       ingestions,
		dispatchFailures: dispatchFailures,
	}, nil
}

func (i *Instruments) JobCreated(ctx context.Context) {
	if i == nil {
		return
	}
	i.jobsCreated.Add(ctx, 1)
}

// Ingestion records a callback of the given kind (output, report, log).
func (i *Instruments) Ingestion(ctx context.Context, kind string, err error) {
	if i == nil {
		return
	}
	outcome := OutcomeAccepted
	if err != nil {
		outcome = OutcomeRejected
	}
	i.ingestions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func (i *Instruments) DispatchFailed(ctx context.Context) {
	if i == nil {
		return
	}
	i.dispatchFailures.Add(ctx, 1)
}

// RegisterQueueDepth exposes the dispatch queue depth as an observable gauge,
// queried only when the metrics endpoint is scraped.
func RegisterQueueDepth(count func(context.Context) (int64, error), logger *slog.Logger) error {
	meter := otel.Meter(meterName)
	_, err := meter.Int64ObservableGauge("analysisweb.dispatch.queue.depth",
		metric.WithDescription("Current number of tasks in the dispatch queue"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			n, err := count(ctx)
			if err != nil {
				// a failed count must not break the scrape
				logger.Warn("failed to count dispatch queue depth", "error", err)
				return nil
			}
			obs.Observe(n)
			return nil
		}),
	)
	return err
}
