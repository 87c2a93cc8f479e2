package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Queue defines the interface for dispatch queue operations.
// Implementations must use SELECT ... FOR UPDATE SKIP LOCKED semantics.
type Queue interface {
	// Enqueue adds a dispatch task for a job to the queue.
	Enqueue(ctx context.Context, tx Tx, jobID uuid.UUID, payload json.RawMessage, visibleAfter time.Time) (int64, error)

	// DequeueBatch claims up to 'limit' available tasks atomically.
	// Returns nil slice if queue is empty.
	DequeueBatch(ctx context.Context, limit int) ([]QueueItem, error)

	// Complete removes a handled task from the queue.
	Complete(ctx context.Context, tx Tx, jobID uuid.UUID) error

	// Fail schedules a retry, or moves the task to the dead letter queue
	// once retries are exhausted.
	Fail(ctx context.Context, tx Tx, jobID uuid.UUID, errMsg string) error

	// SetVisibleAfter extends the visibility timeout (heartbeat).
	SetVisibleAfter(ctx context.Context, tx Tx, jobID uuid.UUID, visibleAfter time.Time) error

	// Count tracks count of items in queue
	Count(ctx context.Context) (int64, error)
}

// DeadLetters gives access to tasks that exhausted their retries.
type DeadLetters interface {
	ListDLQ(ctx context.Context, limit int, offset int) ([]DLQEntry, error)

	// RetryFromDLQ moves the task for jobID back to the queue.
	RetryFromDLQ(ctx context.Context, jobID uuid.UUID) error
}

// QueueItem represents a dequeued dispatch task.
type QueueItem struct {
	JobID   uuid.UUID
	Payload json.RawMessage
	Attempt int
}

// DLQEntry is a dispatch task that permanently failed.
type DLQEntry struct {
	ID           int64
	JobID        uuid.UUID
	JobLabel     string
	Payload      json.RawMessage
	ErrorMessage *string
	Attempts     int
	FailedAt     *time.Time
}
