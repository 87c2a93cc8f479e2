package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"analysisweb/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Default retry policy
const (
	MaxRetries        = 5
	VisibilityTimeout = 5 * time.Minute
)

// Enqueue adds the dispatch task of a job to dispatch_queue.
func (s *Store) Enqueue(ctx context.Context, tx store.Tx, jobID uuid.UUID, payload json.RawMessage, visibleAfter time.Time) (int64, error) {
	if visibleAfter.IsZero() {
		visibleAfter = time.Now()
	}

	query := `
		INSERT INTO dispatch_queue (job_id, payload, visible_after)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	var id int64
	err := s.getExecutor(tx).QueryRowContext(ctx, query, jobID, payload, visibleAfter).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}

	return id, nil
}

// DequeueBatch claims up to 'limit' available tasks atomically using SELECT ... FOR UPDATE SKIP LOCKED.
// Returns nil slice if no tasks are available.
func (s *Store) DequeueBatch(ctx context.Context, limit int) ([]store.QueueItem, error) {
	if limit <= 0 {
		limit = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, job_id, payload, attempt
		FROM dispatch_queue
		WHERE visible_after <= NOW()
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("batch dequeue query failed: %w", err)
	}
	defer rows.Close()

	var items []store.QueueItem
	var queueIDs []int64

	for rows.Next() {
		var queueID int64
		var item store.QueueItem
		if err := rows.Scan(&queueID, &item.JobID, &item.Payload, &item.Attempt); err != nil {
			return nil, fmt.Errorf("batch dequeue scan failed: %w", err)
		}
		item.Attempt++
		items = append(items, item)
		queueIDs = append(queueIDs, queueID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("batch dequeue rows error: %w", err)
	}

	if len(items) == 0 {
		return nil, nil
	}

	// Hide claimed tasks from other workers and count the attempt
	_, err = tx.ExecContext(ctx, `
		UPDATE dispatch_queue
		SET visible_after = NOW() + ($1 * INTERVAL '1 second'), attempt = attempt + 1
		WHERE id = ANY($2)
	`, VisibilityTimeout.Seconds(), pq.Array(queueIDs))
	if err != nil {
		return nil, fmt.Errorf("batch visibility update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return items, nil
}

// Complete removes a handled task.
func (s *Store) Complete(ctx context.Context, tx store.Tx, jobID uuid.UUID) error {
	_, err := s.getExecutor(tx).ExecContext(ctx, "DELETE FROM dispatch_queue WHERE job_id = $1", jobID)
	return err
}

// Fail handles a failed dispatch with retries.
func (s *Store) Fail(ctx context.Context, tx store.Tx, jobID uuid.UUID, errMsg string) error {
	executor := s.getExecutor(tx)

	var attempt int
	err := executor.QueryRowContext(ctx, "SELECT attempt FROM dispatch_queue WHERE job_id = $1", jobID).Scan(&attempt)

	isFatal := false
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Task not in queue -> treat as fatal/already gone
			isFatal = true
		} else {
			// Return actual DB error to avoid accidentally retrying
			return err
		}
	} else if attempt > MaxRetries {
		isFatal = true
	}

	if !isFatal {
		// RETRY: Exponential Backoff (10s * 2^attempt)
		backoff := time.Duration(10*(1<<attempt)) * time.Second
		_, err = executor.ExecContext(ctx, `
			UPDATE dispatch_queue
			SET visible_after = NOW() + ($1 * INTERVAL '1 second')
			WHERE job_id = $2
		`, backoff.Seconds(), jobID)
		return err
	}

	// permanent failure
	_, err = executor.ExecContext(ctx, `
		INSERT INTO dispatch_dlq (job_id, payload, error_message, attempts)
		SELECT job_id, payload, $1, attempt
		FROM dispatch_queue
		WHERE job_id = $2
		ON CONFLICT (job_id) DO NOTHING
	`, errMsg, jobID)
	if err != nil {
		return fmt.Errorf("failed to move job %s to dlq: %w", jobID, err)
	}

	_, err = executor.ExecContext(ctx, "DELETE FROM dispatch_queue WHERE job_id = $1", jobID)
	if err != nil {
		return fmt.Errorf("failed to delete failed task from queue: %w", err)
	}
	return nil
}

// SetVisibleAfter extends the heartbeat.
func (s *Store) SetVisibleAfter(ctx context.Context, tx store.Tx, jobID uuid.UUID, visibleAfter time.Time) error {
	_, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE dispatch_queue
		SET visible_after = $1
		WHERE job_id = $2
	`, visibleAfter, jobID)
	return err
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dispatch_queue").Scan(&count)
	return count, err
}

// ListDLQ returns dead-lettered tasks, most recent failure first.
func (s *Store) ListDLQ(ctx context.Context, limit int, offset int) ([]store.DLQEntry, error) {
	query := `
		SELECT dlq.id, dlq.job_id, j.label, dlq.payload, dlq.error_message, dlq.attempts, dlq.failed_at
		FROM dispatch_dlq dlq
		JOIN jobs j ON dlq.job_id = j.id
		ORDER BY dlq.failed_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []store.DLQEntry
	for rows.Next() {
		var entry store.DLQEntry
		if err := rows.Scan(
			&entry.ID, &entry.JobID, &entry.JobLabel, &entry.Payload,
			&entry.ErrorMessage, &entry.Attempts, &entry.FailedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// RetryFromDLQ moves a dead-lettered task back to the queue with a fresh
// attempt counter.
func (s *Store) RetryFromDLQ(ctx context.Context, jobID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var payload json.RawMessage
	err = tx.QueryRowContext(ctx, "SELECT payload FROM dispatch_dlq WHERE job_id = $1 FOR UPDATE", jobID).Scan(&payload)
	if err != nil {
		return translate(err)
	}

	if _, err := s.Enqueue(ctx, tx, jobID, payload, time.Now().UTC()); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM dispatch_dlq WHERE job_id = $1", jobID); err != nil {
		return err
	}

	return tx.Commit()
}
