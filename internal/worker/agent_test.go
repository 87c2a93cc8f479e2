package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"analysisweb/internal/store"
	"analysisweb/pkg/api"

	"github.com/google/uuid"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// MockQueue implements store.Queue for testing.
type MockQueue struct {
	mu sync.Mutex

	// DequeueFunc allows customizing DequeueBatch behavior per test.
	DequeueFunc func(ctx context.Context, limit int) ([]store.QueueItem, error)

	// Track method calls
	CompleteCalls  []uuid.UUID
	FailCalls      []FailCall
	HeartbeatCalls int32
}

type FailCall struct {
	JobID  uuid.UUID
	ErrMsg string
}

func (m *MockQueue) Enqueue(ctx context.Context, tx store.Tx, jobID uuid.UUID, payload json.RawMessage, visibleAfter time.Time) (int64, error) {
	return 0, nil
}

func (m *MockQueue) DequeueBatch(ctx context.Context, limit int) ([]store.QueueItem, error) {
	if m.DequeueFunc != nil {
		return m.DequeueFunc(ctx, limit)
	}
	return nil, nil
}

func (m *MockQueue) Complete(ctx context.Context, tx store.Tx, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteCalls = append(m.CompleteCalls, jobID)
	return nil
}

func (m *MockQueue) Fail(ctx context.Context, tx store.Tx, jobID uuid.UUID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailCalls = append(m.FailCalls, FailCall{JobID: jobID, ErrMsg: errMsg})
	return nil
}

func (m *MockQueue) SetVisibleAfter(ctx context.Context, tx store.Tx, jobID uuid.UUID, visibleAfter time.Time) error {
	atomic.AddInt32(&m.HeartbeatCalls, 1)
	return nil
}

func (m *MockQueue) Count(ctx context.Context) (int64, error) {
	return 0, nil
}

func (m *MockQueue) completed() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.CompleteCalls...)
}

func (m *MockQueue) failed() []FailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FailCall(nil), m.FailCalls...)
}

// MockRunner implements dispatch.TaskRunner for testing.
type MockRunner struct {
	RunFunc func(ctx context.Context, task api.DispatchTask) error
}

func (m *MockRunner) Run(ctx context.Context, task api.DispatchTask) error {
	if m.RunFunc != nil {
		return m.RunFunc(ctx, task)
	}
	return nil
}

func queueItem(t *testing.T, jobID uuid.UUID) store.QueueItem {
	t.Helper()
	payload, err := json.Marshal(api.DispatchTask{
		JobID:        jobID.String(),
		BundlePath:   "/data/analysis/a/flow.syx",
		DocumentPath: "/data/job/" + jobID.String() + "/inp.json",
		LogURL:       "http://controller/jobs/" + jobID.String() + "/log",
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return store.QueueItem{JobID: jobID, Payload: payload, Attempt: 1}
}

// onceQueue hands out items on the first dequeue and nothing afterwards.
func onceQueue(items ...store.QueueItem) *MockQueue {
	var calls int32
	return &MockQueue{
		DequeueFunc: func(ctx context.Context, limit int) ([]store.QueueItem, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return items, nil
			}
			return nil, nil
		},
	}
}

func TestNew_Defaults(t *testing.T) {
	agent := New(&MockQueue{}, &MockRunner{}, AgentConfig{Concurrency: -5, PollInterval: -time.Second}, nil)

	if agent.config.Concurrency != 1 {
		t.Errorf("expected default concurrency=1, got %d", agent.config.Concurrency)
	}
	if agent.config.PollInterval != time.Second {
		t.Errorf("expected default poll interval=1s, got %v", agent.config.PollInterval)
	}
	if agent.config.MaxBackoff != 30*time.Second {
		t.Errorf("expected default max backoff=30s, got %v", agent.config.MaxBackoff)
	}
	if agent.config.HeartbeatInterval != 2*time.Minute {
		t.Errorf("expected default heartbeat=2m, got %v", agent.config.HeartbeatInterval)
	}
	if agent.config.VisibilityExtension != 5*time.Minute {
		t.Errorf("expected default visibility extension=5m, got %v", agent.config.VisibilityExtension)
	}

	select {
	case <-agent.Done():
		t.Error("done channel should not be closed initially")
	default:
	}
}

func TestNew_CustomConfig(t *testing.T) {
	agent := New(&MockQueue{}, &MockRunner{}, AgentConfig{
		ID:           "test-agent",
		Concurrency:  5,
		PollInterval: 500 * time.Millisecond,
	}, discardLogger)

	if agent.config.ID != "test-agent" {
		t.Errorf("expected ID='test-agent', got '%s'", agent.config.ID)
	}
	if agent.config.Concurrency != 5 {
		t.Errorf("expected concurrency=5, got %d", agent.config.Concurrency)
	}
	if agent.config.PollInterval != 500*time.Millisecond {
		t.Errorf("expected poll interval=500ms, got %v", agent.config.PollInterval)
	}
}

func TestRun_GracefulShutdown(t *testing.T) {
	agent := New(&MockQueue{}, &MockRunner{}, AgentConfig{PollInterval: 10 * time.Millisecond}, discardLogger)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- agent.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Run() did not exit in time")
	}

	select {
	case <-agent.Done():
	case <-time.After(time.Second):
		t.Error("Done() channel was not closed after shutdown")
	}
}

func TestRun_DequeueErrorKeepsPolling(t *testing.T) {
	var calls int32
	queue := &MockQueue{
		DequeueFunc: func(ctx context.Context, limit int) ([]store.QueueItem, error) {
			atomic.AddInt32(&calls, 1)
			return nil, errors.New("connection refused")
		},
	}

	agent := New(queue, &MockRunner{}, AgentConfig{PollInterval: 5 * time.Millisecond, MaxBackoff: 5 * time.Millisecond}, discardLogger)

	ctx, cancel := context.WithCancel(context.Background())
	go agent.Run(ctx)
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-agent.Done()

	if atomic.LoadInt32(&calls) < 2 {
		t.Errorf("expected repeated polls after errors, got %d", calls)
	}
}

func TestRun_ConcurrencyLimit(t *testing.T) {
	var running, maxConcurrent int32
	var mu sync.Mutex

	queue := &MockQueue{
		DequeueFunc: func(ctx context.Context, limit int) ([]store.QueueItem, error) {
			items := make([]store.QueueItem, 0, limit)
			for i := 0; i < limit; i++ {
				items = append(items, queueItem(t, uuid.New()))
			}
			return items, nil
		},
	}

	runner := &MockRunner{
		RunFunc: func(ctx context.Context, task api.DispatchTask) error {
			current := atomic.AddInt32(&running, 1)
			mu.Lock()
			if current > maxConcurrent {
				maxConcurrent = current
			}
			mu.Unlock()

			time.Sleep(50 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		},
	}

	concurrencyLimit := 3
	agent := New(queue, runner, AgentConfig{
		Concurrency:  concurrencyLimit,
		PollInterval: 10 * time.Millisecond,
	}, discardLogger)

	ctx, cancel := context.WithCancel(context.Background())
	go agent.Run(ctx)

	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case <-agent.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if int(maxConcurrent) > concurrencyLimit {
		t.Errorf("max concurrent tasks=%d exceeded limit=%d", maxConcurrent, concurrencyLimit)
	}
	if maxConcurrent == 0 {
		t.Error("no task was run")
	}
}

func TestRun_GracefulDrainInFlight(t *testing.T) {
	var finished int32
	jobID := uuid.New()
	started := make(chan struct{})

	runner := &MockRunner{
		RunFunc: func(ctx context.Context, task api.DispatchTask) error {
			close(started)
			time.Sleep(150 * time.Millisecond)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			atomic.StoreInt32(&finished, 1)
			return nil
		},
	}

	queue := onceQueue(queueItem(t, jobID))
	agent := New(queue, runner, AgentConfig{PollInterval: 10 * time.Millisecond}, discardLogger)

	ctx, cancel := context.WithCancel(context.Background())
	go agent.Run(ctx)

	<-started
	cancel()

	select {
	case <-agent.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown timeout")
	}

	if atomic.LoadInt32(&finished) != 1 {
		t.Error("in-flight task was not drained")
	}
	if got := queue.completed(); len(got) != 1 || got[0] != jobID {
		t.Errorf("expected completion of %s, got %v", jobID, got)
	}
}

func TestProcessItem_Success(t *testing.T) {
	jobID := uuid.New()
	var got api.DispatchTask

	queue := &MockQueue{}
	agent := New(queue, &MockRunner{
		RunFunc: func(ctx context.Context, task api.DispatchTask) error {
			got = task
			return nil
		},
	}, AgentConfig{}, discardLogger)

	agent.processItem(context.Background(), queueItem(t, jobID))

	if got.JobID != jobID.String() || got.BundlePath != "/data/analysis/a/flow.syx" {
		t.Errorf("runner got unexpected task: %+v", got)
	}
	if c := queue.completed(); len(c) != 1 || c[0] != jobID {
		t.Errorf("expected Complete(%s), got %v", jobID, c)
	}
	if f := queue.failed(); len(f) != 0 {
		t.Errorf("expected no Fail calls, got %v", f)
	}
}

func TestProcessItem_RunnerError(t *testing.T) {
	jobID := uuid.New()
	queue := &MockQueue{}
	agent := New(queue, &MockRunner{
		RunFunc: func(ctx context.Context, task api.DispatchTask) error {
			return errors.New("failed to start analysis: image not found")
		},
	}, AgentConfig{}, discardLogger)

	agent.processItem(context.Background(), queueItem(t, jobID))

	f := queue.failed()
	if len(f) != 1 || f[0].JobID != jobID || f[0].ErrMsg != "failed to start analysis: image not found" {
		t.Errorf("unexpected Fail calls: %+v", f)
	}
	if c := queue.completed(); len(c) != 0 {
		t.Errorf("expected no Complete calls, got %v", c)
	}
}

func TestProcessItem_InvalidPayload(t *testing.T) {
	jobID := uuid.New()
	queue := &MockQueue{}
	ran := false
	agent := New(queue, &MockRunner{
		RunFunc: func(ctx context.Context, task api.DispatchTask) error {
			ran = true
			return nil
		},
	}, AgentConfig{}, discardLogger)

	agent.processItem(context.Background(), store.QueueItem{JobID: jobID, Payload: json.RawMessage(`{not json`)})

	if ran {
		t.Error("runner must not run for an invalid payload")
	}
	if f := queue.failed(); len(f) != 1 || f[0].JobID != jobID {
		t.Errorf("expected one Fail call, got %+v", f)
	}
}

func TestProcessItem_Heartbeat(t *testing.T) {
	queue := &MockQueue{}
	agent := New(queue, &MockRunner{
		RunFunc: func(ctx context.Context, task api.DispatchTask) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}, AgentConfig{HeartbeatInterval: 10 * time.Millisecond}, discardLogger)

	agent.processItem(context.Background(), queueItem(t, uuid.New()))

	if n := atomic.LoadInt32(&queue.HeartbeatCalls); n < 2 {
		t.Errorf("expected heartbeats while running, got %d", n)
	}
}

func TestProcessItem_CancelledPollContextDoesNotCancelRun(t *testing.T) {
	queue := &MockQueue{}
	var runErr error
	agent := New(queue, &MockRunner{
		RunFunc: func(ctx context.Context, task api.DispatchTask) error {
			runErr = ctx.Err()
			return nil
		},
	}, AgentConfig{}, discardLogger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	agent.processItem(ctx, queueItem(t, uuid.New()))

	if runErr != nil {
		t.Errorf("run context was cancelled: %v", runErr)
	}
	if len(queue.completed()) != 1 {
		t.Error("expected the task to complete")
	}
}
