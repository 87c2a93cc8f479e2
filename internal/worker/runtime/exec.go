package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// EnvJobID names the job a command runs for.
const EnvJobID = "ANALYSISWEB_JOB_ID"

// ExecRuntime implements the Runtime interface using raw OS processes.
// This is the runtime of single-host deployments and of development.
type ExecRuntime struct {
	// WorkDir is the parent of per-job scratch directories, used when
	// StartOptions.WorkDir is empty.
	WorkDir string
}

// NewExecRuntime creates a new process-based runtime.
func NewExecRuntime(workDir string) *ExecRuntime {
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "analysisweb", "runner")
	}
	return &ExecRuntime{WorkDir: workDir}
}

// ExecHandle is a running process.
type ExecHandle struct {
	cmd    *exec.Cmd
	output *outputBuffer
	done   chan struct{}
	result ExitResult
}

// Start implements Runtime.Start using os/exec.
func (e *ExecRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("command is required")
	}

	dir := opts.WorkDir
	if dir == "" {
		name := opts.Env[EnvJobID]
		if name == "" {
			name = fmt.Sprintf("run-%d", time.Now().UnixNano())
		}
		dir = filepath.Join(e.WorkDir, name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory %s: %w", dir, err)
	}

	cmd := exec.CommandContext(ctx, opts.Command[0], opts.Command[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 5 * time.Second

	output := newOutputBuffer()
	cmd.Stdout = output
	cmd.Stderr = output

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", opts.Command[0], err)
	}

	h := &ExecHandle{cmd: cmd, output: output, done: make(chan struct{})}
	go h.wait()
	return h, nil
}

func (h *ExecHandle) wait() {
	err := h.cmd.Wait()
	h.output.Close()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		h.result = ExitResult{ExitCode: 0}
	case errors.As(err, &exitErr):
		h.result = ExitResult{ExitCode: exitErr.ExitCode()}
	default:
		h.result = ExitResult{ExitCode: -1, Error: err}
	}
	close(h.done)
}

// Wait blocks until the process exits or ctx is done.
func (h *ExecHandle) Wait(ctx context.Context) (ExitResult, error) {
	select {
	case <-h.done:
		if ctx.Err() != nil {
			return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
		}
		return h.result, nil
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}
}

// Stop sends SIGTERM and kills the process if it is still running when ctx
// is done.
func (h *ExecHandle) Stop(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		<-h.done
		return nil
	}
}

// StreamLogs returns a reader that follows the process output from the
// beginning.
func (h *ExecHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	return h.output.NewReader(ctx), nil
}

// outputBuffer collects process output and lets readers follow it until
// the process exits. Writers never block on slow readers.
type outputBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	data   []byte
	closed bool
}

func newOutputBuffer() *outputBuffer {
	b := &outputBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	b.cond.Broadcast()
	return len(p), nil
}

func (b *outputBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

func (b *outputBuffer) NewReader(ctx context.Context) io.ReadCloser {
	r := &outputReader{buf: b}
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		r.cancelled = true
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	r.stop = stop
	return r
}

type outputReader struct {
	buf       *outputBuffer
	off       int
	cancelled bool
	stop      func() bool
}

func (r *outputReader) Read(p []byte) (int, error) {
	b := r.buf
	b.mu.Lock()
	defer b.mu.Unlock()

	for r.off >= len(b.data) && !b.closed && !r.cancelled {
		b.cond.Wait()
	}
	if r.off < len(b.data) {
		n := copy(p, b.data[r.off:])
		r.off += n
		return n, nil
	}
	if r.cancelled {
		return 0, context.Canceled
	}
	return 0, io.EOF
}

func (r *outputReader) Close() error {
	r.stop()
	r.buf.mu.Lock()
	r.cancelled = true
	r.buf.cond.Broadcast()
	r.buf.mu.Unlock()
	return nil
}
