package runtime

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// runToEnd starts opts, reads the whole output and waits for the exit.
func runToEnd(t *testing.T, rt *ExecRuntime, opts StartOptions) (ExitResult, string) {
	t.Helper()
	ctx := context.Background()

	handle, err := rt.Start(ctx, opts)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	reader, err := handle.StreamLogs(ctx)
	if err != nil {
		t.Fatalf("StreamLogs failed: %v", err)
	}
	defer reader.Close()

	out, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	return result, string(out)
}

func TestNewExecRuntime_WorkDir(t *testing.T) {
	if rt := NewExecRuntime(""); rt.WorkDir != filepath.Join(os.TempDir(), "analysisweb", "runner") {
		t.Errorf("unexpected default WorkDir %s", rt.WorkDir)
	}
	if rt := NewExecRuntime("/srv/runner"); rt.WorkDir != "/srv/runner" {
		t.Errorf("unexpected WorkDir %s", rt.WorkDir)
	}
}

func TestExecRuntime_Run(t *testing.T) {
	tests := []struct {
		name     string
		opts     StartOptions
		exitCode int
		output   []string
	}{
		{
			name:   "success",
			opts:   StartOptions{Command: []string{"echo", "hello world"}},
			output: []string{"hello world"},
		},
		{
			name:     "non-zero exit",
			opts:     StartOptions{Command: []string{"sh", "-c", "echo failing; exit 3"}},
			exitCode: 3,
			output:   []string{"failing"},
		},
		{
			name: "environment",
			opts: StartOptions{
				Command: []string{"sh", "-c", "echo $" + EnvJobID + " $ANALYSISWEB_TEST_VAR"},
				Env:     map[string]string{EnvJobID: "job-1", "ANALYSISWEB_TEST_VAR": "custom-value"},
			},
			output: []string{"job-1 custom-value"},
		},
		{
			name:   "stderr and late output",
			opts:   StartOptions{Command: []string{"sh", "-c", "echo one; echo two >&2; sleep 0.1; echo three"}},
			output: []string{"one", "two", "three"},
		},
		{
			name:   "image ignored",
			opts:   StartOptions{Image: "analysis:latest", Command: []string{"echo", "works"}},
			output: []string{"works"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, out := runToEnd(t, NewExecRuntime(t.TempDir()), tt.opts)
			if result.ExitCode != tt.exitCode {
				t.Errorf("exit code = %d, want %d", result.ExitCode, tt.exitCode)
			}
			if result.Error != nil {
				t.Errorf("unexpected result error %v", result.Error)
			}
			for _, want := range tt.output {
				if !strings.Contains(out, want) {
					t.Errorf("expected output to contain %q, got %q", want, out)
				}
			}
		})
	}
}

func TestExecRuntime_StartErrors(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	if _, err := rt.Start(context.Background(), StartOptions{}); err == nil || !strings.Contains(err.Error(), "command is required") {
		t.Errorf("expected a missing command error, got %v", err)
	}
	if _, err := rt.Start(context.Background(), StartOptions{Command: []string{"nonexistent-binary-xyz"}}); err == nil {
		t.Error("expected an error for a missing executable")
	}
}

func TestExecRuntime_WorkDirs(t *testing.T) {
	t.Run("per job under the runtime dir", func(t *testing.T) {
		base := t.TempDir()
		runToEnd(t, NewExecRuntime(base), StartOptions{
			Command: []string{"true"},
			Env:     map[string]string{EnvJobID: "job-42"},
		})
		if _, err := os.Stat(filepath.Join(base, "job-42")); err != nil {
			t.Errorf("work directory was not created: %v", err)
		}
	})

	t.Run("given dir", func(t *testing.T) {
		dir := t.TempDir()
		_, out := runToEnd(t, NewExecRuntime(t.TempDir()), StartOptions{Command: []string{"pwd"}, WorkDir: dir})

		want, _ := filepath.EvalSymlinks(dir)
		got, _ := filepath.EvalSymlinks(strings.TrimSpace(out))
		if got != want {
			t.Errorf("expected working directory %s, got %s", want, got)
		}
	})
}

func TestExecHandle_WaitContextDone(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	handle, err := NewExecRuntime(t.TempDir()).Start(ctx, StartOptions{Command: []string{"sleep", "10"}})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	result, err := handle.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	if result.ExitCode != -1 {
		t.Errorf("expected exit code -1, got %d", result.ExitCode)
	}
}

func TestExecHandle_Stop(t *testing.T) {
	ctx := context.Background()
	handle, err := NewExecRuntime(t.TempDir()).Start(ctx, StartOptions{Command: []string{"sleep", "30"}})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := handle.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if result.ExitCode == 0 {
		t.Error("a stopped process should not report success")
	}
	// Stopping an exited process is a no-op.
	if err := handle.Stop(ctx); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

func TestOutputReader_CloseUnblocks(t *testing.T) {
	buf := newOutputBuffer()
	buf.Write([]byte("partial"))

	r := buf.NewReader(context.Background())
	p := make([]byte, 64)
	n, err := r.Read(p)
	if err != nil || string(p[:n]) != "partial" {
		t.Fatalf("unexpected read %q %v", p[:n], err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := r.Read(p)
		done <- err
	}()
	r.Close()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled after Close, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not return after Close")
	}
}
