// Package runtime provides the Runtime interface for the backends that run
// the analysis executable.
package runtime

import (
	"context"
	"io"
)

// Runtime defines the interface for executing analysis commands.
// Implementations include raw processes, Docker and Kubernetes.
type Runtime interface {
	// Start begins execution of a command and returns a handle.
	Start(ctx context.Context, opts StartOptions) (Handle, error)
}

// StartOptions contains the parameters for starting a command.
type StartOptions struct {
	// Image is the container image. Ignored by the exec runtime.
	Image   string
	Command []string
	Env     map[string]string

	// WorkDir is the working directory of the command, usually the job
	// directory holding the dispatch document.
	WorkDir string

	// DataDir is the artifact tree. Container runtimes mount it at the same
	// path so the absolute paths of the dispatch document resolve.
	DataDir string
}

// ExitResult is the outcome of a finished command.
type ExitResult struct {
	ExitCode int
	Error    error
}

// Handle represents a running command.
type Handle interface {
	// Wait blocks until the command completes.
	Wait(ctx context.Context) (ExitResult, error)

	// Stop forcefully terminates the command.
	Stop(ctx context.Context) error

	// StreamLogs returns a reader over the combined stdout and stderr.
	// The reader reaches EOF when the command exits.
	StreamLogs(ctx context.Context) (io.ReadCloser, error)
}
