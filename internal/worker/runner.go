package worker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"analysisweb/internal/worker/runtime"
	"analysisweb/pkg/api"

	"github.com/avast/retry-go"
)

// LogField is the multipart field the execution log is posted under.
const LogField = "log"

var logTemplate = template.Must(template.New("log").Parse(
	"<html>\n<body>\n<code>\n{{range .}}{{.}}<br>\n{{end}}</code>\n</body>\n</html>\n"))

// RenderLog writes the output lines as an HTML page, one line per <br>.
func RenderLog(w io.Writer, lines []string) error {
	return logTemplate.Execute(w, lines)
}

// RunnerConfig configures how the analysis executable is run.
type RunnerConfig struct {
	// Executable runs a bundle: <Shell> <Executable> <bundle> <document>.
	Executable string
	// Shell prefixes the command when set.
	Shell string
	// Image is the container image of the docker and kubernetes runtimes.
	Image string
	// DataDir is the artifact tree shared with the controller.
	DataDir string
	// Timeout bounds one execution. Zero means 30 minutes.
	Timeout time.Duration

	// InternalSecret authenticates the log callback.
	InternalSecret string
	// PostAttempts and PostDelay control retries of the log callback.
	PostAttempts uint
	PostDelay    time.Duration
}

// Runner executes a dispatch task and posts the execution log to the
// controller, which completes the job. It implements dispatch.TaskRunner.
type Runner struct {
	runtime    runtime.Runtime
	config     RunnerConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRunner creates a runner on top of rt.
func NewRunner(rt runtime.Runtime, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if cfg.PostAttempts == 0 {
		cfg.PostAttempts = 5
	}
	if cfg.PostDelay <= 0 {
		cfg.PostDelay = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		runtime:    rt,
		config:     cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// Command returns the command line that runs the task's bundle.
func (r *Runner) Command(task api.DispatchTask) []string {
	var cmd []string
	if r.config.Shell != "" {
		cmd = append(cmd, r.config.Shell)
	}
	return append(cmd, r.config.Executable, task.BundlePath, task.DocumentPath)
}

// Run executes the task to completion. A non-zero exit status or a timeout
// is recorded in the log and is not an error: the log is posted either way.
// Errors are returned when the command cannot be run or the log cannot be
// delivered.
func (r *Runner) Run(ctx context.Context, task api.DispatchTask) error {
	log := r.logger.With("job_id", task.JobID)

	lines, err := r.execute(ctx, task, log)
	if err != nil {
		return err
	}

	var page bytes.Buffer
	if err := RenderLog(&page, lines); err != nil {
		return fmt.Errorf("failed to render log: %w", err)
	}
	if err := r.postLog(ctx, task.LogURL, page.Bytes()); err != nil {
		return fmt.Errorf("failed to post log for job %s: %w", task.JobID, err)
	}
	log.Info("job log delivered", "lines", len(lines))
	return nil
}

func (r *Runner) execute(ctx context.Context, task api.DispatchTask, log *slog.Logger) ([]string, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	handle, err := r.runtime.Start(runCtx, runtime.StartOptions{
		Image:   r.config.Image,
		Command: r.Command(task),
		Env:     map[string]string{runtime.EnvJobID: task.JobID},
		WorkDir: task.WorkDir,
		DataDir: r.config.DataDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start analysis: %w", err)
	}
	log.Info("analysis started")

	var (
		wg     sync.WaitGroup
		output []string
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		output = collectLines(runCtx, handle, log)
	}()

	result, err := handle.Wait(runCtx)
	if err != nil && runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := handle.Stop(stopCtx); err != nil {
			log.Warn("failed to stop timed out analysis", "error", err)
		}
		wg.Wait()
		log.Warn("analysis timed out", "timeout", r.config.Timeout)
		return append(output, fmt.Sprintf("analysis timed out after %v", r.config.Timeout)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed waiting for analysis: %w", err)
	}
	wg.Wait()

	if result.ExitCode != 0 {
		msg := fmt.Sprintf("exit status %d", result.ExitCode)
		if result.Error != nil {
			msg = fmt.Sprintf("%s: %v", msg, result.Error)
		}
		output = append(output, msg)
	}
	log.Info("analysis finished", "exit_code", result.ExitCode)
	return output, nil
}

// maxOutputLine bounds a single line of analysis output.
const maxOutputLine = 1024 * 1024

func collectLines(ctx context.Context, handle runtime.Handle, log *slog.Logger) []string {
	rc, err := handle.StreamLogs(ctx)
	if err != nil {
		log.Warn("failed to get output stream", "error", err)
		return nil
	}
	if rc == nil {
		return nil
	}
	defer rc.Close()

	var lines []string
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), maxOutputLine)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("output stream interrupted", "error", err)
		if errors.Is(err, bufio.ErrTooLong) {
			lines = append(lines, fmt.Sprintf("[output truncated: line longer than %d bytes]", maxOutputLine))
		} else {
			lines = append(lines, fmt.Sprintf("[output truncated: %v]", err))
		}
	}
	return lines
}

// permanentError marks callback failures that a retry cannot fix.
type permanentError struct {
	status int
	body   string
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("controller returned status %d: %s", e.status, e.body)
}

func (r *Runner) postLog(ctx context.Context, url string, page []byte) error {
	return retry.Do(
		func() error { return r.sendLog(ctx, url, page) },
		retry.Context(ctx),
		retry.Attempts(r.config.PostAttempts),
		retry.Delay(r.config.PostDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var perm *permanentError
			return !errors.As(err, &perm)
		}),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn("log callback failed, retrying", "attempt", n+1, "error", err)
		}),
	)
}

func (r *Runner) sendLog(ctx context.Context, url string, page []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(LogField, "log.html")
	if err != nil {
		return err
	}
	if _, err := fw.Write(page); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return &permanentError{body: err.Error()}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if r.config.InternalSecret != "" {
		req.Header.Set("Authorization", "Bearer "+r.config.InternalSecret)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return &permanentError{status: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	return fmt.Errorf("controller returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}
