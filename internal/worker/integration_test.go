package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"analysisweb/internal/artifacts"
	"analysisweb/internal/controller"
	"analysisweb/internal/controller/handlers"
	"analysisweb/internal/dispatch"
	"analysisweb/internal/service"
	"analysisweb/internal/store"
	"analysisweb/internal/store/memory"
	"analysisweb/internal/worker/runtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

// TestInProcessDispatch runs a job end to end: the pool submitter hands the
// task to the runner, the exec runtime runs the executable, and the log is
// posted to the controller over HTTP, completing the job.
func TestInProcessDispatch(t *testing.T) {
	const secret = "s3cret"
	ctx := context.Background()

	st, err := memory.New()
	require.NoError(t, err)
	layout, err := artifacts.NewLayout(t.TempDir())
	require.NoError(t, err)

	script := filepath.Join(t.TempDir(), "run.sh")
	require.NoError(t, os.WriteFile(script, []byte("echo \"running $(basename $1)\"\ncat \"$2\"\necho\nexit 3\n"), 0o644))

	var root http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		root.ServeHTTP(w, r)
	}))
	defer srv.Close()

	runner := NewRunner(runtime.NewExecRuntime(t.TempDir()), RunnerConfig{
		Executable:     script,
		Shell:          "sh",
		DataDir:        layout.Root,
		Timeout:        10 * time.Second,
		InternalSecret: secret,
		PostDelay:      10 * time.Millisecond,
	}, discardLogger)
	pool := dispatch.NewPoolSubmitter(runner, dispatch.PoolConfig{Concurrency: 2}, discardLogger)
	defer pool.Close(ctx)

	svc := service.New(st, pool, service.Config{
		Layout:    layout,
		Callbacks: dispatch.Callbacks{BaseURL: srv.URL},
	}, nil, discardLogger)
	root = controller.New(handlers.New(svc, st, nil, discardLogger), controller.Options{InternalSecret: secret}).Handler()

	analysis, err := svc.CreateAnalysis(ctx, service.AnalysisForm{
		Label:   ptr("echo"),
		Inputs:  []string{"{'label': 'threshold', 'type': 'value'}"},
		Outputs: []string{},
		Files:   artifacts.Uploads{artifacts.FromBytes("bundle", "echo.syx", []byte("<flow/>"))},
	})
	require.NoError(t, err)

	job, err := svc.CreateJob(ctx, service.JobForm{
		Label:      ptr("run"),
		AnalysisID: ptr(analysis.ID.String()),
		Inputs:     []string{"0.25"},
	})
	require.NoError(t, err)

	var done *store.Job
	require.Eventually(t, func() bool {
		j, err := svc.GetJob(ctx, job.ID.String())
		if err != nil || j.Status != store.JobStatusCompleted {
			return false
		}
		done = j
		return true
	}, 10*time.Second, 20*time.Millisecond, "job was not completed by its log")

	assert.Equal(t, artifacts.LogFile, done.LogPath)

	page, err := os.ReadFile(layout.JobLog(job.ID))
	require.NoError(t, err)
	log := string(page)
	assert.True(t, strings.HasPrefix(log, "<html>"))
	assert.Contains(t, log, "running echo.syx<br>")
	assert.Contains(t, log, job.ID.String(), "the dispatch document is readable by the executable")
	assert.Contains(t, log, "exit status 3<br>")
}
