package worker

import (
	"fmt"
	"log/slog"

	"analysisweb/internal/config"
	"analysisweb/internal/worker/runtime"
)

// NewRuntime builds the runtime selected by cfg.Runtime.
func NewRuntime(cfg *config.Config, logger *slog.Logger) (runtime.Runtime, error) {
	switch cfg.Runtime {
	case "exec":
		logger.Info("using exec runtime", "workdir", cfg.RuntimeWorkDir)
		return runtime.NewExecRuntime(cfg.RuntimeWorkDir), nil
	case "kubernetes":
		rt, err := runtime.NewKubernetesRuntime(runtime.KubernetesConfig{
			Namespace:          cfg.KubernetesNamespace,
			ServiceAccount:     cfg.KubernetesServiceAccount,
			DefaultCPULimit:    cfg.KubernetesCPULimit,
			DefaultMemoryLimit: cfg.KubernetesMemoryLimit,
			VolumeClaim:        cfg.KubernetesVolumeClaim,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create kubernetes runtime: %w", err)
		}
		logger.Info("using kubernetes runtime", "namespace", cfg.KubernetesNamespace)
		return rt, nil
	case "docker":
		rt, err := runtime.NewDockerRuntime()
		if err != nil {
			return nil, err
		}
		logger.Info("using docker runtime", "image", cfg.DockerImage)
		return rt, nil
	default:
		return nil, fmt.Errorf("unknown runtime %q", cfg.Runtime)
	}
}

// RunnerConfigFrom maps cfg to a RunnerConfig. dataDir is the absolute
// artifact tree shared with the controller.
func RunnerConfigFrom(cfg *config.Config, dataDir string) RunnerConfig {
	return RunnerConfig{
		Executable:     cfg.AnalysisExecutable,
		Shell:          cfg.AnalysisShell,
		Image:          cfg.DockerImage,
		DataDir:        dataDir,
		Timeout:        cfg.AnalysisTimeout,
		InternalSecret: cfg.InternalSecret,
	}
}
