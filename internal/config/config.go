// Package config loads settings for the controller and the worker from an
// optional YAML file, environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all configuration values for the application.
type Config struct {
	// Store backend: postgres or memory
	Store string

	// Database connection string, required for the postgres store
	DatabaseURL string

	// HTTP server port for the controller
	HTTPPort int

	// URL of the controller as seen by the worker and the analysis executable.
	// Callback URLs are built from it.
	ControllerURL string

	// Root of the artifact tree
	UploadFolder string

	// Bearer secret for worker callbacks and dispatch administration. Empty disables the check.
	InternalSecret string

	// Per client request rate. Zero disables rate limiting.
	RateLimit      float64
	RateLimitBurst int

	// Accepted analysis bundle extensions
	BundleExtensions []string

	// Optional YAML metadata schemas
	MeasurementMetaSchema string
	AnalysisMetaSchema    string

	// Worker-specific configuration
	WorkerConcurrency       int
	WorkerPollInterval      time.Duration
	WorkerMaxBackoff        time.Duration
	WorkerHeartbeatInterval time.Duration

	// How long a heartbeat hides a running task from other workers
	WorkerVisibilityExtension time.Duration

	// In-process dispatch starts per second (memory store). Zero is unlimited.
	DispatchRate float64

	// Runtime settings
	Runtime            string
	RuntimeWorkDir     string
	AnalysisExecutable string
	AnalysisShell      string
	AnalysisTimeout    time.Duration
	DockerImage        string

	// Kubernetes runtime settings
	KubernetesNamespace      string
	KubernetesServiceAccount string
	KubernetesCPULimit       string
	KubernetesMemoryLimit    string
	KubernetesVolumeClaim    string

	// OpenTelemetry collector endpoint
	OTELEndpoint string
}

var validRuntimes = map[string]bool{"exec": true, "docker": true, "kubernetes": true}

// env names that do not follow the upper-cased key convention
var envAliases = map[string]string{
	"http_port":                   "PORT",
	"otel_endpoint":               "OTEL_EXPORTER_OTLP_ENDPOINT",
	"worker_visibility_extension": "WORKER_VISIBILITY_EXTENSION",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store", StorePostgres)
	v.SetDefault("database_url", "")
	v.SetDefault("http_port", 6161)
	v.SetDefault("controller_url", "http://localhost:6161")
	v.SetDefault("upload_folder", "./uploads")
	v.SetDefault("internal_secret", "")
	v.SetDefault("rate_limit", 0)
	v.SetDefault("rate_limit_burst", 20)
	v.SetDefault("bundle_extensions", []string{".syx"})
	v.SetDefault("measurement_meta_schema", "")
	v.SetDefault("analysis_meta_schema", "")

	v.SetDefault("worker_concurrency", 1)
	v.SetDefault("worker_poll_interval", time.Second)
	v.SetDefault("worker_max_backoff", 30*time.Second)
	v.SetDefault("worker_heartbeat_interval", 2*time.Minute)
	v.SetDefault("worker_visibility_extension", 5*time.Minute)
	v.SetDefault("dispatch_rate", 0)

	v.SetDefault("runtime", "docker")
	v.SetDefault("runtime_workdir", "")
	v.SetDefault("analysis_executable", "")
	v.SetDefault("analysis_shell", "bash")
	v.SetDefault("analysis_timeout", 30*time.Minute)
	v.SetDefault("docker_image", "")

	v.SetDefault("kubernetes_namespace", "default")
	v.SetDefault("kubernetes_service_account", "")
	v.SetDefault("kubernetes_cpu_limit", "1")
	v.SetDefault("kubernetes_memory_limit", "512Mi")
	v.SetDefault("kubernetes_volume_claim", "")

	v.SetDefault("otel_endpoint", "localhost:4317")
}

// Load reads configuration from the YAML file at path, when given, or from
// analysisweb.yaml in the working directory if present. Environment
// variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for _, key := range v.AllKeys() {
		env := strings.ToUpper(key)
		if alias, ok := envAliases[key]; ok {
			env = alias
		}
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("analysisweb")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{
		Store:                     strings.ToLower(v.GetString("store")),
		DatabaseURL:               v.GetString("database_url"),
		HTTPPort:                  v.GetInt("http_port"),
		ControllerURL:             strings.TrimRight(v.GetString("controller_url"), "/"),
		UploadFolder:              v.GetString("upload_folder"),
		InternalSecret:            v.GetString("internal_secret"),
		RateLimit:                 v.GetFloat64("rate_limit"),
		RateLimitBurst:            v.GetInt("rate_limit_burst"),
		BundleExtensions:          v.GetStringSlice("bundle_extensions"),
		MeasurementMetaSchema:     v.GetString("measurement_meta_schema"),
		AnalysisMetaSchema:        v.GetString("analysis_meta_schema"),
		WorkerConcurrency:         v.GetInt("worker_concurrency"),
		WorkerPollInterval:        v.GetDuration("worker_poll_interval"),
		WorkerMaxBackoff:          v.GetDuration("worker_max_backoff"),
		WorkerHeartbeatInterval:   v.GetDuration("worker_heartbeat_interval"),
		WorkerVisibilityExtension: v.GetDuration("worker_visibility_extension"),
		DispatchRate:              v.GetFloat64("dispatch_rate"),
		Runtime:                   v.GetString("runtime"),
		RuntimeWorkDir:            v.GetString("runtime_workdir"),
		AnalysisExecutable:        v.GetString("analysis_executable"),
		AnalysisShell:             v.GetString("analysis_shell"),
		AnalysisTimeout:           v.GetDuration("analysis_timeout"),
		DockerImage:               v.GetString("docker_image"),
		KubernetesNamespace:       v.GetString("kubernetes_namespace"),
		KubernetesServiceAccount:  v.GetString("kubernetes_service_account"),
		KubernetesCPULimit:        v.GetString("kubernetes_cpu_limit"),
		KubernetesMemoryLimit:     v.GetString("kubernetes_memory_limit"),
		KubernetesVolumeClaim:     v.GetString("kubernetes_volume_claim"),
		OTELEndpoint:              v.GetString("otel_endpoint"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required (env: DATABASE_URL)")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("invalid store %q: must be postgres or memory", c.Store)
	}

	if !validRuntimes[c.Runtime] {
		return fmt.Errorf("invalid runtime %q: must be exec, docker or kubernetes", c.Runtime)
	}
	if c.HTTPPort <= 0 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("worker_concurrency must be positive, got %d", c.WorkerConcurrency)
	}
	if len(c.BundleExtensions) == 0 {
		return fmt.Errorf("bundle_extensions must not be empty")
	}
	return nil
}
