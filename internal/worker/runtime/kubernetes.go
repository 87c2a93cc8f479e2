package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	containerName  = "analysis"
	managedByLabel = "app.kubernetes.io/managed-by"
	jobIDLabel     = "analysisweb/job-id"
	podPoll        = 500 * time.Millisecond
)

// KubernetesConfig holds configuration for the Kubernetes runtime.
type KubernetesConfig struct {
	// Namespace where analysis Jobs are created
	Namespace string
	// ServiceAccount for analysis pods (optional)
	ServiceAccount string
	// Resource limits of the analysis container
	DefaultCPULimit    string
	DefaultMemoryLimit string
	// VolumeClaim is the PersistentVolumeClaim holding the artifact tree.
	// It is mounted at StartOptions.DataDir.
	VolumeClaim string
	// FinishedTTL is how long a finished Job is kept before Kubernetes
	// garbage collects it. Defaults to one hour.
	FinishedTTL time.Duration
}

// KubernetesRuntime runs each analysis as a Kubernetes Job with a single pod.
type KubernetesRuntime struct {
	clientset kubernetes.Interface
	config    KubernetesConfig
	logger    *slog.Logger
}

// KubernetesHandle represents a running analysis Job.
type KubernetesHandle struct {
	clientset kubernetes.Interface
	namespace string
	jobName   string
	logger    *slog.Logger

	mu      sync.Mutex
	podName string // known once the pod is scheduled
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE") // Windows
}

// NewKubernetesRuntime creates a Kubernetes runtime from the in-cluster
// configuration, falling back to ~/.kube/config outside a cluster.
func NewKubernetesRuntime(cfg KubernetesConfig, logger *slog.Logger) (*KubernetesRuntime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	config, err := rest.InClusterConfig()
	if err != nil {
		logger.Info("in-cluster config not available, trying kubeconfig", "error", err)
		kubeconfig := filepath.Join(homeDir(), ".kube", "config")
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
		logger.Info("using kubeconfig", "path", kubeconfig)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.DefaultCPULimit == "" {
		cfg.DefaultCPULimit = "500m"
	}
	if cfg.DefaultMemoryLimit == "" {
		cfg.DefaultMemoryLimit = "256Mi"
	}
	if cfg.FinishedTTL == 0 {
		cfg.FinishedTTL = time.Hour
	}

	return &KubernetesRuntime{
		clientset: clientset,
		config:    cfg,
		logger:    logger,
	}, nil
}

// jobName derives a unique Job name from the analysisweb job id. A retried
// dispatch gets a new name since the previous Job may still exist.
func jobName(opts StartOptions) string {
	suffix := strconv.FormatInt(time.Now().UnixNano(), 36)
	if id := opts.Env[EnvJobID]; len(id) >= 8 {
		return "analysisweb-" + id[:8] + "-" + suffix
	}
	return "analysisweb-" + suffix
}

// jobFor builds the Job running opts.Command in a single pod.
func (k *KubernetesRuntime) jobFor(name string, opts StartOptions) (*batchv1.Job, error) {
	cpu, err := resource.ParseQuantity(k.config.DefaultCPULimit)
	if err != nil {
		return nil, fmt.Errorf("invalid cpu limit %q: %w", k.config.DefaultCPULimit, err)
	}
	memory, err := resource.ParseQuantity(k.config.DefaultMemoryLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid memory limit %q: %w", k.config.DefaultMemoryLimit, err)
	}

	keys := make([]string, 0, len(opts.Env))
	for key := range opts.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	env := make([]corev1.EnvVar, 0, len(keys))
	for _, key := range keys {
		env = append(env, corev1.EnvVar{Name: key, Value: opts.Env[key]})
	}

	labels := map[string]string{managedByLabel: "analysisweb"}
	if id := opts.Env[EnvJobID]; id != "" {
		labels[jobIDLabel] = id
	}
	podLabels := map[string]string{"job-name": name}
	for key, value := range labels {
		podLabels[key] = value
	}

	container := corev1.Container{
		Name:       containerName,
		Image:      opts.Image,
		Command:    opts.Command,
		Env:        env,
		WorkingDir: opts.WorkDir,
		Resources: corev1.ResourceRequirements{
			Limits: corev1.ResourceList{corev1.ResourceCPU: cpu, corev1.ResourceMemory: memory},
		},
	}
	var volumes []corev1.Volume
	if k.config.VolumeClaim != "" && opts.DataDir != "" {
		volumes = append(volumes, corev1.Volume{
			Name: "artifacts",
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: k.config.VolumeClaim},
			},
		})
		container.VolumeMounts = []corev1.VolumeMount{{Name: "artifacts", MountPath: opts.DataDir}}
	}

	// The dispatch queue owns retries.
	backoffLimit := int32(0)
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: k.config.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: podLabels},
				Spec: corev1.PodSpec{
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: k.config.ServiceAccount,
					Containers:         []corev1.Container{container},
					Volumes:            volumes,
				},
			},
		},
	}
	if k.config.FinishedTTL > 0 {
		ttl := int32(k.config.FinishedTTL / time.Second)
		job.Spec.TTLSecondsAfterFinished = &ttl
	}
	return job, nil
}

// Start implements Runtime.Start by creating a Kubernetes Job.
func (k *KubernetesRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if opts.Image == "" {
		return nil, fmt.Errorf("kubernetes runtime requires an image")
	}

	job, err := k.jobFor(jobName(opts), opts)
	if err != nil {
		return nil, err
	}

	created, err := k.clientset.BatchV1().Jobs(k.config.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes job: %w", err)
	}

	k.log().Info("created kubernetes job", "name", created.Name, "namespace", k.config.Namespace,
		"job_id", opts.Env[EnvJobID])

	return &KubernetesHandle{
		clientset: k.clientset,
		namespace: k.config.Namespace,
		jobName:   created.Name,
		logger:    k.log(),
	}, nil
}

func (k *KubernetesRuntime) log() *slog.Logger {
	if k.logger == nil {
		return slog.Default()
	}
	return k.logger
}

// podResult reports whether pod has finished and, if so, how.
func podResult(pod *corev1.Pod) (ExitResult, bool) {
	switch pod.Status.Phase {
	case corev1.PodSucceeded:
		return ExitResult{ExitCode: 0}, true
	case corev1.PodFailed:
		result := ExitResult{ExitCode: -1}
		for _, cs := range pod.Status.ContainerStatuses {
			if cs.Name != containerName || cs.State.Terminated == nil {
				continue
			}
			result.ExitCode = int(cs.State.Terminated.ExitCode)
			if reason := cs.State.Terminated.Reason; reason != "" {
				result.Error = fmt.Errorf("%s", reason)
			}
		}
		if result.ExitCode == -1 && pod.Status.Reason != "" {
			result.Error = fmt.Errorf("pod failed: %s", pod.Status.Reason)
		}
		return result, true
	}
	return ExitResult{}, false
}

// Wait blocks until the analysis pod finishes and returns its result.
func (h *KubernetesHandle) Wait(ctx context.Context) (ExitResult, error) {
	podName, err := h.pod(ctx)
	if err != nil {
		return ExitResult{ExitCode: -1, Error: err}, err
	}

	var result ExitResult
	err = wait.PollUntilContextCancel(ctx, podPoll, true, func(ctx context.Context) (bool, error) {
		pod, err := h.clientset.CoreV1().Pods(h.namespace).Get(ctx, podName, metav1.GetOptions{})
		if err != nil {
			return false, err
		}
		var done bool
		result, done = podResult(pod)
		return done, nil
	})
	if err != nil {
		return ExitResult{ExitCode: -1, Error: err}, err
	}
	return result, nil
}

// pod returns the name of the Job's pod, waiting for it on first use.
// Wait and StreamLogs run concurrently and share the lookup.
func (h *KubernetesHandle) pod(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.podName != "" {
		return h.podName, nil
	}
	name, err := h.waitForPod(ctx)
	if err != nil {
		return "", err
	}
	h.podName = name
	return name, nil
}

// waitForPod waits for the pod of the Job to be created and returns its name.
func (h *KubernetesHandle) waitForPod(ctx context.Context) (string, error) {
	var name string
	err := wait.PollUntilContextCancel(ctx, podPoll, false, func(ctx context.Context) (bool, error) {
		pods, err := h.clientset.CoreV1().Pods(h.namespace).List(ctx, metav1.ListOptions{
			LabelSelector: "job-name=" + h.jobName,
		})
		if err != nil {
			return false, err
		}
		if len(pods.Items) == 0 {
			return false, nil
		}
		name = pods.Items[0].Name
		return true, nil
	})
	return name, err
}

// waitForContainerReady waits until the pod is running or already finished,
// so that its logs can be read.
func (h *KubernetesHandle) waitForContainerReady(ctx context.Context, podName string) error {
	return wait.PollUntilContextCancel(ctx, podPoll, false, func(ctx context.Context) (bool, error) {
		pod, err := h.clientset.CoreV1().Pods(h.namespace).Get(ctx, podName, metav1.GetOptions{})
		if err != nil {
			return false, err
		}
		switch pod.Status.Phase {
		case corev1.PodRunning, corev1.PodSucceeded, corev1.PodFailed:
			return true, nil
		}
		return false, nil
	})
}

// Stop deletes the Job and, in the foreground, its pod.
func (h *KubernetesHandle) Stop(ctx context.Context) error {
	propagation := metav1.DeletePropagationForeground
	err := h.clientset.BatchV1().Jobs(h.namespace).Delete(ctx, h.jobName, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", h.jobName, err)
	}
	if h.logger != nil {
		h.logger.Info("deleted kubernetes job", "name", h.jobName)
	}
	return nil
}

// StreamLogs follows the output of the analysis container.
func (h *KubernetesHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	podName, err := h.pod(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find pod for job %s: %w", h.jobName, err)
	}

	if err := h.waitForContainerReady(ctx, podName); err != nil {
		return nil, err
	}

	req := h.clientset.CoreV1().Pods(h.namespace).GetLogs(podName, &corev1.PodLogOptions{
		Container: containerName,
		Follow:    true,
	})
	return req.Stream(ctx)
}
