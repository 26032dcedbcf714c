package integration

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"forge/internal/config"
	"forge/internal/logging"
)

const defaultComposeTimeout = 180 * time.Second

// execCommandContext is swapped in tests, mirroring internal/builder's
// subprocess-mocking pattern.
var execCommandContext = exec.CommandContext

// ContainerRuntime drives a compose project's lifecycle via the `docker
// compose` CLI. Grounded on DockerOrchestrator, collapsed onto a single
// compose file path (multi-file compose overlays are out of scope for a
// "trivial template rendering" integration phase).
type ContainerRuntime struct {
	composeFile string
	projectName string
	timeout     time.Duration
}

// NewContainerRuntime builds a ContainerRuntime bound to one compose file.
func NewContainerRuntime(composeFile, projectName string, cfg config.IntegrationConfig) *ContainerRuntime {
	timeout := defaultComposeTimeout
	if cfg.ComposeTimeout != "" {
		if d, err := time.ParseDuration(cfg.ComposeTimeout); err == nil {
			timeout = d
		}
	}
	if projectName == "" {
		projectName = "forge-run"
	}
	return &ContainerRuntime{composeFile: composeFile, projectName: projectName, timeout: timeout}
}

func (r *ContainerRuntime) run(ctx context.Context, args ...string) (string, string, error) {
	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmdArgs := append([]string{"compose", "-f", r.composeFile, "-p", r.projectName}, args...)
	cmd := execCommandContext(execCtx, "docker", cmdArgs...)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// StartServices runs `docker compose up -d --build`.
func (r *ContainerRuntime) StartServices(ctx context.Context) error {
	_, stderr, err := r.run(ctx, "up", "-d", "--build")
	if err != nil {
		logging.Get(logging.CategoryIntegration).Error("compose up failed: %v: %s", err, stderr)
		return fmt.Errorf("start services: %w", err)
	}
	return nil
}

// StopServices runs `docker compose down --remove-orphans`.
func (r *ContainerRuntime) StopServices(ctx context.Context) error {
	_, stderr, err := r.run(ctx, "down", "--remove-orphans")
	if err != nil {
		logging.Get(logging.CategoryIntegration).Error("compose down failed: %v: %s", err, stderr)
		return fmt.Errorf("stop services: %w", err)
	}
	return nil
}

// RestartService runs `docker compose restart <service>`.
func (r *ContainerRuntime) RestartService(ctx context.Context, serviceName string) error {
	_, stderr, err := r.run(ctx, "restart", serviceName)
	if err != nil {
		return fmt.Errorf("restart %s: %w: %s", serviceName, err, stderr)
	}
	return nil
}

// ServiceLogs returns the tail of a service's compose logs.
func (r *ContainerRuntime) ServiceLogs(ctx context.Context, serviceName string, tail int) (string, error) {
	stdout, stderr, err := r.run(ctx, "logs", "--tail", fmt.Sprintf("%d", tail), serviceName)
	if err != nil {
		return stderr, err
	}
	return stdout, nil
}

// ServiceURL resolves the host-mapped URL for a service's internal port
// via `docker compose port`, defaulting to localhost:port when compose
// reports nothing (service not yet started).
func (r *ContainerRuntime) ServiceURL(ctx context.Context, serviceName string, port int) (string, error) {
	stdout, _, err := r.run(ctx, "port", serviceName, fmt.Sprintf("%d", port))
	if err != nil {
		return "", fmt.Errorf("resolve url for %s: %w", serviceName, err)
	}
	hostPort := strings.TrimSpace(stdout)
	if hostPort == "" {
		return fmt.Sprintf("http://localhost:%d", port), nil
	}
	if idx := strings.LastIndex(hostPort, ":"); idx >= 0 {
		return "http://localhost:" + hostPort[idx+1:], nil
	}
	return "http://localhost:" + hostPort, nil
}
