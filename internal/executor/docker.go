package executor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/raie-dev/raie-server/internal/domain"
)

const (
	defaultSandboxImage = "python:3.12-alpine"
	scriptMountPath     = "/sandbox/script.py"

	// Resource limits for sandbox containers.
	sandboxMemoryBytes = 256 * 1024 * 1024 // 256MB
	sandboxCPUQuota    = 50000             // 0.5 CPU
	sandboxPidsLimit   = 64

	removeTimeout = 10 * time.Second
)

// DockerRunner runs scripts in a throwaway container. Each run creates a
// fresh container with the script bind-mounted read-only, no network, and
// hard resource limits, and force-removes it on every exit path.
type DockerRunner struct {
	cli   *client.Client
	image string
}

// NewDockerRunner creates a Docker-backed runner. image defaults to a slim
// Python image when empty.
func NewDockerRunner(image string) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if image == "" {
		image = defaultSandboxImage
	}
	slog.Info("Docker sandbox runner initialized", "image", image)
	return &DockerRunner{cli: cli, image: image}, nil
}

// Close releases the underlying Docker client.
func (r *DockerRunner) Close() error {
	return r.cli.Close()
}

// Run executes the script at path inside a fresh container. Docker faults
// (daemon unreachable, image missing) are reported as failed results so the
// attempt loop keeps going.
func (r *DockerRunner) Run(ctx context.Context, path string, timeout time.Duration) *domain.ExecutionResult {
	config := &container.Config{
		Image:           r.image,
		Cmd:             []string{"python3", scriptMountPath},
		NetworkDisabled: true,
	}
	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:     mount.TypeBind,
			Source:   path,
			Target:   scriptMountPath,
			ReadOnly: true,
		}},
		Resources: container.Resources{
			Memory:    sandboxMemoryBytes,
			CPUQuota:  sandboxCPUQuota,
			PidsLimit: ptr(int64(sandboxPidsLimit)),
		},
	}

	resp, err := r.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if err != nil {
		return faultResult(fmt.Sprintf("create sandbox container: %v", err))
	}
	defer r.remove(resp.ID)

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return faultResult(fmt.Sprintf("start sandbox container: %v", err))
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	statusCh, errCh := r.cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		res := r.collectLogs(ctx, resp.ID)
		res.ExitCode = int(status.StatusCode)
		res.Success = status.StatusCode == 0
		return res
	case err := <-errCh:
		if runCtx.Err() != nil {
			return r.timeoutResult(ctx, resp.ID, timeout)
		}
		return faultResult(fmt.Sprintf("wait for sandbox container: %v", err))
	case <-runCtx.Done():
		return r.timeoutResult(ctx, resp.ID, timeout)
	}
}

// timeoutResult handles deadline expiry: the container is force-removed by
// the deferred cleanup; logs written before the kill are preserved.
func (r *DockerRunner) timeoutResult(ctx context.Context, containerID string, timeout time.Duration) *domain.ExecutionResult {
	res := r.collectLogs(ctx, containerID)
	res.TimedOut = true
	res.Success = false
	res.ExitCode = -1
	if res.Stderr == "" {
		res.Stderr = TimeoutStderr(timeout)
	}
	return res
}

func (r *DockerRunner) collectLogs(ctx context.Context, containerID string) *domain.ExecutionResult {
	res := &domain.ExecutionResult{}

	reader, err := r.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		res.Stderr = fmt.Sprintf("read sandbox logs: %v", err)
		return res
	}
	defer func() {
		if closeErr := reader.Close(); closeErr != nil {
			slog.Debug("Failed to close sandbox log reader", "error", closeErr)
		}
	}()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		res.Stderr = fmt.Sprintf("demultiplex sandbox logs: %v", err)
		return res
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res
}

// remove force-removes the sandbox container, tolerating the container being
// gone already.
func (r *DockerRunner) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()

	if err := r.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return
		}
		slog.Warn("Failed to remove sandbox container", "container_id", containerID, "error", err)
	}
}

func ptr[T any](v T) *T {
	return &v
}
