package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/config"
	"github.com/devplane/devplane/internal/common/logger"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// Labels stamped on every sandbox container so a restarted supervisor can
// find its orphans.
const (
	labelTypeKey     = "type"
	labelTypeSandbox = "ai-orchestrator-sandbox"
	labelProjectID   = "project_id"
)

// sandboxLabels returns the label set for a project's sandbox container.
func sandboxLabels(projectID string) map[string]string {
	return map[string]string{
		labelTypeKey:   labelTypeSandbox,
		labelProjectID: projectID,
	}
}

// ContainerSpec describes the container realizing one sandbox.
type ContainerSpec struct {
	Name         string
	Image        string
	Cmd          []string
	Env          []string
	WorkingDir   string
	MountSource  string // host path, mounted read-write at WorkingDir
	Labels       map[string]string
	HostPort     int
	InternalPort int
	NetworkMode  string
}

// AdoptableContainer is what adoption needs to know about a labeled
// container found at startup.
type AdoptableContainer struct {
	ID        string
	ProjectID string
	Image     string
	State     string // docker state string: running, exited, ...
	HostPort  int
}

// Running reports whether the container is worth adopting rather than
// removing.
func (a AdoptableContainer) Running() bool { return a.State == "running" }

// ContainerClient wraps the Docker SDK for the container backend.
type ContainerClient struct {
	cli    *client.Client
	logger *logger.Logger
	cfg    config.DockerConfig
}

// NewContainerClient creates a Docker client. Construction does not contact
// the daemon; call Ping to probe availability.
func NewContainerClient(cfg config.DockerConfig, log *logger.Logger) (*ContainerClient, error) {
	opts := []client.Opt{
		client.WithAPIVersionNegotiation(),
	}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	} else {
		opts = append(opts, client.FromEnv)
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &ContainerClient{
		cli:    cli,
		logger: log.WithFields(zap.String("component", "sandbox-container")),
		cfg:    cfg,
	}, nil
}

// Close closes the Docker client.
func (c *ContainerClient) Close() error {
	return c.cli.Close()
}

// Ping checks whether the Docker daemon is reachable.
func (c *ContainerClient) Ping(ctx context.Context) error {
	if _, err := c.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping failed: %w", err)
	}
	return nil
}

// PullImage pulls an image, draining the progress stream so the pull
// completes before returning.
func (c *ContainerClient) PullImage(ctx context.Context, imageName string) error {
	c.logger.Info("Pulling image", zap.String("image", imageName))

	reader, err := c.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageName, err)
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("error reading image pull output: %w", err)
	}
	return nil
}

// CreateSandbox creates the container for a sandbox. The host workspace is
// bind-mounted read-write at the working dir and the internal port is
// published on the reserved host port. If the image is missing locally it
// is pulled and creation retried once.
func (c *ContainerClient) CreateSandbox(ctx context.Context, spec ContainerSpec) (string, error) {
	c.logger.Info("Creating sandbox container",
		zap.String("name", spec.Name),
		zap.String("image", spec.Image),
		zap.Int("host_port", spec.HostPort),
	)

	id, err := c.createOnce(ctx, spec)
	if err != nil && client.IsErrNotFound(err) {
		if pullErr := c.PullImage(ctx, spec.Image); pullErr != nil {
			return "", pullErr
		}
		id, err = c.createOnce(ctx, spec)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}

	c.logger.Info("Sandbox container created", zap.String("id", id), zap.String("name", spec.Name))
	return id, nil
}

func (c *ContainerClient) createOnce(ctx context.Context, spec ContainerSpec) (string, error) {
	internalPort := nat.Port(fmt.Sprintf("%d/tcp", spec.InternalPort))

	containerCfg := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Cmd,
		Env:        spec.Env,
		WorkingDir: spec.WorkingDir,
		Labels:     spec.Labels,
		ExposedPorts: nat.PortSet{
			internalPort: struct{}{},
		},
	}

	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: spec.MountSource,
			Target: spec.WorkingDir,
		}},
		PortBindings: nat.PortMap{
			internalPort: []nat.PortBinding{{HostPort: strconv.Itoa(spec.HostPort)}},
		},
		NetworkMode: container.NetworkMode(spec.NetworkMode),
	}

	resp, err := c.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Start starts a container.
func (c *ContainerClient) Start(ctx context.Context, containerID string) error {
	if err := c.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", containerID, err)
	}
	return nil
}

// Stop stops a container. The daemon sends the polite stop signal, waits up
// to grace, then force-kills.
func (c *ContainerClient) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	seconds := int(grace.Seconds())
	err := c.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds})
	if err != nil {
		return fmt.Errorf("failed to stop container %s: %w", containerID, err)
	}
	return nil
}

// Remove removes a container and its anonymous volumes. Removing a
// container that is already gone is not an error.
func (c *ContainerClient) Remove(ctx context.Context, containerID string, force bool) error {
	err := c.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         force,
		RemoveVolumes: true,
	})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", containerID, err)
	}
	return nil
}

// Logs returns the container's combined output stream. The reader delivers
// Docker's multiplexed frame format; route it through demuxFrames.
func (c *ContainerClient) Logs(ctx context.Context, containerID string, follow bool, tail string) (io.ReadCloser, error) {
	reader, err := c.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Tail:       tail,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get container logs for %s: %w", containerID, err)
	}
	return reader, nil
}

// Exec runs a command inside a running container and returns its exit code
// and demultiplexed output.
func (c *ContainerClient) Exec(ctx context.Context, containerID string, cmd []string, workDir string) (*v1.ExecResult, error) {
	created, err := c.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   workDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec instance: %w", err)
	}

	attached, err := c.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec instance: %w", err)
	}
	defer attached.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- demuxFrames(attached.Reader, &stdout, &stderr)
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("failed to read exec output: %w", err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	inspect, err := c.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec instance: %w", err)
	}

	return &v1.ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// ListSandboxContainers lists containers carrying the sandbox label,
// running or not, with the fields adoption decides on.
func (c *ContainerClient) ListSandboxContainers(ctx context.Context) ([]AdoptableContainer, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("label", fmt.Sprintf("%s=%s", labelTypeKey, labelTypeSandbox))

	containers, err := c.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sandbox containers: %w", err)
	}

	out := make([]AdoptableContainer, 0, len(containers))
	for _, ctr := range containers {
		a := AdoptableContainer{
			ID:        ctr.ID,
			ProjectID: ctr.Labels[labelProjectID],
			Image:     ctr.Image,
			State:     ctr.State,
		}
		for _, p := range ctr.Ports {
			if p.PublicPort > 0 {
				a.HostPort = int(p.PublicPort)
				break
			}
		}
		out = append(out, a)
	}
	return out, nil
}
