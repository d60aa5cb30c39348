package docker

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"

	"github.com/p-arndt/schaufenster/internal/config"
)

// namePattern is the crash-recovery discriminator: every container this
// daemon creates is named session-<8-hex>, and anything matching the
// pattern at startup is an orphan from a previous run.
var namePattern = regexp.MustCompile(`^/?session-[0-9a-f]{8}$`)

type Client struct {
	docker *client.Client
	cfg    config.Container
}

func New(cfg config.Container) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Client{docker: cli, cfg: cfg}, nil
}

func (c *Client) Close() error {
	return c.docker.Close()
}

// Ping verifies the Docker daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.docker.Ping(ctx)
	return err
}

// EnsureNetwork creates the isolated bridge network if it does not exist.
// Inter-container traffic is disabled; outbound stays open.
func (c *Client) EnsureNetwork(ctx context.Context) error {
	f := filters.NewArgs()
	f.Add("name", c.cfg.NetworkName)
	nets, err := c.docker.NetworkList(ctx, network.ListOptions{Filters: f})
	if err != nil {
		return fmt.Errorf("network list: %w", err)
	}
	for _, n := range nets {
		if n.Name == c.cfg.NetworkName {
			return nil
		}
	}

	_, err = c.docker.NetworkCreate(ctx, c.cfg.NetworkName, network.CreateOptions{
		Driver: "bridge",
		Options: map[string]string{
			"com.docker.network.bridge.enable_icc": "false",
		},
	})
	if err != nil {
		return fmt.Errorf("network create: %w", err)
	}
	return nil
}

// CreateContainer creates and starts a kiosk container whose streaming
// endpoint is published on the given host port. Returns the native ID.
func (c *Client) CreateContainer(ctx context.Context, name string, hostPort int) (string, error) {
	streamPort := nat.Port(fmt.Sprintf("%d/tcp", c.cfg.StreamPort))

	mounts := []mount.Mount{
		{
			Type:   mount.TypeTmpfs,
			Target: "/tmp",
			TmpfsOptions: &mount.TmpfsOptions{
				SizeBytes: 256 * units.MiB,
			},
		},
		{
			Type:   mount.TypeTmpfs,
			Target: "/home/kiosk/.config",
			TmpfsOptions: &mount.TmpfsOptions{
				SizeBytes: 128 * units.MiB,
			},
		},
	}
	for target, src := range map[string]string{
		"/etc/opt/kiosk/policies": c.cfg.PolicyDir,
		"/opt/kiosk/scripts":      c.cfg.ScriptsDir,
		"/opt/kiosk/assets":       c.cfg.AssetsDir,
	} {
		if src == "" {
			continue
		}
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   src,
			Target:   target,
			ReadOnly: true,
		})
	}

	resources := container.Resources{
		NanoCPUs: int64(c.cfg.CPULimit * 1e9),
		Memory:   int64(c.cfg.MemLimitMB) * units.MiB,
	}
	if c.cfg.GPUDevice != "" {
		resources.Devices = []container.DeviceMapping{
			{
				PathOnHost:        c.cfg.GPUDevice,
				PathInContainer:   c.cfg.GPUDevice,
				CgroupPermissions: "rwm",
			},
		}
	}

	hostCfg := &container.HostConfig{
		Resources:   resources,
		AutoRemove:  false,
		ShmSize:     int64(c.cfg.ShmSizeMB) * units.MiB,
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
		CapAdd:      []string{"SYS_ADMIN"}, // browser sandbox namespaces
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyDisabled,
		},
		NetworkMode: container.NetworkMode(c.cfg.NetworkName),
		PortBindings: nat.PortMap{
			streamPort: []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: strconv.Itoa(hostPort)},
			},
		},
		Mounts: mounts,
	}

	containerCfg := &container.Config{
		Image: c.cfg.Image,
		ExposedPorts: nat.PortSet{
			streamPort: struct{}{},
		},
		Env: []string{
			fmt.Sprintf("STREAM_PORT=%d", c.cfg.StreamPort),
			"STREAM_BIND=0.0.0.0",
		},
	}

	resp, err := c.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}

	if err := c.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Clean up on start failure.
		c.docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("container start: %w", err)
	}

	return resp.ID, nil
}

// LaunchURL execs the kiosk launcher inside the container. Fire-and-forget:
// the exec is started detached and never waited on.
func (c *Client) LaunchURL(ctx context.Context, nativeID, url string) error {
	execResp, err := c.docker.ContainerExecCreate(ctx, nativeID, container.ExecOptions{
		Cmd:    []string{"/opt/kiosk/launch-url", url},
		Detach: true,
	})
	if err != nil {
		return fmt.Errorf("exec create: %w", err)
	}
	if err := c.docker.ContainerExecStart(ctx, execResp.ID, container.ExecStartOptions{Detach: true}); err != nil {
		return fmt.Errorf("exec start: %w", err)
	}
	return nil
}

// StopAndRemove stops the container with the given grace period, then
// force-removes it. Missing containers are not an error.
func (c *Client) StopAndRemove(ctx context.Context, nativeID string, graceSeconds int) error {
	if err := c.docker.ContainerStop(ctx, nativeID, container.StopOptions{Timeout: &graceSeconds}); err != nil && !client.IsErrNotFound(err) {
		// Fall through to force removal.
	}
	err := c.docker.ContainerRemove(ctx, nativeID, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}

// ForceRemove removes a container without a stop grace period.
func (c *Client) ForceRemove(ctx context.Context, nativeID string) error {
	err := c.docker.ContainerRemove(ctx, nativeID, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}

// IsRunning inspects the container's native state.
func (c *Client) IsRunning(ctx context.Context, nativeID string) (bool, error) {
	info, err := c.docker.ContainerInspect(ctx, nativeID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return info.State.Running, nil
}

// ListOrphans returns native IDs of containers matching the session name
// pattern. Called once at startup before the pool initializes.
func (c *Client) ListOrphans(ctx context.Context) ([]string, error) {
	f := filters.NewArgs()
	f.Add("name", "session-")

	containers, err := c.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: f,
	})
	if err != nil {
		return nil, fmt.Errorf("container list: %w", err)
	}

	var ids []string
	for _, ctr := range containers {
		for _, name := range ctr.Names {
			if namePattern.MatchString(name) {
				ids = append(ids, ctr.ID)
				break
			}
		}
	}
	return ids, nil
}
