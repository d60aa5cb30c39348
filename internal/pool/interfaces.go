package pool

import "context"

// Runtime abstracts the container runtime operations the pool needs.
// Implemented by internal/docker.Client.
type Runtime interface {
	EnsureNetwork(ctx context.Context) error
	CreateContainer(ctx context.Context, name string, hostPort int) (string, error)
	LaunchURL(ctx context.Context, nativeID, url string) error
	StopAndRemove(ctx context.Context, nativeID string, graceSeconds int) error
	ForceRemove(ctx context.Context, nativeID string) error
	IsRunning(ctx context.Context, nativeID string) (bool, error)
	ListOrphans(ctx context.Context) ([]string, error)
}
