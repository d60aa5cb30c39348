package pool

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockRuntime struct {
	mock.Mock
}

func (m *MockRuntime) EnsureNetwork(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRuntime) CreateContainer(ctx context.Context, name string, hostPort int) (string, error) {
	args := m.Called(ctx, name, hostPort)
	return args.String(0), args.Error(1)
}

func (m *MockRuntime) LaunchURL(ctx context.Context, nativeID, url string) error {
	args := m.Called(ctx, nativeID, url)
	return args.Error(0)
}

func (m *MockRuntime) StopAndRemove(ctx context.Context, nativeID string, graceSeconds int) error {
	args := m.Called(ctx, nativeID, graceSeconds)
	return args.Error(0)
}

func (m *MockRuntime) ForceRemove(ctx context.Context, nativeID string) error {
	args := m.Called(ctx, nativeID)
	return args.Error(0)
}

func (m *MockRuntime) IsRunning(ctx context.Context, nativeID string) (bool, error) {
	args := m.Called(ctx, nativeID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRuntime) ListOrphans(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if ids := args.Get(0); ids != nil {
		return ids.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}
