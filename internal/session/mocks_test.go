package session

import (
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/p-arndt/schaufenster/internal/pool"
)

type MockPool struct {
	mock.Mock
}

func (m *MockPool) Acquire(sessionID string) *pool.Container {
	args := m.Called(sessionID)
	if c := args.Get(0); c != nil {
		return c.(*pool.Container)
	}
	return nil
}

func (m *MockPool) Release(containerID string) {
	m.Called(containerID)
}

func (m *MockPool) LaunchApp(containerID, url string) {
	m.Called(containerID, url)
}

type MockSink struct {
	mock.Mock
}

func (m *MockSink) RecordSessionStart(sessionID, url, anonIP string, startedAt time.Time) error {
	args := m.Called(sessionID, url, anonIP, startedAt)
	return args.Error(0)
}

func (m *MockSink) RecordSessionEnd(sessionID string, endedAt time.Time, durationSeconds int, reason string) error {
	args := m.Called(sessionID, endedAt, durationSeconds, reason)
	return args.Error(0)
}
