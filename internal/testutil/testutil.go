package testutil

import (
	"testing"

	"github.com/p-arndt/schaufenster/internal/config"
	"github.com/p-arndt/schaufenster/internal/store"
)

// TestConfig returns a Config with sensible test defaults.
func TestConfig() *config.Config {
	return &config.Config{
		Listen:          "127.0.0.1:0",
		PoolSize:        3,
		PortRangeStart:  4000,
		PortRangeEnd:    4100,
		SessionDuration: 300,
		RateLimitPerDay: 10,
		AdminUser:       "admin",
		AdminPassword:   "test-secret",
		DataDir:         "/tmp/schaufenster-test",
		LogLevel:        "info",
		Container: config.Container{
			Image:       "kiosk-browser:test",
			StreamPort:  8080,
			ShmSizeMB:   256,
			MemLimitMB:  512,
			CPULimit:    1.0,
			NetworkName: "schaufenster-test",
		},
	}
}

// NewTestStore creates an in-memory SQLite store for testing.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}
