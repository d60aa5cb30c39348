package session

import (
	"time"

	"github.com/p-arndt/schaufenster/internal/pool"
)

// ContainerPool abstracts the pool operations the manager needs.
type ContainerPool interface {
	Acquire(sessionID string) *pool.Container
	Release(containerID string)
	LaunchApp(containerID, url string)
}

// LogSink receives session start/end records. Failures are best-effort;
// the manager logs and continues.
type LogSink interface {
	RecordSessionStart(sessionID, url, anonIP string, startedAt time.Time) error
	RecordSessionEnd(sessionID string, endedAt time.Time, durationSeconds int, reason string) error
}
