package api

import (
	"context"
	"time"

	"github.com/p-arndt/schaufenster/internal/pool"
	"github.com/p-arndt/schaufenster/internal/queue"
	"github.com/p-arndt/schaufenster/internal/session"
	"github.com/p-arndt/schaufenster/internal/store"
)

// SessionService abstracts the session-manager surface the handlers need.
type SessionService interface {
	GetSession(id string) *session.Session
	ActiveSessions() []session.Session
	EndSession(id, reason string) bool
	TimeRemaining(id string) int
	CheckRateLimit(rawIP string) session.RateLimitStatus
	RateLimit() int
	AvgSessionDuration() float64
	Stats() session.Stats

	Paused() bool
	SetPaused(paused bool)
	SetDuration(seconds int)
	CurrentDuration() int

	Block(ip string)
	Unblock(ip string)
	Whitelist(ip string)
	Unwhitelist(ip string)
	ClearLimit(ip string)
	RateLimitStats() session.RateLimitStats
}

// QueueService abstracts the admission queue.
type QueueService interface {
	Enqueue(url, rawIP string) queue.Entry
	Get(id string) *queue.Entry
	Leave(id string)
	Length() int
	EstimatedWaitSeconds() int
	Drain() int
	Waiting() []queue.Entry
}

// PoolService abstracts the container pool.
type PoolService interface {
	Status() []pool.Container
	WarmCount() int
	PoolSize() int
	SetPoolSize(n int)
	Restart(ctx context.Context)
}

// RealtimeService is the channel surface used for kill notifications and
// the derived reconnecting status.
type RealtimeService interface {
	NotifySessionEnded(sessionID, reason string)
	ReconnectingSessions() []string
}

// HistoryStore serves the admin history and long-range aggregates.
type HistoryStore interface {
	History(search string, page, pageSize int) ([]*store.LogEntry, int, error)
	CountStartedSince(t time.Time) (int, error)
	AvgDurationSince(t time.Time) (float64, error)
}
