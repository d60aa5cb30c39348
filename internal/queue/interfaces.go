package queue

import "github.com/p-arndt/schaufenster/internal/session"

// Capacity is the pool view the worker needs: whether any warm container
// exists right now.
type Capacity interface {
	WarmCount() int
}

// SessionService is the session-manager surface the worker drives.
type SessionService interface {
	CheckRateLimit(rawIP string) session.RateLimitStatus
	CreateSession(url, rawIP string) (*session.Session, error)
	AvgSessionDuration() float64
}
