package queue

import (
	"sync/atomic"

	"github.com/p-arndt/schaufenster/internal/session"
)

type fakeCapacity struct {
	warm atomic.Int64
}

func (f *fakeCapacity) WarmCount() int {
	return int(f.warm.Load())
}

// fakeSessions injects per-test behavior the way pool tests inject
// CreateFunc.
type fakeSessions struct {
	checkFunc  func(rawIP string) session.RateLimitStatus
	createFunc func(url, rawIP string) (*session.Session, error)
	avg        float64
}

func (f *fakeSessions) CheckRateLimit(rawIP string) session.RateLimitStatus {
	if f.checkFunc != nil {
		return f.checkFunc(rawIP)
	}
	return session.RateLimitStatus{Allowed: true, Remaining: 10}
}

func (f *fakeSessions) CreateSession(url, rawIP string) (*session.Session, error) {
	if f.createFunc != nil {
		return f.createFunc(url, rawIP)
	}
	return &session.Session{ID: "sess-1", Port: 4000, URL: url}, nil
}

func (f *fakeSessions) AvgSessionDuration() float64 {
	if f.avg > 0 {
		return f.avg
	}
	return 300
}
