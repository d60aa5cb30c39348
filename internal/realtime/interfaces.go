package realtime

import (
	"github.com/p-arndt/schaufenster/internal/queue"
	"github.com/p-arndt/schaufenster/internal/session"
)

// SessionService is the session-manager surface the channel reads, plus
// the single write path for abandonment.
type SessionService interface {
	GetSession(id string) *session.Session
	TimeRemaining(id string) int
	EndSession(id, reason string) bool
}

// QueueService lets queue-page clients follow their entry.
type QueueService interface {
	Get(id string) *queue.Entry
	Subscribe(id string, cb queue.Callback) bool
	Length() int
	EstimatedWaitSeconds() int
}
