package api

import (
	"context"
	"time"

	"github.com/p-arndt/schaufenster/internal/pool"
	"github.com/p-arndt/schaufenster/internal/queue"
	"github.com/p-arndt/schaufenster/internal/session"
	"github.com/p-arndt/schaufenster/internal/store"
)

type fakeSessions struct {
	sessions    map[string]*session.Session
	paused      bool
	duration    int
	limit       int
	rlStatus    session.RateLimitStatus
	stats       session.Stats
	endedCalls  []string
	ipActions   []string
	rlStats     session.RateLimitStats
	avgDuration float64
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions: make(map[string]*session.Session),
		duration: 300,
		limit:    10,
		rlStatus: session.RateLimitStatus{Allowed: true, Used: 0, Remaining: 10},
	}
}

func (f *fakeSessions) GetSession(id string) *session.Session {
	s, ok := f.sessions[id]
	if !ok {
		return nil
	}
	snapshot := *s
	return &snapshot
}

func (f *fakeSessions) ActiveSessions() []session.Session {
	var out []session.Session
	for _, s := range f.sessions {
		if s.Status == session.StatusActive {
			out = append(out, *s)
		}
	}
	return out
}

func (f *fakeSessions) EndSession(id, reason string) bool {
	s, ok := f.sessions[id]
	if !ok || s.Status != session.StatusActive {
		return false
	}
	s.Status = session.StatusEnded
	f.endedCalls = append(f.endedCalls, id+":"+reason)
	return true
}

func (f *fakeSessions) TimeRemaining(id string) int {
	if s, ok := f.sessions[id]; ok && s.Status == session.StatusActive {
		return int(time.Until(s.ExpiresAt).Seconds())
	}
	return 0
}

func (f *fakeSessions) CheckRateLimit(rawIP string) session.RateLimitStatus { return f.rlStatus }
func (f *fakeSessions) RateLimit() int                                      { return f.limit }
func (f *fakeSessions) AvgSessionDuration() float64                         { return f.avgDuration }
func (f *fakeSessions) Stats() session.Stats                                { return f.stats }
func (f *fakeSessions) Paused() bool                                        { return f.paused }
func (f *fakeSessions) SetPaused(paused bool)                               { f.paused = paused }
func (f *fakeSessions) SetDuration(seconds int)                             { f.duration = seconds }
func (f *fakeSessions) CurrentDuration() int                                { return f.duration }
func (f *fakeSessions) Block(ip string)                                     { f.ipActions = append(f.ipActions, "block:"+ip) }
func (f *fakeSessions) Unblock(ip string)                                   { f.ipActions = append(f.ipActions, "unblock:"+ip) }
func (f *fakeSessions) Whitelist(ip string)                                 { f.ipActions = append(f.ipActions, "whitelist:"+ip) }
func (f *fakeSessions) Unwhitelist(ip string) {
	f.ipActions = append(f.ipActions, "unwhitelist:"+ip)
}
func (f *fakeSessions) ClearLimit(ip string) { f.ipActions = append(f.ipActions, "clear-limit:"+ip) }
func (f *fakeSessions) RateLimitStats() session.RateLimitStats { return f.rlStats }

type fakeQueue struct {
	entries  map[string]*queue.Entry
	enqueued []string // "url|ip"
	left     []string
	drained  int
	wait     int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{entries: make(map[string]*queue.Entry)}
}

func (f *fakeQueue) Enqueue(url, rawIP string) queue.Entry {
	f.enqueued = append(f.enqueued, url+"|"+rawIP)
	e := queue.Entry{ID: "q-test", URL: url, Position: 1, Status: queue.StatusWaiting, CreatedAt: time.Now().UTC()}
	f.entries[e.ID] = &e
	return e
}

func (f *fakeQueue) Get(id string) *queue.Entry {
	e, ok := f.entries[id]
	if !ok {
		return nil
	}
	snapshot := *e
	return &snapshot
}

func (f *fakeQueue) Leave(id string)             { f.left = append(f.left, id) }
func (f *fakeQueue) Length() int                 { return len(f.entries) }
func (f *fakeQueue) EstimatedWaitSeconds() int   { return f.wait }
func (f *fakeQueue) Drain() int                  { return f.drained }
func (f *fakeQueue) Waiting() []queue.Entry {
	var out []queue.Entry
	for _, e := range f.entries {
		out = append(out, *e)
	}
	return out
}

type fakePool struct {
	containers []pool.Container
	target     int
	restarts   int
}

func (f *fakePool) Status() []pool.Container { return append([]pool.Container(nil), f.containers...) }
func (f *fakePool) WarmCount() int {
	n := 0
	for _, c := range f.containers {
		if c.Status == pool.StatusWarm {
			n++
		}
	}
	return n
}
func (f *fakePool) PoolSize() int                { return f.target }
func (f *fakePool) SetPoolSize(n int)            { f.target = n }
func (f *fakePool) Restart(ctx context.Context)  { f.restarts++ }

type fakeRealtime struct {
	notified     []string
	reconnecting []string
}

func (f *fakeRealtime) NotifySessionEnded(sessionID, reason string) {
	f.notified = append(f.notified, sessionID+":"+reason)
}

func (f *fakeRealtime) ReconnectingSessions() []string { return f.reconnecting }

type fakeHistory struct {
	entries []*store.LogEntry
	total   int
	count   int
	avg     float64
	err     error
}

func (f *fakeHistory) History(search string, page, pageSize int) ([]*store.LogEntry, int, error) {
	return f.entries, f.total, f.err
}

func (f *fakeHistory) CountStartedSince(t time.Time) (int, error) { return f.count, f.err }
func (f *fakeHistory) AvgDurationSince(t time.Time) (float64, error) { return f.avg, f.err }
