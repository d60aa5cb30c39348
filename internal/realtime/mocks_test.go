package realtime

import (
	"sync"

	"github.com/p-arndt/schaufenster/internal/queue"
	"github.com/p-arndt/schaufenster/internal/session"
)

type fakeSessions struct {
	mu        sync.Mutex
	sessions  map[string]*session.Session
	remaining map[string]int
	ended     []string // "id:reason"
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions:  make(map[string]*session.Session),
		remaining: make(map[string]int),
	}
}

func (f *fakeSessions) addActive(id string, port, remaining int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[id] = &session.Session{ID: id, Port: port, Status: session.StatusActive}
	f.remaining[id] = remaining
}

func (f *fakeSessions) setStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[id].Status = status
}

func (f *fakeSessions) GetSession(id string) *session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil
	}
	snapshot := *s
	return &snapshot
}

func (f *fakeSessions) TimeRemaining(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remaining[id]
}

func (f *fakeSessions) EndSession(id, reason string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Status != session.StatusActive {
		return false
	}
	s.Status = session.StatusEnded
	f.ended = append(f.ended, id+":"+reason)
	return true
}

func (f *fakeSessions) endedCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ended...)
}

type fakeQueue struct {
	mu       sync.Mutex
	entries  map[string]*queue.Entry
	callback queue.Callback
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{entries: make(map[string]*queue.Entry)}
}

func (f *fakeQueue) Get(id string) *queue.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return nil
	}
	snapshot := *e
	return &snapshot
}

func (f *fakeQueue) Subscribe(id string, cb queue.Callback) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[id]; !ok {
		return false
	}
	f.callback = cb
	return true
}

func (f *fakeQueue) fire(e queue.Entry) {
	f.mu.Lock()
	cb := f.callback
	f.mu.Unlock()
	if cb != nil {
		cb(e)
	}
}

func (f *fakeQueue) Length() int               { return len(f.entries) }
func (f *fakeQueue) EstimatedWaitSeconds() int { return 0 }

// recordingConn captures everything written to a client.
type recordingConn struct {
	mu     sync.Mutex
	events []map[string]any
	fail   bool
}

type connError struct{}

func (connError) Error() string { return "connection closed" }

func (r *recordingConn) WriteJSON(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return connError{}
	}
	r.events = append(r.events, v.(map[string]any))
	return nil
}

func (r *recordingConn) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e["type"].(string)
	}
	return out
}

func (r *recordingConn) last() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

func (r *recordingConn) countOf(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e["type"] == eventType {
			n++
		}
	}
	return n
}
