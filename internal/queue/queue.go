package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/p-arndt/schaufenster/internal/metrics"
	"github.com/p-arndt/schaufenster/internal/session"
)

type Status string

const (
	StatusWaiting     Status = "waiting"
	StatusPreparing   Status = "preparing"
	StatusConnecting  Status = "connecting"
	StatusReady       Status = "ready"
	StatusRateLimited Status = "rate_limited"
)

// nominalParallelism feeds the wait estimate: how many queue slots drain
// per average session lifetime.
const nominalParallelism = 3

// Entry is a queue element. Values handed to callers and callbacks are
// defensive copies; the queue owns the originals.
type Entry struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Position  int       `json:"position"`
	Status    Status    `json:"status"`
	SessionID string    `json:"session_id,omitempty"`
	Port      int       `json:"port,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Error     string    `json:"error,omitempty"`

	rawIP    string
	notified map[Status]bool // statuses already delivered to the subscriber
}

// Callback receives entry snapshots as the worker advances them. Invoked
// without the queue lock held; at most once per distinct status.
type Callback func(Entry)

type Config struct {
	Tick      time.Duration // worker period, default 500ms
	PrepDelay time.Duration // pause between preparing and connecting, default 500ms
}

type Queue struct {
	capacity Capacity
	sessions SessionService
	metrics  *metrics.Metrics
	logger   *slog.Logger

	tick      time.Duration
	prepDelay time.Duration

	mu        sync.Mutex
	entries   map[string]*Entry
	order     []string          // waiting entry IDs, FIFO
	ipIndex   map[string]string // rawIP -> waiting entry ID
	callbacks map[string]Callback

	signal chan struct{}
}

func New(capacity Capacity, sessions SessionService, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Queue {
	if cfg.Tick <= 0 {
		cfg.Tick = 500 * time.Millisecond
	}
	if cfg.PrepDelay < 0 {
		cfg.PrepDelay = 0
	} else if cfg.PrepDelay == 0 {
		cfg.PrepDelay = 500 * time.Millisecond
	}
	return &Queue{
		capacity:  capacity,
		sessions:  sessions,
		metrics:   m,
		logger:    logger,
		tick:      cfg.Tick,
		prepDelay: cfg.PrepDelay,
		entries:   make(map[string]*Entry),
		ipIndex:   make(map[string]string),
		callbacks: make(map[string]Callback),
		signal:    make(chan struct{}, 1),
	}
}

// Enqueue admits a request. A second submission from the same rawIP while
// a waiting entry exists coalesces onto it: the URL is overwritten, the
// position and ID stay.
func (q *Queue) Enqueue(url, rawIP string) Entry {
	q.mu.Lock()
	if id, ok := q.ipIndex[rawIP]; ok {
		e := q.entries[id]
		e.URL = url
		snapshot := *e
		q.mu.Unlock()
		q.logger.Info("queue entry coalesced", "queue_id", id, "ip", session.AnonymizeIP(rawIP))
		return snapshot
	}

	e := &Entry{
		ID:        uuid.New().String()[:12],
		URL:       url,
		Status:    StatusWaiting,
		CreatedAt: time.Now().UTC(),
		rawIP:     rawIP,
	}
	q.entries[e.ID] = e
	q.order = append(q.order, e.ID)
	q.ipIndex[rawIP] = e.ID
	q.reindexLocked()
	snapshot := *e
	q.mu.Unlock()

	q.logger.Info("queue entry added", "queue_id", e.ID, "position", snapshot.Position, "ip", session.AnonymizeIP(rawIP))
	q.updateLengthMetric()
	q.wake()
	return snapshot
}

// Get returns a snapshot, or nil if unknown.
func (q *Queue) Get(id string) *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return nil
	}
	snapshot := *e
	return &snapshot
}

// Subscribe registers a callback for the entry's status changes.
// Returns false if the entry is unknown.
func (q *Queue) Subscribe(id string, cb Callback) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[id]; !ok {
		return false
	}
	q.callbacks[id] = cb
	return true
}

// Leave removes a waiting entry and its subscription.
func (q *Queue) Leave(id string) {
	q.mu.Lock()
	e, ok := q.entries[id]
	if ok {
		delete(q.entries, id)
		delete(q.callbacks, id)
		if q.ipIndex[e.rawIP] == id {
			delete(q.ipIndex, e.rawIP)
		}
		q.removeFromOrderLocked(id)
		q.reindexLocked()
	}
	q.mu.Unlock()
	if ok {
		q.updateLengthMetric()
	}
}

// Length is the number of waiting entries.
func (q *Queue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// EstimatedWaitSeconds is 0 while any warm container exists; otherwise a
// coarse projection from queue depth and the rolling average duration.
func (q *Queue) EstimatedWaitSeconds() int {
	if q.capacity.WarmCount() > 0 {
		return 0
	}
	q.mu.Lock()
	depth := len(q.order)
	q.mu.Unlock()
	if depth == 0 {
		return 0
	}
	rounds := (depth + nominalParallelism - 1) / nominalParallelism
	return int(float64(rounds) * q.sessions.AvgSessionDuration())
}

// Drain terminates every waiting entry as rate_limited, fires callbacks,
// and purges all registries. Returns the number of waiting entries hit.
func (q *Queue) Drain() int {
	q.mu.Lock()
	type hit struct {
		cb Callback
		e  Entry
	}
	var hits []hit
	for _, id := range q.order {
		e := q.entries[id]
		e.Status = StatusRateLimited
		e.Position = 0
		e.Error = "queue drained"
		if cb, ok := q.callbacks[id]; ok {
			hits = append(hits, hit{cb: cb, e: *e})
		}
	}
	count := len(q.order)
	q.order = nil
	q.entries = make(map[string]*Entry)
	q.ipIndex = make(map[string]string)
	q.callbacks = make(map[string]Callback)
	q.mu.Unlock()

	for _, h := range hits {
		h.cb(h.e)
	}
	q.updateLengthMetric()
	q.logger.Info("queue drained", "count", count)
	return count
}

// Run drives the worker until ctx is cancelled. The worker also wakes on
// every enqueue.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-q.signal:
		}
		q.step(ctx)
	}
}

// step promotes at most one waiting entry toward readiness.
func (q *Queue) step(ctx context.Context) {
	q.mu.Lock()
	if len(q.order) == 0 || q.capacity.WarmCount() == 0 {
		q.mu.Unlock()
		return
	}
	id := q.order[0]
	q.order = q.order[1:]
	e := q.entries[id]
	delete(q.ipIndex, e.rawIP)
	q.reindexLocked()
	rawIP := e.rawIP
	url := e.URL
	q.mu.Unlock()

	q.updateLengthMetric()

	// the rate-limit state may have changed since admission
	rl := q.sessions.CheckRateLimit(rawIP)
	if !rl.Allowed {
		msg := "daily session limit reached"
		if rl.Blocked {
			msg = "access denied"
		}
		q.terminate(id, msg)
		if q.metrics != nil {
			q.metrics.RateLimited.Inc()
		}
		return
	}

	q.transition(id, StatusPreparing)

	select {
	case <-ctx.Done():
		return
	case <-time.After(q.prepDelay):
	}

	q.transition(id, StatusConnecting)

	sess, err := q.sessions.CreateSession(url, rawIP)
	if err != nil {
		if errors.Is(err, session.ErrNoCapacity) {
			q.requeueFront(id, rawIP)
			return
		}
		q.logger.Error("session create failed", "queue_id", id, "error", err)
		q.terminate(id, "session could not be started")
		return
	}

	q.mu.Lock()
	cur, ok := q.entries[id]
	var snapshot Entry
	var cb Callback
	if ok {
		cur.Status = StatusReady
		cur.SessionID = sess.ID
		cur.Port = sess.Port
		cur.Position = 0
		snapshot = *cur
		cb = q.callbacks[id]
	}
	q.mu.Unlock()

	if ok {
		q.logger.Info("queue entry ready", "queue_id", id, "session_id", sess.ID, "port", sess.Port)
		if cb != nil {
			cb(snapshot)
		}
	}
}

// transition moves the entry to status and notifies its subscriber.
func (q *Queue) transition(id string, status Status) {
	q.mu.Lock()
	e, ok := q.entries[id]
	var snapshot Entry
	var cb Callback
	if ok {
		e.Status = status
		e.Position = 0
		snapshot = *e
		// a requeued entry walks the statuses again; notify each only once
		if e.notified == nil {
			e.notified = make(map[Status]bool)
		}
		if !e.notified[status] {
			e.notified[status] = true
			cb = q.callbacks[id]
		}
	}
	q.mu.Unlock()

	if ok && cb != nil {
		cb(snapshot)
	}
}

// terminate marks the entry rate_limited, notifies, and forgets it.
func (q *Queue) terminate(id, msg string) {
	q.mu.Lock()
	e, ok := q.entries[id]
	var snapshot Entry
	var cb Callback
	if ok {
		e.Status = StatusRateLimited
		e.Position = 0
		e.Error = msg
		snapshot = *e
		cb = q.callbacks[id]
		delete(q.entries, id)
		delete(q.callbacks, id)
	}
	q.mu.Unlock()

	if ok && cb != nil {
		cb(snapshot)
	}
}

// requeueFront puts an entry back at the head after a bounded failure.
func (q *Queue) requeueFront(id, rawIP string) {
	q.mu.Lock()
	e, ok := q.entries[id]
	if ok {
		e.Status = StatusWaiting
		q.order = append([]string{id}, q.order...)
		q.ipIndex[rawIP] = id
		q.reindexLocked()
	}
	q.mu.Unlock()
	q.updateLengthMetric()
}

func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// reindexLocked recomputes 1-based positions over the waiting sequence.
func (q *Queue) reindexLocked() {
	for i, id := range q.order {
		if e, ok := q.entries[id]; ok {
			e.Position = i + 1
		}
	}
}

func (q *Queue) removeFromOrderLocked(id string) {
	for i, cur := range q.order {
		if cur == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}

func (q *Queue) updateLengthMetric() {
	if q.metrics == nil {
		return
	}
	q.mu.Lock()
	depth := len(q.order)
	q.mu.Unlock()
	q.metrics.QueueLength.Set(float64(depth))
}

// Waiting returns snapshots of all waiting entries in FIFO order, for the
// admin surface.
func (q *Queue) Waiting() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, 0, len(q.order))
	for _, id := range q.order {
		if e, ok := q.entries[id]; ok {
			out = append(out, *e)
		}
	}
	return out
}
