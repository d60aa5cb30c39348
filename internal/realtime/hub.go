package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/p-arndt/schaufenster/internal/metrics"
	"github.com/p-arndt/schaufenster/internal/queue"
	"github.com/p-arndt/schaufenster/internal/session"
)

// warningThreshold is when the one-shot session:warning fires.
const warningThreshold = 30

type Config struct {
	GraceTimeout time.Duration // abandonment grace, default 35s
	TickInterval time.Duration // timer broadcast period, default 1s
}

// sessionState holds the per-session client projections. All access goes
// through the hub mutex. The clients value records whether the joined
// reply has gone out; timer broadcasts skip clients before that point so
// session:joined always precedes the first session:timer.
type sessionState struct {
	clients map[*client]bool
	viewers map[*client]bool
	primary *client
	warned  bool

	abandonTimer *time.Timer
}

// Hub owns client bindings and the timer broadcast. Emission always
// happens outside the lock on snapshots taken under it.
type Hub struct {
	sessions SessionService
	queue    QueueService
	metrics  *metrics.Metrics
	logger   *slog.Logger

	grace time.Duration
	tickI time.Duration

	mu           sync.Mutex
	bySession    map[string]*sessionState
	reconnecting map[string]time.Time // session id -> grace deadline
}

func NewHub(sessions SessionService, q QueueService, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Hub {
	if cfg.GraceTimeout <= 0 {
		cfg.GraceTimeout = 35 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return &Hub{
		sessions:     sessions,
		queue:        q,
		metrics:      m,
		logger:       logger,
		grace:        cfg.GraceTimeout,
		tickI:        cfg.TickInterval,
		bySession:    make(map[string]*sessionState),
		reconnecting: make(map[string]time.Time),
	}
}

// Run drives the broadcast loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.tickI)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

// Join binds a client to a session, as viewer or as the new primary. Any
// join cancels a pending abandonment timer.
func (h *Hub) Join(c *client, sessionID string, viewer bool) {
	sess := h.sessions.GetSession(sessionID)
	if sess == nil || sess.Status != session.StatusActive {
		h.emit(c, "session:error", fields{"error": "session not active"})
		return
	}

	remaining := h.sessions.TimeRemaining(sessionID)

	h.mu.Lock()
	st, ok := h.bySession[sessionID]
	if !ok {
		st = &sessionState{
			clients: make(map[*client]bool),
			viewers: make(map[*client]bool),
		}
		h.bySession[sessionID] = st
	}
	if st.abandonTimer != nil {
		st.abandonTimer.Stop()
		st.abandonTimer = nil
	}
	delete(h.reconnecting, sessionID)

	st.clients[c] = false

	var prevPrimary *client
	if viewer {
		st.viewers[c] = true
	} else {
		prevPrimary = st.primary
		delete(st.viewers, c)
		st.primary = c
	}
	primary := st.primary
	viewerCount := len(st.viewers)
	h.mu.Unlock()

	if viewer {
		h.emit(c, "session:joined", fields{
			"sessionId":     sessionID,
			"port":          sess.Port,
			"timeRemaining": remaining,
			"isViewer":      true,
		})
		h.markJoined(sessionID, c)
		if primary != nil && primary != c {
			h.emit(primary, "session:viewer-count", fields{"count": viewerCount})
		}
		return
	}

	// the demoted primary learns first, then the new one is confirmed
	if prevPrimary != nil && prevPrimary != c {
		h.emit(prevPrimary, "session:takeover", fields{})
	}
	h.emit(c, "session:joined", fields{
		"sessionId":     sessionID,
		"port":          sess.Port,
		"timeRemaining": remaining,
		"isPrimary":     true,
		"viewerCount":   viewerCount,
	})
	h.markJoined(sessionID, c)
}

func (h *Hub) markJoined(sessionID string, c *client) {
	h.mu.Lock()
	if st, ok := h.bySession[sessionID]; ok {
		if _, bound := st.clients[c]; bound {
			st.clients[c] = true
		}
	}
	h.mu.Unlock()
}

// JoinQueue attaches a client to its queue entry's status stream.
func (h *Hub) JoinQueue(c *client, queueID string) {
	entry := h.queue.Get(queueID)
	if entry == nil {
		h.emit(c, "queue:invalid", fields{})
		return
	}

	h.emit(c, "queue:joined", fields{
		"queueId":              entry.ID,
		"status":               entry.Status,
		"position":             entry.Position,
		"totalInQueue":         h.queue.Length(),
		"estimatedWaitSeconds": h.queue.EstimatedWaitSeconds(),
	})

	h.queue.Subscribe(queueID, func(e queue.Entry) {
		switch e.Status {
		case queue.StatusReady:
			h.emit(c, "queue:ready", fields{
				"sessionId": e.SessionID,
				"port":      e.Port,
			})
		case queue.StatusRateLimited:
			h.emit(c, "queue:error", fields{"error": e.Error})
		default:
			h.emit(c, "queue:status", fields{
				"status":               e.Status,
				"position":             e.Position,
				"totalInQueue":         h.queue.Length(),
				"estimatedWaitSeconds": h.queue.EstimatedWaitSeconds(),
			})
		}
	})
}

// Disconnect removes the client everywhere. The last client of a session
// arms the abandonment grace timer.
func (h *Hub) Disconnect(c *client) {
	type update struct {
		primary *client
		count   int
	}
	updates := make(map[string]update)

	h.mu.Lock()
	for sessionID, st := range h.bySession {
		if _, bound := st.clients[c]; !bound {
			continue
		}
		delete(st.clients, c)
		wasViewer := st.viewers[c]
		delete(st.viewers, c)
		if st.primary == c {
			st.primary = nil
		}

		if len(st.clients) == 0 {
			id := sessionID
			st.abandonTimer = time.AfterFunc(h.grace, func() { h.abandon(id) })
			h.reconnecting[sessionID] = time.Now().Add(h.grace)
			continue
		}
		if wasViewer && st.primary != nil {
			updates[sessionID] = update{primary: st.primary, count: len(st.viewers)}
		}
	}
	h.mu.Unlock()

	for _, u := range updates {
		h.emit(u.primary, "session:viewer-count", fields{"count": u.count})
	}
}

// abandon fires when the grace period elapsed with no client coming back.
func (h *Hub) abandon(sessionID string) {
	h.mu.Lock()
	st, ok := h.bySession[sessionID]
	if !ok || len(st.clients) > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.bySession, sessionID)
	delete(h.reconnecting, sessionID)
	h.mu.Unlock()

	if h.sessions.EndSession(sessionID, session.ReasonAbandoned) {
		h.logger.Info("session abandoned", "session_id", sessionID)
	}
}

// NotifySessionEnded pushes the terminal event to every bound client and
// drops the session's bindings. Used by admin kill and user-initiated end.
func (h *Hub) NotifySessionEnded(sessionID, reason string) {
	h.mu.Lock()
	st, ok := h.bySession[sessionID]
	var targets []*client
	if ok {
		for c := range st.clients {
			targets = append(targets, c)
		}
		if st.abandonTimer != nil {
			st.abandonTimer.Stop()
		}
		delete(h.bySession, sessionID)
		delete(h.reconnecting, sessionID)
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.emit(c, "session:ended", fields{"reason": reason})
	}
}

// ReconnectingSessions lists sessions whose clients are all gone but whose
// grace timer is still pending. The admin pool view derives the
// "reconnecting" container status from this.
func (h *Hub) ReconnectingSessions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.reconnecting))
	for id := range h.reconnecting {
		out = append(out, id)
	}
	return out
}

// tick is one broadcast round: timers to live sessions, terminal events
// for sessions that went away, the 30s warning exactly once.
func (h *Hub) tick() {
	type snapshot struct {
		sessionID string
		clients   []*client
	}

	h.mu.Lock()
	snapshots := make([]snapshot, 0, len(h.bySession))
	for id, st := range h.bySession {
		cs := make([]*client, 0, len(st.clients))
		for c, joined := range st.clients {
			if joined {
				cs = append(cs, c)
			}
		}
		snapshots = append(snapshots, snapshot{sessionID: id, clients: cs})
	}
	h.mu.Unlock()

	for _, snap := range snapshots {
		sess := h.sessions.GetSession(snap.sessionID)
		if sess == nil || sess.Status != session.StatusActive {
			for _, c := range snap.clients {
				h.emit(c, "session:ended", fields{"reason": session.ReasonExpired})
			}
			h.mu.Lock()
			if st, ok := h.bySession[snap.sessionID]; ok {
				if st.abandonTimer != nil {
					st.abandonTimer.Stop()
				}
				delete(h.bySession, snap.sessionID)
			}
			delete(h.reconnecting, snap.sessionID)
			h.mu.Unlock()
			continue
		}

		remaining := h.sessions.TimeRemaining(snap.sessionID)
		for _, c := range snap.clients {
			h.emit(c, "session:timer", fields{"timeRemaining": remaining})
		}

		if remaining <= warningThreshold && remaining > 0 {
			h.mu.Lock()
			st, ok := h.bySession[snap.sessionID]
			fire := ok && !st.warned
			if fire {
				st.warned = true
			}
			h.mu.Unlock()
			if fire {
				for _, c := range snap.clients {
					h.emit(c, "session:warning", fields{"secondsLeft": warningThreshold})
				}
			}
		}
	}
}

type fields map[string]any

// emit writes one named event. A failed write (closed client,
// backpressure) is logged and never aborts a broadcast.
func (h *Hub) emit(c *client, event string, f fields) {
	payload := make(map[string]any, len(f)+1)
	payload["type"] = event
	for k, v := range f {
		payload[k] = v
	}
	if err := c.send(payload); err != nil {
		h.logger.Warn("event emission failed", "client", c.id, "event", event, "error", err)
	}
}
