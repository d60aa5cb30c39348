package session

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/p-arndt/schaufenster/internal/metrics"
)

// Terminal reasons converge here from every path that ends a session.
const (
	ReasonExpired     = "expired"
	ReasonUserEnded   = "user_ended"
	ReasonAdminKilled = "admin_killed"
	ReasonAbandoned   = "abandoned"
)

const (
	StatusActive  = "active"
	StatusEnded   = "ended"
	StatusExpired = "expired"
)

// durationWindow is the capacity of the rolling window of recent actual
// session durations.
const durationWindow = 20

var (
	ErrNotFound   = errors.New("session not found")
	ErrNoCapacity = errors.New("no warm container available")
)

// Session is a read-only snapshot. Mutation happens only inside Manager.
type Session struct {
	ID          string    `json:"id"`
	ContainerID string    `json:"-"`
	Port        int       `json:"port"`
	URL         string    `json:"url"`
	AnonIP      string    `json:"ip"`
	StartedAt   time.Time `json:"started_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Status      string    `json:"status"`
}

type RateLimitStatus struct {
	Allowed   bool `json:"allowed"`
	Used      int  `json:"used"`
	Remaining int  `json:"remaining"`
	Blocked   bool `json:"blocked"`
}

type Stats struct {
	Active          int     `json:"active"`
	SessionsToday   int     `json:"sessions_today"`
	PeakConcurrent  int     `json:"peak_concurrent"`
	AvgDuration     float64 `json:"avg_session_duration"`
	CurrentDuration int     `json:"current_duration"`
	Paused          bool    `json:"paused"`
}

type RateLimitStats struct {
	CountsToday map[string]int `json:"counts_today"`
	LimitedIPs  []string       `json:"limited_ips"`
	Blocked     []string       `json:"blocked"`
	Whitelisted []string       `json:"whitelisted"`
}

type Manager struct {
	pool    ContainerPool
	sink    LogSink
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	// policy state
	blocked     map[string]struct{}
	whitelist   map[string]struct{}
	ipCount     map[string]int
	day         string
	limitPerDay int
	paused      bool

	currentDuration int // seconds

	sessionsToday  int
	peakConcurrent int
	durations      []int // rolling window, oldest first
}

func NewManager(p ContainerPool, sink LogSink, m *metrics.Metrics, limitPerDay, duration int, logger *slog.Logger) *Manager {
	return &Manager{
		pool:            p,
		sink:            sink,
		metrics:         m,
		logger:          logger,
		sessions:        make(map[string]*Session),
		blocked:         make(map[string]struct{}),
		whitelist:       make(map[string]struct{}),
		ipCount:         make(map[string]int),
		day:             time.Now().Format("2006-01-02"),
		limitPerDay:     limitPerDay,
		currentDuration: duration,
	}
}

// resetIfNewDayLocked clears the daily counters on the first call after
// the local calendar date changes.
func (m *Manager) resetIfNewDayLocked() {
	today := time.Now().Format("2006-01-02")
	if today == m.day {
		return
	}
	m.day = today
	m.ipCount = make(map[string]int)
	m.sessionsToday = 0
	m.peakConcurrent = 0
	if m.metrics != nil {
		m.metrics.SessionsToday.Set(0)
	}
}

// CheckRateLimit reports whether rawIP may start a session right now.
// Whitelisted IPs are always allowed, blocked IPs never.
func (m *Manager) CheckRateLimit(rawIP string) RateLimitStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfNewDayLocked()

	used := m.ipCount[rawIP]

	if _, ok := m.blocked[rawIP]; ok {
		return RateLimitStatus{Allowed: false, Used: used, Remaining: 0, Blocked: true}
	}
	if _, ok := m.whitelist[rawIP]; ok {
		return RateLimitStatus{Allowed: true, Used: used, Remaining: m.limitPerDay}
	}

	remaining := m.limitPerDay - used
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitStatus{Allowed: used < m.limitPerDay, Used: used, Remaining: remaining}
}

// RateLimit returns the configured daily cap.
func (m *Manager) RateLimit() int {
	return m.limitPerDay
}

// CreateSession binds a fresh session to an acquired container and fires
// the in-container launch. Returns ErrNoCapacity when nothing is warm.
func (m *Manager) CreateSession(rawURL, rawIP string) (*Session, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()[:12]
	c := m.pool.Acquire(id)
	if c == nil {
		return nil, ErrNoCapacity
	}

	now := time.Now().UTC()
	anonIP := AnonymizeIP(rawIP)

	m.mu.Lock()
	m.resetIfNewDayLocked()
	duration := m.currentDuration
	sess := &Session{
		ID:          id,
		ContainerID: c.ID,
		Port:        c.Port,
		URL:         normalized,
		AnonIP:      anonIP,
		StartedAt:   now,
		ExpiresAt:   now.Add(time.Duration(duration) * time.Second),
		Status:      StatusActive,
	}
	m.sessions[id] = sess
	m.ipCount[rawIP]++
	m.sessionsToday++
	if active := m.activeCountLocked(); active > m.peakConcurrent {
		m.peakConcurrent = active
	}
	activeNow := m.activeCountLocked()
	sessionsToday := m.sessionsToday
	m.mu.Unlock()

	m.pool.LaunchApp(c.ID, normalized)

	if err := m.sink.RecordSessionStart(id, normalized, anonIP, now); err != nil {
		m.logger.Warn("session log write failed", "session_id", id, "error", err)
	}

	if m.metrics != nil {
		m.metrics.SessionsTotal.Inc()
		m.metrics.SessionsToday.Set(float64(sessionsToday))
		m.metrics.ActiveSessions.Set(float64(activeNow))
	}

	m.logger.Info("session started", "session_id", id, "container", c.ID, "port", c.Port, "ip", anonIP)

	snapshot := *sess
	return &snapshot, nil
}

// GetSession returns a snapshot, or nil if unknown.
func (m *Manager) GetSession(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil
	}
	snapshot := *sess
	return &snapshot
}

// ActiveSessions returns snapshots of every active session.
func (m *Manager) ActiveSessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, sess := range m.sessions {
		if sess.Status == StatusActive {
			out = append(out, *sess)
		}
	}
	return out
}

// TimeRemaining returns whole seconds until expiry, floored at 0.
// Unknown or terminal sessions report 0.
func (m *Manager) TimeRemaining(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok || sess.Status != StatusActive {
		return 0
	}
	remaining := int(time.Until(sess.ExpiresAt).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// EndSession terminates a session. Idempotent: returns false when the
// session is unknown or already terminal.
func (m *Manager) EndSession(id, reason string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok || sess.Status != StatusActive {
		m.mu.Unlock()
		return false
	}
	if reason == ReasonExpired {
		sess.Status = StatusExpired
	} else {
		sess.Status = StatusEnded
	}
	now := time.Now().UTC()
	duration := int(now.Sub(sess.StartedAt).Seconds())
	m.durations = append(m.durations, duration)
	if len(m.durations) > durationWindow {
		m.durations = m.durations[1:]
	}
	containerID := sess.ContainerID
	activeNow := m.activeCountLocked()
	m.mu.Unlock()

	if err := m.sink.RecordSessionEnd(id, now, duration, reason); err != nil {
		m.logger.Warn("session log write failed", "session_id", id, "error", err)
	}

	m.pool.Release(containerID)

	if m.metrics != nil {
		m.metrics.ActiveSessions.Set(float64(activeNow))
		m.metrics.SessionDuration.Observe(float64(duration))
		m.metrics.SessionEnds.WithLabelValues(reason).Inc()
	}

	m.logger.Info("session ended", "session_id", id, "reason", reason, "duration_s", duration)
	return true
}

// Run drives the expiry loop until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.expireSweep()
		}
	}
}

func (m *Manager) expireSweep() {
	now := time.Now()

	m.mu.Lock()
	var expired []string
	for id, sess := range m.sessions {
		if sess.Status == StatusActive && !sess.ExpiresAt.After(now) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.EndSession(id, ReasonExpired)
	}
}

// AvgSessionDuration is the mean of the rolling window, or the configured
// duration while the window is empty.
func (m *Manager) AvgSessionDuration() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.avgDurationLocked()
}

func (m *Manager) avgDurationLocked() float64 {
	if len(m.durations) == 0 {
		return float64(m.currentDuration)
	}
	sum := 0
	for _, d := range m.durations {
		sum += d
	}
	return float64(sum) / float64(len(m.durations))
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfNewDayLocked()
	return Stats{
		Active:          m.activeCountLocked(),
		SessionsToday:   m.sessionsToday,
		PeakConcurrent:  m.peakConcurrent,
		AvgDuration:     m.avgDurationLocked(),
		CurrentDuration: m.currentDuration,
		Paused:          m.paused,
	}
}

func (m *Manager) activeCountLocked() int {
	n := 0
	for _, sess := range m.sessions {
		if sess.Status == StatusActive {
			n++
		}
	}
	return n
}

// Policy controls

func (m *Manager) SetPaused(paused bool) {
	m.mu.Lock()
	m.paused = paused
	m.mu.Unlock()
	m.logger.Info("pause state changed", "paused", paused)
}

func (m *Manager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// SetDuration changes the lifetime applied to new sessions. Running
// sessions keep their original expiry.
func (m *Manager) SetDuration(seconds int) {
	m.mu.Lock()
	m.currentDuration = seconds
	m.mu.Unlock()
	m.logger.Info("session duration changed", "seconds", seconds)
}

func (m *Manager) CurrentDuration() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentDuration
}

func (m *Manager) Block(ip string) {
	m.mu.Lock()
	m.blocked[ip] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) Unblock(ip string) {
	m.mu.Lock()
	delete(m.blocked, ip)
	m.mu.Unlock()
}

func (m *Manager) Whitelist(ip string) {
	m.mu.Lock()
	m.whitelist[ip] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) Unwhitelist(ip string) {
	m.mu.Lock()
	delete(m.whitelist, ip)
	m.mu.Unlock()
}

func (m *Manager) ClearLimit(ip string) {
	m.mu.Lock()
	delete(m.ipCount, ip)
	m.mu.Unlock()
}

func (m *Manager) RateLimitStats() RateLimitStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfNewDayLocked()

	stats := RateLimitStats{
		CountsToday: make(map[string]int, len(m.ipCount)),
		LimitedIPs:  []string{},
		Blocked:     []string{},
		Whitelisted: []string{},
	}
	for ip, n := range m.ipCount {
		stats.CountsToday[ip] = n
		if n >= m.limitPerDay {
			stats.LimitedIPs = append(stats.LimitedIPs, ip)
		}
	}
	for ip := range m.blocked {
		stats.Blocked = append(stats.Blocked, ip)
	}
	for ip := range m.whitelist {
		stats.Whitelisted = append(stats.Whitelisted, ip)
	}
	return stats
}

// AnonymizeIP masks the host part of an address: the last octet of IPv4,
// the last hextet of IPv6. The raw address never leaves the policy layer.
func AnonymizeIP(rawIP string) string {
	ip := net.ParseIP(rawIP)
	if ip == nil {
		return "invalid"
	}
	if v4 := ip.To4(); v4 != nil {
		parts := strings.Split(v4.String(), ".")
		parts[len(parts)-1] = "*"
		return strings.Join(parts, ".")
	}
	parts := strings.Split(ip.String(), ":")
	parts[len(parts)-1] = "*"
	return strings.Join(parts, ":")
}
