package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/p-arndt/schaufenster/internal/config"
	"github.com/p-arndt/schaufenster/internal/pool"
	"github.com/p-arndt/schaufenster/internal/session"
)

func (s *Server) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	active := s.sessions.ActiveSessions()
	out := make([]map[string]any, 0, len(active))
	for _, sess := range active {
		out = append(out, map[string]any{
			"id":            sess.ID,
			"url":           sess.URL,
			"ip":            sess.AnonIP,
			"port":          sess.Port,
			"startedAt":     sess.StartedAt,
			"expiresAt":     sess.ExpiresAt,
			"timeRemaining": s.sessions.TimeRemaining(sess.ID),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleAdminQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":              s.queue.Waiting(),
		"length":               s.queue.Length(),
		"estimatedWaitSeconds": s.queue.EstimatedWaitSeconds(),
	})
}

// handleAdminPool reports the pool snapshot with the derived reconnecting
// status: a container whose session sits in the abandonment grace window
// shows as reconnecting instead of active. Pure aggregation.
func (s *Server) handleAdminPool(w http.ResponseWriter, r *http.Request) {
	reconnecting := make(map[string]bool)
	for _, id := range s.realtime.ReconnectingSessions() {
		reconnecting[id] = true
	}

	containers := s.pool.Status()
	out := make([]map[string]any, 0, len(containers))
	for _, c := range containers {
		status := string(c.Status)
		if c.Status == pool.StatusActive && reconnecting[c.SessionID] {
			status = "reconnecting"
		}
		out = append(out, map[string]any{
			"id":        c.ID,
			"port":      c.Port,
			"status":    status,
			"sessionId": c.SessionID,
			"createdAt": c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"containers": out,
		"target":     s.pool.PoolSize(),
	})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats := s.sessions.Stats()

	now := time.Now().UTC()
	weekAgo := now.AddDate(0, 0, -7)
	sessionsThisWeek, err := s.history.CountStartedSince(weekAgo)
	if err != nil {
		s.logger.Warn("history count failed", "error", err)
	}
	weeklyAvg, err := s.history.AvgDurationSince(weekAgo)
	if err != nil {
		s.logger.Warn("history average failed", "error", err)
	}

	containers := s.pool.Status()
	byStatus := map[string]int{}
	for _, c := range containers {
		byStatus[string(c.Status)]++
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"active":             stats.Active,
		"queueLength":        s.queue.Length(),
		"pool":               map[string]any{"size": len(containers), "target": s.pool.PoolSize(), "warm": byStatus["warm"], "active": byStatus["active"], "booting": byStatus["booting"]},
		"sessionsToday":      stats.SessionsToday,
		"sessionsThisWeek":   sessionsThisWeek,
		"peakConcurrent":     stats.PeakConcurrent,
		"avgSessionDuration": stats.AvgDuration,
		"weeklyAvgDuration":  weeklyAvg,
		"currentDuration":    stats.CurrentDuration,
		"poolSize":           s.pool.PoolSize(),
		"paused":             stats.Paused,
	})
}

func (s *Server) handleAdminHistory(w http.ResponseWriter, r *http.Request) {
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	pageSize := 50
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			pageSize = n
		}
	}
	search := r.URL.Query().Get("search")

	entries, total, err := s.history.History(search, page, pageSize)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":  entries,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

func (s *Server) handleAdminRateLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.RateLimitStats())
}

type ipActionRequest struct {
	IP string `json:"ip"`
}

func (s *Server) handleIPAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ipActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IP == "" {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "ip is required")
			return
		}
		switch action {
		case "block":
			s.sessions.Block(req.IP)
		case "unblock":
			s.sessions.Unblock(req.IP)
		case "whitelist":
			s.sessions.Whitelist(req.IP)
		case "unwhitelist":
			s.sessions.Unwhitelist(req.IP)
		case "clear-limit":
			s.sessions.ClearLimit(req.IP)
		}
		s.logger.Info("admin ip action", "action", action, "ip", session.AnonymizeIP(req.IP))
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func (s *Server) handleAdminKillSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.sessions.GetSession(id) == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	if s.sessions.EndSession(id, session.ReasonAdminKilled) {
		s.realtime.NotifySessionEnded(id, session.ReasonAdminKilled)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.sessions.SetPaused(true)
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.sessions.SetPaused(false)
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleDrainQueue(w http.ResponseWriter, r *http.Request) {
	count := s.queue.Drain()
	writeJSON(w, http.StatusOK, map[string]int{"drained": count})
}

func (s *Server) handleRestartPool(w http.ResponseWriter, r *http.Request) {
	s.pool.Restart(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type updateConfigRequest struct {
	PoolSize        *int `json:"poolSize"`
	SessionDuration *int `json:"sessionDuration"`
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid json: "+err.Error())
		return
	}

	if req.PoolSize != nil {
		if *req.PoolSize < config.MinPoolSize || *req.PoolSize > config.MaxPoolSize {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "poolSize out of range")
			return
		}
	}
	if req.SessionDuration != nil {
		if *req.SessionDuration < config.MinSessionDuration || *req.SessionDuration > config.MaxSessionDuration {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "sessionDuration out of range")
			return
		}
	}

	if req.PoolSize != nil {
		s.pool.SetPoolSize(*req.PoolSize)
	}
	if req.SessionDuration != nil {
		s.sessions.SetDuration(*req.SessionDuration)
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"poolSize":        s.pool.PoolSize(),
		"sessionDuration": s.sessions.CurrentDuration(),
	})
}
