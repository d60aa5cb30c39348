package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/p-arndt/schaufenster/internal/session"
)

type createSessionRequest struct {
	URL string `json:"url"`
}

// handleCreateSession admits a request into the queue. The rate limit is
// deliberately not checked here: the worker re-checks it during promotion
// so the client always lands on the queue page first.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions.Paused() {
		writeError(w, http.StatusServiceUnavailable, ErrCodePaused, "service is paused")
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid json: "+err.Error())
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "url is required")
		return
	}

	// reject dangerous schemes before anything is created or counted
	if _, err := session.NormalizeURL(req.URL); err != nil {
		if errors.Is(err, session.ErrBlockedScheme) {
			writeError(w, http.StatusBadRequest, ErrCodeBlockedProtocol, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	entry := s.queue.Enqueue(req.URL, clientIP(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"queueId":  entry.ID,
		"position": entry.Position,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess := s.sessions.GetSession(id)
	if sess == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":            sess.ID,
		"status":        sess.Status,
		"port":          sess.Port,
		"url":           sess.URL,
		"startedAt":     sess.StartedAt,
		"expiresAt":     sess.ExpiresAt,
		"timeRemaining": s.sessions.TimeRemaining(id),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.sessions.GetSession(id) == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	if s.sessions.EndSession(id, session.ReasonUserEnded) {
		s.realtime.NotifySessionEnded(id, session.ReasonUserEnded)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	status := s.sessions.CheckRateLimit(clientIP(r))
	writeJSON(w, http.StatusOK, map[string]int{
		"used":      status.Used,
		"remaining": status.Remaining,
		"limit":     s.sessions.RateLimit(),
	})
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry := s.queue.Get(id)
	if entry == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "queue entry not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                   entry.ID,
		"position":             entry.Position,
		"totalInQueue":         s.queue.Length(),
		"estimatedWaitSeconds": s.queue.EstimatedWaitSeconds(),
		"createdAt":            entry.CreatedAt,
	})
}

func (s *Server) handleLeaveQueue(w http.ResponseWriter, r *http.Request) {
	s.queue.Leave(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	containers := s.pool.Status()
	byStatus := map[string]int{}
	for _, c := range containers {
		byStatus[string(c.Status)]++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"pool": map[string]any{
			"size":   len(containers),
			"target": s.pool.PoolSize(),
			"warm":   byStatus["warm"],
			"active": byStatus["active"],
		},
		"activeSessions": len(s.sessions.ActiveSessions()),
		"queueLength":    s.queue.Length(),
	})
}
