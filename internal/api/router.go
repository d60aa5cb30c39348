package api

import (
	"log/slog"
	"net/http"

	"github.com/p-arndt/schaufenster/internal/config"
)

type Server struct {
	cfg      *config.Config
	sessions SessionService
	queue    QueueService
	pool     PoolService
	realtime RealtimeService
	history  HistoryStore
	logger   *slog.Logger

	metricsHandler http.Handler
	wsHandler      http.Handler
	mux            *http.ServeMux
}

func NewServer(cfg *config.Config, sessions SessionService, q QueueService, p PoolService, rt RealtimeService, hist HistoryStore, metricsHandler, wsHandler http.Handler, logger *slog.Logger) *Server {
	s := &Server{
		cfg:            cfg,
		sessions:       sessions,
		queue:          q,
		pool:           p,
		realtime:       rt,
		history:        hist,
		logger:         logger,
		metricsHandler: metricsHandler,
		wsHandler:      wsHandler,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.requestIDMiddleware(s.mux))
}

func (s *Server) routes() {
	// public surface
	s.mux.HandleFunc("POST /api/session", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/session/rate-limit/status", s.handleRateLimitStatus)
	s.mux.HandleFunc("GET /api/session/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /api/session/{id}", s.handleEndSession)
	s.mux.HandleFunc("GET /api/queue/{id}", s.handleGetQueue)
	s.mux.HandleFunc("DELETE /api/queue/{id}", s.handleLeaveQueue)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	if s.metricsHandler != nil {
		s.mux.Handle("GET /api/metrics", s.metricsHandler)
		s.mux.Handle("GET /metrics", s.metricsHandler) // scraper-friendly alias
	}
	if s.wsHandler != nil {
		s.mux.Handle("GET /ws", s.wsHandler)
	}

	// admin surface (basic auth)
	s.mux.HandleFunc("GET /api/admin/sessions", s.adminAuth(s.handleAdminSessions))
	s.mux.HandleFunc("GET /api/admin/queue", s.adminAuth(s.handleAdminQueue))
	s.mux.HandleFunc("GET /api/admin/pool", s.adminAuth(s.handleAdminPool))
	s.mux.HandleFunc("GET /api/admin/stats", s.adminAuth(s.handleAdminStats))
	s.mux.HandleFunc("GET /api/admin/history", s.adminAuth(s.handleAdminHistory))
	s.mux.HandleFunc("GET /api/admin/rate-limits", s.adminAuth(s.handleAdminRateLimits))
	s.mux.HandleFunc("POST /api/admin/block", s.adminAuth(s.handleIPAction("block")))
	s.mux.HandleFunc("POST /api/admin/unblock", s.adminAuth(s.handleIPAction("unblock")))
	s.mux.HandleFunc("POST /api/admin/whitelist", s.adminAuth(s.handleIPAction("whitelist")))
	s.mux.HandleFunc("POST /api/admin/unwhitelist", s.adminAuth(s.handleIPAction("unwhitelist")))
	s.mux.HandleFunc("POST /api/admin/clear-limit", s.adminAuth(s.handleIPAction("clear-limit")))
	s.mux.HandleFunc("DELETE /api/admin/session/{id}", s.adminAuth(s.handleAdminKillSession))
	s.mux.HandleFunc("POST /api/admin/pause", s.adminAuth(s.handlePause))
	s.mux.HandleFunc("POST /api/admin/resume", s.adminAuth(s.handleResume))
	s.mux.HandleFunc("POST /api/admin/drain-queue", s.adminAuth(s.handleDrainQueue))
	s.mux.HandleFunc("POST /api/admin/restart-pool", s.adminAuth(s.handleRestartPool))
	s.mux.HandleFunc("POST /api/admin/config", s.adminAuth(s.handleUpdateConfig))
}
