package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/p-arndt/schaufenster/internal/api"
	"github.com/p-arndt/schaufenster/internal/config"
	"github.com/p-arndt/schaufenster/internal/docker"
	"github.com/p-arndt/schaufenster/internal/metrics"
	"github.com/p-arndt/schaufenster/internal/pool"
	"github.com/p-arndt/schaufenster/internal/queue"
	"github.com/p-arndt/schaufenster/internal/realtime"
	"github.com/p-arndt/schaufenster/internal/session"
	"github.com/p-arndt/schaufenster/internal/store"
)

func main() {
	cfgPath := flag.String("config", "", "path to schaufenster.yaml")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if cfg.AdminPassword == "" {
		logger.Warn("no admin password configured — admin surface disabled")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("create data dir", "error", err)
		os.Exit(1)
	}

	st, err := store.New(filepath.Join(cfg.DataDir, "schaufenster.db"))
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	dc, err := docker.New(cfg.Container)
	if err != nil {
		logger.Error("docker client", "error", err)
		os.Exit(1)
	}
	defer dc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dc.Ping(ctx); err != nil {
		logger.Error("docker ping failed — is Docker running?", "error", err)
		os.Exit(1)
	}
	logger.Info("docker connection OK")

	m := metrics.New()

	pl := pool.New(dc, pool.Config{
		PoolSize:       cfg.PoolSize,
		PortRangeStart: cfg.PortRangeStart,
		PortRangeEnd:   cfg.PortRangeEnd,
		Metrics:        m,
	}, logger)
	if err := pl.Init(ctx); err != nil {
		logger.Error("pool init", "error", err)
		os.Exit(1)
	}
	pl.Start(ctx)
	m.PoolTarget.Set(float64(cfg.PoolSize))

	mgr := session.NewManager(pl, st, m, cfg.RateLimitPerDay, cfg.SessionDuration, logger)
	go mgr.Run(ctx)

	q := queue.New(pl, mgr, m, queue.Config{}, logger)
	go q.Run(ctx)

	hub := realtime.NewHub(mgr, q, m, realtime.Config{}, logger)
	go hub.Run(ctx)

	wsHandler := realtime.NewHandler(hub, cfg.FrontendURL)

	srv := api.NewServer(cfg, mgr, q, pl, hub, st, m.Handler(), wsHandler, logger)

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-sigCh
		logger.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		pl.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.Listen, "pool_size", cfg.PoolSize)
	fmt.Fprintf(os.Stderr, "\n  schaufenster daemon ready at http://%s\n\n", cfg.Listen)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	// ListenAndServe returns as soon as Shutdown starts; wait for the drain
	// and the pool teardown before the deferred store close runs.
	<-shutdownDone
}
