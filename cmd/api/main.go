package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callwake-platform/internal/audit"
	"callwake-platform/internal/auth"
	"callwake-platform/internal/call"
	"callwake-platform/internal/config"
	"callwake-platform/internal/httpapi"
	"callwake-platform/internal/lifecycle"
	"callwake-platform/internal/push"
	"callwake-platform/internal/trigger"
	"callwake-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	// Push backends, one per platform.
	selector := push.NewSelector()
	selector.Register(call.PlatformPrimary, push.NewHTTPSender("primary", cfg.Push.PrimaryEndpoint, cfg.Push.PrimaryKey))
	selector.Register(call.PlatformSecondary, push.NewHTTPSender("secondary", cfg.Push.SecondaryEndpoint, cfg.Push.SecondaryKey))

	registry := call.NewRegistry()
	scheduler := trigger.NewScheduler(log)
	defer scheduler.Stop()

	audits := audit.NewService(audit.NewMemoryRepo())

	engine := lifecycle.NewEngine(log, registry, scheduler, selector, audits, lifecycle.Options{
		ResponseWindow: cfg.Lifecycle.ResponseWindow,
		Retention:      cfg.Lifecycle.Retention,
	})
	go engine.Run(rootCtx)
	if err := engine.StartCleanup(); err != nil {
		log.Error("cleanup trigger init failed", "err", err)
		os.Exit(1)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	handlers := httpapi.Handlers{
		Auth:   authManager,
		Engine: engine,
		Audit:  audits,
	}
	registerRoutes(r, handlers, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
