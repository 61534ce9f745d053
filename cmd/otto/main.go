package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/antoniostano/otto/internal/app"
	"github.com/antoniostano/otto/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()
	result, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("build failed: %v", err)
	}
	defer func() {
		if err := result.Cleanup(); err != nil {
			log.Printf("cleanup error: %v", err)
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: result.API.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	result.Scheduler.Start(runCtx)
	result.Sessions.StartWatchdog(runCtx, cfg.SessionWatchdogInterval, cfg.SessionWatchdogThreshold)
	if cfg.AutonomySettingsPath != "" {
		go func() {
			if err := result.Settings.Watch(runCtx); err != nil {
				log.Printf("settings watch stopped: %v", err)
			}
		}()
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	result.Scheduler.Stop()
	runCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	// Let in-flight handlers finalize so the store and audit log stay consistent.
	result.Scheduler.Drain()

	log.Printf("shutdown complete")
}
