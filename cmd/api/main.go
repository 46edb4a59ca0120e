package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldservice_backend/internal/bootstrap"
	"fieldservice_backend/internal/events"
	apphttp "fieldservice_backend/internal/http"
	"fieldservice_backend/internal/http/router"
	"fieldservice_backend/internal/realtime"
	"fieldservice_backend/platform/config"
	"fieldservice_backend/platform/logger"
	"fieldservice_backend/platform/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr, "store", cfg.GetStoreDriver())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	infra, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open automation store", "error", err)
		panic("failed to open automation store: " + err.Error())
	}
	defer infra.Close()

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	hub := realtime.NewHub(log)
	collab, err := bootstrap.BuildCollaborators(ctx, cfg, infra, hub, log)
	if err != nil {
		log.Error("failed to initialize collaborators", "error", err)
		panic("failed to initialize collaborators: " + err.Error())
	}
	defer collab.Close()

	// Messages published by the worker reach SSE clients connected here.
	if collab.Relay != nil {
		go func() {
			if err := collab.Relay.Forward(ctx, hub); err != nil {
				log.Error("realtime relay stopped", "error", err)
			}
		}()
	}

	// Shared validator instance for dependency injection
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	auto, err := bootstrap.NewAutomation(cfg, infra, collab, eventBus, val, log)
	if err != nil {
		log.Error("failed to initialize automation module", "error", err)
		panic("failed to initialize automation module: " + err.Error())
	}
	defer auto.Close()

	bootstrap.SeedOnStartup(ctx, cfg, auto.Module.Seeder(), log)

	modules := []apphttp.Module{
		auto.Module,
		realtime.NewModule(hub),
	}
	if collab.Notifications != nil {
		modules = append(modules, collab.Notifications)
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   infra.Health,
		EventBus: eventBus,
		Metrics:  auto.Metrics,
		Modules:  modules,
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
		// Let in-flight async event handling finish before the store closes.
		auto.Module.Engine().Wait()
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}
