package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldservice_backend/internal/automation/queue"
	"fieldservice_backend/internal/bootstrap"
	"fieldservice_backend/internal/events"
	"fieldservice_backend/internal/scheduler"
	"fieldservice_backend/platform/config"
	"fieldservice_backend/platform/logger"

	"golang.org/x/sync/errgroup"
)

const depthInterval = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting automation worker", "env", cfg.Env, "store", cfg.GetStoreDriver())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open automation store", "error", err)
		panic("failed to open automation store: " + err.Error())
	}
	defer infra.Close()

	// No SSE clients connect here; realtime goes to Ably and the redis relay.
	collab, err := bootstrap.BuildCollaborators(ctx, cfg, infra, nil, log)
	if err != nil {
		log.Error("failed to initialize collaborators", "error", err)
		panic("failed to initialize collaborators: " + err.Error())
	}
	defer collab.Close()

	auto, err := bootstrap.NewAutomation(cfg, infra, collab, events.NewInMemoryBus(log), nil, log)
	if err != nil {
		log.Error("failed to initialize automation module", "error", err)
		panic("failed to initialize automation module: " + err.Error())
	}
	defer auto.Close()

	module := auto.Module
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return module.Worker().Run(gctx)
	})

	g.Go(func() error {
		module.Scheduler().Run(gctx)
		return nil
	})

	if cfg.GetRedisURL() != "" {
		wakeups, err := scheduler.NewWorker(cfg, module.Scheduler(), log)
		if err != nil {
			log.Error("failed to initialize wake-up worker", "error", err)
			panic("failed to initialize wake-up worker: " + err.Error())
		}
		g.Go(func() error {
			wakeups.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		queue.ReportDepth(gctx, infra.Store, auto.Sink, depthInterval, log)
		return nil
	})

	srv := &http.Server{
		Addr:              cfg.GetMetricsAddr(),
		Handler:           metricsMux(auto.Metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		log.Info("worker metrics listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("automation worker stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("automation worker stopped")
}

func metricsMux(h http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	return mux
}
