package main

import (
	"context"
	"fmt"
	"os"

	"fieldservice_backend/internal/automation/seed"
	"fieldservice_backend/internal/automation/service"
	"fieldservice_backend/internal/bootstrap"
	"fieldservice_backend/platform/config"
	"fieldservice_backend/platform/logger"
)

func main() {
	root := newRootCmd(os.Stdout, openService)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openService connects to the configured store. Events are not emitted from the CLI.
func openService(ctx context.Context) (*service.Service, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Env)

	infra, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	seeder, err := seed.New(infra.Store, log)
	if err != nil {
		infra.Close()
		return nil, nil, err
	}
	return service.New(infra.Store, nil, seeder, log), infra.Close, nil
}
