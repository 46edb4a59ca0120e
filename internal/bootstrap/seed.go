package bootstrap

import (
	"context"

	"fieldservice_backend/internal/automation/seed"
	"fieldservice_backend/platform/config"
	"fieldservice_backend/platform/logger"
)

// LocationSeeder is the part of seed.Seeder used at startup.
type LocationSeeder interface {
	SeedLocation(ctx context.Context, locationID string, params map[string]string) (seed.Result, error)
}

// SeedOnStartup seeds the default rules for every configured location. Failures are
// logged per location and never abort startup.
func SeedOnStartup(ctx context.Context, cfg config.SeedConfig, seeder LocationSeeder, log *logger.Logger) {
	if !cfg.GetSeedOnStartup() {
		return
	}
	for _, loc := range cfg.GetSeedLocations() {
		res, err := seeder.SeedLocation(ctx, loc, cfg.GetSeedParams())
		if err != nil {
			log.Error("failed to seed default automation rules", "location_id", loc, "error", err)
			continue
		}
		log.Info("default automation rules seeded",
			"location_id", loc,
			"created", len(res.Created),
			"existing", len(res.Existing),
			"skipped", len(res.Skipped),
		)
	}
}
