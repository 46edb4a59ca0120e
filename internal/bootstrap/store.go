package bootstrap

import (
	"context"
	"fmt"
	"time"

	"fieldservice_backend/internal/automation/store"
	"fieldservice_backend/internal/automation/store/memory"
	mongostore "fieldservice_backend/internal/automation/store/mongo"
	"fieldservice_backend/internal/automation/store/postgres"
	apphttp "fieldservice_backend/internal/http"
	"fieldservice_backend/migrations"
	"fieldservice_backend/platform/config"
	"fieldservice_backend/platform/db"
	"fieldservice_backend/platform/logger"
	platformmongo "fieldservice_backend/platform/mongo"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// StoreConfig is what OpenStore reads.
type StoreConfig interface {
	config.StoreConfig
	config.DatabaseConfig
	config.MongoConfig
	GetRunMigrations() bool
}

// Infra is the opened persistence layer. Pool is set only for the postgres driver and
// Mongo only for the mongo driver.
type Infra struct {
	Store  store.Store
	Pool   *pgxpool.Pool
	Mongo  *platformmongo.Client
	Health apphttp.HealthChecker
}

// OpenStore connects the configured driver with retries and applies migrations for postgres.
func OpenStore(ctx context.Context, cfg StoreConfig, log *logger.Logger) (*Infra, error) {
	switch cfg.GetStoreDriver() {
	case config.StoreDriverPostgres:
		var pool *pgxpool.Pool
		if err := WithRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
			p, err := db.NewPool(ctx, cfg)
			if err != nil {
				return err
			}
			pool = p
			return nil
		}); err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		log.Info("database connection established")

		if cfg.GetRunMigrations() {
			if err := WithRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
				return db.RunMigrations(ctx, pool, migrations.FS, log)
			}); err != nil {
				pool.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
			log.Info("database migrations complete")
		}

		return &Infra{Store: postgres.New(pool), Pool: pool, Health: pool}, nil

	case config.StoreDriverMongo:
		var client *platformmongo.Client
		if err := WithRetry(ctx, log, "mongo connection", 5, 2*time.Second, func() error {
			c, err := platformmongo.Connect(ctx, cfg)
			if err != nil {
				return err
			}
			client = c
			return nil
		}); err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}

		st, err := mongostore.New(ctx, client.Database)
		if err != nil {
			_ = client.Close(context.Background())
			return nil, fmt.Errorf("prepare mongo store: %w", err)
		}
		log.Info("mongo connection established", "database", cfg.GetMongoDatabase())
		return &Infra{Store: st, Mongo: client, Health: mongoPinger{client}}, nil

	case config.StoreDriverMemory:
		log.Warn("using in-memory automation store; data is lost on restart")
		return &Infra{Store: memory.New(), Health: alwaysHealthy{}}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.GetStoreDriver())
	}
}

// Close releases the store and its connections.
func (i *Infra) Close() {
	if i == nil {
		return
	}
	if i.Store != nil {
		i.Store.Close()
	}
	if i.Pool != nil {
		i.Pool.Close()
	}
	if i.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = i.Mongo.Close(ctx)
	}
}

type mongoPinger struct {
	client *platformmongo.Client
}

func (p mongoPinger) Ping(ctx context.Context) error {
	return p.client.Client.Ping(ctx, readpref.Primary())
}

type alwaysHealthy struct{}

func (alwaysHealthy) Ping(context.Context) error { return nil }
