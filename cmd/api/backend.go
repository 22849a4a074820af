package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marcelsud/webhook-dispatch/config"
	"github.com/marcelsud/webhook-dispatch/metrics"
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/postgres"
	"github.com/marcelsud/webhook-dispatch/webhook/redis"
)

const heartbeatInterval = redis.HeartbeatTTL / 3

type pinger interface {
	Ping(ctx context.Context) error
}

/* backend is the store chosen by STORE_DRIVER plus whatever depends on it
 * Redis also serves as auditor and heartbeat source; Postgres runs a retention job
 */
type backend struct {
	store      webhook.Store
	health     pinger
	auditor    webhook.Auditor
	heartbeats metrics.HeartbeatSource

	// start launches background work bound to ctx once the dispatcher exists
	start func(ctx context.Context, state redis.DispatcherState)
}

func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger, instanceID string) (*backend, error) {
	switch cfg.StoreDriver {
	case config.DriverRedis:
		return openRedis(cfg, logger, instanceID)
	case config.DriverPostgres:
		return openPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func openRedis(cfg *config.Config, logger zerolog.Logger, instanceID string) (*backend, error) {
	repo, err := redis.NewRepository(
		cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
		redis.WithTTL(cfg.DeliveredTTL(), cfg.FailedTTL()),
		redis.WithLogger(logger.With().Str("component", "redis").Logger()),
	)
	if err != nil {
		return nil, fmt.Errorf("opening redis store: %w", err)
	}

	return &backend{
		store:      repo,
		health:     repo,
		auditor:    repo,
		heartbeats: repo,
		start: func(ctx context.Context, state redis.DispatcherState) {
			go repo.RunHeartbeat(ctx, instanceID, state, heartbeatInterval)
		},
	}, nil
}

func openPostgres(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	repo, err := postgres.NewRepository(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("opening postgres store: %w", err)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := repo.Migrate(migrateCtx); err != nil {
		_ = repo.Close(ctx)
		return nil, err
	}

	jobLogger := logger.With().Str("component", "retention").Logger()
	job := postgres.NewRetentionJob(repo, cfg.DeliveredTTL(), cfg.FailedTTL(), jobLogger)
	scheduler, err := postgres.ScheduleRetention(cfg.RetentionSchedule, job)
	if err != nil {
		_ = repo.Close(ctx)
		return nil, err
	}

	return &backend{
		store:   repo,
		health:  repo,
		auditor: webhook.NewLogAuditor(logger),
		start: func(ctx context.Context, _ redis.DispatcherState) {
			go func() {
				<-ctx.Done()
				<-scheduler.Stop().Done()
			}()
		},
	}, nil
}
