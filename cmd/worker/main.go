package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"genflow/internal/bootstrap"
	"genflow/internal/infra"
	"genflow/internal/telemetry"
)

const sweepLeaseKey = "genflow:sweeper:leader"

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := bootstrap.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to open store")
	}
	defer backend.Close()

	core, err := bootstrap.NewCore(ctx, cfg, backend.Store, backend.CredentialRepository(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to build core")
	}

	var lease infra.Lease = infra.LocalLease{}
	if cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: invalid REDIS_URL")
		}
		defer client.Close()
		holder, _ := os.Hostname()
		lease = infra.NewRedisLease(client, sweepLeaseKey, holder+"-"+uuid.NewString(), cfg.SweepLeaseTTL)
	} else {
		logger.Warn().Msg("worker: REDIS_URL not set; assuming a single sweeper")
	}

	telemetry.StartMetricsServer(ctx, cfg.WorkerMetricsAddr, logger)

	s := newSweeper(core.Reconciler, lease, bootstrap.SweepOptions(cfg), logger)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: logger})))
	if _, err := c.AddFunc(cfg.SweepSchedule, func() { s.Run(ctx) }); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.SweepSchedule).Msg("worker: invalid SWEEP_SCHEDULE")
	}
	c.Start()
	logger.Info().Str("schedule", cfg.SweepSchedule).Msg("worker: started")

	<-ctx.Done()
	<-c.Stop().Done()

	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lease.Release(releaseCtx); err != nil {
		logger.Warn().Err(err).Msg("worker: failed to release lease")
	}
	logger.Info().Msg("worker: stopped")
}
