package main

import (
	"context"
	"errors"

	"genflow/internal/infra"
	"genflow/internal/reconciler"
)

type sweepRunner interface {
	Sweep(ctx context.Context, opts reconciler.SweepOptions) (reconciler.SweepReport, error)
}

// sweeper runs one reconciliation pass per tick while it holds the lease.
type sweeper struct {
	rec    sweepRunner
	lease  infra.Lease
	opts   reconciler.SweepOptions
	logger infra.Logger
}

func newSweeper(rec sweepRunner, lease infra.Lease, opts reconciler.SweepOptions, logger infra.Logger) *sweeper {
	return &sweeper{rec: rec, lease: lease, opts: opts, logger: logger}
}

// Run reports whether a sweep ran.
func (s *sweeper) Run(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	held, err := s.lease.Acquire(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("worker: lease check failed; skipping sweep")
		return false
	}
	if !held {
		s.logger.Debug().Msg("worker: another sweeper holds the lease")
		return false
	}
	report, err := s.rec.Sweep(ctx, s.opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Msg("worker: sweep failed")
	}
	if report.Failed > 0 {
		s.logger.Warn().Int("failed", report.Failed).Int("visited", report.Visited).Msg("worker: sweep finished with failures")
	}
	return true
}

// cronLogger routes cron's internal logging through zerolog.
type cronLogger struct {
	logger infra.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
