package main

import (
	"context"
	"errors"
	"testing"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"

	"genflow/internal/infra"
	"genflow/internal/reconciler"
)

type countingSweeper struct {
	calls int
	opts  reconciler.SweepOptions
}

func (c *countingSweeper) Sweep(ctx context.Context, opts reconciler.SweepOptions) (reconciler.SweepReport, error) {
	c.calls++
	c.opts = opts
	return reconciler.SweepReport{Visited: 1, Failed: 1}, nil
}

type fixedLease struct {
	held bool
	err  error
}

func (f fixedLease) Acquire(context.Context) (bool, error) { return f.held, f.err }
func (f fixedLease) Release(context.Context) error         { return nil }

func TestSweeperRunsWhileHoldingLease(t *testing.T) {
	rec := &countingSweeper{}
	opts := reconciler.SweepOptions{Limit: 10, Concurrency: 2}
	s := newSweeper(rec, infra.LocalLease{}, opts, infra.NopLogger())

	assert.True(t, s.Run(context.Background()))
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, opts, rec.opts)
}

func TestSweeperSkipsWithoutLease(t *testing.T) {
	rec := &countingSweeper{}
	for _, lease := range []infra.Lease{fixedLease{held: false}, fixedLease{err: errors.New("redis down")}} {
		s := newSweeper(rec, lease, reconciler.SweepOptions{}, infra.NopLogger())
		assert.False(t, s.Run(context.Background()))
	}
	assert.Zero(t, rec.calls)
}

func TestSweeperSkipsAfterShutdown(t *testing.T) {
	rec := &countingSweeper{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, newSweeper(rec, infra.LocalLease{}, reconciler.SweepOptions{}, infra.NopLogger()).Run(ctx))
	assert.Zero(t, rec.calls)
}

func TestDefaultScheduleParses(t *testing.T) {
	_, err := cron.ParseStandard("@every 30s")
	assert.NoError(t, err)
}
