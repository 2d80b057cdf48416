package reconciler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"genflow/internal/domain"
	"genflow/internal/telemetry"
)

// SweepOptions bounds one sweep run.
type SweepOptions struct {
	// Limit caps how many active tasks are visited, oldest first.
	Limit int
	// Concurrency caps parallel provider queries. Defaults to 1.
	Concurrency int
	// MaxAge expires tasks that are still active after this long. Zero
	// disables expiry.
	MaxAge time.Duration
}

// SweepReport summarises a sweep run.
type SweepReport struct {
	Visited int
	Updated int
	Settled int
	Expired int
	Failed  int
}

// Sweep reconciles active tasks with their providers. A failure on one task
// is logged and counted; it does not stop the run.
func (r *Reconciler) Sweep(ctx context.Context, opts SweepOptions) (SweepReport, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	tasks, err := r.store.Tasks().ListActive(ctx, limit)
	if err != nil {
		telemetry.SweepRuns.WithLabelValues("error").Inc()
		return SweepReport{}, err
	}
	telemetry.SweepTasks.Observe(float64(len(tasks)))

	var (
		mu     sync.Mutex
		report = SweepReport{Visited: len(tasks)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			current, expired, err := r.sweepOne(gctx, task, opts.MaxAge)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed++
				r.logger.Warn().Err(err).Str("task_id", task.ID).Msg("sweep: reconcile failed")
			case expired:
				report.Expired++
				report.Settled++
			case current.Status.IsTerminal():
				report.Settled++
			}
			if err == nil && (current.Status != task.Status || !domain.SameInfo(current.TaskInfo, task.TaskInfo)) {
				report.Updated++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.SweepRuns.WithLabelValues("cancelled").Inc()
		return report, err
	}

	telemetry.SweepRuns.WithLabelValues("ok").Inc()
	r.logger.Info().
		Int("visited", report.Visited).
		Int("updated", report.Updated).
		Int("settled", report.Settled).
		Int("expired", report.Expired).
		Int("failed", report.Failed).
		Msg("sweep finished")
	return report, nil
}

// sweepOne queries the provider and, for tasks past maxAge that are still
// active afterwards, fails and refunds them.
func (r *Reconciler) sweepOne(ctx context.Context, task *domain.Task, maxAge time.Duration) (*domain.Task, bool, error) {
	current, err := r.Query(ctx, task.ID)
	if err == nil && current.Status.IsTerminal() {
		return current, false, nil
	}
	if maxAge <= 0 || r.now().Sub(task.CreatedAt) <= maxAge {
		return current, false, err
	}

	if current == nil {
		current = task
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("task_id", task.ID).Msg("sweep: provider unreachable for expired task")
	}
	return r.expire(ctx, current)
}

// Expire fails an active task with an "expired" marker in its taskInfo and
// refunds it through the regular merge path.
func (r *Reconciler) Expire(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := r.Task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	updated, _, err := r.expire(ctx, task)
	return updated, err
}

func (r *Reconciler) expire(ctx context.Context, task *domain.Task) (*domain.Task, bool, error) {
	info := map[string]any{}
	if len(task.TaskInfo) > 0 {
		var existing map[string]any
		if err := json.Unmarshal(task.TaskInfo, &existing); err == nil && existing != nil {
			info = existing
		}
	}
	info["error"] = "expired"
	raw, err := domain.MarshalInfo(info)
	if err != nil {
		return nil, false, err
	}
	r.logger.Warn().Str("task_id", task.ID).Time("created_at", task.CreatedAt).Msg("expiring stale task")
	return r.merge(ctx, task, domain.Envelope{Status: domain.TaskStatusFailed, Info: raw}, "expiry")
}
