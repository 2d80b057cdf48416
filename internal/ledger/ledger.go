// Package ledger records credit charges and refunds for generation tasks.
// Every task has at most one CHARGE and one REFUND; the store's
// (related_task_id, kind) uniqueness makes both operations exactly-once even
// across processes.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"genflow/internal/domain"
	"genflow/internal/infra"
	"genflow/internal/telemetry"
)

// Ledger is the credit ledger bound to one store, either the root store or a
// transaction-scoped one.
type Ledger struct {
	store  domain.Store
	logger infra.Logger
	now    func() time.Time
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New returns a ledger backed by store.
func New(store domain.Store, logger infra.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		logger: logger.With().Str("component", "ledger").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Within returns a copy of the ledger that writes through tx.
func (l *Ledger) Within(tx domain.Store) *Ledger {
	c := *l
	c.store = tx
	return &c
}

// Charge records a CHARGE of amount credits against taskID. The amount is
// stored negated. A second charge for the same task fails with
// ErrDuplicateCharge.
func (l *Ledger) Charge(ctx context.Context, userID string, amount int64, taskID string) (string, error) {
	return l.ChargeAs(ctx, uuid.NewString(), userID, amount, taskID)
}

// ChargeAs is Charge with a caller-chosen entry id, for callers that record
// the id on the task before the charge is written.
func (l *Ledger) ChargeAs(ctx context.Context, entryID, userID string, amount int64, taskID string) (string, error) {
	if entryID == "" {
		return "", domain.Invalid("credit_id", "is required")
	}
	if userID == "" {
		return "", domain.Invalid("user_id", "is required")
	}
	if taskID == "" {
		return "", domain.Invalid("task_id", "is required")
	}
	if amount <= 0 {
		return "", domain.Invalid("amount", "must be positive")
	}
	entry := &domain.LedgerEntry{
		ID:            entryID,
		UserID:        userID,
		Amount:        -amount,
		RelatedTaskID: taskID,
		Kind:          domain.EntryKindCharge,
		CreatedAt:     l.now().UTC(),
	}
	if err := l.store.Ledger().InsertCharge(ctx, entry); err != nil {
		if errors.Is(err, domain.ErrDuplicateCharge) {
			l.logger.Warn().Str("task_id", taskID).Msg("duplicate charge rejected")
		}
		return "", err
	}
	telemetry.LedgerEntries.WithLabelValues(string(domain.EntryKindCharge)).Inc()
	telemetry.LedgerCredits.WithLabelValues(string(domain.EntryKindCharge)).Add(float64(amount))
	l.logger.Debug().Str("task_id", taskID).Str("user_id", userID).Int64("amount", amount).Msg("credits charged")
	return entry.ID, nil
}

// Refund reverses the task's CHARGE. It reports false without error when no
// CHARGE exists or the task was already refunded.
func (l *Ledger) Refund(ctx context.Context, taskID string) (string, bool, error) {
	if taskID == "" {
		return "", false, domain.Invalid("task_id", "is required")
	}
	entry := &domain.LedgerEntry{
		ID:            uuid.NewString(),
		RelatedTaskID: taskID,
		Kind:          domain.EntryKindRefund,
		CreatedAt:     l.now().UTC(),
	}
	ok, err := l.store.Ledger().InsertRefund(ctx, entry)
	if err != nil {
		return "", false, err
	}
	if !ok {
		l.logger.Debug().Str("task_id", taskID).Msg("refund skipped")
		return "", false, nil
	}
	telemetry.LedgerEntries.WithLabelValues(string(domain.EntryKindRefund)).Inc()
	telemetry.LedgerCredits.WithLabelValues(string(domain.EntryKindRefund)).Add(float64(entry.Amount))
	l.logger.Info().Str("task_id", taskID).Str("user_id", entry.UserID).Int64("amount", entry.Amount).Msg("credits refunded")
	return entry.ID, true, nil
}

// RemainingCredits nets the user's active grants against the ledger.
func (l *Ledger) RemainingCredits(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, domain.Invalid("user_id", "is required")
	}
	return l.store.Ledger().Balance(ctx, userID, l.now().UTC())
}

// Entries lists the ledger entries of a task, CHARGE first.
func (l *Ledger) Entries(ctx context.Context, taskID string) ([]domain.LedgerEntry, error) {
	return l.store.Ledger().ListByTask(ctx, taskID)
}
