package domain

import (
	"context"
	"time"
)

// TaskRepository defines persistence for generation tasks.
type TaskRepository interface {
	Create(ctx context.Context, task *Task) error
	GetByID(ctx context.Context, taskID string) (*Task, error)
	GetByExternalID(ctx context.Context, provider ProviderName, externalTaskID string) (*Task, error)
	// UpdateIfActive writes status, info and result only while the stored
	// status is still non-terminal. It reports false when the precondition
	// did not hold and nothing was written.
	UpdateIfActive(ctx context.Context, task *Task) (bool, error)
	ListActive(ctx context.Context, limit int) ([]*Task, error)
}

// LedgerRepository defines persistence for credit ledger entries.
type LedgerRepository interface {
	// InsertCharge returns ErrDuplicateCharge when a CHARGE already exists
	// for entry.RelatedTaskID.
	InsertCharge(ctx context.Context, entry *LedgerEntry) error
	// InsertRefund mirrors the task's CHARGE. It reports false when no CHARGE
	// exists or a REFUND was already recorded.
	InsertRefund(ctx context.Context, entry *LedgerEntry) (bool, error)
	ListByTask(ctx context.Context, taskID string) ([]LedgerEntry, error)
	// Balance nets active credit grants against the user's ledger entries.
	Balance(ctx context.Context, userID string, at time.Time) (int64, error)
}

// Store groups the repositories that must change together. WithinTx runs fn
// against a transaction-scoped Store and commits only when fn returns nil.
type Store interface {
	Tasks() TaskRepository
	Ledger() LedgerRepository
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// CredentialRepository stores provider API tokens outside the environment.
type CredentialRepository interface {
	Token(ctx context.Context, provider string) (string, error)
	SetToken(ctx context.Context, provider, token string) error
}
