package repo

import (
	"context"
	"time"

	"genflow/internal/domain"
	"genflow/internal/infra"
	"genflow/internal/sqlinline"
)

// LedgerRepositoryPG implements domain.LedgerRepository. Exactly-once
// semantics come from the (related_task_id, kind) unique constraint, so two
// processes racing on the same task cannot both insert.
type LedgerRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewLedgerRepository creates a ledger repository backed by PostgreSQL.
func NewLedgerRepository(sql infra.SQLExecutor) *LedgerRepositoryPG {
	return &LedgerRepositoryPG{sql: sql}
}

func (r *LedgerRepositoryPG) InsertCharge(ctx context.Context, entry *domain.LedgerEntry) error {
	_, err := r.sql.Exec(ctx, sqlinline.QInsertCharge,
		entry.ID,
		entry.UserID,
		entry.Amount,
		entry.RelatedTaskID,
		entry.CreatedAt,
	)
	if err != nil {
		if infra.IsUniqueViolation(err, sqlinline.ConstraintLedgerTaskKind) {
			return domain.ErrDuplicateCharge
		}
		return domain.Persistence("insert charge", err)
	}
	return nil
}

func (r *LedgerRepositoryPG) InsertRefund(ctx context.Context, entry *domain.LedgerEntry) (bool, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QInsertRefund, entry.ID, entry.RelatedTaskID, entry.CreatedAt)
	if err := row.Scan(&entry.UserID, &entry.Amount); err != nil {
		if infra.IsNoRows(err) {
			return false, nil
		}
		return false, domain.Persistence("insert refund", err)
	}
	return true, nil
}

func (r *LedgerRepositoryPG) ListByTask(ctx context.Context, taskID string) ([]domain.LedgerEntry, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectLedgerByTask, taskID)
	if err != nil {
		return nil, domain.Persistence("list ledger", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			entry domain.LedgerEntry
			kind  string
		)
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Amount, &entry.RelatedTaskID, &kind, &entry.CreatedAt); err != nil {
			return nil, domain.Persistence("scan ledger", err)
		}
		entry.Kind = domain.EntryKind(kind)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("list ledger", err)
	}
	return entries, nil
}

func (r *LedgerRepositoryPG) Balance(ctx context.Context, userID string, at time.Time) (int64, error) {
	var balance int64
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectCreditBalance, userID, at).Scan(&balance); err != nil {
		return 0, domain.Persistence("credit balance", err)
	}
	return balance, nil
}

var _ domain.LedgerRepository = (*LedgerRepositoryPG)(nil)
