package repo

import (
	"context"

	"genflow/internal/domain"
	"genflow/internal/infra"
)

// Store binds the task and ledger repositories to one executor so they can
// share a transaction.
type Store struct {
	sql infra.Transactor
}

// NewStore wraps an executor (usually *infra.SQLRunner) as a domain.Store.
func NewStore(sql infra.Transactor) *Store {
	return &Store{sql: sql}
}

func (s *Store) Tasks() domain.TaskRepository { return NewTaskRepository(s.sql) }

func (s *Store) Ledger() domain.LedgerRepository { return NewLedgerRepository(s.sql) }

// WithinTx runs fn in a transaction. Domain errors returned by fn pass through
// unchanged; begin and commit failures are reported as persistence errors.
func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.Store) error) error {
	var fnErr error
	err := s.sql.InTx(ctx, func(tx infra.Transactor) error {
		fnErr = fn(&Store{sql: tx})
		return fnErr
	})
	if err == nil {
		return nil
	}
	if fnErr != nil {
		return fnErr
	}
	return domain.Persistence("transaction", err)
}

var _ domain.Store = (*Store)(nil)
