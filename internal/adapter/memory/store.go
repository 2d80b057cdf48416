// Package memory provides an in-process domain.Store. It enforces the same
// uniqueness and transaction guarantees as the Postgres store and backs local
// development (STORE_DRIVER=memory) and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"genflow/internal/domain"
)

var errDuplicateID = errors.New("task id already exists")

type externalKey struct {
	provider domain.ProviderName
	id       string
}

type ledgerKey struct {
	taskID string
	kind   domain.EntryKind
}

type grant struct {
	amount    int64
	expiresAt *time.Time
}

type state struct {
	tasks    map[string]*domain.Task
	external map[externalKey]string
	ledger   map[ledgerKey]domain.LedgerEntry
	grants   map[string][]grant
}

func newState() *state {
	return &state{
		tasks:    make(map[string]*domain.Task),
		external: make(map[externalKey]string),
		ledger:   make(map[ledgerKey]domain.LedgerEntry),
		grants:   make(map[string][]grant),
	}
}

func (s *state) clone() *state {
	c := newState()
	for id, t := range s.tasks {
		c.tasks[id] = t.Clone()
	}
	for k, v := range s.external {
		c.external[k] = v
	}
	for k, v := range s.ledger {
		c.ledger[k] = v
	}
	for u, gs := range s.grants {
		c.grants[u] = append([]grant(nil), gs...)
	}
	return c
}

// Store is a mutex-guarded in-memory domain.Store. Transactions are
// serialized and applied copy-on-write.
type Store struct {
	mu sync.Mutex
	st *state

	// Writes counts committed task mutations; tests use it to assert that a
	// reconciliation performed no write.
	writes int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{st: newState()}
}

func (s *Store) Tasks() domain.TaskRepository { return taskRepo{v: &view{s: s}} }

func (s *Store) Ledger() domain.LedgerRepository { return ledgerRepo{v: &view{s: s}} }

// WithinTx runs fn against a private copy of the state and publishes it only
// when fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.Store) error) error {
	if err := ctx.Err(); err != nil {
		return domain.Persistence("begin", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txStore{v: &view{s: s, st: s.st.clone(), inTx: true}}
	if err := fn(tx); err != nil {
		return err
	}
	s.st = tx.v.st
	s.writes += tx.v.writes
	return nil
}

// GrantCredits records a credit grant. Grants are owned by billing; the core
// only reads them.
func (s *Store) GrantCredits(userID string, amount int64, expiresAt *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.grants[userID] = append(s.st.grants[userID], grant{amount: amount, expiresAt: expiresAt})
}

// TaskWrites returns the number of committed task mutations.
func (s *Store) TaskWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// LedgerEntries returns every ledger entry, ordered by creation time.
func (s *Store) LedgerEntries() []domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.LedgerEntry, 0, len(s.st.ledger))
	for _, e := range s.st.ledger {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

type txStore struct {
	v *view
}

func (t *txStore) Tasks() domain.TaskRepository { return taskRepo{v: t.v} }

func (t *txStore) Ledger() domain.LedgerRepository { return ledgerRepo{v: t.v} }

func (t *txStore) WithinTx(ctx context.Context, fn func(tx domain.Store) error) error {
	return fn(t)
}

// view resolves which state a repository call operates on: the committed
// state under the store lock, or a transaction's private copy.
type view struct {
	s      *Store
	st     *state
	inTx   bool
	writes int
}

func (v *view) with(fn func(st *state)) {
	if v.inTx {
		fn(v.st)
		return
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	fn(v.s.st)
}

func (v *view) wrote() {
	if v.inTx {
		v.writes++
		return
	}
	v.s.writes++
}

type taskRepo struct {
	v *view
}

func (r taskRepo) Create(ctx context.Context, task *domain.Task) error {
	var err error
	r.v.with(func(st *state) {
		if _, ok := st.tasks[task.ID]; ok {
			err = domain.Persistence("insert task", errDuplicateID)
			return
		}
		key := externalKey{provider: task.Provider, id: task.ExternalTaskID}
		if _, ok := st.external[key]; ok {
			err = domain.ErrDuplicateTask
			return
		}
		st.tasks[task.ID] = task.Clone()
		st.external[key] = task.ID
		r.v.wrote()
	})
	return err
}

func (r taskRepo) GetByID(ctx context.Context, taskID string) (*domain.Task, error) {
	var out *domain.Task
	r.v.with(func(st *state) {
		out = st.tasks[taskID].Clone()
	})
	if out == nil {
		return nil, domain.ErrNotFound
	}
	return out, nil
}

func (r taskRepo) GetByExternalID(ctx context.Context, provider domain.ProviderName, externalTaskID string) (*domain.Task, error) {
	var out *domain.Task
	r.v.with(func(st *state) {
		if id, ok := st.external[externalKey{provider: provider, id: externalTaskID}]; ok {
			out = st.tasks[id].Clone()
		}
	})
	if out == nil {
		return nil, domain.ErrNotFound
	}
	return out, nil
}

func (r taskRepo) UpdateIfActive(ctx context.Context, task *domain.Task) (bool, error) {
	updated := false
	r.v.with(func(st *state) {
		stored, ok := st.tasks[task.ID]
		if !ok || stored.Status.IsTerminal() {
			return
		}
		stored.Status = task.Status
		stored.TaskInfo = append([]byte(nil), task.TaskInfo...)
		if len(task.TaskResult) > 0 {
			stored.TaskResult = append([]byte(nil), task.TaskResult...)
		}
		stored.UpdatedAt = task.UpdatedAt
		updated = true
		r.v.wrote()
	})
	return updated, nil
}

func (r taskRepo) ListActive(ctx context.Context, limit int) ([]*domain.Task, error) {
	var out []*domain.Task
	r.v.with(func(st *state) {
		for _, t := range st.tasks {
			if !t.Status.IsTerminal() {
				out = append(out, t.Clone())
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type ledgerRepo struct {
	v *view
}

func (r ledgerRepo) InsertCharge(ctx context.Context, entry *domain.LedgerEntry) error {
	var err error
	r.v.with(func(st *state) {
		key := ledgerKey{taskID: entry.RelatedTaskID, kind: domain.EntryKindCharge}
		if _, ok := st.ledger[key]; ok {
			err = domain.ErrDuplicateCharge
			return
		}
		e := *entry
		e.Kind = domain.EntryKindCharge
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		st.ledger[key] = e
	})
	return err
}

func (r ledgerRepo) InsertRefund(ctx context.Context, entry *domain.LedgerEntry) (bool, error) {
	inserted := false
	r.v.with(func(st *state) {
		charge, ok := st.ledger[ledgerKey{taskID: entry.RelatedTaskID, kind: domain.EntryKindCharge}]
		if !ok {
			return
		}
		key := ledgerKey{taskID: entry.RelatedTaskID, kind: domain.EntryKindRefund}
		if _, exists := st.ledger[key]; exists {
			return
		}
		entry.UserID = charge.UserID
		entry.Amount = -charge.Amount
		entry.Kind = domain.EntryKindRefund
		st.ledger[key] = *entry
		inserted = true
	})
	return inserted, nil
}

func (r ledgerRepo) ListByTask(ctx context.Context, taskID string) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	r.v.with(func(st *state) {
		for _, kind := range []domain.EntryKind{domain.EntryKindCharge, domain.EntryKindRefund} {
			if e, ok := st.ledger[ledgerKey{taskID: taskID, kind: kind}]; ok {
				out = append(out, e)
			}
		}
	})
	return out, nil
}

func (r ledgerRepo) Balance(ctx context.Context, userID string, at time.Time) (int64, error) {
	var total int64
	r.v.with(func(st *state) {
		for _, g := range st.grants[userID] {
			if g.expiresAt == nil || g.expiresAt.After(at) {
				total += g.amount
			}
		}
		for _, e := range st.ledger {
			if e.UserID == userID {
				total += e.Amount
			}
		}
	})
	return total, nil
}

func sortEntries(entries []domain.LedgerEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			if entries[i].RelatedTaskID == entries[j].RelatedTaskID {
				return entries[i].Kind < entries[j].Kind
			}
			return entries[i].RelatedTaskID < entries[j].RelatedTaskID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}

var (
	_ domain.Store = (*Store)(nil)
	_ domain.Store = (*txStore)(nil)
)
