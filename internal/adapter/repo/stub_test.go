package repo

import (
	"context"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"genflow/internal/infra"
)

// stubExec records the last statement and replays canned results.
type stubExec struct {
	execTag  pgconn.CommandTag
	execErr  error
	row      []any
	rowErr   error
	rows     [][]any
	queryErr error
	beginErr error

	queries []string
	args    [][]any
	inTx    bool
}

func (s *stubExec) record(query string, args []any) {
	s.queries = append(s.queries, query)
	s.args = append(s.args, args)
}

func (s *stubExec) lastArgs() []any {
	if len(s.args) == 0 {
		return nil
	}
	return s.args[len(s.args)-1]
}

func (s *stubExec) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.record(query, args)
	return s.execTag, s.execErr
}

func (s *stubExec) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.record(query, args)
	return stubRow{values: s.row, err: s.rowErr}
}

func (s *stubExec) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	s.record(query, args)
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return &stubRows{values: s.rows, idx: -1}, nil
}

func (s *stubExec) InTx(ctx context.Context, fn func(tx infra.Transactor) error) error {
	if s.beginErr != nil {
		return s.beginErr
	}
	s.inTx = true
	return fn(s)
}

type stubRow struct {
	values []any
	err    error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if r.values == nil {
		return pgx.ErrNoRows
	}
	return assign(dest, r.values)
}

type stubRows struct {
	values [][]any
	idx    int
	closed bool
}

func (r *stubRows) Close()                                       { r.closed = true }
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return r.values[r.idx], nil }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	r.idx++
	return r.idx < len(r.values)
}

func (r *stubRows) Scan(dest ...any) error {
	return assign(dest, r.values[r.idx])
}

func assign(dest []any, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(values))
	}
	for i, v := range values {
		target := reflect.ValueOf(dest[i]).Elem()
		if v == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(v))
	}
	return nil
}
