package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubExecutor struct {
	token     string
	err       error
	providers []string

	query struct {
		query string
		args  []any
	}
	exec struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.query.query = query
	s.query.args = args
	return stubRow{token: s.token, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	s.query.query = query
	s.query.args = args
	if s.err != nil {
		return nil, s.err
	}
	return &stubRows{values: s.providers, idx: -1}, nil
}

type stubRows struct {
	values []string
	idx    int
	closed bool
}

func (r *stubRows) Close()                                       { r.closed = true }
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return []any{r.values[r.idx]}, nil }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	r.idx++
	return r.idx < len(r.values)
}

func (r *stubRows) Scan(dest ...any) error {
	return stubRow{token: r.values[r.idx]}.Scan(dest...)
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 0 {
		return errors.New("no dest")
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

func TestToken(t *testing.T) {
	exec := &stubExecutor{token: " kie-123 "}
	store := NewStore(exec)
	key, err := store.Token(context.Background(), " KIE ")
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "kie-123" {
		t.Fatalf("expected kie-123, got %q", key)
	}
	if got := exec.query.args[0]; got != "kie" {
		t.Fatalf("provider argument = %v, want kie", got)
	}
}

func TestToken_NoRows(t *testing.T) {
	store := NewStore(&stubExecutor{err: pgx.ErrNoRows})
	key, err := store.Token(context.Background(), "replicate")
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestToken_PropagatesErrors(t *testing.T) {
	store := NewStore(&stubExecutor{err: errors.New("connection reset")})
	if _, err := store.Token(context.Background(), "fal"); err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestSetToken(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.SetToken(context.Background(), "DashScope", "secret"); err != nil {
		t.Fatalf("SetToken error: %v", err)
	}
	if len(exec.exec.args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(exec.exec.args))
	}
	if v, ok := exec.exec.args[0].(string); !ok || v != "dashscope" {
		t.Fatalf("expected normalized provider, got %T %v", exec.exec.args[0], exec.exec.args[0])
	}
	if v, ok := exec.exec.args[1].(string); !ok || v != "secret" {
		t.Fatalf("expected secret argument, got %T %v", exec.exec.args[1], exec.exec.args[1])
	}
}

func TestSetTokenEmpty(t *testing.T) {
	store := NewStore(&stubExecutor{})
	if err := store.SetToken(context.Background(), "kie", " "); err == nil {
		t.Fatal("expected error for empty key")
	}
	if err := store.SetToken(context.Background(), " ", "secret"); err == nil {
		t.Fatal("expected error for empty provider")
	}
}

func TestProviders(t *testing.T) {
	exec := &stubExecutor{providers: []string{"dashscope", "kie"}}
	got, err := NewStore(exec).Providers(context.Background())
	if err != nil {
		t.Fatalf("Providers error: %v", err)
	}
	if len(got) != 2 || got[0] != "dashscope" || got[1] != "kie" {
		t.Fatalf("Providers = %v", got)
	}

	if _, err := NewStore(&stubExecutor{err: errors.New("boom")}).Providers(context.Background()); err == nil {
		t.Fatal("expected error to propagate")
	}
}
