package credentials

import (
	"context"
	"errors"
	"strings"

	"genflow/internal/domain"
	"genflow/internal/infra"
	"genflow/internal/sqlinline"
)

// Store keeps provider API tokens in the integration_tokens table so keys can
// be rotated without redeploying.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Token returns the stored token for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, normalizeProvider(provider))
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetToken stores or replaces the token for provider.
func (s *Store) SetToken(ctx context.Context, provider, token string) error {
	provider = normalizeProvider(provider)
	if provider == "" {
		return errors.New("provider is required")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New(provider + " api key is required")
	}
	_, err := s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token)
	return err
}

// Providers lists the providers that have a stored token.
func (s *Store) Providers(ctx context.Context) ([]string, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QSelectIntegrationProviders)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var provider string
		if err := rows.Scan(&provider); err != nil {
			return nil, err
		}
		out = append(out, provider)
	}
	return out, rows.Err()
}

func normalizeProvider(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

var _ domain.CredentialRepository = (*Store)(nil)
