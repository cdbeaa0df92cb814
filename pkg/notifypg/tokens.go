package notifypg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/notifykit/pkg/notify"
)

// TokenStore implements notify.TokenStore on the accounts table. A missing
// account and an account without a token both read as an empty token.
type TokenStore struct {
	pool          *pgxpool.Pool
	accountsTable string
}

// TokenStoreOption configures a TokenStore.
type TokenStoreOption func(*TokenStore)

// WithTokensTable overrides the accounts table name, default "accounts".
func WithTokensTable(name string) TokenStoreOption {
	return func(s *TokenStore) {
		if name != "" {
			s.accountsTable = name
		}
	}
}

// NewTokenStore creates a PostgreSQL-backed device token store.
func NewTokenStore(pool *pgxpool.Pool, opts ...TokenStoreOption) *TokenStore {
	s := &TokenStore{
		pool:          pool,
		accountsTable: "accounts",
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *TokenStore) table() string {
	return pgx.Identifier{s.accountsTable}.Sanitize()
}

func (s *TokenStore) DeviceToken(ctx context.Context, userID string) (string, error) {
	q := fmt.Sprintf(`SELECT COALESCE(device_token, '') FROM %s WHERE id = $1`, s.table())

	var token string
	if err := s.pool.QueryRow(ctx, q, userID).Scan(&token); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get device token: %w", err)
	}
	return token, nil
}

func (s *TokenStore) DeviceTokens(ctx context.Context, userIDs []string) (map[string]string, error) {
	if len(userIDs) == 0 {
		return map[string]string{}, nil
	}

	q := fmt.Sprintf(`SELECT id, device_token FROM %s
		WHERE id = ANY($1) AND device_token IS NOT NULL AND device_token <> ''`, s.table())

	rows, err := s.pool.Query(ctx, q, userIDs)
	if err != nil {
		return nil, fmt.Errorf("get device tokens: %w", err)
	}
	defer rows.Close()

	tokens := make(map[string]string, len(userIDs))
	for rows.Next() {
		var id, token string
		if err := rows.Scan(&id, &token); err != nil {
			return nil, fmt.Errorf("scan device token: %w", err)
		}
		tokens[id] = token
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get device tokens: %w", err)
	}

	return tokens, nil
}

func (s *TokenStore) ClearDeviceToken(ctx context.Context, userID, token string) error {
	// Conditional on the observed token so a token registered by a newer
	// login between send and clear survives.
	q := fmt.Sprintf(`UPDATE %s SET device_token = NULL WHERE id = $1 AND device_token = $2`, s.table())

	if _, err := s.pool.Exec(ctx, q, userID, token); err != nil {
		return fmt.Errorf("clear device token: %w", err)
	}
	return nil
}

func (s *TokenStore) ClearDeviceTokens(ctx context.Context, pairs []notify.TokenPair) error {
	if len(pairs) == 0 {
		return nil
	}

	q := fmt.Sprintf(`UPDATE %s SET device_token = NULL WHERE id = $1 AND device_token = $2`, s.table())

	batch := &pgx.Batch{}
	for _, p := range pairs {
		batch.Queue(q, p.UserID, p.Token)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range pairs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("clear device tokens: %w", err)
		}
	}
	return nil
}
