package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shoto0095/rafiki/internal/domain"
	"github.com/Shoto0095/rafiki/internal/idgen"
)

// PostgresManager keeps leases in the payment_leases table. Expiry is evaluated against the
// database clock so that workers on different hosts agree on it.
type PostgresManager struct {
	db *pgxpool.Pool
}

func NewPostgresManager(db *pgxpool.Pool) *PostgresManager {
	return &PostgresManager{db: db}
}

func (m *PostgresManager) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	query := `
		INSERT INTO payment_leases (lease_key, token, expires_at)
		VALUES ($1, $2, now() + $3 * interval '1 millisecond')
		ON CONFLICT (lease_key) DO UPDATE
			SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at
			WHERE payment_leases.expires_at <= now()
		RETURNING token
	`
	var token string
	err := m.db.QueryRow(ctx, query, key, idgen.New("lease"), ttl.Milliseconds()).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrConflict
	}
	if err != nil {
		return "", fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	return token, nil
}

func (m *PostgresManager) Extend(ctx context.Context, key, token string, ttl time.Duration) error {
	query := `
		UPDATE payment_leases
		SET expires_at = now() + $3 * interval '1 millisecond'
		WHERE lease_key = $1 AND token = $2 AND expires_at > now()
	`
	tag, err := m.db.Exec(ctx, query, key, token, ttl.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to extend lease %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (m *PostgresManager) Release(ctx context.Context, key, token string) error {
	if _, err := m.db.Exec(ctx, `DELETE FROM payment_leases WHERE lease_key = $1 AND token = $2`, key, token); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", key, err)
	}
	return nil
}
