package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shoto0095/rafiki/internal/domain"
	"github.com/Shoto0095/rafiki/internal/idgen"
)

// LedgerRepository holds source-account balances. Commit and Release are idempotent per
// reservation: settling an already settled reservation is a no-op.
type LedgerRepository interface {
	// Reserve moves amount from available to reserved, failing with domain.ErrInsufficientBalance.
	Reserve(ctx context.Context, accountID uuid.UUID, amount domain.Amount) (string, error)
	// Commit debits amount from the reservation and returns the rest to the account.
	Commit(ctx context.Context, reservationID string, amount uint64) error
	Release(ctx context.Context, reservationID string) error
	Deposit(ctx context.Context, accountID uuid.UUID, amount domain.Amount) error
	Balance(ctx context.Context, accountID uuid.UUID, assetCode string) (*domain.Balance, error)
}

type ledgerRepo struct {
	db *pgxpool.Pool
}

func NewLedgerRepository(db *pgxpool.Pool) LedgerRepository {
	return &ledgerRepo{db: db}
}

func (r *ledgerRepo) Reserve(ctx context.Context, accountID uuid.UUID, amount domain.Amount) (string, error) {
	if amount.Value == 0 {
		return "", fmt.Errorf("%w: reservation amount must be greater than 0", domain.ErrValidation)
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	value := strconv.FormatUint(amount.Value, 10)
	cmdTag, err := tx.Exec(ctx, `
		UPDATE account_balances
		SET
			available = available - $1::text::numeric,
			reserved = reserved + $1::text::numeric,
			version = version + 1,
			updated_at = $2
		WHERE account_id = $3 AND asset_code = $4 AND available >= $1::text::numeric
	`, value, time.Now(), accountID, amount.AssetCode)
	if err != nil {
		return "", fmt.Errorf("failed to reserve funds: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return "", domain.ErrInsufficientBalance
	}

	id := idgen.New("res")
	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_reservations (id, account_id, asset_code, amount, status)
		VALUES ($1, $2, $3, $4::text::numeric, $5)
	`, id, accountID, amount.AssetCode, value, domain.ReservationPending)
	if err != nil {
		return "", fmt.Errorf("failed to record reservation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit reservation: %w", err)
	}
	return id, nil
}

func (r *ledgerRepo) Commit(ctx context.Context, reservationID string, amount uint64) error {
	return r.settle(ctx, reservationID, amount, domain.ReservationCommitted)
}

func (r *ledgerRepo) Release(ctx context.Context, reservationID string) error {
	return r.settle(ctx, reservationID, 0, domain.ReservationReleased)
}

func (r *ledgerRepo) settle(ctx context.Context, reservationID string, amount uint64, status domain.ReservationStatus) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		res      domain.Reservation
		reserved string
	)
	err = tx.QueryRow(ctx, `
		SELECT id, account_id, asset_code, amount::text, status
		FROM ledger_reservations
		WHERE id = $1
		FOR UPDATE
	`, reservationID).Scan(&res.ID, &res.AccountID, &res.AssetCode, &reserved, &res.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("failed to load reservation: %w", err)
	}
	if res.Status != domain.ReservationPending {
		return nil
	}
	if res.Amount, err = strconv.ParseUint(reserved, 10, 64); err != nil {
		return fmt.Errorf("invalid reservation amount %q: %w", reserved, err)
	}
	if amount > res.Amount {
		return fmt.Errorf("%w: commit of %d exceeds reservation of %d", domain.ErrValidation, amount, res.Amount)
	}

	refund := strconv.FormatUint(res.Amount-amount, 10)
	_, err = tx.Exec(ctx, `
		UPDATE account_balances
		SET
			reserved = reserved - $1::text::numeric,
			available = available + $2::text::numeric,
			version = version + 1,
			updated_at = $3
		WHERE account_id = $4 AND asset_code = $5
	`, reserved, refund, time.Now(), res.AccountID, res.AssetCode)
	if err != nil {
		return fmt.Errorf("failed to settle balance: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE ledger_reservations
		SET status = $1, committed_amount = $2::text::numeric, settled_at = $3
		WHERE id = $4
	`, status, strconv.FormatUint(amount, 10), time.Now(), reservationID)
	if err != nil {
		return fmt.Errorf("failed to settle reservation: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *ledgerRepo) Deposit(ctx context.Context, accountID uuid.UUID, amount domain.Amount) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO account_balances (account_id, asset_code, available)
		VALUES ($1, $2, $3::text::numeric)
		ON CONFLICT (account_id, asset_code) DO UPDATE
		SET available = account_balances.available + EXCLUDED.available,
			version = account_balances.version + 1,
			updated_at = NOW()
	`, accountID, amount.AssetCode, strconv.FormatUint(amount.Value, 10))
	if err != nil {
		return fmt.Errorf("failed to deposit: %w", err)
	}
	return nil
}

func (r *ledgerRepo) Balance(ctx context.Context, accountID uuid.UUID, assetCode string) (*domain.Balance, error) {
	var available, reserved string
	err := r.db.QueryRow(ctx, `
		SELECT available::text, reserved::text
		FROM account_balances
		WHERE account_id = $1 AND asset_code = $2
	`, accountID, assetCode).Scan(&available, &reserved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	b := &domain.Balance{AccountID: accountID, AssetCode: assetCode}
	if b.Available, err = strconv.ParseUint(available, 10, 64); err != nil {
		return nil, fmt.Errorf("invalid available balance %q: %w", available, err)
	}
	if b.Reserved, err = strconv.ParseUint(reserved, 10, 64); err != nil {
		return nil, fmt.Errorf("invalid reserved balance %q: %w", reserved, err)
	}
	return b, nil
}
