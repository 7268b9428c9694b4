package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shoto0095/rafiki/internal/domain"
)

type PaymentRepository interface {
	Create(ctx context.Context, p *domain.OutgoingPayment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.OutgoingPayment, error)
	// Update writes p if the stored version still equals expectedVersion and bumps p.Version.
	// A lost race returns domain.ErrConflict.
	Update(ctx context.Context, p *domain.OutgoingPayment, expectedVersion int64) error
	ListByAccount(ctx context.Context, accountID uuid.UUID, page domain.PageRequest) ([]*domain.OutgoingPayment, error)
	// ListRunnable returns non-terminal payments whose retry deadline has passed, oldest first.
	ListRunnable(ctx context.Context, now time.Time, limit int) ([]*domain.OutgoingPayment, error)
	// ListUnsettled returns terminal payments still holding an unsettled reservation.
	ListUnsettled(ctx context.Context, limit int) ([]*domain.OutgoingPayment, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type paymentRepo struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) PaymentRepository {
	return &paymentRepo{db: db}
}

const paymentColumns = `
	id, state, error, state_attempts, description, external_ref,
	source_account_id, asset_id, source_asset_code, source_asset_scale,
	destination_asset_id, destination_asset_code, destination_asset_scale,
	receiving_payment_pointer, send_amount::text, receive_amount::text,
	quote_created_at, quote_expires_at, quote_target_type, quote_max_packet_amount::text,
	quote_min_rate_num, quote_min_rate_den, quote_low_rate_num, quote_low_rate_den,
	quote_high_rate_num, quote_high_rate_den, quote_probed_low_num, quote_probed_low_den,
	amount_sent::text, progress_attempt, reservation_id, settled_at, retry_at, version,
	created_at, updated_at, completed_at`

func (r *paymentRepo) Create(ctx context.Context, p *domain.OutgoingPayment) error {
	query := `
		INSERT INTO outgoing_payments (
			id, state, error, state_attempts, description, external_ref,
			source_account_id, asset_id, source_asset_code, source_asset_scale,
			destination_asset_id, destination_asset_code, destination_asset_scale,
			receiving_payment_pointer, send_amount, receive_amount,
			amount_sent, progress_attempt, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15::text::numeric, $16::text::numeric, $17::text::numeric, $18, $19, $20, $21
		)
	`

	if p.Version == 0 {
		p.Version = 1
	}
	_, err := r.db.Exec(ctx, query,
		p.ID,
		p.State,
		p.Error,
		int32(p.StateAttempts),
		p.Description,
		p.ExternalRef,
		p.SourceAccountID,
		p.AssetID,
		p.SourceAsset.Code,
		int16(p.SourceAsset.Scale),
		nullUUID(p.DestinationAsset.ID),
		p.DestinationAsset.Code,
		int16(p.DestinationAsset.Scale),
		p.ReceivingPaymentPointer,
		amountText(p.SendAmount),
		amountText(p.ReceiveAmount),
		strconv.FormatUint(p.AmountSent, 10),
		int32(p.ProgressAttempt),
		p.Version,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: payment %s already exists", domain.ErrConflict, p.ID)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *paymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.OutgoingPayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM outgoing_payments WHERE id = $1`

	p, err := scanPayment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (r *paymentRepo) Update(ctx context.Context, p *domain.OutgoingPayment, expectedVersion int64) error {
	query := `
		UPDATE outgoing_payments
		SET
			state = $1,
			error = $2,
			state_attempts = $3,
			send_amount = $4::text::numeric,
			receive_amount = $5::text::numeric,
			quote_created_at = $6,
			quote_expires_at = $7,
			quote_target_type = $8,
			quote_max_packet_amount = $9::text::numeric,
			quote_min_rate_num = $10,
			quote_min_rate_den = $11,
			quote_low_rate_num = $12,
			quote_low_rate_den = $13,
			quote_high_rate_num = $14,
			quote_high_rate_den = $15,
			quote_probed_low_num = $16,
			quote_probed_low_den = $17,
			amount_sent = $18::text::numeric,
			reservation_id = $19,
			settled_at = $20,
			retry_at = $21,
			completed_at = $22,
			updated_at = $23,
			progress_attempt = $24,
			version = version + 1
		WHERE id = $25 AND version = $26
		RETURNING version
	`

	qc := quoteColumnsOf(p.Quote)
	var newVersion int64
	err := r.db.QueryRow(ctx, query,
		p.State,
		p.Error,
		int32(p.StateAttempts),
		amountText(p.SendAmount),
		amountText(p.ReceiveAmount),
		qc.createdAt,
		qc.expiresAt,
		qc.targetType,
		qc.maxPacket,
		qc.minNum, qc.minDen,
		qc.lowNum, qc.lowDen,
		qc.highNum, qc.highDen,
		qc.probedNum, qc.probedDen,
		strconv.FormatUint(p.AmountSent, 10),
		p.ReservationID,
		p.SettledAt,
		p.RetryAt,
		p.CompletedAt,
		p.UpdatedAt,
		int32(p.ProgressAttempt),
		p.ID,
		expectedVersion,
	).Scan(&newVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrConflict
		}
		return fmt.Errorf("failed to update payment: %w", err)
	}
	p.Version = newVersion
	return nil
}

func (r *paymentRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, page domain.PageRequest) ([]*domain.OutgoingPayment, error) {
	limit := clampLimit(page.Limit)
	var (
		rows pgx.Rows
		err  error
	)
	if page.After == nil {
		rows, err = r.db.Query(ctx, `SELECT `+paymentColumns+`
			FROM outgoing_payments
			WHERE source_account_id = $1
			ORDER BY created_at, id
			LIMIT $2`, accountID, limit)
	} else {
		rows, err = r.db.Query(ctx, `SELECT `+paymentColumns+`
			FROM outgoing_payments
			WHERE source_account_id = $1 AND (created_at, id) > ($2, $3)
			ORDER BY created_at, id
			LIMIT $4`, accountID, page.After.CreatedAt, page.After.ID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return collectPayments(rows)
}

func (r *paymentRepo) ListRunnable(ctx context.Context, now time.Time, limit int) ([]*domain.OutgoingPayment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM outgoing_payments
		WHERE state = ANY($1) AND (retry_at IS NULL OR retry_at <= $2)
		ORDER BY updated_at
		LIMIT $3`

	states := make([]string, 0, len(domain.RunnableStates))
	for _, s := range domain.RunnableStates {
		states = append(states, string(s))
	}
	rows, err := r.db.Query(ctx, query, states, now, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list runnable payments: %w", err)
	}
	return collectPayments(rows)
}

func (r *paymentRepo) ListUnsettled(ctx context.Context, limit int) ([]*domain.OutgoingPayment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM outgoing_payments
		WHERE state IN ('completed', 'failed', 'cancelled')
		  AND reservation_id IS NOT NULL AND settled_at IS NULL
		ORDER BY updated_at
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list unsettled payments: %w", err)
	}
	return collectPayments(rows)
}

func (r *paymentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM outgoing_payments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete payment: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func collectPayments(rows pgx.Rows) ([]*domain.OutgoingPayment, error) {
	defer rows.Close()
	var out []*domain.OutgoingPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanPayment(row pgx.Row) (*domain.OutgoingPayment, error) {
	var (
		p                   domain.OutgoingPayment
		attempts, progress  int32
		srcScale, dstScale  int16
		dstAssetID          *uuid.UUID
		sendAmt, recvAmt    *string
		amountSent          string
		qCreated, qExpires  *time.Time
		qTarget, qMaxPacket *string
		qcols               [8]*string
	)
	err := row.Scan(
		&p.ID,
		&p.State,
		&p.Error,
		&attempts,
		&p.Description,
		&p.ExternalRef,
		&p.SourceAccountID,
		&p.AssetID,
		&p.SourceAsset.Code,
		&srcScale,
		&dstAssetID,
		&p.DestinationAsset.Code,
		&dstScale,
		&p.ReceivingPaymentPointer,
		&sendAmt,
		&recvAmt,
		&qCreated,
		&qExpires,
		&qTarget,
		&qMaxPacket,
		&qcols[0], &qcols[1],
		&qcols[2], &qcols[3],
		&qcols[4], &qcols[5],
		&qcols[6], &qcols[7],
		&amountSent,
		&progress,
		&p.ReservationID,
		&p.SettledAt,
		&p.RetryAt,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	p.StateAttempts = uint32(attempts)
	p.ProgressAttempt = uint32(progress)
	p.SourceAsset.ID = p.AssetID
	p.SourceAsset.Scale = uint8(srcScale)
	if dstAssetID != nil {
		p.DestinationAsset.ID = *dstAssetID
	}
	p.DestinationAsset.Scale = uint8(dstScale)

	if p.SendAmount, err = parseAmount(sendAmt, p.SourceAsset); err != nil {
		return nil, err
	}
	if p.ReceiveAmount, err = parseAmount(recvAmt, p.DestinationAsset); err != nil {
		return nil, err
	}
	if p.AmountSent, err = strconv.ParseUint(amountSent, 10, 64); err != nil {
		return nil, fmt.Errorf("invalid amount_sent %q: %w", amountSent, err)
	}

	if qTarget != nil {
		q := domain.Quote{TargetType: domain.TargetType(*qTarget)}
		if qCreated != nil {
			q.CreatedAt = *qCreated
		}
		if qExpires != nil {
			q.ExpiresAt = *qExpires
		}
		maxPacket, err := parseAmount(qMaxPacket, p.SourceAsset)
		if err != nil {
			return nil, err
		}
		if maxPacket != nil {
			q.MaxPacketAmount = *maxPacket
		}
		rates := []*domain.Rate{&q.MinExchangeRate, &q.EstimatedRateLow, &q.EstimatedRateHigh, &q.ProbedRateLow}
		for i, dst := range rates {
			if qcols[2*i] == nil || qcols[2*i+1] == nil {
				continue
			}
			rate, err := domain.RateFromParts(*qcols[2*i], *qcols[2*i+1])
			if err != nil {
				return nil, err
			}
			*dst = rate
		}
		if p.SendAmount != nil {
			q.SendAmount = *p.SendAmount
		}
		if p.ReceiveAmount != nil {
			q.ReceiveAmount = *p.ReceiveAmount
		}
		p.Quote = &q
	}
	return &p, nil
}

type quoteColumns struct {
	createdAt, expiresAt *time.Time
	targetType           *string
	maxPacket            *string
	minNum, minDen       *string
	lowNum, lowDen       *string
	highNum, highDen     *string
	probedNum, probedDen *string
}

func quoteColumnsOf(q *domain.Quote) quoteColumns {
	if q == nil {
		return quoteColumns{}
	}
	target := string(q.TargetType)
	c := quoteColumns{
		createdAt:  &q.CreatedAt,
		targetType: &target,
		maxPacket:  amountText(&q.MaxPacketAmount),
	}
	if !q.ExpiresAt.IsZero() {
		c.expiresAt = &q.ExpiresAt
	}
	c.minNum, c.minDen = rateText(q.MinExchangeRate)
	c.lowNum, c.lowDen = rateText(q.EstimatedRateLow)
	c.highNum, c.highDen = rateText(q.EstimatedRateHigh)
	c.probedNum, c.probedDen = rateText(q.ProbedRateLow)
	return c
}

func rateText(r domain.Rate) (*string, *string) {
	n, d := r.Num().String(), r.Den().String()
	return &n, &d
}

func amountText(a *domain.Amount) *string {
	if a == nil {
		return nil
	}
	s := strconv.FormatUint(a.Value, 10)
	return &s
}

func parseAmount(s *string, asset domain.Asset) (*domain.Amount, error) {
	if s == nil {
		return nil, nil
	}
	v, err := strconv.ParseUint(*s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", *s, err)
	}
	a := domain.NewAmount(v, asset)
	return &a, nil
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	}
	return limit
}
