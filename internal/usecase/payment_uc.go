package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Shoto0095/rafiki/internal/domain"
	"github.com/Shoto0095/rafiki/internal/idgen"
	"github.com/Shoto0095/rafiki/internal/metrics"
	"github.com/Shoto0095/rafiki/internal/observability"
	"github.com/Shoto0095/rafiki/internal/pkg/lifecycle"
	"github.com/Shoto0095/rafiki/internal/pkg/quote"
	"github.com/Shoto0095/rafiki/internal/provider"
	"github.com/Shoto0095/rafiki/internal/pub"
	"github.com/Shoto0095/rafiki/internal/repository"
	"github.com/Shoto0095/rafiki/internal/signal"
)

type Config struct {
	Policy lifecycle.Policy
	// MaxPacketAmount is the sender-side packet ceiling passed to the quote engine.
	MaxPacketAmount uint64
}

// PaymentUsecase owns every mutation of an outgoing payment.
type PaymentUsecase struct {
	repo        repository.PaymentRepository
	ledger      repository.LedgerRepository
	engine      *quote.Engine
	probe       provider.RateProbe
	transmitter provider.Transmitter
	publisher   pub.Publisher
	bus         signal.Bus
	config      Config
	logger      *zap.Logger
	now         func() time.Time
}

func NewPaymentUsecase(
	repo repository.PaymentRepository,
	ledger repository.LedgerRepository,
	engine *quote.Engine,
	probe provider.RateProbe,
	transmitter provider.Transmitter,
	publisher pub.Publisher,
	bus signal.Bus,
	cfg Config,
	logger *zap.Logger,
) *PaymentUsecase {
	return &PaymentUsecase{
		repo:        repo,
		ledger:      ledger,
		engine:      engine,
		probe:       probe,
		transmitter: transmitter,
		publisher:   publisher,
		bus:         bus,
		config:      cfg,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create validates the request and stores a new payment in pending.
func (uc *PaymentUsecase) Create(ctx context.Context, req *domain.CreatePaymentRequest) (*domain.OutgoingPayment, error) {
	if err := req.Validate(); err != nil {
		uc.logger.Warn("outgoing payment validation failed",
			zap.String("source_account_id", req.SourceAccountID.String()),
			zap.Error(err))
		return nil, err
	}

	now := uc.now()
	p := &domain.OutgoingPayment{
		ID:                      uuid.New(),
		State:                   domain.PaymentStatePending,
		Description:             req.Description,
		ExternalRef:             req.ExternalRef,
		SourceAccountID:         req.SourceAccountID,
		AssetID:                 req.SourceAsset.ID,
		SourceAsset:             req.SourceAsset,
		DestinationAsset:        req.DestinationAsset,
		ReceivingPaymentPointer: req.ReceivingPaymentPointer,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if req.SendAmount != nil {
		a := domain.NewAmount(*req.SendAmount, req.SourceAsset)
		p.SendAmount = &a
	} else {
		a := domain.NewAmount(*req.ReceiveAmount, req.DestinationAsset)
		p.ReceiveAmount = &a
	}

	if err := uc.repo.Create(ctx, p); err != nil {
		uc.logger.Error("failed to create outgoing payment",
			zap.String("source_account_id", req.SourceAccountID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	uc.logger.Info("outgoing payment created",
		zap.String("payment_id", p.ID.String()),
		zap.String("source_account_id", p.SourceAccountID.String()),
		zap.String("target", string(p.TargetType())))
	uc.emit(ctx, domain.EventPaymentCreated, p)
	return p, nil
}

func (uc *PaymentUsecase) Get(ctx context.Context, id uuid.UUID) (*domain.OutgoingPayment, error) {
	return uc.repo.GetByID(ctx, id)
}

func (uc *PaymentUsecase) ListByAccount(ctx context.Context, accountID uuid.UUID, page domain.PageRequest) ([]*domain.OutgoingPayment, error) {
	return uc.repo.ListByAccount(ctx, accountID, page)
}

// Advance applies one outcome to the stored payment. A replayed outcome returns the
// current payment unchanged. Losing a concurrent update returns domain.ErrConflict.
func (uc *PaymentUsecase) Advance(ctx context.Context, id uuid.UUID, o domain.Outcome) (*domain.OutgoingPayment, error) {
	ctx, span := observability.Tracer().Start(ctx, "payment.advance")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.id", id.String()),
		attribute.String("outcome.kind", string(o.Kind)),
	)
	start := time.Now()
	defer func() {
		metrics.AdvanceDuration.WithLabelValues(string(o.Kind)).Observe(time.Since(start).Seconds())
	}()

	p, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := uc.now()
	t, err := lifecycle.Apply(p, o, uc.config.Policy, now)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if t.Replay {
		uc.logger.Debug("ignoring replayed outcome",
			zap.String("payment_id", id.String()),
			zap.String("kind", string(o.Kind)),
			zap.String("state", string(p.State)),
			zap.Uint32("attempt", o.Attempt))
		return t.Payment, nil
	}

	if t.Effect == lifecycle.EffectReserve {
		if t, err = uc.reserve(ctx, p, t, now); err != nil {
			return nil, err
		}
	}

	if err := uc.commit(ctx, p, t); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return t.Payment, nil
}

// reserve holds the send amount on the source account. A rejected reservation fails the
// payment instead of letting it enter sending.
func (uc *PaymentUsecase) reserve(ctx context.Context, p *domain.OutgoingPayment, t lifecycle.Transition, now time.Time) (lifecycle.Transition, error) {
	n := t.Payment
	id, err := uc.ledger.Reserve(ctx, n.SourceAccountID, *n.SendAmount)
	switch {
	case err == nil:
		n.ReservationID = &id
		return t, nil
	case errors.Is(err, domain.ErrInsufficientBalance), errors.Is(err, domain.ErrValidation):
		uc.logger.Warn("reservation rejected, failing payment",
			zap.String("payment_id", p.ID.String()),
			zap.String("amount", n.SendAmount.String()),
			zap.Error(err))
		return lifecycle.Fail(p, err.Error(), now)
	default:
		return t, fmt.Errorf("failed to reserve funds: %w", err)
	}
}

// commit persists the transition and then runs the ledger effects that must follow it.
func (uc *PaymentUsecase) commit(ctx context.Context, prev *domain.OutgoingPayment, t lifecycle.Transition) error {
	n := t.Payment
	if err := uc.repo.Update(ctx, n, prev.Version); err != nil {
		if n.ReservationID != nil && prev.ReservationID == nil {
			// the reservation made for this transition is orphaned by the lost update
			if relErr := uc.ledger.Release(ctx, *n.ReservationID); relErr != nil {
				uc.logger.Error("failed to release orphaned reservation",
					zap.String("payment_id", n.ID.String()),
					zap.String("reservation_id", *n.ReservationID),
					zap.Error(relErr))
			}
		}
		if errors.Is(err, domain.ErrConflict) {
			uc.logger.Info("payment modified concurrently",
				zap.String("payment_id", n.ID.String()),
				zap.Int64("expected_version", prev.Version))
		}
		return err
	}

	uc.logger.Info("payment advanced",
		zap.String("payment_id", n.ID.String()),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
		zap.Uint32("state_attempts", n.StateAttempts),
		zap.String("error", n.ErrorString()))

	switch t.Effect {
	case lifecycle.EffectRelease:
		if err := uc.ledger.Release(ctx, *t.Released); err != nil {
			metrics.SettlementErrors.Inc()
			uc.logger.Error("failed to release reservation after requote",
				zap.String("payment_id", n.ID.String()),
				zap.String("reservation_id", *t.Released),
				zap.Error(err))
		}
	case lifecycle.EffectSettle:
		uc.settle(ctx, n)
	}

	switch {
	case t.Changed():
		metrics.PaymentTransitions.WithLabelValues(string(t.From), string(t.To)).Inc()
		uc.emit(ctx, domain.EventForState(t.To), n)
	case t.Retry:
		metrics.PaymentRetries.WithLabelValues(string(t.To)).Inc()
		uc.emit(ctx, domain.EventPaymentRetrying, n)
	}
	return nil
}

// Cancel stops a payment that has not begun sending.
func (uc *PaymentUsecase) Cancel(ctx context.Context, id uuid.UUID) (*domain.OutgoingPayment, error) {
	p, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := lifecycle.Cancel(p, uc.now())
	if err != nil {
		return nil, err
	}
	if err := uc.commit(ctx, p, t); err != nil {
		return nil, err
	}
	if err := uc.bus.Publish(ctx, id.String()); err != nil {
		uc.logger.Warn("failed to signal cancel to workers",
			zap.String("payment_id", id.String()),
			zap.Error(err))
	}
	return t.Payment, nil
}

// Delete removes a terminal payment whose reservation has been settled.
func (uc *PaymentUsecase) Delete(ctx context.Context, id uuid.UUID) error {
	p, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if _, pending := lifecycle.SettlementFor(p); !p.State.IsTerminal() || pending {
		return domain.ErrNotTerminal
	}
	if err := uc.repo.Delete(ctx, id); err != nil {
		return err
	}
	uc.logger.Info("outgoing payment deleted",
		zap.String("payment_id", id.String()),
		zap.String("state", string(p.State)))
	return nil
}

// Settle finalizes the reservation of terminal payments whose settlement did not complete.
// It returns how many payments were settled.
func (uc *PaymentUsecase) Settle(ctx context.Context, limit int) (int, error) {
	pending, err := uc.repo.ListUnsettled(ctx, limit)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, p := range pending {
		if uc.settle(ctx, p) {
			settled++
		}
	}
	return settled, nil
}

// settle runs the ledger settlement for a terminal payment and records it. Failures are left
// for the next Settle sweep.
func (uc *PaymentUsecase) settle(ctx context.Context, p *domain.OutgoingPayment) bool {
	s, ok := lifecycle.SettlementFor(p)
	if !ok {
		return false
	}

	var err error
	if s.Commit {
		err = uc.ledger.Commit(ctx, s.ReservationID, s.Amount)
	} else {
		err = uc.ledger.Release(ctx, s.ReservationID)
	}
	if err != nil {
		metrics.SettlementErrors.Inc()
		uc.logger.Error("failed to settle reservation",
			zap.String("payment_id", p.ID.String()),
			zap.String("reservation_id", s.ReservationID),
			zap.Bool("commit", s.Commit),
			zap.Error(err))
		return false
	}

	prevVersion := p.Version
	now := uc.now()
	p.SettledAt = &now
	p.UpdatedAt = now
	if err := uc.repo.Update(ctx, p, prevVersion); err != nil {
		// the ledger call is idempotent, the next sweep records it
		uc.logger.Warn("failed to record settlement",
			zap.String("payment_id", p.ID.String()),
			zap.Error(err))
		p.SettledAt = nil
		return false
	}
	uc.logger.Info("reservation settled",
		zap.String("payment_id", p.ID.String()),
		zap.String("reservation_id", s.ReservationID),
		zap.Bool("commit", s.Commit),
		zap.Uint64("amount", s.Amount))
	return true
}

func (uc *PaymentUsecase) emit(ctx context.Context, typ domain.EventType, p *domain.OutgoingPayment) {
	uc.publisher.Publish(ctx, &domain.PaymentEvent{
		ID:        idgen.New("evt"),
		Type:      typ,
		PaymentID: p.ID.String(),
		AccountID: p.SourceAccountID.String(),
		State:     p.State,
		Error:     p.ErrorString(),
		Attempts:  p.StateAttempts,
		Payment:   p,
		Timestamp: uc.now(),
	})
}
