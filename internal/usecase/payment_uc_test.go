package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shoto0095/rafiki/internal/domain"
	"github.com/Shoto0095/rafiki/internal/pkg/lifecycle"
	"github.com/Shoto0095/rafiki/internal/provider"
	"github.com/Shoto0095/rafiki/internal/repository"
)

func TestCreateValidates(t *testing.T) {
	h := newHarness(t, nil)
	send, recv := uint64(100), uint64(100)

	_, err := h.uc.Create(context.Background(), &domain.CreatePaymentRequest{
		SourceAccountID:         h.account,
		SourceAsset:             usd,
		DestinationAsset:        eur,
		ReceivingPaymentPointer: "$wallet.example/alice",
		SendAmount:              &send,
		ReceiveAmount:           &recv,
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	p := h.create(t, 10000)
	assert.Equal(t, domain.PaymentStatePending, p.State)
	assert.Nil(t, p.Quote)
	assert.Equal(t, []domain.EventType{domain.EventPaymentCreated}, h.publisher.types())
}

func TestPaymentCompletes(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, 10000)

	p = h.step(t, p.ID)
	require.Equal(t, domain.PaymentStateQuoted, p.State)
	require.NotNil(t, p.ReceiveAmount)
	assert.Equal(t, uint64(8910), p.ReceiveAmount.Value)

	p = h.step(t, p.ID)
	require.Equal(t, domain.PaymentStateSending, p.State)
	require.NotNil(t, p.ReservationID)
	assert.Equal(t, uint64(10000), h.balance(t).Reserved)

	p = h.step(t, p.ID)
	require.Equal(t, domain.PaymentStateCompleted, p.State)
	assert.NotNil(t, p.SettledAt)
	assert.Equal(t, uint64(10000), p.AmountSent)

	b := h.balance(t)
	assert.Equal(t, uint64(40000), b.Available)
	assert.Equal(t, uint64(0), b.Reserved)

	assert.Equal(t, []domain.EventType{
		domain.EventPaymentCreated,
		domain.EventPaymentQuoted,
		domain.EventPaymentSending,
		domain.EventPaymentCompleted,
	}, h.publisher.types())
}

func TestInsufficientBalanceFails(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, 60000)

	h.step(t, p.ID)
	p = h.step(t, p.ID)

	assert.Equal(t, domain.PaymentStateFailed, p.State)
	assert.Contains(t, p.ErrorString(), domain.ErrInsufficientBalance.Error())
	assert.Nil(t, p.ReservationID)
	assert.Equal(t, uint64(50000), h.balance(t).Available)
}

func TestAttemptBoundReleasesReservation(t *testing.T) {
	h := newHarness(t, nil)
	reasons := []string{"liquidity", "timeout", "connection reset", "unexpected"}
	h.transmitter.fn = func(*domain.OutgoingPayment, domain.Amount) provider.Result {
		n := h.transmitter.count()
		return provider.Result{Kind: provider.ResultTransient, Reason: reasons[n-1]}
	}
	p := h.create(t, 10000)
	h.step(t, p.ID)
	h.step(t, p.ID)

	for i := 1; i <= 3; i++ {
		p = h.step(t, p.ID)
		require.Equal(t, domain.PaymentStateSending, p.State)
		assert.Equal(t, uint32(i), p.StateAttempts)
	}

	p = h.step(t, p.ID)
	assert.Equal(t, domain.PaymentStateFailed, p.State)
	assert.Equal(t, "connection reset", p.ErrorString())
	assert.Equal(t, 3, h.transmitter.count(), "no fourth transmission")

	b := h.balance(t)
	assert.Equal(t, uint64(50000), b.Available)
	assert.Equal(t, uint64(0), b.Reserved)
}

func TestPartialDeliveryCommitsSentOnFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.transmitter.fn = func(_ *domain.OutgoingPayment, remaining domain.Amount) provider.Result {
		if h.transmitter.count() == 1 {
			return provider.Result{Kind: provider.ResultDelivered, Amount: 3000}
		}
		return provider.Result{Kind: provider.ResultFatal, Reason: "receiver rejected"}
	}
	p := h.create(t, 10000)
	h.step(t, p.ID)
	h.step(t, p.ID)

	p = h.step(t, p.ID)
	assert.Equal(t, uint64(3000), p.AmountSent)
	assert.Equal(t, domain.PaymentStateSending, p.State)

	p = h.step(t, p.ID)
	assert.Equal(t, domain.PaymentStateFailed, p.State)
	assert.Equal(t, "receiver rejected", p.ErrorString())

	assert.Equal(t, uint64(47000), h.balance(t).Available)
}

func transientFailure(*domain.OutgoingPayment, domain.Amount) provider.Result {
	return provider.Result{Kind: provider.ResultTransient, Reason: "liquidity"}
}

// advanceClock moves the usecase clock past the lifespan of any quote taken so far.
func (h *harness) advanceClock() {
	later := time.Now().UTC().Add(2 * time.Hour)
	h.uc.now = func() time.Time { return later }
}

func TestExpiredQuoteRequotesAndReleases(t *testing.T) {
	h := newHarness(t, nil)
	h.transmitter.fn = transientFailure
	p := h.create(t, 10000)
	h.step(t, p.ID)
	h.step(t, p.ID)
	p = h.step(t, p.ID)
	require.Equal(t, domain.PaymentStateSending, p.State)
	require.Equal(t, uint64(10000), h.balance(t).Reserved)

	h.advanceClock()
	p = h.step(t, p.ID)
	assert.Equal(t, domain.PaymentStatePending, p.State)
	assert.Nil(t, p.Quote)
	assert.Nil(t, p.ReservationID)
	assert.Nil(t, p.ReceiveAmount)
	assert.Equal(t, 1, h.transmitter.count())

	b := h.balance(t)
	assert.Equal(t, uint64(50000), b.Available)
	assert.Equal(t, uint64(0), b.Reserved)

	h.transmitter.fn = deliverAll
	for _, want := range []domain.PaymentState{
		domain.PaymentStateQuoted, domain.PaymentStateSending, domain.PaymentStateCompleted,
	} {
		p = h.step(t, p.ID)
		require.Equal(t, want, p.State)
	}
	b = h.balance(t)
	assert.Equal(t, uint64(40000), b.Available)
	assert.Equal(t, uint64(0), b.Reserved)
}

func TestExpiredQuoteAfterPartialDeliveryCommitsSent(t *testing.T) {
	for _, policy := range []lifecycle.ExpiryPolicy{lifecycle.ExpiryRequote, lifecycle.ExpiryFail} {
		t.Run(string(policy), func(t *testing.T) {
			h := newHarness(t, nil)
			h.uc.config.Policy.QuoteExpiry = policy
			h.transmitter.fn = func(*domain.OutgoingPayment, domain.Amount) provider.Result {
				return provider.Result{Kind: provider.ResultDelivered, Amount: 3000}
			}
			p := h.create(t, 10000)
			h.step(t, p.ID)
			h.step(t, p.ID)
			p = h.step(t, p.ID)
			require.Equal(t, uint64(3000), p.AmountSent)

			h.advanceClock()
			p = h.step(t, p.ID)
			assert.Equal(t, domain.PaymentStateFailed, p.State)
			assert.Equal(t, lifecycle.ReasonQuoteExpired, p.ErrorString())
			assert.NotNil(t, p.SettledAt)
			assert.Equal(t, 1, h.transmitter.count())

			b := h.balance(t)
			assert.Equal(t, uint64(47000), b.Available)
			assert.Equal(t, uint64(0), b.Reserved)
		})
	}
}

func TestStaleQuoteIsIgnoredAfterRequote(t *testing.T) {
	h := newHarness(t, nil)
	h.transmitter.fn = transientFailure
	p := h.create(t, 10000)

	stale := h.uc.quote(context.Background(), p)
	require.Equal(t, domain.OutcomeQuoted, stale.Kind)
	_, err := h.uc.Advance(context.Background(), p.ID, stale)
	require.NoError(t, err)
	h.step(t, p.ID)
	h.step(t, p.ID)

	h.advanceClock()
	p = h.step(t, p.ID)
	require.Equal(t, domain.PaymentStatePending, p.State)
	require.Equal(t, stale.State, p.State)
	require.Equal(t, stale.Attempt, p.StateAttempts)

	got, err := h.uc.Advance(context.Background(), p.ID, stale)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatePending, got.State)
	assert.Nil(t, got.Quote)
	assert.Equal(t, p.Version, got.Version)
}

func TestCancel(t *testing.T) {
	h := newHarness(t, nil)

	p := h.create(t, 10000)
	cancelled, err := h.uc.Cancel(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStateCancelled, cancelled.State)

	_, err = h.uc.Cancel(context.Background(), p.ID)
	assert.ErrorIs(t, err, domain.ErrTooLate)

	sending := h.create(t, 10000)
	h.step(t, sending.ID)
	h.step(t, sending.ID)
	_, err = h.uc.Cancel(context.Background(), sending.ID)
	assert.ErrorIs(t, err, domain.ErrTooLate)

	_, err = h.uc.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTerminalPaymentIsImmutable(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, 10000)
	p, err := h.uc.Cancel(context.Background(), p.ID)
	require.NoError(t, err)

	for _, kind := range []domain.OutcomeKind{domain.OutcomeQuoted, domain.OutcomeDelivered, domain.OutcomeFatalFailure} {
		_, err := h.uc.Advance(context.Background(), p.ID, domain.OutcomeFor(p, kind))
		assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)
	}

	stored, err := h.uc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.State, stored.State)
	assert.Equal(t, p.Version, stored.Version)
}

func TestReplayedOutcomeIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, 10000)

	o := domain.OutcomeFor(p, domain.OutcomeProbeUnavailable)
	o.Reason = "probe down"
	first, err := h.uc.Advance(context.Background(), p.ID, o)
	require.NoError(t, err)
	require.Equal(t, uint32(1), first.StateAttempts)

	second, err := h.uc.Advance(context.Background(), p.ID, o)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), second.StateAttempts)
	assert.Equal(t, first.Version, second.Version)
}

// lockstepRepo holds every GetByID until both concurrent callers have read, so both act on
// the same version.
type lockstepRepo struct {
	repository.PaymentRepository
	arrived sync.WaitGroup
}

func (r *lockstepRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.OutgoingPayment, error) {
	p, err := r.PaymentRepository.GetByID(ctx, id)
	r.arrived.Done()
	r.arrived.Wait()
	return p, err
}

func TestConcurrentAdvanceExactlyOneWins(t *testing.T) {
	base := repository.NewMemoryPaymentRepository()
	h := newHarness(t, base)
	p := h.create(t, 10000)
	h.step(t, p.ID)

	quoted, err := base.GetByID(context.Background(), p.ID)
	require.NoError(t, err)

	racing := &lockstepRepo{PaymentRepository: base}
	racing.arrived.Add(2)
	h.uc.repo = racing

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.uc.Advance(context.Background(), p.ID, domain.OutcomeFor(quoted, domain.OutcomeBeginSending))
		}(i)
	}
	wg.Wait()

	conflicts := 0
	for _, err := range errs {
		if errors.Is(err, domain.ErrConflict) {
			conflicts++
		} else {
			assert.NoError(t, err)
		}
	}
	assert.Equal(t, 1, conflicts)

	b := h.balance(t)
	assert.Equal(t, uint64(10000), b.Reserved, "the losing reservation is released")
	assert.Equal(t, uint64(40000), b.Available)
}

type failingLedger struct {
	repository.LedgerRepository
	failCommits int
}

func (l *failingLedger) Commit(ctx context.Context, id string, amount uint64) error {
	if l.failCommits > 0 {
		l.failCommits--
		return errors.New("ledger unavailable")
	}
	return l.LedgerRepository.Commit(ctx, id, amount)
}

func TestSettlementSweepRecovers(t *testing.T) {
	h := newHarness(t, nil)
	h.uc.ledger = &failingLedger{LedgerRepository: h.ledger, failCommits: 1}

	p := h.create(t, 10000)
	h.step(t, p.ID)
	h.step(t, p.ID)
	p = h.step(t, p.ID)
	require.Equal(t, domain.PaymentStateCompleted, p.State)
	assert.Nil(t, p.SettledAt)
	assert.Equal(t, uint64(10000), h.balance(t).Reserved)

	err := h.uc.Delete(context.Background(), p.ID)
	assert.ErrorIs(t, err, domain.ErrNotTerminal, "unsettled payments are kept")

	n, err := h.uc.Settle(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(0), h.balance(t).Reserved)

	n, err = h.uc.Settle(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, h.uc.Delete(context.Background(), p.ID))
	_, err = h.uc.Get(context.Background(), p.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteRequiresTerminal(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, 10000)
	assert.ErrorIs(t, h.uc.Delete(context.Background(), p.ID), domain.ErrNotTerminal)
}

func TestQuoteFailureIsTerminal(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, 1)

	p = h.step(t, p.ID)
	assert.Equal(t, domain.PaymentStateFailed, p.State)
	assert.Equal(t, domain.ErrAmountTooSmall.Error(), p.ErrorString())
}

func TestProbeOutageExhaustsAttempts(t *testing.T) {
	h := newHarness(t, nil)
	h.probe.down = true
	p := h.create(t, 10000)

	for i := 1; i <= 3; i++ {
		p = h.step(t, p.ID)
		require.Equal(t, domain.PaymentStatePending, p.State)
		require.NotNil(t, p.RetryAt)
	}
	p = h.step(t, p.ID)
	assert.Equal(t, domain.PaymentStateFailed, p.State)
	assert.Equal(t, domain.ErrProbeUnavailable.Error(), p.ErrorString())
}
