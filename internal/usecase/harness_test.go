package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Shoto0095/rafiki/internal/domain"
	"github.com/Shoto0095/rafiki/internal/pkg/lifecycle"
	"github.com/Shoto0095/rafiki/internal/pkg/quote"
	"github.com/Shoto0095/rafiki/internal/provider"
	"github.com/Shoto0095/rafiki/internal/repository"
	"github.com/Shoto0095/rafiki/internal/signal"
)

var (
	usd = domain.Asset{ID: uuid.New(), Code: "USD", Scale: 2}
	eur = domain.Asset{ID: uuid.New(), Code: "EUR", Scale: 2}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.EventType
}

func (r *recordingPublisher) Publish(_ context.Context, evt *domain.PaymentEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt.Type)
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.EventType(nil), r.events...)
}

type transmitFunc func(p *domain.OutgoingPayment, remaining domain.Amount) provider.Result

type scriptedTransmitter struct {
	mu    sync.Mutex
	calls int
	fn    transmitFunc
}

func (s *scriptedTransmitter) Send(_ context.Context, p *domain.OutgoingPayment, remaining domain.Amount) provider.Result {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(p, remaining)
}

func (s *scriptedTransmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type flakyProbe struct {
	mu    sync.Mutex
	calls int
	next  provider.RateProbe
	down  bool
}

func (f *flakyProbe) Probe(ctx context.Context, src, dst domain.Asset) (*provider.ProbeResult, error) {
	f.mu.Lock()
	f.calls++
	down := f.down
	f.mu.Unlock()
	if down {
		return nil, domain.ErrProbeUnavailable
	}
	return f.next.Probe(ctx, src, dst)
}

func (f *flakyProbe) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	uc          *PaymentUsecase
	repo        *repository.MemoryPaymentRepository
	ledger      *repository.MemoryLedger
	probe       *flakyProbe
	transmitter *scriptedTransmitter
	publisher   *recordingPublisher
	bus         *signal.LocalBus
	account     uuid.UUID
}

func testPolicy() lifecycle.Policy {
	p := lifecycle.DefaultPolicy()
	p.MaxAttempts = 3
	p.InitialBackoff = time.Millisecond
	p.MaxBackoff = 5 * time.Millisecond
	p.RandomizationFactor = 0
	return p
}

func newHarness(t *testing.T, repo repository.PaymentRepository) *harness {
	t.Helper()
	static, err := provider.ParseRateTable("USD:EUR=0.90-0.92")
	require.NoError(t, err)

	h := &harness{
		repo:        repository.NewMemoryPaymentRepository(),
		ledger:      repository.NewMemoryLedger(),
		probe:       &flakyProbe{next: static},
		transmitter: &scriptedTransmitter{fn: deliverAll},
		publisher:   &recordingPublisher{},
		bus:         signal.NewLocalBus(),
		account:     uuid.New(),
	}
	if repo == nil {
		repo = h.repo
	}
	h.uc = NewPaymentUsecase(
		repo,
		h.ledger,
		quote.NewEngine(quote.DefaultSlippage, time.Hour),
		h.probe,
		h.transmitter,
		h.publisher,
		h.bus,
		Config{Policy: testPolicy(), MaxPacketAmount: 1_000_000},
		zap.NewNop(),
	)
	require.NoError(t, h.ledger.Deposit(context.Background(), h.account, domain.NewAmount(50000, usd)))
	return h
}

func deliverAll(_ *domain.OutgoingPayment, remaining domain.Amount) provider.Result {
	return provider.Result{Kind: provider.ResultDelivered, Amount: remaining.Value}
}

func (h *harness) create(t *testing.T, send uint64) *domain.OutgoingPayment {
	t.Helper()
	p, err := h.uc.Create(context.Background(), &domain.CreatePaymentRequest{
		SourceAccountID:         h.account,
		SourceAsset:             usd,
		DestinationAsset:        eur,
		ReceivingPaymentPointer: "$wallet.example/alice",
		SendAmount:              &send,
	})
	require.NoError(t, err)
	return p
}

// step runs one Step on the stored payment and returns the result.
func (h *harness) step(t *testing.T, id uuid.UUID) *domain.OutgoingPayment {
	t.Helper()
	p, err := h.uc.Get(context.Background(), id)
	require.NoError(t, err)
	next, err := h.uc.Step(context.Background(), p)
	require.NoError(t, err)
	return next
}

func (h *harness) balance(t *testing.T) *domain.Balance {
	t.Helper()
	b, err := h.ledger.Balance(context.Background(), h.account, "USD")
	require.NoError(t, err)
	return b
}
