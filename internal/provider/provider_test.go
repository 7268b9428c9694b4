package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Shoto0095/rafiki/internal/cache"
	"github.com/Shoto0095/rafiki/internal/domain"
)

var (
	usd = domain.Asset{ID: uuid.New(), Code: "USD", Scale: 2}
	eur = domain.Asset{ID: uuid.New(), Code: "EUR", Scale: 2}
	jpy = domain.Asset{ID: uuid.New(), Code: "JPY", Scale: 0}
)

func TestParseRateTable(t *testing.T) {
	probe, err := ParseRateTable("USD:EUR=0.90-0.92, usd:jpy=150")
	require.NoError(t, err)

	res, err := probe.Probe(context.Background(), usd, eur)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Low.Cmp(domain.MustRate(9, 10)))
	assert.Equal(t, 0, res.High.Cmp(domain.MustRate(92, 100)))

	// 1 cent buys 1.5 yen in smallest units
	res, err = probe.Probe(context.Background(), usd, jpy)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Low.Cmp(domain.MustRate(3, 2)))
	assert.Equal(t, 0, res.Low.Cmp(res.High))

	res, err = probe.Probe(context.Background(), eur, eur)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Low.Cmp(domain.MustRate(1, 1)))

	_, err = probe.Probe(context.Background(), eur, usd)
	assert.ErrorIs(t, err, domain.ErrProbeUnavailable)

	_, err = ParseRateTable("USD-EUR")
	assert.Error(t, err)
}

type memStore struct {
	mu     sync.Mutex
	values map[string]string
	fail   bool
}

func (s *memStore) Get(_ context.Context, ns, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return "", errors.New("redis down")
	}
	v, ok := s.values[ns+":"+key]
	if !ok {
		return "", cache.ErrMiss
	}
	return v, nil
}

func (s *memStore) Set(_ context.Context, ns, key string, value interface{}, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("redis down")
	}
	s.values[ns+":"+key] = value.(string)
	return nil
}

type countingProbe struct {
	calls int
	next  RateProbe
}

func (c *countingProbe) Probe(ctx context.Context, src, dst domain.Asset) (*ProbeResult, error) {
	c.calls++
	return c.next.Probe(ctx, src, dst)
}

func TestCachedRateProbe(t *testing.T) {
	static, err := ParseRateTable("USD:EUR=0.90-0.92")
	require.NoError(t, err)
	inner := &countingProbe{next: static.WithCapacity(500)}
	store := &memStore{values: make(map[string]string)}
	probe := NewCachedRateProbe(inner, store, time.Minute, zap.NewNop())

	first, err := probe.Probe(context.Background(), usd, eur)
	require.NoError(t, err)
	second, err := probe.Probe(context.Background(), usd, eur)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 0, first.Low.Cmp(second.Low))
	assert.Equal(t, 0, first.High.Cmp(second.High))
	assert.Equal(t, uint64(500), second.ReceiveCapacity)

	store.fail = true
	_, err = probe.Probe(context.Background(), usd, eur)
	require.NoError(t, err, "cache outage must not fail the probe")
	assert.Equal(t, 2, inner.calls)
}

func TestResultOutcome(t *testing.T) {
	p := &domain.OutgoingPayment{State: domain.PaymentStateSending, StateAttempts: 2}

	o := Result{Kind: ResultDelivered, Amount: 10}.Outcome(p)
	assert.Equal(t, domain.OutcomeDelivered, o.Kind)
	assert.Equal(t, uint64(10), o.Amount)
	assert.Equal(t, uint32(2), o.Attempt)

	o = Result{Kind: ResultFatal, Reason: "rejected"}.Outcome(p)
	assert.Equal(t, domain.OutcomeFatalFailure, o.Kind)
	assert.Equal(t, "rejected", o.Reason)

	o = Result{Kind: ResultTransient}.Outcome(p)
	assert.Equal(t, domain.OutcomeTransientFailure, o.Kind)
}

func TestLoopbackTransmitter(t *testing.T) {
	res := LoopbackTransmitter{}.Send(context.Background(), &domain.OutgoingPayment{}, domain.NewAmount(42, usd))
	assert.Equal(t, ResultDelivered, res.Kind)
	assert.Equal(t, uint64(42), res.Amount)
}
