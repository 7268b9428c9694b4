package quote

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shoto0095/rafiki/internal/domain"
)

var (
	usd = domain.Asset{ID: uuid.New(), Code: "USD", Scale: 2}
	eur = domain.Asset{ID: uuid.New(), Code: "EUR", Scale: 2}
	now = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
)

func request(target domain.TargetType, amount uint64) Request {
	return Request{
		SourceAsset:      usd,
		DestinationAsset: eur,
		Target:           Target{Type: target, Amount: amount},
		ProbedRateLow:    domain.MustRate(90, 100),
		ProbedRateHigh:   domain.MustRate(92, 100),
		MaxPacketAmount:  1_000_000,
		Now:              now,
	}
}

func TestQuoteFixedSend(t *testing.T) {
	e := NewEngine(DefaultSlippage, time.Minute)

	q, err := e.Quote(request(domain.TargetFixedSend, 10000))
	require.NoError(t, err)

	assert.Equal(t, 0, q.MinExchangeRate.Cmp(domain.MustRate(891, 1000)))
	assert.Equal(t, uint64(10000), q.SendAmount.Value)
	assert.Equal(t, uint64(8910), q.ReceiveAmount.Value)
	assert.Equal(t, "EUR", q.ReceiveAmount.AssetCode)
	assert.Equal(t, "89.10 EUR", q.ReceiveAmount.String())
	assert.Equal(t, now.Add(time.Minute), q.ExpiresAt)
	assert.NoError(t, q.Validate())
}

func TestQuoteFixedDelivery(t *testing.T) {
	e := NewEngine(DefaultSlippage, 0)

	q, err := e.Quote(request(domain.TargetFixedDelivery, 5000))
	require.NoError(t, err)

	assert.Equal(t, uint64(5612), q.SendAmount.Value)
	assert.Equal(t, uint64(5000), q.ReceiveAmount.Value)
	assert.True(t, q.ExpiresAt.IsZero())
	assert.False(t, q.Expired(now.Add(24*time.Hour)))
}

func TestRateMonotonicity(t *testing.T) {
	e := NewEngine(DefaultSlippage, 0)
	cases := []struct{ low, high domain.Rate }{
		{domain.MustRate(1, 3), domain.MustRate(1, 3)},
		{domain.MustRate(9, 10), domain.MustRate(92, 100)},
		{domain.MustRate(123456789, 7), domain.MustRate(123456790, 7)},
		{domain.MustRate(1, 1_000_000_007), domain.MustRate(2, 1_000_000_007)},
	}
	for _, c := range cases {
		minRate := e.MinExchangeRate(c.low)
		adjusted := c.low.Mul(domain.MustRate(99, 100))
		assert.LessOrEqual(t, minRate.Cmp(adjusted), 0, "min rate above slippage-adjusted low for %s", c.low)
		assert.LessOrEqual(t, minRate.Cmp(c.high), 0)
		assert.LessOrEqual(t, minRate.Cmp(c.low), 0)
	}
}

func TestRoundingDirection(t *testing.T) {
	e := NewEngine(DefaultSlippage, 0)
	req := request(domain.TargetFixedSend, 1)
	req.ProbedRateLow = domain.MustRate(1, 3)
	req.ProbedRateHigh = domain.MustRate(1, 2)

	for _, amount := range []uint64{7, 100, 999, 12345} {
		req.Target = Target{Type: domain.TargetFixedSend, Amount: amount}
		q, err := e.Quote(req)
		require.NoError(t, err)
		exact := domain.RateFromRat(q.MinExchangeRate.Rat()).MulFloor(amount)
		assert.Equal(t, exact.Uint64(), q.ReceiveAmount.Value)

		req.Target = Target{Type: domain.TargetFixedDelivery, Amount: amount}
		q, err = e.Quote(req)
		require.NoError(t, err)
		delivered := q.MinExchangeRate.MulFloor(q.SendAmount.Value)
		assert.GreaterOrEqual(t, delivered.Uint64(), amount, "send amount under-funds delivery")
		less := q.MinExchangeRate.MulFloor(q.SendAmount.Value - 1)
		assert.Less(t, less.Uint64(), amount, "send amount is not the smallest sufficient one")
	}
}

func TestQuoteErrors(t *testing.T) {
	e := NewEngine(DefaultSlippage, 0)

	t.Run("zero rate", func(t *testing.T) {
		req := request(domain.TargetFixedSend, 100)
		req.ProbedRateLow = domain.Rate{}
		_, err := e.Quote(req)
		assert.ErrorIs(t, err, domain.ErrZeroRate)
	})

	t.Run("inverted bounds", func(t *testing.T) {
		req := request(domain.TargetFixedSend, 100)
		req.ProbedRateLow, req.ProbedRateHigh = req.ProbedRateHigh, req.ProbedRateLow
		_, err := e.Quote(req)
		assert.ErrorIs(t, err, domain.ErrInvalidRateBounds)
	})

	t.Run("no packet capacity", func(t *testing.T) {
		req := request(domain.TargetFixedSend, 100)
		req.MaxPacketAmount = 0
		_, err := e.Quote(req)
		assert.ErrorIs(t, err, domain.ErrPacketTooSmall)
		assert.True(t, domain.IsQuoteError(err))
	})

	t.Run("receive capacity caps packet", func(t *testing.T) {
		req := request(domain.TargetFixedSend, 100)
		req.ReceiveCapacity = 40
		q, err := e.Quote(req)
		require.NoError(t, err)
		assert.Equal(t, uint64(40), q.MaxPacketAmount.Value)
	})

	t.Run("receive rounds to zero", func(t *testing.T) {
		req := request(domain.TargetFixedSend, 1)
		_, err := e.Quote(req)
		assert.ErrorIs(t, err, domain.ErrAmountTooSmall)
	})

	t.Run("send overflows", func(t *testing.T) {
		req := request(domain.TargetFixedDelivery, math.MaxUint64)
		_, err := e.Quote(req)
		assert.ErrorIs(t, err, domain.ErrAmountOverflow)
	})

	t.Run("zero target", func(t *testing.T) {
		_, err := e.Quote(request(domain.TargetFixedSend, 0))
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}
