package quote

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/Shoto0095/rafiki/internal/domain"
)

// RatePrecision bounds the denominator of a guaranteed minimum rate.
var RatePrecision = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

var maxUint64 = new(big.Int).SetUint64(math.MaxUint64)

// DefaultSlippage is 1%.
var DefaultSlippage = domain.MustRate(1, 100)

// Target is the caller-fixed side of the payment.
type Target struct {
	Type   domain.TargetType
	Amount uint64
}

type Request struct {
	SourceAsset      domain.Asset
	DestinationAsset domain.Asset
	Target           Target
	ProbedRateLow    domain.Rate
	ProbedRateHigh   domain.Rate
	// MaxPacketAmount is the ceiling in source units the sender will put in one packet.
	MaxPacketAmount uint64
	// ReceiveCapacity is the receiver-advertised packet ceiling; zero when not advertised.
	ReceiveCapacity uint64
	Now             time.Time
}

// Engine turns a probed rate envelope into a quote. It holds no state and is safe for concurrent use.
type Engine struct {
	Slippage domain.Rate
	Lifespan time.Duration
}

func NewEngine(slippage domain.Rate, lifespan time.Duration) *Engine {
	return &Engine{Slippage: slippage, Lifespan: lifespan}
}

// MinExchangeRate is floor(low * (1 - slippage)) at RatePrecision.
func (e *Engine) MinExchangeRate(low domain.Rate) domain.Rate {
	factor := domain.MustRate(1, 1).Sub(e.Slippage)
	if factor.Sign() < 0 {
		factor = domain.Rate{}
	}
	return low.Mul(factor).FloorTo(RatePrecision)
}

func (e *Engine) Quote(req Request) (*domain.Quote, error) {
	if !req.Target.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown target type %q", domain.ErrValidation, req.Target.Type)
	}
	if req.Target.Amount == 0 {
		return nil, fmt.Errorf("%w: target amount must be greater than 0", domain.ErrValidation)
	}
	if req.ProbedRateLow.Sign() <= 0 {
		return nil, domain.ErrZeroRate
	}
	if req.ProbedRateLow.Cmp(req.ProbedRateHigh) > 0 {
		return nil, domain.ErrInvalidRateBounds
	}

	maxPacket := req.MaxPacketAmount
	if req.ReceiveCapacity > 0 && req.ReceiveCapacity < maxPacket {
		maxPacket = req.ReceiveCapacity
	}
	if maxPacket < 1 {
		return nil, domain.ErrPacketTooSmall
	}

	minRate := e.MinExchangeRate(req.ProbedRateLow)
	if minRate.Sign() <= 0 {
		return nil, domain.ErrAmountTooSmall
	}

	var send, receive uint64
	switch req.Target.Type {
	case domain.TargetFixedSend:
		send = req.Target.Amount
		v, err := toUint64(minRate.MulFloor(send))
		if err != nil {
			return nil, err
		}
		receive = v
	case domain.TargetFixedDelivery:
		receive = req.Target.Amount
		v, err := toUint64(minRate.DivCeil(receive))
		if err != nil {
			return nil, err
		}
		send = v
	}

	q := &domain.Quote{
		CreatedAt:         req.Now,
		TargetType:        req.Target.Type,
		MaxPacketAmount:   domain.NewAmount(maxPacket, req.SourceAsset),
		MinExchangeRate:   minRate,
		EstimatedRateLow:  minRate,
		EstimatedRateHigh: req.ProbedRateHigh,
		ProbedRateLow:     req.ProbedRateLow,
		SendAmount:        domain.NewAmount(send, req.SourceAsset),
		ReceiveAmount:     domain.NewAmount(receive, req.DestinationAsset),
	}
	if e.Lifespan > 0 {
		q.ExpiresAt = req.Now.Add(e.Lifespan)
	}
	return q, nil
}

func toUint64(v *big.Int) (uint64, error) {
	if v.Sign() <= 0 {
		return 0, domain.ErrAmountTooSmall
	}
	if v.Cmp(maxUint64) > 0 {
		return 0, domain.ErrAmountOverflow
	}
	return v.Uint64(), nil
}
