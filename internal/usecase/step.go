package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Shoto0095/rafiki/internal/domain"
	"github.com/Shoto0095/rafiki/internal/metrics"
	"github.com/Shoto0095/rafiki/internal/pkg/lifecycle"
	"github.com/Shoto0095/rafiki/internal/pkg/quote"
)

// Step performs the work due for p in its current state and advances it with the result:
// quoting in pending, starting transmission in quoted, transmitting in sending.
func (uc *PaymentUsecase) Step(ctx context.Context, p *domain.OutgoingPayment) (*domain.OutgoingPayment, error) {
	o, err := uc.nextOutcome(ctx, p)
	if err != nil {
		return nil, err
	}
	return uc.Advance(ctx, p.ID, o)
}

func (uc *PaymentUsecase) nextOutcome(ctx context.Context, p *domain.OutgoingPayment) (domain.Outcome, error) {
	switch p.State {
	case domain.PaymentStatePending:
		return uc.quote(ctx, p), nil
	case domain.PaymentStateQuoted:
		return domain.OutcomeFor(p, domain.OutcomeBeginSending), nil
	case domain.PaymentStateSending:
		if o := lifecycle.ResumeCheck(p, uc.config.Policy, uc.now()); o != nil {
			return *o, nil
		}
		res := uc.transmitter.Send(ctx, p, p.Remaining())
		uc.logger.Debug("transmission attempt finished",
			zap.String("payment_id", p.ID.String()),
			zap.String("result", string(res.Kind)),
			zap.Uint64("delivered", res.Amount),
			zap.String("reason", res.Reason))
		return res.Outcome(p), nil
	}
	return domain.Outcome{}, domain.ErrAlreadyTerminal
}

func (uc *PaymentUsecase) quote(ctx context.Context, p *domain.OutgoingPayment) domain.Outcome {
	probe, err := uc.probe.Probe(ctx, p.SourceAsset, p.DestinationAsset)
	if err != nil {
		o := domain.OutcomeFor(p, domain.OutcomeProbeUnavailable)
		o.Reason = err.Error()
		if !errors.Is(err, domain.ErrProbeUnavailable) {
			o.Reason = domain.ErrProbeUnavailable.Error() + ": " + err.Error()
		}
		return o
	}

	target := quote.Target{Type: p.TargetType()}
	if target.Type == domain.TargetFixedSend {
		target.Amount = p.SendAmount.Value
	} else {
		target.Amount = p.ReceiveAmount.Value
	}

	q, err := uc.engine.Quote(quote.Request{
		SourceAsset:      p.SourceAsset,
		DestinationAsset: p.DestinationAsset,
		Target:           target,
		ProbedRateLow:    probe.Low,
		ProbedRateHigh:   probe.High,
		MaxPacketAmount:  uc.config.MaxPacketAmount,
		ReceiveCapacity:  probe.ReceiveCapacity,
		Now:              uc.now(),
	})
	if err != nil {
		metrics.QuoteFailures.WithLabelValues(quoteFailureReason(err)).Inc()
		o := domain.OutcomeFor(p, domain.OutcomeQuoteFailed)
		o.Reason = err.Error()
		return o
	}
	o := domain.OutcomeFor(p, domain.OutcomeQuoted)
	o.Quote = q
	return o
}

func quoteFailureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidRateBounds):
		return "invalid_rate_bounds"
	case errors.Is(err, domain.ErrZeroRate):
		return "zero_rate"
	case errors.Is(err, domain.ErrPacketTooSmall):
		return "packet_too_small"
	case errors.Is(err, domain.ErrAmountTooSmall):
		return "amount_too_small"
	case errors.Is(err, domain.ErrAmountOverflow):
		return "amount_overflow"
	}
	return "other"
}
