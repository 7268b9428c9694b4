// Package lifecycle holds the outgoing payment state machine. Every function here is pure:
// it takes a payment and returns the next version of it, leaving persistence and ledger
// calls to the caller.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/Shoto0095/rafiki/internal/domain"
)

const (
	ReasonPartialDelivery = "partial delivery"
	ReasonQuoteExpired    = "quote expired"
	ReasonNoProgress      = "no amount delivered"
)

// Effect is a ledger action the caller must perform for a transition.
type Effect int

const (
	EffectNone Effect = iota
	// EffectReserve reserves the send amount before the payment may enter sending.
	EffectReserve
	// EffectSettle finalizes the reservation of a payment that reached a terminal state.
	EffectSettle
	// EffectRelease returns a reservation after the payment went back to pending.
	EffectRelease
)

func (e Effect) String() string {
	switch e {
	case EffectReserve:
		return "reserve"
	case EffectSettle:
		return "settle"
	case EffectRelease:
		return "release"
	}
	return "none"
}

type Transition struct {
	From    domain.PaymentState
	To      domain.PaymentState
	Payment *domain.OutgoingPayment
	Effect  Effect
	// Released is the reservation that must be returned when Effect is EffectRelease.
	Released *string
	// Replay is set when the outcome was already applied; Payment is then the stored one.
	Replay bool
	// Retry is set when the payment stays in its state and has a new RetryAt.
	Retry bool
}

// Changed reports whether the payment moved to a different state.
func (t Transition) Changed() bool { return t.From != t.To }

// Apply computes the effect of outcome o on payment p. p is never modified.
func Apply(p *domain.OutgoingPayment, o domain.Outcome, policy Policy, now time.Time) (Transition, error) {
	if p.State.IsTerminal() {
		return Transition{}, domain.ErrAlreadyTerminal
	}
	if o.State != p.State || o.Attempt != p.StateAttempts || o.Version != p.Version {
		return Transition{From: p.State, To: p.State, Payment: p.Clone(), Replay: true}, nil
	}

	n := p.Clone()
	n.UpdatedAt = now
	t := Transition{From: p.State, Payment: n}

	switch {
	case p.State == domain.PaymentStatePending && o.Kind == domain.OutcomeQuoted:
		if err := attachQuote(n, o.Quote); err != nil {
			return Transition{}, err
		}
		enter(n, domain.PaymentStateQuoted)

	case p.State == domain.PaymentStatePending && o.Kind == domain.OutcomeQuoteFailed:
		fail(n, o.Reason, now)

	case p.State == domain.PaymentStatePending && o.Kind == domain.OutcomeProbeUnavailable:
		t.Retry = retry(n, o.Reason, policy, now)

	case p.State == domain.PaymentStateQuoted && o.Kind == domain.OutcomeBeginSending:
		if n.Quote.Expired(now) {
			expire(&t, policy, now)
			break
		}
		enter(n, domain.PaymentStateSending)
		t.Effect = EffectReserve

	case p.State == domain.PaymentStateSending && o.Kind == domain.OutcomeDelivered:
		deliver(&t, o.Amount, policy, now)

	case p.State == domain.PaymentStateSending && o.Kind == domain.OutcomeTransientFailure:
		t.Retry = retry(n, o.Reason, policy, now)

	case p.State == domain.PaymentStateSending && o.Kind == domain.OutcomeFatalFailure:
		fail(n, o.Reason, now)

	case (p.State == domain.PaymentStateQuoted || p.State == domain.PaymentStateSending) &&
		o.Kind == domain.OutcomeQuoteExpired:
		expire(&t, policy, now)

	default:
		return Transition{}, fmt.Errorf("%w: %s in %s", domain.ErrInvalidTransition, o.Kind, p.State)
	}

	t.To = n.State
	if t.To.IsTerminal() && n.ReservationID != nil {
		t.Effect = EffectSettle
	}
	return t, nil
}

// Cancel moves a payment that has not started sending to cancelled.
func Cancel(p *domain.OutgoingPayment, now time.Time) (Transition, error) {
	switch p.State {
	case domain.PaymentStatePending, domain.PaymentStateQuoted:
	default:
		return Transition{}, domain.ErrTooLate
	}
	n := p.Clone()
	n.UpdatedAt = now
	enter(n, domain.PaymentStateCancelled)
	n.CompletedAt = &now
	t := Transition{From: p.State, To: n.State, Payment: n}
	if n.ReservationID != nil {
		t.Effect = EffectSettle
	}
	return t, nil
}

// Fail moves a non-terminal payment straight to failed, for conditions detected outside the
// outcome flow such as a rejected ledger reservation.
func Fail(p *domain.OutgoingPayment, reason string, now time.Time) (Transition, error) {
	if p.State.IsTerminal() {
		return Transition{}, domain.ErrAlreadyTerminal
	}
	n := p.Clone()
	n.UpdatedAt = now
	fail(n, reason, now)
	t := Transition{From: p.State, To: n.State, Payment: n}
	if n.ReservationID != nil {
		t.Effect = EffectSettle
	}
	return t, nil
}

// ResumeCheck is evaluated before a worker transmits again after a retry wait. It returns a
// non-nil outcome when the payment must not be transmitted.
func ResumeCheck(p *domain.OutgoingPayment, policy Policy, now time.Time) *domain.Outcome {
	if p.State != domain.PaymentStateSending {
		return nil
	}
	if p.Quote != nil && p.Quote.Expired(now) {
		o := domain.OutcomeFor(p, domain.OutcomeQuoteExpired)
		return &o
	}
	if policy.Exhausted(p.AttemptsSinceProgress()) {
		o := domain.OutcomeFor(p, domain.OutcomeTransientFailure)
		o.Reason = p.ErrorString()
		return &o
	}
	return nil
}

func attachQuote(n *domain.OutgoingPayment, q *domain.Quote) error {
	if q == nil {
		return fmt.Errorf("%w: quoted outcome without quote", domain.ErrValidation)
	}
	if err := q.Validate(); err != nil {
		return err
	}
	switch q.TargetType {
	case domain.TargetFixedSend:
		if n.SendAmount == nil || n.SendAmount.Value != q.SendAmount.Value {
			return fmt.Errorf("%w: quote send amount does not match payment", domain.ErrValidation)
		}
		recv := q.ReceiveAmount
		n.ReceiveAmount = &recv
	case domain.TargetFixedDelivery:
		if n.ReceiveAmount == nil || n.ReceiveAmount.Value != q.ReceiveAmount.Value {
			return fmt.Errorf("%w: quote receive amount does not match payment", domain.ErrValidation)
		}
		send := q.SendAmount
		n.SendAmount = &send
	}
	c := *q
	n.Quote = &c
	return nil
}

// enter moves n into a new non-error state.
func enter(n *domain.OutgoingPayment, s domain.PaymentState) {
	n.State = s
	n.StateAttempts = 0
	n.ProgressAttempt = 0
	n.Error = nil
	n.RetryAt = nil
}

func fail(n *domain.OutgoingPayment, reason string, now time.Time) {
	n.State = domain.PaymentStateFailed
	n.StateAttempts = 0
	n.ProgressAttempt = 0
	n.Error = &reason
	n.RetryAt = nil
	n.CompletedAt = &now
}

// retry records a transient failure. Once the attempts since the last partial delivery use up
// the budget the payment fails with the last error recorded before this one, and retry
// returns false.
func retry(n *domain.OutgoingPayment, reason string, policy Policy, now time.Time) bool {
	if policy.Exhausted(n.AttemptsSinceProgress()) {
		last := n.ErrorString()
		if last == "" {
			last = reason
		}
		fail(n, last, now)
		return false
	}
	n.StateAttempts++
	n.Error = &reason
	at := now.Add(policy.Backoff(n.AttemptsSinceProgress()))
	n.RetryAt = &at
	return true
}

func deliver(t *Transition, amount uint64, policy Policy, now time.Time) {
	n := t.Payment
	remaining := n.Remaining().Value
	if amount >= remaining {
		n.AmountSent += remaining
		enter(n, domain.PaymentStateCompleted)
		n.CompletedAt = &now
		return
	}
	if amount == 0 {
		t.Retry = retry(n, ReasonNoProgress, policy, now)
		return
	}
	n.AmountSent += amount
	// StateAttempts keeps counting so replays stay detectable; only the budget restarts.
	n.ProgressAttempt = n.StateAttempts
	t.Retry = retry(n, ReasonPartialDelivery, policy, now)
}

func expire(t *Transition, policy Policy, now time.Time) {
	n := t.Payment
	if policy.QuoteExpiry != ExpiryRequote || n.AmountSent > 0 {
		fail(n, ReasonQuoteExpired, now)
		return
	}
	switch n.TargetType() {
	case domain.TargetFixedSend:
		n.ReceiveAmount = nil
	case domain.TargetFixedDelivery:
		n.SendAmount = nil
	}
	n.Quote = nil
	enter(n, domain.PaymentStatePending)
	if n.ReservationID != nil {
		t.Effect = EffectRelease
		t.Released = n.ReservationID
		n.ReservationID = nil
	}
}
