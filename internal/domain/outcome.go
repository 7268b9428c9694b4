package domain

import "time"

type OutcomeKind string

const (
	OutcomeQuoted           OutcomeKind = "quoted"
	OutcomeQuoteFailed      OutcomeKind = "quote_failed"
	OutcomeProbeUnavailable OutcomeKind = "probe_unavailable"
	OutcomeBeginSending     OutcomeKind = "begin_sending"
	OutcomeDelivered        OutcomeKind = "delivered"
	OutcomeTransientFailure OutcomeKind = "transient_failure"
	OutcomeFatalFailure     OutcomeKind = "fatal_failure"
	OutcomeQuoteExpired     OutcomeKind = "quote_expired"
)

// Outcome is a progress report for a single payment. State, Attempt and Version are the
// values the reporter observed when it started the step, so a duplicate or stale report is
// recognised as a replay.
type Outcome struct {
	Kind    OutcomeKind  `json:"kind"`
	State   PaymentState `json:"state"`
	Attempt uint32       `json:"attempt"`
	Version int64        `json:"version"`
	Quote   *Quote       `json:"quote,omitempty"`
	Amount  uint64       `json:"amount,omitempty"`
	Reason  string       `json:"reason,omitempty"`
}

// OutcomeFor stamps an outcome with the payment's current state, attempt counter and version.
func OutcomeFor(p *OutgoingPayment, kind OutcomeKind) Outcome {
	return Outcome{Kind: kind, State: p.State, Attempt: p.StateAttempts, Version: p.Version}
}

type EventType string

const (
	EventPaymentCreated   EventType = "outgoing_payment.created"
	EventPaymentQuoted    EventType = "outgoing_payment.quoted"
	EventPaymentSending   EventType = "outgoing_payment.sending"
	EventPaymentRetrying  EventType = "outgoing_payment.retrying"
	EventPaymentCompleted EventType = "outgoing_payment.completed"
	EventPaymentFailed    EventType = "outgoing_payment.failed"
	EventPaymentCancelled EventType = "outgoing_payment.cancelled"
)

// EventForState maps the state a payment entered to the event announcing it.
func EventForState(s PaymentState) EventType {
	switch s {
	case PaymentStateQuoted:
		return EventPaymentQuoted
	case PaymentStateSending:
		return EventPaymentSending
	case PaymentStateCompleted:
		return EventPaymentCompleted
	case PaymentStateFailed:
		return EventPaymentFailed
	case PaymentStateCancelled:
		return EventPaymentCancelled
	}
	return EventPaymentCreated
}

// PaymentEvent is published on every lifecycle change.
type PaymentEvent struct {
	ID        string           `json:"id"`
	Type      EventType        `json:"type"`
	PaymentID string           `json:"payment_id"`
	AccountID string           `json:"account_id"`
	State     PaymentState     `json:"state"`
	Error     string           `json:"error,omitempty"`
	Attempts  uint32           `json:"state_attempts"`
	Payment   *OutgoingPayment `json:"payment"`
	Timestamp time.Time        `json:"timestamp"`
}
