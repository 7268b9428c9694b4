package provider

import (
	"context"

	"github.com/Shoto0095/rafiki/internal/domain"
)

// RateProbe samples the live exchange rate between two assets. It returns
// domain.ErrProbeUnavailable when no rate can currently be obtained.
type RateProbe interface {
	Probe(ctx context.Context, source, destination domain.Asset) (*ProbeResult, error)
}

// ProbeResult is a probed rate envelope in smallest units of each asset.
type ProbeResult struct {
	Low  domain.Rate `json:"low"`
	High domain.Rate `json:"high"`
	// ReceiveCapacity is the receiver-advertised packet ceiling in source units; zero if unknown.
	ReceiveCapacity uint64 `json:"receive_capacity,string"`
}

type ResultKind string

const (
	ResultDelivered ResultKind = "delivered"
	ResultTransient ResultKind = "transient"
	ResultFatal     ResultKind = "fatal"
)

// Result is the outcome of one transmission attempt. Failures are data, never errors.
type Result struct {
	Kind   ResultKind `json:"status"`
	Amount uint64     `json:"delivered,string"`
	Reason string     `json:"reason,omitempty"`
}

// Transmitter moves value for a quoted payment. Send is called with the amount still to be
// delivered and reports how much of it arrived.
type Transmitter interface {
	Send(ctx context.Context, p *domain.OutgoingPayment, remaining domain.Amount) Result
}

// Outcome converts a transmission result into a lifecycle outcome for p.
func (r Result) Outcome(p *domain.OutgoingPayment) domain.Outcome {
	var o domain.Outcome
	switch r.Kind {
	case ResultDelivered:
		o = domain.OutcomeFor(p, domain.OutcomeDelivered)
		o.Amount = r.Amount
	case ResultFatal:
		o = domain.OutcomeFor(p, domain.OutcomeFatalFailure)
	default:
		o = domain.OutcomeFor(p, domain.OutcomeTransientFailure)
	}
	o.Reason = r.Reason
	return o
}
