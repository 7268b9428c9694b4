package domain

import (
	"fmt"
	"time"
)

type TargetType string

const (
	TargetFixedSend     TargetType = "fixed_send"
	TargetFixedDelivery TargetType = "fixed_delivery"
)

func (t TargetType) Valid() bool {
	return t == TargetFixedSend || t == TargetFixedDelivery
}

// Quote is an immutable, time-bounded commitment to an exchange rate and packet ceiling.
type Quote struct {
	CreatedAt         time.Time  `json:"created_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	TargetType        TargetType `json:"target_type"`
	MaxPacketAmount   Amount     `json:"max_packet_amount"`
	MinExchangeRate   Rate       `json:"min_exchange_rate"`
	EstimatedRateLow  Rate       `json:"estimated_rate_low"`
	EstimatedRateHigh Rate       `json:"estimated_rate_high"`
	ProbedRateLow     Rate       `json:"probed_rate_low"`
	SendAmount        Amount     `json:"send_amount"`
	ReceiveAmount     Amount     `json:"receive_amount"`
}

// Validate checks the structural invariants every persisted quote must satisfy.
func (q *Quote) Validate() error {
	if !q.TargetType.Valid() {
		return fmt.Errorf("%w: unknown target type %q", ErrValidation, q.TargetType)
	}
	if q.MaxPacketAmount.Value == 0 {
		return ErrPacketTooSmall
	}
	if q.EstimatedRateLow.Cmp(q.MinExchangeRate) > 0 || q.MinExchangeRate.Cmp(q.EstimatedRateHigh) > 0 {
		return ErrInvalidRateBounds
	}
	return nil
}

// Expired reports whether the quote may no longer be used to send at now.
// A quote without an expiry never expires.
func (q *Quote) Expired(now time.Time) bool {
	if q.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(q.ExpiresAt)
}
