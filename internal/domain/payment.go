package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type PaymentState string

const (
	PaymentStatePending   PaymentState = "pending"
	PaymentStateQuoted    PaymentState = "quoted"
	PaymentStateSending   PaymentState = "sending"
	PaymentStateCompleted PaymentState = "completed"
	PaymentStateFailed    PaymentState = "failed"
	PaymentStateCancelled PaymentState = "cancelled"
)

// RunnableStates are the states a worker may pick a payment up in.
var RunnableStates = []PaymentState{PaymentStatePending, PaymentStateQuoted, PaymentStateSending}

func (s PaymentState) IsTerminal() bool {
	switch s {
	case PaymentStateCompleted, PaymentStateFailed, PaymentStateCancelled:
		return true
	}
	return false
}

func (s PaymentState) Valid() bool {
	switch s {
	case PaymentStatePending, PaymentStateQuoted, PaymentStateSending,
		PaymentStateCompleted, PaymentStateFailed, PaymentStateCancelled:
		return true
	}
	return false
}

// OutgoingPayment is the aggregate root. It is mutated only by the lifecycle usecase.
type OutgoingPayment struct {
	ID                      uuid.UUID    `json:"id" db:"id"`
	State                   PaymentState `json:"state" db:"state"`
	Error                   *string      `json:"error,omitempty" db:"error"`
	StateAttempts           uint32       `json:"state_attempts" db:"state_attempts"`
	Description             *string      `json:"description,omitempty" db:"description"`
	ExternalRef             *string      `json:"external_ref,omitempty" db:"external_ref"`
	SourceAccountID         uuid.UUID    `json:"source_account_id" db:"source_account_id"`
	AssetID                 uuid.UUID    `json:"asset_id" db:"asset_id"`
	SourceAsset             Asset        `json:"source_asset" db:"-"`
	DestinationAsset        Asset        `json:"destination_asset" db:"-"`
	ReceivingPaymentPointer string       `json:"receiving_payment_pointer" db:"receiving_payment_pointer"`
	SendAmount              *Amount      `json:"send_amount,omitempty" db:"-"`
	ReceiveAmount           *Amount      `json:"receive_amount,omitempty" db:"-"`
	Quote                   *Quote       `json:"quote,omitempty" db:"-"`

	AmountSent uint64 `json:"amount_sent,string" db:"amount_sent"`
	// ProgressAttempt is the StateAttempts value at the last partial delivery.
	ProgressAttempt uint32     `json:"progress_attempt" db:"progress_attempt"`
	ReservationID   *string    `json:"reservation_id,omitempty" db:"reservation_id"`
	SettledAt       *time.Time `json:"settled_at,omitempty" db:"settled_at"`
	RetryAt         *time.Time `json:"retry_at,omitempty" db:"retry_at"`
	Version         int64      `json:"version" db:"version"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// TargetType reports which amount the caller fixed.
func (p *OutgoingPayment) TargetType() TargetType {
	if p.Quote != nil {
		return p.Quote.TargetType
	}
	if p.SendAmount != nil {
		return TargetFixedSend
	}
	return TargetFixedDelivery
}

// Remaining is the source amount still to be sent. Zero before a send amount is known.
func (p *OutgoingPayment) Remaining() Amount {
	if p.SendAmount == nil {
		return NewAmount(0, p.SourceAsset)
	}
	out := *p.SendAmount
	if p.AmountSent >= out.Value {
		out.Value = 0
	} else {
		out.Value -= p.AmountSent
	}
	return out
}

// AttemptsSinceProgress counts the failed attempts since the last partial delivery.
func (p *OutgoingPayment) AttemptsSinceProgress() uint32 {
	if p.ProgressAttempt >= p.StateAttempts {
		return 0
	}
	return p.StateAttempts - p.ProgressAttempt
}

func (p *OutgoingPayment) ErrorString() string {
	if p.Error == nil {
		return ""
	}
	return *p.Error
}

// Clone returns a deep copy so that callers can mutate without touching shared state.
func (p *OutgoingPayment) Clone() *OutgoingPayment {
	if p == nil {
		return nil
	}
	c := *p
	c.Error = cloneStr(p.Error)
	c.Description = cloneStr(p.Description)
	c.ExternalRef = cloneStr(p.ExternalRef)
	c.ReservationID = cloneStr(p.ReservationID)
	c.SettledAt = cloneTime(p.SettledAt)
	c.RetryAt = cloneTime(p.RetryAt)
	c.CompletedAt = cloneTime(p.CompletedAt)
	if p.SendAmount != nil {
		a := *p.SendAmount
		c.SendAmount = &a
	}
	if p.ReceiveAmount != nil {
		a := *p.ReceiveAmount
		c.ReceiveAmount = &a
	}
	if p.Quote != nil {
		q := *p.Quote
		c.Quote = &q
	}
	return &c
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CreatePaymentRequest is what the administrative caller submits.
type CreatePaymentRequest struct {
	SourceAccountID         uuid.UUID `json:"source_account_id"`
	SourceAsset             Asset     `json:"source_asset"`
	DestinationAsset        Asset     `json:"destination_asset"`
	ReceivingPaymentPointer string    `json:"receiving_payment_pointer"`
	SendAmount              *uint64   `json:"send_amount,omitempty"`
	ReceiveAmount           *uint64   `json:"receive_amount,omitempty"`
	Description             *string   `json:"description,omitempty"`
	ExternalRef             *string   `json:"external_ref,omitempty"`
}

func (r *CreatePaymentRequest) Validate() error {
	if r.SourceAccountID == uuid.Nil {
		return fmt.Errorf("%w: source_account_id is required", ErrValidation)
	}
	if r.SourceAsset.ID == uuid.Nil || r.SourceAsset.Code == "" {
		return fmt.Errorf("%w: source_asset is required", ErrValidation)
	}
	if r.DestinationAsset.Code == "" {
		return fmt.Errorf("%w: destination_asset is required", ErrValidation)
	}
	if strings.TrimSpace(r.ReceivingPaymentPointer) == "" {
		return fmt.Errorf("%w: receiving_payment_pointer is required", ErrValidation)
	}
	if (r.SendAmount == nil) == (r.ReceiveAmount == nil) {
		return fmt.Errorf("%w: exactly one of send_amount or receive_amount is required", ErrValidation)
	}
	if r.SendAmount != nil && *r.SendAmount == 0 {
		return fmt.Errorf("%w: send_amount must be greater than 0", ErrValidation)
	}
	if r.ReceiveAmount != nil && *r.ReceiveAmount == 0 {
		return fmt.Errorf("%w: receive_amount must be greater than 0", ErrValidation)
	}
	return nil
}

// PageRequest is a keyset cursor over (created_at, id).
type PageRequest struct {
	After *Cursor
	Limit int
}

type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        uuid.UUID `json:"id"`
}
