package domain

import "github.com/google/uuid"

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

// Balance is an account's holding of one asset. Reserved funds are held for payments in
// flight and are not available to new reservations.
type Balance struct {
	AccountID uuid.UUID `json:"account_id"`
	AssetCode string    `json:"asset_code"`
	Available uint64    `json:"available,string"`
	Reserved  uint64    `json:"reserved,string"`
}

type Reservation struct {
	ID              string            `json:"id"`
	AccountID       uuid.UUID         `json:"account_id"`
	AssetCode       string            `json:"asset_code"`
	Amount          uint64            `json:"amount,string"`
	CommittedAmount uint64            `json:"committed_amount,string"`
	Status          ReservationStatus `json:"status"`
}
