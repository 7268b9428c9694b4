package repository

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/Shoto0095/rafiki/internal/domain"
	"github.com/Shoto0095/rafiki/internal/idgen"
)

type balanceKey struct {
	account uuid.UUID
	asset   string
}

type MemoryLedger struct {
	mu           sync.Mutex
	balances     map[balanceKey]*domain.Balance
	reservations map[string]*domain.Reservation
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances:     make(map[balanceKey]*domain.Balance),
		reservations: make(map[string]*domain.Reservation),
	}
}

func (l *MemoryLedger) Reserve(_ context.Context, accountID uuid.UUID, amount domain.Amount) (string, error) {
	if amount.Value == 0 {
		return "", fmt.Errorf("%w: reservation amount must be greater than 0", domain.ErrValidation)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.balances[balanceKey{accountID, amount.AssetCode}]
	if !ok || b.Available < amount.Value {
		return "", domain.ErrInsufficientBalance
	}
	b.Available -= amount.Value
	b.Reserved += amount.Value

	id := idgen.New("res")
	l.reservations[id] = &domain.Reservation{
		ID:        id,
		AccountID: accountID,
		AssetCode: amount.AssetCode,
		Amount:    amount.Value,
		Status:    domain.ReservationPending,
	}
	return id, nil
}

func (l *MemoryLedger) Commit(_ context.Context, reservationID string, amount uint64) error {
	return l.settle(reservationID, amount, domain.ReservationCommitted)
}

func (l *MemoryLedger) Release(_ context.Context, reservationID string) error {
	return l.settle(reservationID, 0, domain.ReservationReleased)
}

func (l *MemoryLedger) settle(reservationID string, amount uint64, status domain.ReservationStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[reservationID]
	if !ok {
		return domain.ErrNotFound
	}
	if res.Status != domain.ReservationPending {
		return nil
	}
	if amount > res.Amount {
		return fmt.Errorf("%w: commit of %d exceeds reservation of %d", domain.ErrValidation, amount, res.Amount)
	}
	b := l.balances[balanceKey{res.AccountID, res.AssetCode}]
	b.Reserved -= res.Amount
	b.Available += res.Amount - amount
	res.Status = status
	res.CommittedAmount = amount
	return nil
}

func (l *MemoryLedger) Deposit(_ context.Context, accountID uuid.UUID, amount domain.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := balanceKey{accountID, amount.AssetCode}
	b, ok := l.balances[k]
	if !ok {
		b = &domain.Balance{AccountID: accountID, AssetCode: amount.AssetCode}
		l.balances[k] = b
	}
	if b.Available > math.MaxUint64-amount.Value {
		return domain.ErrAmountOverflow
	}
	b.Available += amount.Value
	return nil
}

func (l *MemoryLedger) Balance(_ context.Context, accountID uuid.UUID, assetCode string) (*domain.Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[balanceKey{accountID, assetCode}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *b
	return &c, nil
}

// Reservation returns a copy of a reservation by id.
func (l *MemoryLedger) Reservation(id string) (domain.Reservation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, ok := l.reservations[id]
	if !ok {
		return domain.Reservation{}, false
	}
	return *res, true
}
