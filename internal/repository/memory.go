package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Shoto0095/rafiki/internal/domain"
)

// MemoryPaymentRepository keeps payments in process. It honours the same version check as
// the Postgres repository and is used for local runs and tests.
type MemoryPaymentRepository struct {
	mu       sync.RWMutex
	payments map[uuid.UUID]*domain.OutgoingPayment
}

func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{payments: make(map[uuid.UUID]*domain.OutgoingPayment)}
}

func (r *MemoryPaymentRepository) Create(_ context.Context, p *domain.OutgoingPayment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[p.ID]; ok {
		return domain.ErrConflict
	}
	if p.Version == 0 {
		p.Version = 1
	}
	r.payments[p.ID] = p.Clone()
	return nil
}

func (r *MemoryPaymentRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.OutgoingPayment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *MemoryPaymentRepository) Update(_ context.Context, p *domain.OutgoingPayment, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.payments[p.ID]
	if !ok || cur.Version != expectedVersion {
		return domain.ErrConflict
	}
	p.Version = expectedVersion + 1
	r.payments[p.ID] = p.Clone()
	return nil
}

func (r *MemoryPaymentRepository) ListByAccount(_ context.Context, accountID uuid.UUID, page domain.PageRequest) ([]*domain.OutgoingPayment, error) {
	return r.list(clampLimit(page.Limit), sortByCreated, func(p *domain.OutgoingPayment) bool {
		if p.SourceAccountID != accountID {
			return false
		}
		return page.After == nil || after(p, page.After)
	}), nil
}

func (r *MemoryPaymentRepository) ListRunnable(_ context.Context, now time.Time, limit int) ([]*domain.OutgoingPayment, error) {
	return r.list(clampLimit(limit), sortByUpdated, func(p *domain.OutgoingPayment) bool {
		return !p.State.IsTerminal() && (p.RetryAt == nil || !p.RetryAt.After(now))
	}), nil
}

func (r *MemoryPaymentRepository) ListUnsettled(_ context.Context, limit int) ([]*domain.OutgoingPayment, error) {
	return r.list(clampLimit(limit), sortByUpdated, func(p *domain.OutgoingPayment) bool {
		return p.State.IsTerminal() && p.ReservationID != nil && p.SettledAt == nil
	}), nil
}

func (r *MemoryPaymentRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.payments, id)
	return nil
}

func (r *MemoryPaymentRepository) list(limit int, less func(a, b *domain.OutgoingPayment) bool, keep func(*domain.OutgoingPayment) bool) []*domain.OutgoingPayment {
	r.mu.RLock()
	var out []*domain.OutgoingPayment
	for _, p := range r.payments {
		if keep(p) {
			out = append(out, p.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortByCreated(a, b *domain.OutgoingPayment) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func sortByUpdated(a, b *domain.OutgoingPayment) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func after(p *domain.OutgoingPayment, c *domain.Cursor) bool {
	if !p.CreatedAt.Equal(c.CreatedAt) {
		return p.CreatedAt.After(c.CreatedAt)
	}
	return p.ID.String() > c.ID.String()
}
