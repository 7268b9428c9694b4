// Package lease grants a single worker exclusive ownership of a payment for a bounded time.
package lease

import (
	"context"
	"sync"
	"time"

	"github.com/Shoto0095/rafiki/internal/domain"
	"github.com/Shoto0095/rafiki/internal/idgen"
)

// Manager hands out leases. Acquire fails with domain.ErrConflict while another holder's
// lease on the same key is live. Extend pushes the expiry of a live lease to now+ttl and fails
// with domain.ErrConflict once the lease has lapsed or changed hands. Release only drops a lease
// whose token matches.
type Manager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	Extend(ctx context.Context, key, token string, ttl time.Duration) error
	Release(ctx context.Context, key, token string) error
}

func PaymentKey(id string) string { return "lease:payment:" + id }

type entry struct {
	token   string
	expires time.Time
}

type MemoryManager struct {
	mu     sync.Mutex
	leases map[string]entry
	now    func() time.Time
}

func NewMemoryManager() *MemoryManager {
	return &MemoryManager{leases: make(map[string]entry), now: time.Now}
}

func (m *MemoryManager) Acquire(_ context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if e, ok := m.leases[key]; ok && now.Before(e.expires) {
		return "", domain.ErrConflict
	}
	token := idgen.New("lease")
	m.leases[key] = entry{token: token, expires: now.Add(ttl)}
	return token, nil
}

func (m *MemoryManager) Extend(_ context.Context, key, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e, ok := m.leases[key]
	if !ok || e.token != token || !now.Before(e.expires) {
		return domain.ErrConflict
	}
	e.expires = now.Add(ttl)
	m.leases[key] = e
	return nil
}

func (m *MemoryManager) Release(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.leases[key]; ok && e.token == token {
		delete(m.leases, key)
	}
	return nil
}
