// Package signal carries cancel notifications for payments to the worker that holds them,
// so that a worker sleeping on a retry wait wakes up before its next attempt.
package signal

import (
	"context"
	"sync"
)

type Bus interface {
	Publish(ctx context.Context, paymentID string) error
	// Subscribe returns a channel that receives when paymentID is signalled. The returned
	// func must be called to drop the subscription.
	Subscribe(paymentID string) (<-chan struct{}, func())
}

type LocalBus struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]chan struct{}
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[int]chan struct{})}
}

func (b *LocalBus) Publish(_ context.Context, paymentID string) error {
	b.notify(paymentID)
	return nil
}

func (b *LocalBus) notify(paymentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[paymentID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (b *LocalBus) Subscribe(paymentID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	id := b.next
	b.next++
	if b.subs[paymentID] == nil {
		b.subs[paymentID] = make(map[int]chan struct{})
	}
	b.subs[paymentID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[paymentID], id)
			if len(b.subs[paymentID]) == 0 {
				delete(b.subs, paymentID)
			}
		})
	}
}
