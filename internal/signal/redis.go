package signal

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "payment:cancel:"

// RedisBus fans cancel signals out across processes. Every process runs one pattern
// subscription and delivers matching messages to its local subscribers.
type RedisBus struct {
	client redis.UniversalClient
	local  *LocalBus
	logger *zap.Logger
}

func NewRedisBus(client redis.UniversalClient, logger *zap.Logger) *RedisBus {
	return &RedisBus{client: client, local: NewLocalBus(), logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, paymentID string) error {
	// deliver locally too, the subscriber may not be listening yet
	b.local.notify(paymentID)
	return b.client.Publish(ctx, channelPrefix+paymentID, "cancel").Err()
}

func (b *RedisBus) Subscribe(paymentID string) (<-chan struct{}, func()) {
	return b.local.Subscribe(paymentID)
}

// Run consumes the pattern subscription until ctx is done.
func (b *RedisBus) Run(ctx context.Context) error {
	sub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	b.logger.Info("listening for payment cancel signals", zap.String("pattern", channelPrefix+"*"))
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.local.notify(strings.TrimPrefix(msg.Channel, channelPrefix))
		}
	}
}
