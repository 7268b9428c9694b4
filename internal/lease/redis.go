package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Shoto0095/rafiki/internal/domain"
	"github.com/Shoto0095/rafiki/internal/idgen"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisManager stores leases as SET NX PX keys so they are shared by every worker process.
type RedisManager struct {
	client redis.UniversalClient
}

func NewRedisManager(client redis.UniversalClient) *RedisManager {
	return &RedisManager{client: client}
}

func (m *RedisManager) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := idgen.New("lease")
	ok, err := m.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		return "", domain.ErrConflict
	}
	return token, nil
}

func (m *RedisManager) Extend(ctx context.Context, key, token string, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, m.client, []string{key}, token, ttl.Milliseconds()).Int()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to extend lease %s: %w", key, err)
	}
	if n == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (m *RedisManager) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, m.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lease %s: %w", key, err)
	}
	return nil
}
