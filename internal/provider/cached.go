package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Shoto0095/rafiki/internal/cache"
	"github.com/Shoto0095/rafiki/internal/domain"
)

const rateNamespace = "rates"

// Store is the subset of cache.Cache used for rate caching.
type Store interface {
	Get(ctx context.Context, namespace, key string) (string, error)
	Set(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) error
}

// CachedRateProbe serves recent probe results from Redis so that a burst of quotes for the
// same pair probes the network once. Cache failures fall through to the wrapped probe.
type CachedRateProbe struct {
	next   RateProbe
	store  Store
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedRateProbe(next RateProbe, store Store, ttl time.Duration, logger *zap.Logger) *CachedRateProbe {
	return &CachedRateProbe{next: next, store: store, ttl: ttl, logger: logger}
}

func (c *CachedRateProbe) Probe(ctx context.Context, source, destination domain.Asset) (*ProbeResult, error) {
	key := fmt.Sprintf("%s.%d:%s.%d", source.Code, source.Scale, destination.Code, destination.Scale)

	raw, err := c.store.Get(ctx, rateNamespace, key)
	switch {
	case err == nil:
		var res ProbeResult
		if jsonErr := json.Unmarshal([]byte(raw), &res); jsonErr == nil {
			return &res, nil
		}
		c.logger.Warn("discarding malformed cached rate", zap.String("pair", key))
	case !errors.Is(err, cache.ErrMiss):
		c.logger.Warn("rate cache read failed", zap.String("pair", key), zap.Error(err))
	}

	res, err := c.next.Probe(ctx, source, destination)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(res); err == nil {
		if err := c.store.Set(ctx, rateNamespace, key, string(b), c.ttl); err != nil {
			c.logger.Warn("rate cache write failed", zap.String("pair", key), zap.Error(err))
		}
	}
	return res, nil
}
