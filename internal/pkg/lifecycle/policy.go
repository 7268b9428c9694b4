package lifecycle

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ExpiryPolicy decides what happens to a payment whose quote lapsed before it finished sending.
type ExpiryPolicy string

const (
	ExpiryRequote ExpiryPolicy = "requote"
	ExpiryFail    ExpiryPolicy = "fail"
)

func ParseExpiryPolicy(s string) (ExpiryPolicy, error) {
	switch ExpiryPolicy(s) {
	case ExpiryRequote, ExpiryFail:
		return ExpiryPolicy(s), nil
	}
	return "", fmt.Errorf("unknown quote expiry policy %q", s)
}

type Policy struct {
	MaxAttempts         uint32
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	Multiplier          float64
	RandomizationFactor float64
	QuoteExpiry         ExpiryPolicy
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:         5,
		InitialBackoff:      10 * time.Second,
		MaxBackoff:          10 * time.Minute,
		Multiplier:          2,
		RandomizationFactor: 0.5,
		QuoteExpiry:         ExpiryRequote,
	}
}

// Backoff returns the jittered delay before retry number attempt (1-based), capped at MaxBackoff.
func (p Policy) Backoff(attempt uint32) time.Duration {
	if attempt == 0 {
		return 0
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialBackoff,
		RandomizationFactor: p.RandomizationFactor,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxBackoff,
	}
	var d time.Duration
	for i := uint32(0); i < attempt; i++ {
		d = b.NextBackOff()
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// Exhausted reports whether a payment with the given attempt count may not be retried again.
func (p Policy) Exhausted(attempts uint32) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
