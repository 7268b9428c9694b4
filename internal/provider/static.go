package provider

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/Shoto0095/rafiki/internal/domain"
)

type pair struct{ source, destination string }

type envelope struct{ low, high domain.Rate }

// StaticRateProbe answers from a fixed table of whole-unit rates, e.g. "USD:EUR=0.90-0.92".
// A pair quoted in one direction only is not inverted.
type StaticRateProbe struct {
	mu       sync.RWMutex
	rates    map[pair]envelope
	capacity uint64
}

// ParseRateTable parses a comma separated list of SRC:DST=LOW-HIGH entries. HIGH may be
// omitted for a fixed rate.
func ParseRateTable(s string) (*StaticRateProbe, error) {
	p := &StaticRateProbe{rates: make(map[pair]envelope)}
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		codes, bounds, ok := strings.Cut(item, "=")
		src, dst, ok2 := strings.Cut(codes, ":")
		if !ok || !ok2 || src == "" || dst == "" {
			return nil, fmt.Errorf("invalid rate entry %q", item)
		}
		lowStr, highStr, hasHigh := strings.Cut(bounds, "-")
		low, err := domain.ParseRate(lowStr)
		if err != nil {
			return nil, err
		}
		high := low
		if hasHigh {
			if high, err = domain.ParseRate(highStr); err != nil {
				return nil, err
			}
		}
		p.Set(strings.ToUpper(src), strings.ToUpper(dst), low, high)
	}
	return p, nil
}

func (p *StaticRateProbe) Set(source, destination string, low, high domain.Rate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rates[pair{source, destination}] = envelope{low: low, high: high}
}

// WithCapacity sets the receive capacity reported with every probe.
func (p *StaticRateProbe) WithCapacity(c uint64) *StaticRateProbe {
	p.capacity = c
	return p
}

func (p *StaticRateProbe) Probe(_ context.Context, source, destination domain.Asset) (*ProbeResult, error) {
	var env envelope
	if source.Code == destination.Code {
		one := domain.MustRate(1, 1)
		env = envelope{low: one, high: one}
	} else {
		p.mu.RLock()
		e, ok := p.rates[pair{source.Code, destination.Code}]
		p.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: no rate for %s/%s", domain.ErrProbeUnavailable, source.Code, destination.Code)
		}
		env = e
	}
	factor := scaleFactor(source.Scale, destination.Scale)
	return &ProbeResult{
		Low:             env.low.Mul(factor),
		High:            env.high.Mul(factor),
		ReceiveCapacity: p.capacity,
	}, nil
}

// scaleFactor converts a whole-unit rate into smallest units: 10^(dst-src).
func scaleFactor(src, dst uint8) domain.Rate {
	ten := big.NewInt(10)
	if dst >= src {
		n := new(big.Int).Exp(ten, big.NewInt(int64(dst-src)), nil)
		return domain.RateFromRat(new(big.Rat).SetInt(n))
	}
	d := new(big.Int).Exp(ten, big.NewInt(int64(src-dst)), nil)
	return domain.RateFromRat(new(big.Rat).SetFrac(big.NewInt(1), d))
}
