package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Rate is an exact exchange rate: destination smallest units per source smallest unit.
// The zero value is a zero rate. Rates are immutable; every operation returns a new value.
type Rate struct {
	r *big.Rat
}

func NewRate(num, den int64) (Rate, error) {
	if den <= 0 {
		return Rate{}, fmt.Errorf("%w: rate denominator must be positive", ErrValidation)
	}
	return Rate{r: big.NewRat(num, den)}, nil
}

// MustRate is NewRate for constants and tests.
func MustRate(num, den int64) Rate {
	r, err := NewRate(num, den)
	if err != nil {
		panic(err)
	}
	return r
}

func RateFromRat(r *big.Rat) Rate {
	if r == nil {
		return Rate{}
	}
	return Rate{r: new(big.Rat).Set(r)}
}

// RateFromParts builds a rate from decimal numerator/denominator strings as they are persisted.
func RateFromParts(num, den string) (Rate, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(num), 10)
	if !ok {
		return Rate{}, fmt.Errorf("%w: invalid rate numerator %q", ErrValidation, num)
	}
	d, ok := new(big.Int).SetString(strings.TrimSpace(den), 10)
	if !ok || d.Sign() <= 0 {
		return Rate{}, fmt.Errorf("%w: invalid rate denominator %q", ErrValidation, den)
	}
	return Rate{r: new(big.Rat).SetFrac(n, d)}, nil
}

// ParseRate parses a decimal string such as "0.891" into an exact rational.
func ParseRate(s string) (Rate, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Rate{}, fmt.Errorf("%w: invalid rate %q: %v", ErrValidation, s, err)
	}
	return Rate{r: d.Rat()}, nil
}

func (r Rate) rat() *big.Rat {
	if r.r == nil {
		return new(big.Rat)
	}
	return r.r
}

func (r Rate) Rat() *big.Rat { return new(big.Rat).Set(r.rat()) }

func (r Rate) Num() *big.Int { return new(big.Int).Set(r.rat().Num()) }

func (r Rate) Den() *big.Int { return new(big.Int).Set(r.rat().Denom()) }

func (r Rate) Sign() int { return r.rat().Sign() }

func (r Rate) IsZero() bool { return r.Sign() == 0 }

// Cmp compares two rates exactly (cross-multiplied, no float conversion).
func (r Rate) Cmp(o Rate) int { return r.rat().Cmp(o.rat()) }

func (r Rate) Mul(o Rate) Rate {
	return Rate{r: new(big.Rat).Mul(r.rat(), o.rat())}
}

func (r Rate) Sub(o Rate) Rate {
	return Rate{r: new(big.Rat).Sub(r.rat(), o.rat())}
}

// FloorTo rounds the rate down so that its denominator does not exceed maxDen.
func (r Rate) FloorTo(maxDen *big.Int) Rate {
	cur := r.rat()
	if cur.Denom().Cmp(maxDen) <= 0 {
		return RateFromRat(cur)
	}
	n := new(big.Int).Mul(cur.Num(), maxDen)
	n.Div(n, cur.Denom())
	return Rate{r: new(big.Rat).SetFrac(n, maxDen)}
}

// MulFloor returns floor(v * r).
func (r Rate) MulFloor(v uint64) *big.Int {
	cur := r.rat()
	out := new(big.Int).Mul(new(big.Int).SetUint64(v), cur.Num())
	return out.Div(out, cur.Denom())
}

// DivCeil returns ceil(v / r). The rate must be positive.
func (r Rate) DivCeil(v uint64) *big.Int {
	cur := r.rat()
	dividend := new(big.Int).Mul(new(big.Int).SetUint64(v), cur.Denom())
	q, m := new(big.Int).DivMod(dividend, cur.Num(), new(big.Int))
	if m.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func (r Rate) String() string { return r.rat().RatString() }

// FloatString renders the rate with the given number of decimal places, for display only.
func (r Rate) FloatString(prec int) string { return r.rat().FloatString(prec) }

type rateJSON struct {
	Numerator   string `json:"numerator"`
	Denominator string `json:"denominator"`
}

func (r Rate) MarshalJSON() ([]byte, error) {
	cur := r.rat()
	return json.Marshal(rateJSON{Numerator: cur.Num().String(), Denominator: cur.Denom().String()})
}

func (r *Rate) UnmarshalJSON(b []byte) error {
	var v rateJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := RateFromParts(v.Numerator, v.Denominator)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
