package domain

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Asset identifies a currency or token and the number of decimal places of its smallest unit.
type Asset struct {
	ID    uuid.UUID `json:"id"`
	Code  string    `json:"code"`
	Scale uint8     `json:"scale"`
}

// Amount is a fixed-point value expressed in the smallest unit of its asset.
type Amount struct {
	Value      uint64 `json:"value,string"`
	AssetCode  string `json:"asset_code"`
	AssetScale uint8  `json:"asset_scale"`
}

func NewAmount(value uint64, asset Asset) Amount {
	return Amount{Value: value, AssetCode: asset.Code, AssetScale: asset.Scale}
}

// SameAsset reports whether both amounts are denominated in the same asset code and scale.
func (a Amount) SameAsset(o Amount) bool {
	return a.AssetCode == o.AssetCode && a.AssetScale == o.AssetScale
}

func (a Amount) Cmp(o Amount) (int, error) {
	if !a.SameAsset(o) {
		return 0, ErrAssetMismatch
	}
	switch {
	case a.Value < o.Value:
		return -1, nil
	case a.Value > o.Value:
		return 1, nil
	}
	return 0, nil
}

// Sub returns a-o, clamped at zero.
func (a Amount) Sub(o Amount) (Amount, error) {
	if !a.SameAsset(o) {
		return Amount{}, ErrAssetMismatch
	}
	out := a
	if o.Value >= a.Value {
		out.Value = 0
	} else {
		out.Value = a.Value - o.Value
	}
	return out, nil
}

func (a Amount) WithValue(v uint64) Amount {
	a.Value = v
	return a
}

// Decimal renders the amount in whole units, e.g. 10000 cents -> 100.00.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(a.Value), -int32(a.AssetScale))
}

func (a Amount) String() string {
	return fmt.Sprintf("%s %s", a.Decimal().StringFixed(int32(a.AssetScale)), a.AssetCode)
}
