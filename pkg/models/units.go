package models

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// WadDecimals is the number of implied decimals of USDPrice and Rate values.
const WadDecimals = 18

// Wad is 10^18 as a big.Int. Treat as read-only.
var Wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(WadDecimals), nil)

// pow10 returns 10^n.
func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// USDPrice is a USD price as an 18-decimal fixed-point integer.
// The zero value is not a valid price.
type USDPrice struct {
	wad *big.Int
}

// NewUSDPrice wraps an 18-decimal fixed-point value. The argument is copied.
func NewUSDPrice(wad *big.Int) USDPrice {
	return USDPrice{wad: new(big.Int).Set(wad)}
}

// ParseUSDPrice parses a decimal string such as "3000.25" into a price.
// Digits beyond 18 decimals are truncated. Non-positive prices and prices
// that truncate to zero are rejected.
func ParseUSDPrice(s string) (USDPrice, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return USDPrice{}, fmt.Errorf("parsing price %q: %w", s, err)
	}
	if !d.IsPositive() {
		return USDPrice{}, fmt.Errorf("price %q is not positive", s)
	}
	wad := d.Shift(WadDecimals).BigInt()
	if wad.Sign() == 0 {
		return USDPrice{}, fmt.Errorf("price %q is below 18-decimal precision", s)
	}
	return USDPrice{wad: wad}, nil
}

// Wad returns a copy of the fixed-point integer.
func (p USDPrice) Wad() *big.Int {
	if p.wad == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(p.wad)
}

// IsZero reports whether the price is unset or zero.
func (p USDPrice) IsZero() bool {
	return p.wad == nil || p.wad.Sign() == 0
}

// Decimal returns the price as a decimal number of dollars.
func (p USDPrice) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(p.Wad(), -WadDecimals)
}

// Float64 returns an approximate float value, for metrics and logs only.
func (p USDPrice) Float64() float64 {
	f, _ := p.Decimal().Float64()
	return f
}

func (p USDPrice) String() string {
	return p.Decimal().String()
}

// MarshalText encodes the price as a decimal string.
func (p USDPrice) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a positive decimal string.
func (p *USDPrice) UnmarshalText(text []byte) error {
	parsed, err := ParseUSDPrice(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// TokenAmount is a raw token balance together with the token's decimals.
type TokenAmount struct {
	raw      *big.Int
	decimals uint8
}

// NewTokenAmount wraps a raw integer amount. The argument is copied.
func NewTokenAmount(raw *big.Int, decimals uint8) TokenAmount {
	return TokenAmount{raw: new(big.Int).Set(raw), decimals: decimals}
}

// Raw returns a copy of the raw integer amount.
func (a TokenAmount) Raw() *big.Int {
	if a.raw == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.raw)
}

// Decimals returns the number of decimals of the token.
func (a TokenAmount) Decimals() uint8 {
	return a.decimals
}

// Decimal returns the amount in whole tokens.
func (a TokenAmount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(a.Raw(), -int32(a.decimals))
}

// ValueUSD converts the amount to USD at the given per-token price. The
// result keeps 18 decimals and rounds toward zero.
func (a TokenAmount) ValueUSD(price USDPrice) USDPrice {
	v := new(big.Int).Mul(a.Raw(), price.Wad())
	v.Quo(v, pow10(a.decimals))
	return USDPrice{wad: v}
}

func (a TokenAmount) String() string {
	return a.Decimal().String()
}

// Rate is an annual percentage yield as an 18-decimal fixed-point integer,
// where 1e18 means 100%.
type Rate struct {
	wad *big.Int
}

// ZeroRate returns a rate of 0%.
func ZeroRate() Rate {
	return Rate{wad: new(big.Int)}
}

// NewRate wraps an 18-decimal fixed-point rate. The argument is copied.
func NewRate(wad *big.Int) Rate {
	return Rate{wad: new(big.Int).Set(wad)}
}

// RateFromDecimal converts a fractional rate (0.05 = 5%).
func RateFromDecimal(d decimal.Decimal) Rate {
	return Rate{wad: d.Shift(WadDecimals).BigInt()}
}

// RateFromFloat converts a fractional rate (0.05 = 5%).
func RateFromFloat(f float64) Rate {
	return RateFromDecimal(decimal.NewFromFloat(f))
}

// Wad returns a copy of the fixed-point integer.
func (r Rate) Wad() *big.Int {
	if r.wad == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(r.wad)
}

// Cmp compares two rates.
func (r Rate) Cmp(other Rate) int {
	return r.Wad().Cmp(other.Wad())
}

// Decimal returns the rate as a fraction.
func (r Rate) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(r.Wad(), -WadDecimals)
}

// Float64 returns an approximate fraction, for metrics and logs only.
func (r Rate) Float64() float64 {
	f, _ := r.Decimal().Float64()
	return f
}

func (r Rate) String() string {
	return r.Decimal().String()
}

// MarshalText encodes the rate as a decimal fraction string.
func (r Rate) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a decimal fraction string.
func (r *Rate) UnmarshalText(text []byte) error {
	d, err := decimal.NewFromString(string(text))
	if err != nil {
		return fmt.Errorf("parsing rate %q: %w", text, err)
	}
	*r = RateFromDecimal(d)
	return nil
}
