// Package fixedpoint implements the unsigned UQ112x112 binary fixed-point
// format used for average-price arithmetic: 112 integer bits and 112
// fractional bits carried in a 256-bit word. All operations truncate toward
// zero and never wrap silently where the result must stay representable.
package fixedpoint

import (
	"errors"

	"github.com/holiman/uint256"
)

// FractionBits is the number of fractional bits in the representation.
const FractionBits = 112

var (
	// ErrOverflow indicates a multiply-then-decode result exceeding 256 bits.
	ErrOverflow = errors.New("fixedpoint: multiplication overflows 256 bits")

	// ErrDivideByZero indicates a ratio with a zero denominator.
	ErrDivideByZero = errors.New("fixedpoint: division by zero")
)

// UQ112x112 is a fixed-point value. The zero value is 0.0.
type UQ112x112 struct {
	x uint256.Int
}

// Encode converts an integer into fixed-point form.
func Encode(n uint64) UQ112x112 {
	var q UQ112x112
	q.x.SetUint64(n)
	q.x.Lsh(&q.x, FractionBits)
	return q
}

// FromFraction returns numerator/denominator as a fixed-point value.
func FromFraction(numerator, denominator uint64) (UQ112x112, error) {
	if denominator == 0 {
		return UQ112x112{}, ErrDivideByZero
	}
	q := Encode(numerator)
	q.x.Div(&q.x, uint256.NewInt(denominator))
	return q, nil
}

// FromRaw interprets an already-scaled 256-bit word as fixed-point. This is
// how cumulative-price deltas enter the package: accumulators carry
// UQ112x112-scaled sums, so their difference divided by elapsed time is
// itself UQ112x112.
func FromRaw(x *uint256.Int) UQ112x112 {
	var q UQ112x112
	q.x.Set(x)
	return q
}

// Ratio returns delta/elapsed where delta is an UQ112x112-scaled cumulative
// difference and elapsed is a duration in seconds.
func Ratio(delta *uint256.Int, elapsed uint64) (UQ112x112, error) {
	if elapsed == 0 {
		return UQ112x112{}, ErrDivideByZero
	}
	var q UQ112x112
	q.x.Div(delta, uint256.NewInt(elapsed))
	return q, nil
}

// MulTruncate multiplies the fixed-point value by an integer amount and
// decodes the product back to an integer, truncating the fractional part.
// Returns ErrOverflow when the intermediate product exceeds 256 bits.
func (q UQ112x112) MulTruncate(amount *uint256.Int) (*uint256.Int, error) {
	var product uint256.Int
	if _, overflow := product.MulOverflow(&q.x, amount); overflow {
		return nil, ErrOverflow
	}
	return product.Rsh(&product, FractionBits), nil
}

// Scale multiplies the fixed-point value by an integer without decoding,
// keeping the result in scaled form. Used to integrate a spot price over an
// elapsed duration when building cumulative counters; wrapping on overflow
// is acceptable there because consumers only ever subtract two readings.
func (q UQ112x112) Scale(n uint64) *uint256.Int {
	var out uint256.Int
	out.Mul(&q.x, uint256.NewInt(n))
	return &out
}

// Decode truncates the fixed-point value to its integer part.
func (q UQ112x112) Decode() *uint256.Int {
	var out uint256.Int
	return out.Rsh(&q.x, FractionBits)
}

// Raw returns a copy of the underlying scaled word.
func (q UQ112x112) Raw() *uint256.Int {
	var out uint256.Int
	return out.Set(&q.x)
}

// IsZero reports whether the value is exactly zero.
func (q UQ112x112) IsZero() bool {
	return q.x.IsZero()
}
