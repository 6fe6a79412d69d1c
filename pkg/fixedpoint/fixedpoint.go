// Package fixedpoint implements Q23.8 scaled-integer arithmetic for the
// control loop. Values are int32 with 8 fractional bits; products and
// quotients are formed in int64 and saturated back into the symmetric int32
// range, so no operation wraps.
//
// Rounding: Mul shifts the int64 product right arithmetically, which floors
// (truncates toward negative infinity): Mul(-1, 1) is -1, not 0. Div uses Go
// integer division and truncates toward zero.
package fixedpoint

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Q is a signed fixed-point value with FracBits fractional bits.
type Q int32

const (
	FracBits   = 8
	One      Q = 1 << FracBits
	Half     Q = One >> 1
)

// Symmetric bounds. The most negative two's complement value of each width
// has no positive counterpart, so it is never produced.
const (
	Max32 = math.MaxInt32
	Min32 = -Max32
	Max24 = 1<<23 - 1
	Min24 = -Max24
	Max16 = math.MaxInt16
	Min16 = -Max16
	Max8  = math.MaxInt8
	Min8  = -Max8
)

var ErrDivideByZero = errors.New("fixedpoint: divide by zero")

// Clamp saturates v into [lo, hi].
func Clamp[T constraints.Integer](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Sat narrows a wide intermediate to Q, saturating at ±Max32.
func Sat(v int64) Q {
	return Q(Clamp(v, Min32, Max32))
}

// Mul returns a*b, flooring the discarded fraction.
func Mul(a, b Q) Q {
	return Sat((int64(a) * int64(b)) >> FracBits)
}

// Div returns a/b truncated toward zero. A zero divisor yields 0 and
// ErrDivideByZero; callers choose their own fallback.
func Div(a, b Q) (Q, error) {
	if b == 0 {
		return 0, ErrDivideByZero
	}
	return Sat((int64(a) << FracBits) / int64(b)), nil
}

func FromInt(i int) Q {
	return Sat(int64(i) << FracBits)
}

// FromFloat converts at configuration time. The fraction is truncated toward
// zero and out-of-range inputs saturate; NaN converts to 0.
func FromFloat(f float64) Q {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= Max32/float64(One):
		return Max32
	case f <= Min32/float64(One):
		return Min32
	}
	return Q(f * float64(One))
}

// Int returns the integer part, floored.
func (q Q) Int() int {
	return int(int64(q) >> FracBits)
}

// Round returns the nearest integer, halves rounded away from zero.
func (q Q) Round() int {
	v := int64(q)
	if v < 0 {
		return -int((-v + int64(Half)) >> FracBits)
	}
	return int((v + int64(Half)) >> FracBits)
}

func (q Q) Float() float64 {
	return float64(q) / float64(One)
}

func (q Q) String() string {
	return fmt.Sprintf("%.3f", q.Float())
}
