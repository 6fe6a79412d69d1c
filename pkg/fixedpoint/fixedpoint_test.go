package fixedpoint

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulScales(t *testing.T) {
	assert.Equal(t, Q(6*256), Mul(FromInt(2), FromInt(3)))
	assert.Equal(t, Q(64), Mul(Half, Half))
	assert.Equal(t, FromInt(-6), Mul(FromInt(-2), FromInt(3)))
}

func TestMulTruncatesTowardNegativeInfinity(t *testing.T) {
	// 1/256 * 1/256 is below one LSB in both directions.
	assert.Equal(t, Q(0), Mul(1, 1))
	assert.Equal(t, Q(-1), Mul(-1, 1))

	// 1.5 LSB worth of product: 3 * 128 / 256 = 1.5
	assert.Equal(t, Q(1), Mul(3, Half))
	assert.Equal(t, Q(-2), Mul(-3, Half))
}

func TestMulSaturates(t *testing.T) {
	assert.Equal(t, Q(Max32), Mul(Max32, FromInt(2)))
	assert.Equal(t, Q(Min32), Mul(Max32, FromInt(-2)))
	assert.Equal(t, Q(Min32), Mul(Min32, FromInt(100)))
}

func TestDiv(t *testing.T) {
	q, err := Div(FromInt(3), FromInt(2))
	require.NoError(t, err)
	assert.Equal(t, FromInt(3)/2, q)

	// Truncation toward zero for negative quotients.
	q, err = Div(-1, FromInt(3))
	require.NoError(t, err)
	assert.Equal(t, Q(0), q)

	q, err = Div(Max32, 1)
	require.NoError(t, err)
	assert.Equal(t, Q(Max32), q)
}

func TestDivByZero(t *testing.T) {
	q, err := Div(One, 0)
	assert.Equal(t, Q(0), q)
	assert.True(t, errors.Is(err, ErrDivideByZero))
}

func TestFromFloat(t *testing.T) {
	assert.Equal(t, Q(512), FromFloat(2))
	assert.Equal(t, Q(-384), FromFloat(-1.5))
	// Truncation toward zero below one LSB.
	assert.Equal(t, Q(0), FromFloat(0.003))
	assert.Equal(t, Q(0), FromFloat(-0.003))
	assert.Equal(t, Q(Max32), FromFloat(1e12))
	assert.Equal(t, Q(Min32), FromFloat(-1e12))
}

func TestIntAndRound(t *testing.T) {
	assert.Equal(t, 1, (One + Half - 1).Int())
	assert.Equal(t, -1, Q(-1).Int())
	assert.Equal(t, 2, (One + Half).Round())
	assert.Equal(t, -2, (-One - Half).Round())
	assert.Equal(t, 0, Q(-Half+1).Round())
	assert.Equal(t, "1.500", (One + Half).String())
}

func TestClampGeneric(t *testing.T) {
	assert.Equal(t, int16(Max16), Clamp[int16](Max16, Min16, Max16))
	assert.Equal(t, int64(Min24), Clamp[int64](-1<<30, Min24, Max24))
	assert.Equal(t, uint8(7), Clamp[uint8](7, 0, 10))
}

func TestCounter(t *testing.T) {
	var c Counter
	assert.Equal(t, int64(10), c.Clamp(20, -10, 10))
	assert.Equal(t, int64(-10), c.Clamp(-20, -10, 10))
	assert.Equal(t, int64(5), c.Clamp(5, -10, 10))
	assert.Equal(t, uint32(2), c.Count())
	c.Reset()
	assert.Equal(t, uint32(0), c.Count())

	var nilCounter *Counter
	assert.Equal(t, int64(10), nilCounter.Clamp(20, -10, 10))
	assert.Equal(t, uint32(0), nilCounter.Count())
}
