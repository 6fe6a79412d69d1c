// Package pid is a fixed-point PID controller for the steering loop.
//
// Error and output are Q7.8 values carried in fixedpoint.Q. Gains are Q23.8,
// converted from floating point once at configuration time; Step uses integer
// arithmetic only.
package pid

import (
	"math"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/linebot/pkg/fixedpoint"
)

var ErrConfiguration = errors.New("pid: configuration out of range")

const (
	// Gains are clamped into ±MaxGain.
	MaxGain = fixedpoint.Max8

	// Elapsed time is carried in 8 bits of milliseconds.
	maxDT = math.MaxUint8

	integralMax = fixedpoint.Max24
	termMax     = fixedpoint.Max24
)

// Terms holds the contributions of the last computed step.
type Terms struct {
	P, I, D fixedpoint.Q
}

type Controller struct {
	kp, ki, kd     fixedpoint.Q
	outMin, outMax int64
	cfgErr         bool

	lastError  fixedpoint.Q
	integral   int32
	lastTime   uint32
	lastOutput fixedpoint.Q
	terms      Terms

	sat fixedpoint.Counter
}

// New returns a controller with all gains zero and a signed 16-bit output.
func New() *Controller {
	return &Controller{
		outMin: fixedpoint.Min16,
		outMax: fixedpoint.Max16,
	}
}

// Configure sets the ideal-form gains. Finite gains outside ±MaxGain are
// clamped and reported with ErrConfiguration; the clamped gains are in effect
// afterwards. A NaN or infinite gain rejects the whole set and keeps the
// previous gains. Either way the transient state is cleared.
func (c *Controller) Configure(kp, ki, kd float64) error {
	c.Reset()
	c.cfgErr = false
	for _, g := range []float64{kp, ki, kd} {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			c.cfgErr = true
			return errors.Wrapf(ErrConfiguration, "non-finite gain in kp=%v ki=%v kd=%v", kp, ki, kd)
		}
	}
	var clamped bool
	c.kp, clamped = gain(kp, clamped)
	c.ki, clamped = gain(ki, clamped)
	c.kd, clamped = gain(kd, clamped)
	if clamped {
		c.cfgErr = true
		return errors.Wrapf(ErrConfiguration, "gain clamped to ±%d in kp=%v ki=%v kd=%v", MaxGain, kp, ki, kd)
	}
	return nil
}

// ConfigureStandard sets the gains from the standard form: proportional gain,
// integral time and derivative time. Ti == 0 disables the integral term.
func (c *Controller) ConfigureStandard(kp, ti, td float64) error {
	var ki float64
	if ti != 0 {
		ki = kp / ti
	}
	return c.Configure(kp, ki, kp*td)
}

func gain(g float64, clamped bool) (fixedpoint.Q, bool) {
	if g > MaxGain {
		return fixedpoint.FromInt(MaxGain), true
	}
	if g < -MaxGain {
		return fixedpoint.FromInt(-MaxGain), true
	}
	return fixedpoint.FromFloat(g), clamped
}

// SetOutputRange declares the output range: ±(2^(bits-1)-1) when signed,
// [0, 2^bits-1] otherwise, in raw Q units. bits must be in 1..16; an invalid
// width keeps the previous range.
func (c *Controller) SetOutputRange(bits int, signed bool) error {
	if bits < 1 || bits > 16 || (signed && bits < 2) {
		c.cfgErr = true
		return errors.Wrapf(ErrConfiguration, "output width %d (signed=%v)", bits, signed)
	}
	if signed {
		c.outMax = 1<<(bits-1) - 1
		c.outMin = -c.outMax
	} else {
		c.outMax = 1<<bits - 1
		c.outMin = 0
	}
	c.lastOutput = fixedpoint.Q(fixedpoint.Clamp(int64(c.lastOutput), c.outMin, c.outMax))
	return nil
}

// Reset clears the integral, the derivative history and the cached output.
// The sample clock is kept so the next Step still sees a real interval.
func (c *Controller) Reset() {
	c.lastError = 0
	c.integral = 0
	c.lastOutput = 0
	c.terms = Terms{}
}

// Step returns the correction for error at time now (milliseconds). Calls that
// do not advance the clock return the previous output unchanged.
func (c *Controller) Step(err fixedpoint.Q, now uint32) fixedpoint.Q {
	// Unsigned difference survives the 49-day wrap of the millisecond clock.
	elapsed := now - c.lastTime
	if elapsed == 0 {
		return c.lastOutput
	}
	dt := fixedpoint.FromInt(int(min(elapsed, maxDT)))
	fast := dt <= fixedpoint.One

	var t Terms
	if c.kp != 0 {
		t.P = fixedpoint.Q(c.sat.Clamp(int64(fixedpoint.Mul(c.kp, err)), -termMax, termMax))
	}
	if c.ki != 0 {
		inc := err
		if !fast {
			inc = fixedpoint.Mul(inc, dt)
		}
		c.integral = int32(c.sat.Clamp(int64(c.integral)+int64(inc), -integralMax, integralMax))
		t.I = fixedpoint.Mul(c.ki, fixedpoint.Q(c.integral))
	}
	if c.kd != 0 {
		t.D = fixedpoint.Mul(c.kd, fixedpoint.Sat(int64(err)-int64(c.lastError)))
		if !fast {
			// dt > 1 here, so the division cannot fail.
			t.D, _ = fixedpoint.Div(t.D, dt)
		}
	}

	out := c.sat.Clamp(int64(t.P)+int64(t.I)+int64(t.D), c.outMin, c.outMax)

	c.terms = t
	c.lastError = err
	c.lastTime = now
	c.lastOutput = fixedpoint.Q(out)
	return c.lastOutput
}

// Err reports whether the last configuration call was out of range.
func (c *Controller) Err() bool {
	return c.cfgErr
}

func (c *Controller) Gains() (kp, ki, kd fixedpoint.Q) {
	return c.kp, c.ki, c.kd
}

func (c *Controller) OutputRange() (lo, hi int64) {
	return c.outMin, c.outMax
}

func (c *Controller) Terms() Terms {
	return c.terms
}

// Integral returns the saturated accumulator.
func (c *Controller) Integral() fixedpoint.Q {
	return fixedpoint.Q(c.integral)
}

// Saturations counts how often a term, the accumulator or the output hit its
// bound.
func (c *Controller) Saturations() uint32 {
	return c.sat.Count()
}
