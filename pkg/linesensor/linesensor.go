// Package linesensor turns an array of reflectance readings into a line
// position for the steering controller.
//
// Readings are 8-bit samples taken through a FrontEnd. Calibration widens a
// per-channel [min, max] window while the robot is swept across the line and,
// once every channel has seen enough contrast, feeds a histogram used to
// decide whether the line reads higher or lower than the floor. Position then
// maps each reading into 0..255 within its window and sums it against a
// signed per-channel coefficient.
package linesensor

import (
	"time"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/linebot/pkg/fixedpoint"
)

const (
	NumChannels   = 8
	HistogramSize = 16

	// DefaultThreshold is the minimum calibrated range of a valid channel.
	DefaultThreshold   = 0x80
	DefaultWeight      = 2.0
	DefaultSettleDelay = 50 * time.Microsecond

	// Neutral is reported as the normalized value of an unusable channel.
	Neutral = 0x80

	fullScale = 0xFF
)

var ErrNotCalibrated = errors.New("line sensor not calibrated")

// FrontEnd is the analog front end: a multiplexer in front of an 8-bit ADC.
type FrontEnd interface {
	Configure() error
	SelectChannel(ch int) error
	Sample() (uint8, error)
}

// Emitter switches the IR illumination of the array.
type Emitter interface {
	On() error
	Off() error
}

type Mode int

const (
	// Analog weights every channel by its normalized reading.
	Analog Mode = iota
	// Digital averages the coefficients of channels past their mid threshold.
	Digital
)

func (m Mode) String() string {
	switch m {
	case Analog:
		return "analog"
	case Digital:
		return "digital"
	}
	return "unknown"
}

type State int

const (
	Uninitialized State = iota
	Calibrating
	Calibrated
	Reading
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Calibrating:
		return "calibrating"
	case Calibrated:
		return "calibrated"
	case Reading:
		return "reading"
	}
	return "unknown"
}

type Config struct {
	Threshold   uint8
	Weight      float64
	Mode        Mode
	SettleDelay time.Duration
	Floor       FloorPredicate

	// Sleep waits out the multiplexer settle delay; time.Sleep when nil.
	Sleep func(time.Duration)
}

type Array struct {
	cfg     Config
	fe      FrontEnd
	emitter Emitter

	state      State
	calibrated bool
	weight     fixedpoint.Q

	raw     [NumChannels]uint8
	min     [NumChannels]uint8
	max     [NumChannels]uint8
	rng     [NumChannels]uint8
	thr     [NumChannels]uint8
	norm    [NumChannels]uint8
	digital [NumChannels]bool
	failed  [NumChannels]bool
	usable  [NumChannels]bool
	coeff   [NumChannels]fixedpoint.Q

	hist     [HistogramSize]uint16
	polarity bool

	position fixedpoint.Q
	onLine   bool

	sat fixedpoint.Counter
}

// New wraps a front end. emitter may be nil when the IR LEDs are always on.
// Zero config fields take their defaults.
func New(fe FrontEnd, emitter Emitter, cfg Config) *Array {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Weight == 0 {
		cfg.Weight = DefaultWeight
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Floor == nil {
		cfg.Floor = AnyInactive
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	a := &Array{
		cfg:      cfg,
		fe:       fe,
		emitter:  emitter,
		weight:   fixedpoint.FromFloat(cfg.Weight),
		polarity: true,
	}
	a.clear()
	a.Coeff()
	return a
}

// Init configures the front end, lights the emitters and starts a fresh
// calibration.
func (a *Array) Init() error {
	if err := a.fe.Configure(); err != nil {
		return errors.Wrap(err, "configuring analog front end")
	}
	if a.emitter != nil {
		if err := a.emitter.On(); err != nil {
			return errors.Wrap(err, "switching IR emitters on")
		}
	}
	a.Reset()
	a.Coeff()
	return nil
}

// Close switches the emitters off.
func (a *Array) Close() error {
	if a.emitter == nil {
		return nil
	}
	return a.emitter.Off()
}

// Reset discards the calibration and the polarity histogram.
func (a *Array) Reset() {
	a.clear()
	a.state = Calibrating
}

func (a *Array) clear() {
	for c := 0; c < NumChannels; c++ {
		a.raw[c] = 0
		a.min[c] = fullScale
		a.max[c] = 0
		a.rng[c] = 0
		a.thr[c] = fullScale
		a.norm[c] = Neutral
		a.digital[c] = false
		a.failed[c] = false
		a.usable[c] = false
	}
	a.hist = [HistogramSize]uint16{}
	a.calibrated = false
	a.position = 0
	a.onLine = false
}

// ReadAll samples every channel in order. A channel whose read fails keeps its
// previous value and is marked failed until the next read; the first failure
// is returned after all channels have been attempted.
func (a *Array) ReadAll() error {
	var firstErr error
	for c := 0; c < NumChannels; c++ {
		v, err := a.readChannel(c)
		a.failed[c] = err != nil
		if err != nil {
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "reading channel %d", c)
			}
		} else {
			a.raw[c] = v
		}
		a.digital[c] = a.raw[c] > a.thr[c]
	}
	return firstErr
}

func (a *Array) readChannel(c int) (uint8, error) {
	if err := a.fe.SelectChannel(c); err != nil {
		return 0, err
	}
	a.cfg.Sleep(a.cfg.SettleDelay)
	return a.fe.Sample()
}

// Calibrate reads the array once and widens each channel's window. It reports
// whether every channel's range has reached the threshold; only then are the
// readings added to the polarity histogram. A channel that failed to read
// leaves its window alone and makes the pass invalid.
func (a *Array) Calibrate() (bool, error) {
	err := a.ReadAll()
	ranged := true
	complete := true
	for c := 0; c < NumChannels; c++ {
		if a.failed[c] {
			complete = false
			if a.rng[c] < a.cfg.Threshold {
				ranged = false
			}
			continue
		}
		if a.raw[c] < a.min[c] {
			a.min[c] = a.raw[c]
		}
		if a.raw[c] > a.max[c] {
			a.max[c] = a.raw[c]
		}
		if a.max[c] >= a.min[c] {
			a.rng[c] = a.max[c] - a.min[c]
		}
		if a.rng[c] < a.cfg.Threshold {
			ranged = false
		}
		a.thr[c] = a.min[c] + a.rng[c]>>1
	}
	valid := ranged && complete
	if valid {
		for c := 0; c < NumChannels; c++ {
			a.addToHistogram(a.raw[c])
		}
		if a.state == Calibrating || a.state == Uninitialized {
			a.state = Calibrated
		}
	}
	a.calibrated = ranged
	return valid, err
}

// Coeff recomputes the position coefficients. The two centre channels get ∓1
// and each step outward multiplies the magnitude by the weight factor; the
// lower-index half is negative.
func (a *Array) Coeff() {
	half := NumChannels / 2
	x := fixedpoint.One
	for k := 0; k < half; k++ {
		a.coeff[half-1-k] = -x
		a.coeff[half+k] = x
		x = fixedpoint.Mul(x, a.weight)
	}
}

// SetWeight changes the outward weight factor and recomputes the coefficients.
func (a *Array) SetWeight(w float64) {
	a.cfg.Weight = w
	a.weight = fixedpoint.FromFloat(w)
	a.Coeff()
}

// Position reads the array and returns the line position in Q7.8. While no
// channel sees the line the last on-line position is returned, so a symmetric
// pattern only reads zero while it puts the array on the line. On a read
// failure the returned position is still usable and err says which channel
// failed.
func (a *Array) Position() (fixedpoint.Q, error) {
	err := a.ReadAll()
	a.normalize()

	var sum int64
	var count int
	for c := 0; c < NumChannels; c++ {
		if !a.usable[c] {
			continue
		}
		switch a.cfg.Mode {
		case Digital:
			if a.digital[c] == a.polarity {
				sum += int64(a.coeff[c])
				count++
			}
		default:
			w := a.norm[c]
			if !a.polarity {
				w = fullScale - w
			}
			sum += int64(w) * int64(a.coeff[c])
			if w > fullScale>>1 {
				count++
			}
		}
	}

	a.onLine = count > 0
	if a.onLine {
		var pos fixedpoint.Q
		if a.cfg.Mode == Digital {
			// count > 0 here.
			pos, _ = fixedpoint.Div(fixedpoint.Sat(sum), fixedpoint.FromInt(count))
		} else {
			pos = fixedpoint.Sat(sum / fullScale)
		}
		a.position = fixedpoint.Q(a.sat.Clamp(int64(pos), fixedpoint.Min16, fixedpoint.Max16))
	}
	if a.calibrated {
		a.state = Reading
	}
	return a.position, err
}

// normalize maps each raw reading into 0..255 within its calibrated window.
// A channel with a zero range is marked unusable and reports Neutral.
func (a *Array) normalize() {
	for c := 0; c < NumChannels; c++ {
		if a.rng[c] == 0 {
			a.usable[c] = false
			a.norm[c] = Neutral
			continue
		}
		a.usable[c] = true
		v := uint16(fixedpoint.Clamp(a.raw[c], a.min[c], a.max[c]) - a.min[c])
		a.norm[c] = uint8(min(v*fullScale/uint16(a.rng[c]), fullScale))
	}
}

func (a *Array) OnLine() bool {
	return a.onLine
}

// OnFloor applies the configured floor predicate to the last readings.
func (a *Array) OnFloor() bool {
	return a.cfg.Floor(a)
}

func (a *Array) State() State {
	return a.state
}

// Calibrated reports whether the last calibration pass was valid.
func (a *Array) Calibrated() bool {
	return a.calibrated
}

func (a *Array) Mode() Mode {
	return a.cfg.Mode
}

func (a *Array) SetMode(m Mode) {
	a.cfg.Mode = m
}

func (a *Array) Raw() [NumChannels]uint8        { return a.raw }
func (a *Array) Min() [NumChannels]uint8        { return a.min }
func (a *Array) Max() [NumChannels]uint8        { return a.max }
func (a *Array) Range() [NumChannels]uint8      { return a.rng }
func (a *Array) Thresholds() [NumChannels]uint8 { return a.thr }
func (a *Array) Normalized() [NumChannels]uint8 { return a.norm }
func (a *Array) Digital() [NumChannels]bool     { return a.digital }

func (a *Array) Coefficients() [NumChannels]fixedpoint.Q {
	return a.coeff
}

// Saturations counts position results clamped to the Q7.8 range.
func (a *Array) Saturations() uint32 {
	return a.sat.Count()
}
