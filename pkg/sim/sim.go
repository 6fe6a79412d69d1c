// Package sim is a kinematic model of the robot on a track. A World stands
// in for the analog front end, the IR emitter, the motor sink and the clock,
// so the control loop can run unchanged on a desk.
package sim

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/linebot/pkg/clock"
	"github.com/tigerbot-team/linebot/pkg/linesensor"
	"github.com/tigerbot-team/linebot/pkg/motors"
)

// Track gives the distance from a point to the line, in millimetres.
type Track interface {
	Distance(x, y float64) float64
}

// Straight is the x axis.
type Straight struct{}

func (Straight) Distance(x, y float64) float64 {
	return math.Abs(y)
}

// Circle is a circle of the given radius through the origin, tangent to the x
// axis there and curving to the left.
type Circle struct {
	Radius float64
}

func (c Circle) Distance(x, y float64) float64 {
	return math.Abs(c.Radius - math.Hypot(x, y-c.Radius))
}

// Params describe the robot and the surface. Distances are in millimetres.
type Params struct {
	Pitch         float64 // between adjacent sensors
	SensorForward float64 // from the axle to the sensor row
	SpotRadius    float64 // footprint of one sensor on the floor
	WheelBase     float64
	MaxWheelSpeed float64 // mm/s at full power
	LineWidth     float64

	// Raw readings. The sensors read high when little IR comes back, so a
	// dark line reads above a light floor and a lifted robot reads Lifted.
	Floor, Line, Lifted uint8

	Noise float64 // standard deviation of the reading noise
	Seed  int64
}

func DefaultParams() Params {
	return Params{
		Pitch:         9.5,
		SensorForward: 60,
		SpotRadius:    4,
		WheelBase:     100,
		MaxWheelSpeed: 500,
		LineWidth:     19,
		Floor:         40,
		Line:          220,
		Lifted:        250,
	}
}

// Pose is the axle centre and heading (radians, counter-clockwise from +x).
type Pose struct {
	X, Y, Heading float64
}

type World struct {
	lock sync.Mutex

	p     Params
	track Track
	clock *clock.Manual
	rng   *rand.Rand

	pose        Pose
	left, right float64 // signed power, -255..255
	braked      bool

	channel    int
	emitterOn  bool
	lifted     bool
	configured bool
}

func New(p Params, track Track, start Pose) *World {
	if track == nil {
		track = Straight{}
	}
	return &World{
		p:         p,
		track:     track,
		clock:     clock.NewManual(0),
		rng:       rand.New(rand.NewSource(p.Seed)),
		pose:      start,
		emitterOn: true,
	}
}

func (w *World) Configure() error {
	w.lock.Lock()
	w.configured = true
	w.lock.Unlock()
	return nil
}

func (w *World) SelectChannel(ch int) error {
	if ch < 0 || ch >= linesensor.NumChannels {
		return errors.Errorf("sim channel %d out of range", ch)
	}
	w.lock.Lock()
	w.channel = ch
	w.lock.Unlock()
	return nil
}

func (w *World) Sample() (uint8, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	if !w.configured {
		return 0, errors.New("sim front end sampled before Configure")
	}
	return w.reading(w.channel), nil
}

// Reading returns what channel ch would read now, without noise.
func (w *World) Reading(ch int) uint8 {
	w.lock.Lock()
	defer w.lock.Unlock()
	noise := w.p.Noise
	w.p.Noise = 0
	v := w.reading(ch)
	w.p.Noise = noise
	return v
}

func (w *World) reading(ch int) uint8 {
	if w.lifted || !w.emitterOn {
		return w.p.Lifted
	}
	x, y := w.sensorPosition(ch)
	d := w.track.Distance(x, y)

	// Fraction of the sensor spot covered by the line.
	r := w.p.SpotRadius
	half := w.p.LineWidth / 2
	lo, hi := math.Max(d-r, -half), math.Min(d+r, half)
	cover := math.Max(0, hi-lo) / (2 * r)

	v := float64(w.p.Floor) + cover*(float64(w.p.Line)-float64(w.p.Floor))
	if w.p.Noise > 0 {
		v += w.rng.NormFloat64() * w.p.Noise
	}
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}

// sensorPosition places channel ch on the floor. Channel 0 is on the robot's
// right, so the line to the left gives a positive position.
func (w *World) sensorPosition(ch int) (x, y float64) {
	l := (float64(ch) - float64(linesensor.NumChannels-1)/2) * w.p.Pitch
	sin, cos := math.Sincos(w.pose.Heading)
	x = w.pose.X + w.p.SensorForward*cos - l*sin
	y = w.pose.Y + w.p.SensorForward*sin + l*cos
	return
}

func (w *World) On() error {
	w.lock.Lock()
	w.emitterOn = true
	w.lock.Unlock()
	return nil
}

func (w *World) Off() error {
	w.lock.Lock()
	w.emitterOn = false
	w.lock.Unlock()
	return nil
}

func (w *World) SetMotors(leftPower uint8, leftForward bool, rightPower uint8, rightForward bool) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.left = signed(leftPower, leftForward)
	w.right = signed(rightPower, rightForward)
	w.braked = false
	return nil
}

func (w *World) Brake() error {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.left, w.right = 0, 0
	w.braked = true
	return nil
}

func signed(p uint8, forward bool) float64 {
	if forward {
		return float64(p)
	}
	return -float64(p)
}

func (w *World) NowMillis() uint32 {
	return w.clock.NowMillis()
}

// Step advances the clock by d and moves the robot, integrating in 1ms steps.
func (w *World) Step(d time.Duration) {
	w.lock.Lock()
	defer w.lock.Unlock()
	ms := int(d.Milliseconds())
	for i := 0; i < ms; i++ {
		w.integrate(0.001)
	}
	w.clock.Advance(d)
}

func (w *World) integrate(dt float64) {
	if w.lifted {
		return
	}
	vl := w.left / 255 * w.p.MaxWheelSpeed
	vr := w.right / 255 * w.p.MaxWheelSpeed
	v := (vl + vr) / 2
	omega := (vr - vl) / w.p.WheelBase

	w.pose.Heading += omega * dt
	sin, cos := math.Sincos(w.pose.Heading)
	w.pose.X += v * cos * dt
	w.pose.Y += v * sin * dt
}

func (w *World) Pose() Pose {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.pose
}

func (w *World) SetPose(p Pose) {
	w.lock.Lock()
	w.pose = p
	w.lock.Unlock()
}

// Offset is the distance from the sensor row's centre to the line.
func (w *World) Offset() float64 {
	w.lock.Lock()
	defer w.lock.Unlock()
	sin, cos := math.Sincos(w.pose.Heading)
	return w.track.Distance(w.pose.X+w.p.SensorForward*cos, w.pose.Y+w.p.SensorForward*sin)
}

// Wheels returns the signed wheel powers last commanded.
func (w *World) Wheels() (left, right float64) {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.left, w.right
}

func (w *World) Braked() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.braked
}

// Lift picks the robot up (true) or puts it back down.
func (w *World) Lift(lifted bool) {
	w.lock.Lock()
	w.lifted = lifted
	w.lock.Unlock()
}

var (
	_ linesensor.FrontEnd = (*World)(nil)
	_ linesensor.Emitter  = (*World)(nil)
	_ motors.Sink         = (*World)(nil)
	_ motors.Braker       = (*World)(nil)
	_ clock.Clock         = (*World)(nil)
)
