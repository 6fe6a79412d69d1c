package motors

import (
	"github.com/pkg/errors"
)

const (
	DefaultMaxSpeed = 255
)

// Sink drives the two wheels: a PWM power and a direction per side.
type Sink interface {
	SetMotors(leftPower uint8, leftForward bool, rightPower uint8, rightForward bool) error
}

// Braker is implemented by sinks that can short the motor windings.
type Braker interface {
	Brake() error
}

// Mapper converts (speed, turn) commands to per-wheel power and direction.
type Mapper struct {
	Sink Sink

	// Nonzero powers are mapped into [MinSpeed, MaxSpeed] so that small
	// commands still overcome the motors' static friction.
	MinSpeed uint8
	MaxSpeed uint8
}

func New(sink Sink, minSpeed, maxSpeed uint8) *Mapper {
	if maxSpeed == 0 {
		maxSpeed = DefaultMaxSpeed
	}
	if minSpeed > maxSpeed {
		minSpeed = maxSpeed
	}
	return &Mapper{
		Sink:     sink,
		MinSpeed: minSpeed,
		MaxSpeed: maxSpeed,
	}
}

// Run passes explicit per-wheel values through, capped at MaxSpeed.
func (m *Mapper) Run(leftPower uint8, leftForward bool, rightPower uint8, rightForward bool) error {
	return m.Sink.SetMotors(min(leftPower, m.MaxSpeed), leftForward, min(rightPower, m.MaxSpeed), rightForward)
}

// Drive sets the wheels from a signed speed and turn. Positive turn speeds up
// the right wheel.
func (m *Mapper) Drive(speed, turn int) error {
	left, right := Mix(speed, turn, int(m.MaxSpeed))
	lp, lf := m.power(left)
	rp, rf := m.power(right)
	return m.Sink.SetMotors(lp, lf, rp, rf)
}

// Stop coasts, or brakes when asked and the sink supports it.
func (m *Mapper) Stop(brake bool) error {
	if brake {
		if b, ok := m.Sink.(Braker); ok {
			return errors.Wrap(b.Brake(), "braking motors")
		}
	}
	return m.Sink.SetMotors(0, true, 0, true)
}

func (m *Mapper) power(v int) (uint8, bool) {
	forward := v >= 0
	if v < 0 {
		v = -v
	}
	if v == 0 || m.MaxSpeed == 0 {
		return 0, forward
	}
	span := int(m.MaxSpeed) - int(m.MinSpeed)
	p := int(m.MinSpeed) + v*span/int(m.MaxSpeed)
	return uint8(min(p, int(m.MaxSpeed))), forward
}

// Mix returns left = speed - turn and right = speed + turn. If either side
// exceeds limit both are scaled down together so the turn ratio survives.
func Mix(speed, turn, limit int) (left, right int) {
	left = speed - turn
	right = speed + turn

	m := max(abs(left), abs(right))
	if m > limit {
		left = left * limit / m
		right = right * limit / m
	}
	return
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
