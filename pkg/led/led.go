// Package led blinks the status LED without blocking the control loop.
package led

import (
	"periph.io/x/periph/conn/gpio"

	"github.com/tigerbot-team/linebot/pkg/mux"
)

// Pattern is a blink period and the percentage of it the LED is lit.
type Pattern struct {
	PeriodMillis uint32
	DutyPercent  uint8
}

var (
	Calibrating = Pattern{200, 50}
	Following   = Pattern{1000, 10}
	LineLost    = Pattern{400, 50}
	Fault       = Pattern{100, 50}
)

type Blinker struct {
	pin mux.Pin

	pattern Pattern
	on, off uint32
	next    uint32
	lit     bool
}

// New blinks pin; a nil pin makes every call a no-op apart from the timing.
func New(pin mux.Pin) *Blinker {
	return &Blinker{pin: pin}
}

// Set switches to p, starting with the dark phase, unless p is already
// running.
func (b *Blinker) Set(p Pattern, now uint32) error {
	if p == b.pattern {
		return nil
	}
	b.pattern = p
	duty := uint32(p.DutyPercent)
	if duty > 100 {
		duty = 100
	}
	b.on = p.PeriodMillis * duty / 100
	b.off = p.PeriodMillis - b.on
	b.next = now + b.off
	b.lit = b.off == 0
	return b.write()
}

// Update toggles the LED when its current phase has run out. The deadline is
// compared as a signed difference so it survives the clock wrapping.
func (b *Blinker) Update(now uint32) error {
	if b.on == 0 || b.off == 0 || int32(now-b.next) < 0 {
		return nil
	}
	if b.lit {
		b.next += b.off
	} else {
		b.next += b.on
	}
	b.lit = !b.lit
	return b.write()
}

func (b *Blinker) Lit() bool {
	return b.lit
}

func (b *Blinker) write() error {
	if b.pin == nil {
		return nil
	}
	return b.pin.Out(gpio.Level(b.lit))
}
