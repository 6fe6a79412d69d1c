package frontend

import (
	"github.com/pkg/errors"
	"periph.io/x/periph/conn/gpio"

	"github.com/tigerbot-team/linebot/pkg/gpioline"
	"github.com/tigerbot-team/linebot/pkg/mux"
)

// GPIOEmitter switches the IR LEDs through a transistor on one GPIO.
type GPIOEmitter struct {
	pin mux.Pin
}

func NewGPIOEmitter(name string, open gpioline.OpenFunc) (*GPIOEmitter, error) {
	p, err := open(name)
	if err != nil {
		return nil, errors.Wrap(err, "opening IR emitter pin")
	}
	return &GPIOEmitter{pin: p}, nil
}

func NewEmitterOnPin(p mux.Pin) *GPIOEmitter {
	return &GPIOEmitter{pin: p}
}

func (e *GPIOEmitter) On() error {
	return e.pin.Out(gpio.High)
}

func (e *GPIOEmitter) Off() error {
	return e.pin.Out(gpio.Low)
}
