// Package gpioline opens GPIO lines by name as digital outputs, either through
// periph's registry or through the Linux GPIO character device. periph v3
// cannot drive the header pins on a Raspberry Pi 5, so there the character
// device is used.
package gpioline

import (
	"fmt"

	"github.com/pkg/errors"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

const (
	BackendAuto     = "auto"
	BackendPeriph   = "periph"
	BackendGPIOCdev = "gpiocdev"
)

var ErrUnsupported = errors.New("gpio character device unsupported on this platform")

// Output is the part of a GPIO the drivers use.
type Output interface {
	Out(l gpio.Level) error
}

// OpenFunc opens a line by name, e.g. "GPIO17".
type OpenFunc func(name string) (Output, error)

// ForBackend returns the opener for a config backend name. Auto picks the
// character device on a Raspberry Pi 5 and periph everywhere else.
func ForBackend(backend string) (OpenFunc, error) {
	switch backend {
	case BackendAuto:
		if IsRaspberryPi5() {
			fmt.Println("GPIO: Raspberry Pi 5, using the GPIO character device")
			return OpenCdev, nil
		}
		return OpenPeriph, nil
	case BackendPeriph:
		return OpenPeriph, nil
	case BackendGPIOCdev:
		return OpenCdev, nil
	}
	return nil, errors.Errorf("unknown gpio backend %q", backend)
}

func OpenPeriph(name string) (Output, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "initialising periph")
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.Errorf("no such GPIO %q", name)
	}
	return p, nil
}
