package pca9685

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/io/i2c"
)

const (
	DefaultAddr = 0x40

	RegMode1 = 0x00
	RegMode2 = 0x01

	// Each PWM output has two 16-bit (low byte first) registers.
	// First register is the on time, second is the off time.
	RegLEDBase = 0x06

	RegPreScale = 0xfe // Pre-scaler for PWM frequency.

	NumPorts = 16

	PWMMax = 4095

	// Bit 4 of the high on/off byte forces the output fully on/off.
	fullBit = 0x10

	// 25MHz / (4096 * 1kHz) - 1; the H-bridges are happiest around 1kHz.
	motorPreScale = 0x05
)

type Interface interface {
	Configure() error
	SetDuty(port int, duty uint8) error
	Close() error
}

// Bus is the register access the chip needs; *i2c.Device satisfies it.
type Bus interface {
	WriteReg(reg byte, buf []byte) error
	Close() error
}

type PCA9685 struct {
	dev Bus
}

func New(deviceFile string) (*PCA9685, error) {
	dev, err := i2c.Open(&i2c.Devfs{Dev: deviceFile}, DefaultAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "opening PCA9685 on %s", deviceFile)
	}
	return NewOnBus(dev), nil
}

func NewOnBus(dev Bus) *PCA9685 {
	return &PCA9685{
		dev: dev,
	}
}

func (p *PCA9685) Configure() (err error) {
	// Put device to sleep.
	err = p.dev.WriteReg(RegMode1, []byte{0x11})
	if err != nil {
		return
	}
	err = p.dev.WriteReg(RegPreScale, []byte{motorPreScale})
	if err != nil {
		return
	}
	// Trigger a reset
	err = p.dev.WriteReg(RegMode1, []byte{0x01})
	if err != nil {
		return
	}
	// Required delay after reset.
	time.Sleep(1 * time.Millisecond)
	// Enable with auto-increment.
	err = p.dev.WriteReg(RegMode1, []byte{0xa1})
	return
}

// SetDuty sets the output's duty cycle, 0 being off and 255 fully on.
func (p *PCA9685) SetDuty(port int, duty uint8) error {
	if port < 0 || port >= NumPorts {
		return errors.Errorf("PWM port out of range: %d", port)
	}
	addr := byte(RegLEDBase + port*4)
	return p.dev.WriteReg(addr, dutyRegs(duty))
}

func dutyRegs(duty uint8) []byte {
	switch duty {
	case 0:
		return []byte{0, 0, 0, fullBit}
	case 255:
		return []byte{0, fullBit, 0, 0}
	}
	off := uint32(duty) * PWMMax / 255
	return []byte{0, 0, byte(off & 0xff), byte(off >> 8)}
}

func (p *PCA9685) Close() error {
	return p.dev.Close()
}

func Dummy() Interface {
	return &dummyPWM{}
}

type dummyPWM struct {
}

func (*dummyPWM) Configure() error {
	return nil
}

func (*dummyPWM) SetDuty(port int, duty uint8) error {
	return nil
}

func (*dummyPWM) Close() error {
	return nil
}
