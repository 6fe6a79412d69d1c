package mux

import (
	"fmt"

	"github.com/pkg/errors"
	"periph.io/x/periph/conn/gpio"

	"github.com/tigerbot-team/linebot/pkg/gpioline"
)

const (
	// A CD4051 switches one of eight inputs through to its common pin.
	NumChannels = 8
	NumSelect   = 3
)

type Interface interface {
	SelectChannel(ch int) error
	Close() error
}

// Pin is a select line.
type Pin = gpioline.Output

type CD4051 struct {
	pins    [NumSelect]Pin
	current int
}

// New opens the three select lines by name, least significant first.
func New(pinNames []string, open gpioline.OpenFunc) (*CD4051, error) {
	if len(pinNames) != NumSelect {
		return nil, errors.Errorf("mux needs %d select pins, got %d", NumSelect, len(pinNames))
	}
	var pins []Pin
	for _, name := range pinNames {
		p, err := open(name)
		if err != nil {
			return nil, err
		}
		pins = append(pins, p)
	}
	return NewFromPins(pins...)
}

// NewFromPins wraps already-opened select lines and drives them to channel 0.
func NewFromPins(pins ...Pin) (*CD4051, error) {
	if len(pins) != NumSelect {
		return nil, errors.Errorf("mux needs %d select pins, got %d", NumSelect, len(pins))
	}
	m := &CD4051{current: -1}
	copy(m.pins[:], pins)
	if err := m.SelectChannel(0); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *CD4051) SelectChannel(ch int) error {
	if ch < 0 || ch >= NumChannels {
		return errors.Errorf("mux channel %d out of range", ch)
	}
	if ch == m.current {
		return nil
	}
	for bit, p := range m.pins {
		if err := p.Out(gpio.Level(ch&(1<<uint(bit)) != 0)); err != nil {
			m.current = -1
			return errors.Wrapf(err, "setting mux select bit %d", bit)
		}
	}
	m.current = ch
	return nil
}

// Close parks the mux on channel 0.
func (m *CD4051) Close() error {
	return m.SelectChannel(0)
}

func Dummy() Interface {
	return &dummyMux{}
}

type dummyMux struct {
}

func (p *dummyMux) SelectChannel(ch int) error {
	fmt.Printf("Dummy Mux selecting channel=%d\n", ch)
	return nil
}

func (p *dummyMux) Close() error {
	return nil
}
