package frontend

import (
	"github.com/pkg/errors"

	"github.com/tigerbot-team/linebot/pkg/mux"
)

// Muxed routes the eight sensors through a CD4051 into a single ADC input.
type Muxed struct {
	Mux   mux.Interface
	ADC   *MCP3008
	Input int
}

func NewMuxed(m mux.Interface, adc *MCP3008, input int) *Muxed {
	return &Muxed{Mux: m, ADC: adc, Input: input}
}

func (f *Muxed) Configure() error {
	if err := f.Mux.SelectChannel(0); err != nil {
		return errors.Wrap(err, "resetting mux")
	}
	return f.ADC.Configure()
}

func (f *Muxed) SelectChannel(ch int) error {
	return f.Mux.SelectChannel(ch)
}

func (f *Muxed) Sample() (uint8, error) {
	return f.ADC.Read(f.Input)
}

func (f *Muxed) Close() error {
	err := f.Mux.Close()
	if adcErr := f.ADC.Close(); err == nil {
		err = adcErr
	}
	return err
}
