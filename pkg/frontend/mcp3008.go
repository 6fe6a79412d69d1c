// Package frontend holds the analog front ends that feed the line sensor
// array: an MCP3008 ADC on SPI, the same ADC behind a CD4051 multiplexer, and
// a serial co-processor that does its own sampling.
package frontend

import (
	"io"

	"github.com/pkg/errors"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
)

const mcp3008Channels = 8

// Conn is the SPI transfer the ADC needs; spi.Conn satisfies it.
type Conn interface {
	Tx(w, r []byte) error
}

// MCP3008 samples one of its eight single-ended inputs per SPI transaction.
// The 10-bit result is reduced to its top 8 bits.
type MCP3008 struct {
	c       Conn
	port    io.Closer
	channel int

	r, w [3]byte
}

func NewMCP3008(deviceFile string, khz int) (*MCP3008, error) {
	// Make sure periph is initialized.
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "initialising periph")
	}

	// Use spireg SPI port registry to find the SPI bus.
	p, err := spireg.Open(deviceFile)
	if err != nil {
		return nil, errors.Wrapf(err, "opening SPI port %s", deviceFile)
	}

	c, err := p.Connect(physic.KiloHertz*physic.Frequency(khz), spi.Mode0, 8)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to SPI port %s", deviceFile)
	}
	m := NewMCP3008OnConn(c)
	m.port = p
	return m, nil
}

func NewMCP3008OnConn(c Conn) *MCP3008 {
	return &MCP3008{c: c}
}

// Configure does a throwaway conversion to check the chip answers.
func (m *MCP3008) Configure() error {
	_, err := m.Read(0)
	return errors.Wrap(err, "probing MCP3008")
}

func (m *MCP3008) SelectChannel(ch int) error {
	if ch < 0 || ch >= mcp3008Channels {
		return errors.Errorf("MCP3008 channel %d out of range", ch)
	}
	m.channel = ch
	return nil
}

func (m *MCP3008) Sample() (uint8, error) {
	return m.Read(m.channel)
}

// Read converts the given input directly, ignoring the selected channel.
func (m *MCP3008) Read(ch int) (uint8, error) {
	// Start bit, then single-ended mode and the channel in the top nibble.
	m.w = [3]byte{0x01, 0x80 | byte(ch&0x07)<<4, 0x00}
	if err := m.c.Tx(m.w[:], m.r[:]); err != nil {
		return 0, err
	}
	// The result is the low 2 bits of the second byte and all of the third.
	v := uint16(m.r[1]&0x03)<<8 | uint16(m.r[2])
	return uint8(v >> 2), nil
}

func (m *MCP3008) Close() error {
	if m.port == nil {
		return nil
	}
	return m.port.Close()
}
