package frontend

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/periph/conn/gpio"

	"github.com/tigerbot-team/linebot/pkg/linesensor"
	"github.com/tigerbot-team/linebot/pkg/mux"
)

var (
	_ linesensor.FrontEnd = (*MCP3008)(nil)
	_ linesensor.FrontEnd = (*Muxed)(nil)
	_ linesensor.FrontEnd = (*Serial)(nil)
	_ linesensor.Emitter  = (*GPIOEmitter)(nil)
)

// fakeSPI answers each conversion with the 10-bit value for the requested
// input.
type fakeSPI struct {
	values [8]uint16
	last   []byte
	err    error
}

func (f *fakeSPI) Tx(w, r []byte) error {
	if f.err != nil {
		return f.err
	}
	f.last = append([]byte(nil), w...)
	ch := (w[1] >> 4) & 0x07
	v := f.values[ch]
	r[0] = 0xff
	r[1] = 0xf8 | byte(v>>8)&0x03
	r[2] = byte(v)
	return nil
}

func TestMCP3008Sample(t *testing.T) {
	spi := &fakeSPI{values: [8]uint16{0, 1023, 512, 3, 4, 5, 6, 0x155}}
	adc := NewMCP3008OnConn(spi)
	require.NoError(t, adc.Configure())

	expected := []uint8{0, 255, 128, 0, 1, 1, 1, 0x55}
	for ch, want := range expected {
		require.NoError(t, adc.SelectChannel(ch))
		got, err := adc.Sample()
		require.NoError(t, err)
		assert.Equal(t, want, got, "channel %d", ch)
		assert.Equal(t, []byte{0x01, 0x80 | byte(ch)<<4, 0}, spi.last)
	}
	assert.Error(t, adc.SelectChannel(8))

	spi.err = errors.New("bus fault")
	_, err := adc.Sample()
	assert.Error(t, err)
	assert.Error(t, adc.Configure())
}

type recordingMux struct {
	selected []int
}

func (m *recordingMux) SelectChannel(ch int) error {
	m.selected = append(m.selected, ch)
	return nil
}

func (m *recordingMux) Close() error {
	return nil
}

var _ mux.Interface = (*recordingMux)(nil)

func TestMuxedReadsOneADCInput(t *testing.T) {
	spi := &fakeSPI{values: [8]uint16{0, 0, 0, 800}}
	m := &recordingMux{}
	fe := NewMuxed(m, NewMCP3008OnConn(spi), 3)
	require.NoError(t, fe.Configure())

	require.NoError(t, fe.SelectChannel(6))
	v, err := fe.Sample()
	require.NoError(t, err)
	assert.Equal(t, uint8(200), v)
	assert.Equal(t, []int{0, 6}, m.selected)
	assert.Equal(t, byte(0x80|3<<4), spi.last[1])
}

// fakePort replies to each request from a canned response stream.
type fakePort struct {
	in     bytes.Buffer
	out    bytes.Buffer
	reply  func(req []byte) []byte
	closed bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.out.Write(b)
	if p.reply != nil {
		p.in.Write(p.reply(b))
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.in.Len() == 0 {
		// Mimic a serial read timeout.
		return 0, nil
	}
	return p.in.Read(b)
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func TestSerialSample(t *testing.T) {
	port := &fakePort{reply: func(req []byte) []byte {
		ch := req[1]
		v := ch * 10
		return []byte{syncByte, ch, v, ch ^ v}
	}}
	port.in.Write([]byte{1, 2, 3})
	s := NewSerial(port)
	require.NoError(t, s.Configure())

	for ch := 0; ch < linesensor.NumChannels; ch++ {
		require.NoError(t, s.SelectChannel(ch))
		v, err := s.Sample()
		require.NoError(t, err)
		assert.Equal(t, uint8(ch*10), v)
	}
	require.NoError(t, s.Close())
	assert.True(t, port.closed)
}

func TestSerialResyncAndErrors(t *testing.T) {
	port := &fakePort{}
	s := NewSerial(port)
	require.NoError(t, s.SelectChannel(2))

	// Leading garbage is skipped.
	port.in.Write([]byte{0x00, 0x13, syncByte, 2, 0x40, 2 ^ 0x40})
	v, err := s.Sample()
	require.NoError(t, err)
	assert.Equal(t, uint8(0x40), v)

	_, err = s.Sample()
	assert.Equal(t, ErrNoResponse, err)

	port.in.Write([]byte{syncByte, 2, 0x40, 0})
	_, err = s.Sample()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad checksum")

	port.in.Write([]byte{syncByte, 5, 0x40, 5 ^ 0x40})
	_, err = s.Sample()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "answered channel 5, expected 2")

	err = s.SelectChannel(300)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serial channel 300 out of range")
}

type fakePin struct {
	level gpio.Level
}

func (p *fakePin) Out(l gpio.Level) error {
	p.level = l
	return nil
}

func TestEmitter(t *testing.T) {
	p := &fakePin{}
	e := NewEmitterOnPin(p)
	require.NoError(t, e.On())
	assert.Equal(t, gpio.High, p.level)
	require.NoError(t, e.Off())
	assert.Equal(t, gpio.Low, p.level)
}
