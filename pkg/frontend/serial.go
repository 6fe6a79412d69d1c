package frontend

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// The co-processor protocol: the host sends {syncByte, channel} and the
// co-processor switches its mux, waits out its own settle time and answers
// {syncByte, channel, value, channel^value}.
const (
	syncByte    = 0xaa
	requestLen  = 2
	responseLen = 4

	serialReadTimeout = 20 * time.Millisecond
	maxResyncBytes    = 16
)

var ErrNoResponse = errors.New("no response from sensor co-processor")

type Serial struct {
	port    io.ReadWriteCloser
	channel int

	req [requestLen]byte
	buf [responseLen]byte
	one [1]byte
}

func OpenSerial(device string, baud int) (*Serial, error) {
	mode := &serial.Mode{
		BaudRate: baud,
	}
	s, err := serial.Open(device, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", device)
	}
	if err := s.SetReadTimeout(serialReadTimeout); err != nil {
		_ = s.Close()
		return nil, errors.Wrap(err, "setting serial read timeout")
	}
	return NewSerial(s), nil
}

// NewSerial speaks the protocol over an already-open port. Reads returning no
// data are treated as a timeout.
func NewSerial(port io.ReadWriteCloser) *Serial {
	return &Serial{
		port: port,
	}
}

// Configure drains anything left over from a previous session.
func (s *Serial) Configure() error {
	for i := 0; i < 256; i++ {
		_, err := s.readByte()
		if err == ErrNoResponse {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return errors.New("sensor co-processor is streaming unrequested data")
}

func (s *Serial) SelectChannel(ch int) error {
	if ch < 0 || ch > 0xff {
		return errors.Errorf("serial channel %d out of range", ch)
	}
	s.channel = ch
	return nil
}

func (s *Serial) Sample() (uint8, error) {
	s.req = [requestLen]byte{syncByte, byte(s.channel)}
	if _, err := s.port.Write(s.req[:]); err != nil {
		return 0, errors.Wrap(err, "failed to write to serial")
	}

	skipped := 0
	for {
		b, err := s.readByte()
		if err != nil {
			return 0, err
		}
		if b == syncByte {
			break
		}
		skipped++
		if skipped > maxResyncBytes {
			return 0, errors.New("lost sync with sensor co-processor")
		}
	}
	s.buf[0] = syncByte
	for i := 1; i < responseLen; i++ {
		b, err := s.readByte()
		if err != nil {
			return 0, err
		}
		s.buf[i] = b
	}
	if s.buf[1] != byte(s.channel) {
		return 0, errors.Errorf("co-processor answered channel %d, expected %d", s.buf[1], s.channel)
	}
	if s.buf[1]^s.buf[2] != s.buf[3] {
		return 0, errors.Errorf("bad checksum %#x from co-processor", s.buf[3])
	}
	return s.buf[2], nil
}

func (s *Serial) readByte() (byte, error) {
	n, err := s.port.Read(s.one[:])
	if err == io.EOF || (err == nil && n == 0) {
		// go.bug.st/serial reports a read timeout as an empty read.
		return 0, ErrNoResponse
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to read from serial")
	}
	return s.one[0], nil
}

func (s *Serial) Close() error {
	return s.port.Close()
}
