package motors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type command struct {
	lp     uint8
	lf     bool
	rp     uint8
	rf     bool
	braked bool
}

type recordingSink struct {
	last command
}

func (s *recordingSink) SetMotors(lp uint8, lf bool, rp uint8, rf bool) error {
	s.last = command{lp: lp, lf: lf, rp: rp, rf: rf}
	return nil
}

type brakingSink struct {
	recordingSink
}

func (s *brakingSink) Brake() error {
	s.last = command{braked: true}
	return nil
}

func TestMix(t *testing.T) {
	l, r := Mix(0, 0, 255)
	if l != 0 || r != 0 {
		t.Fatalf("Input of 0s should return 0s, not %v, %v", l, r)
	}

	l, r = Mix(100, 20, 255)
	if l != 80 || r != 120 {
		t.Fatalf("Gentle left returned %v, %v", l, r)
	}

	l, r = Mix(200, 100, 255)
	if l != 85 || r != 255 {
		t.Fatalf("Over-range turn returned %v, %v", l, r)
	}

	l, r = Mix(0, -300, 255)
	if l != 255 || r != -255 {
		t.Fatalf("Spin returned %v, %v", l, r)
	}
}

func TestDriveDirections(t *testing.T) {
	sink := &recordingSink{}
	m := New(sink, 0, 255)

	require.NoError(t, m.Drive(100, 20))
	assert.Equal(t, command{lp: 80, lf: true, rp: 120, rf: true}, sink.last)

	require.NoError(t, m.Drive(-50, 0))
	assert.Equal(t, command{lp: 50, lf: false, rp: 50, rf: false}, sink.last)

	require.NoError(t, m.Drive(0, 40))
	assert.Equal(t, command{lp: 40, lf: false, rp: 40, rf: true}, sink.last)
}

func TestDriveDeadband(t *testing.T) {
	sink := &recordingSink{}
	m := New(sink, 60, 255)

	require.NoError(t, m.Drive(0, 0))
	assert.Equal(t, command{lf: true, rf: true}, sink.last)

	require.NoError(t, m.Drive(1, 0))
	assert.Equal(t, uint8(60), sink.last.lp)

	require.NoError(t, m.Drive(255, 0))
	assert.Equal(t, uint8(255), sink.last.rp)

	require.NoError(t, m.Drive(1000, 0))
	assert.Equal(t, uint8(255), sink.last.lp)
}

func TestRunCapsPower(t *testing.T) {
	sink := &recordingSink{}
	m := New(sink, 0, 200)
	require.NoError(t, m.Run(250, true, 10, false))
	assert.Equal(t, command{lp: 200, lf: true, rp: 10, rf: false}, sink.last)
}

func TestStop(t *testing.T) {
	sink := &recordingSink{}
	m := New(sink, 60, 255)
	require.NoError(t, m.Drive(100, 0))
	require.NoError(t, m.Stop(true))
	assert.Equal(t, command{lf: true, rf: true}, sink.last)

	b := &brakingSink{}
	m = New(b, 0, 255)
	require.NoError(t, m.Stop(true))
	assert.True(t, b.last.braked)
	require.NoError(t, m.Stop(false))
	assert.False(t, b.last.braked)
}

func TestNewClampsLimits(t *testing.T) {
	m := New(&recordingSink{}, 100, 0)
	assert.Equal(t, uint8(DefaultMaxSpeed), m.MaxSpeed)
	assert.Equal(t, uint8(100), m.MinSpeed)

	m = New(&recordingSink{}, 200, 150)
	assert.Equal(t, uint8(150), m.MinSpeed)
}
