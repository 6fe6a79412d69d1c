package hardware

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/periph/conn/gpio"

	"github.com/tigerbot-team/linebot/pkg/config"
	"github.com/tigerbot-team/linebot/pkg/motors"
	"github.com/tigerbot-team/linebot/pkg/pca9685"
)

type fakePWM struct {
	lock      sync.Mutex
	duty      map[int]uint8
	failAfter int
	closed    bool
}

func (p *fakePWM) Configure() error {
	return nil
}

func (p *fakePWM) SetDuty(port int, duty uint8) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.failAfter == 0 {
		return errors.New("i2c nak")
	}
	p.failAfter--
	p.duty[port] = duty
	return nil
}

func (p *fakePWM) Close() error {
	p.lock.Lock()
	p.closed = true
	p.lock.Unlock()
	return nil
}

func (p *fakePWM) get(port int) uint8 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.duty[port]
}

type fakePin struct {
	lock      sync.Mutex
	level     gpio.Level
	closed    bool
	lateWrite bool
}

func (p *fakePin) Out(l gpio.Level) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		p.lateWrite = true
		return errors.New("line closed")
	}
	p.level = l
	return nil
}

func (p *fakePin) Close() error {
	p.lock.Lock()
	p.closed = true
	p.lock.Unlock()
	return nil
}

func (p *fakePin) get() gpio.Level {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.level
}

func TestI2CMotorsAppliesDesiredValues(t *testing.T) {
	pwm := &fakePWM{duty: map[int]uint8{}, failAfter: -1}
	dirL, dirR := &fakePin{}, &fakePin{}
	m := NewI2CMotors(func() (pca9685.Interface, error) { return pwm, nil }, 2, 3, dirL, dirR)

	ctx, cancel := context.WithCancel(context.Background())
	var initDone, loopDone sync.WaitGroup
	initDone.Add(1)
	loopDone.Add(1)
	go func() {
		defer loopDone.Done()
		m.Loop(ctx, &initDone)
	}()
	initDone.Wait()

	require.NoError(t, motors.New(m, 0, 255).Drive(100, 20))
	assert.Eventually(t, func() bool {
		return pwm.get(2) == 80 && pwm.get(3) == 120
	}, time.Second, time.Millisecond)
	assert.Equal(t, gpio.High, dirL.get())
	assert.Equal(t, gpio.High, dirR.get())

	require.NoError(t, m.SetMotors(50, false, 0, true))
	assert.Eventually(t, func() bool {
		return pwm.get(2) == 50 && dirL.get() == gpio.Low
	}, time.Second, time.Millisecond)

	cancel()
	loopDone.Wait()
	assert.Equal(t, uint8(0), pwm.get(2))
	assert.True(t, pwm.closed)
}

func TestI2CMotorsRecoversFromBusFailure(t *testing.T) {
	var lock sync.Mutex
	var opened []*fakePWM
	open := func() (pca9685.Interface, error) {
		lock.Lock()
		defer lock.Unlock()
		// The first chip fails on its first write, the second keeps working.
		p := &fakePWM{duty: map[int]uint8{}, failAfter: 0}
		if len(opened) > 0 {
			p.failAfter = -1
		}
		opened = append(opened, p)
		return p, nil
	}
	m := NewI2CMotors(open, 0, 1, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var initDone sync.WaitGroup
	initDone.Add(1)
	go m.Loop(ctx, &initDone)
	initDone.Wait()

	require.NoError(t, m.SetMotors(30, true, 40, true))
	assert.Eventually(t, func() bool {
		lock.Lock()
		defer lock.Unlock()
		return len(opened) == 2 && opened[1].get(0) == 30 && opened[1].get(1) == 40
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, m.Failures())
}

func TestDummyAndSimFrontEnd(t *testing.T) {
	d := NewDummy()
	require.NoError(t, motors.New(d, 0, 255).Drive(10, 0))
	assert.Equal(t, 10, d.lastL)
	require.NoError(t, motors.New(d, 0, 255).Stop(true))
	assert.Equal(t, 0, d.lastL)

	h := &Hardware{}
	_, err := h.openFrontEnd(config.HardwareConfig{FrontEnd: config.FrontEndSim})
	assert.Equal(t, ErrSimFrontEnd, err)
	_, err = h.openFrontEnd(config.HardwareConfig{FrontEnd: "nope"})
	assert.Error(t, err)

	// No sound channel configured: a no-op.
	h.PlaySound("start.wav")
}

func TestShutdownStopsMotorLoopBeforeReleasingPins(t *testing.T) {
	pwm := &fakePWM{duty: map[int]uint8{}, failAfter: -1}
	dirL, dirR := &fakePin{}, &fakePin{}
	m := NewI2CMotors(func() (pca9685.Interface, error) { return pwm, nil }, 0, 1, dirL, dirR)
	h := &Hardware{Motors: m, closers: []io.Closer{dirL, dirR}}

	// Never cancelled: Shutdown has to stop the loop itself.
	h.Start(context.Background())

	// Keep the direction pins toggling so the loop writes them every tick.
	stop := make(chan struct{})
	var toggler sync.WaitGroup
	toggler.Add(1)
	go func() {
		defer toggler.Done()
		for fwd := false; ; fwd = !fwd {
			select {
			case <-stop:
				return
			default:
			}
			_ = m.SetMotors(10, fwd, 10, !fwd)
			time.Sleep(motorLoopPeriod)
		}
	}()
	time.Sleep(10 * motorLoopPeriod)
	close(stop)
	toggler.Wait()

	h.Shutdown()
	time.Sleep(5 * motorLoopPeriod)
	assert.True(t, pwm.closed)
	assert.False(t, dirL.lateWrite)
	assert.False(t, dirR.lateWrite)
}
