package hardware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"periph.io/x/periph/conn/gpio"

	"github.com/tigerbot-team/linebot/pkg/mux"
	"github.com/tigerbot-team/linebot/pkg/pca9685"
)

const motorLoopPeriod = 5 * time.Millisecond

type wheel struct {
	power   uint8
	forward bool
}

// I2CMotors drives a pair of PHASE/ENABLE H-bridges: the PCA9685 supplies
// the enable PWM and a GPIO per side sets the direction. SetMotors only
// records the desired values; Loop pushes changes to the bus and reopens the
// chip after a failure.
type I2CMotors struct {
	lock sync.Mutex

	// Desired values.  Stored off in case we need to re-initialise the hardware.
	left, right wheel

	open              func() (pca9685.Interface, error)
	pwmLeft, pwmRight int
	dirLeft, dirRight mux.Pin
	failures          int
}

func NewI2CMotors(open func() (pca9685.Interface, error), pwmLeft, pwmRight int, dirLeft, dirRight mux.Pin) *I2CMotors {
	return &I2CMotors{
		open:     open,
		pwmLeft:  pwmLeft,
		pwmRight: pwmRight,
		dirLeft:  dirLeft,
		dirRight: dirRight,
		left:     wheel{forward: true},
		right:    wheel{forward: true},
	}
}

func (c *I2CMotors) SetMotors(leftPower uint8, leftForward bool, rightPower uint8, rightForward bool) error {
	c.lock.Lock()
	c.left = wheel{leftPower, leftForward}
	c.right = wheel{rightPower, rightForward}
	c.lock.Unlock()
	return nil
}

func (c *I2CMotors) desired() (left, right wheel) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.left, c.right
}

// Failures counts bus failures the loop has recovered from.
func (c *I2CMotors) Failures() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.failures
}

func (c *I2CMotors) Loop(ctx context.Context, initDone *sync.WaitGroup) {
	fmt.Println("HW: motor loop started")
	for {
		c.loopUntilSomethingBadHappens(ctx, initDone)
		if ctx.Err() != nil {
			return
		}
		fmt.Println("===== !!! WARNING !!! I2C FAILURE; TRYING TO RECOVER =====")
		c.lock.Lock()
		c.failures++
		c.lock.Unlock()
		initDone = nil
		time.Sleep(10 * time.Millisecond)
	}
}

func (c *I2CMotors) loopUntilSomethingBadHappens(ctx context.Context, initDone *sync.WaitGroup) {
	defer func() {
		if initDone != nil {
			initDone.Done()
		}
	}()

	pwm, err := c.open()
	if err != nil {
		fmt.Println("HW: failed to open PWM", err)
		return
	}
	defer func() {
		// Leave the motors off whichever way we exit.
		_ = pwm.SetDuty(c.pwmLeft, 0)
		_ = pwm.SetDuty(c.pwmRight, 0)
		_ = pwm.Close()
	}()
	if err := pwm.Configure(); err != nil {
		fmt.Println("HW: failed to configure PWM", err)
		return
	}

	if initDone != nil {
		initDone.Done()
		initDone = nil
	}

	ticker := time.NewTicker(motorLoopPeriod)
	defer ticker.Stop()

	var lastL, lastR wheel
	first := true
	for {
		l, r := c.desired()
		if first || l != lastL {
			if err := c.apply(pwm, c.pwmLeft, c.dirLeft, l); err != nil {
				fmt.Println("HW: failed to update left motor", err)
				return
			}
			lastL = l
		}
		if first || r != lastR {
			if err := c.apply(pwm, c.pwmRight, c.dirRight, r); err != nil {
				fmt.Println("HW: failed to update right motor", err)
				return
			}
			lastR = r
		}
		first = false

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *I2CMotors) apply(pwm pca9685.Interface, port int, dir mux.Pin, w wheel) error {
	if dir != nil {
		if err := dir.Out(gpio.Level(w.forward)); err != nil {
			return err
		}
	}
	return pwm.SetDuty(port, w.power)
}
