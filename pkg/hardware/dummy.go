package hardware

import (
	"fmt"

	"github.com/tigerbot-team/linebot/pkg/motors"
)

// Dummy prints motor commands instead of driving anything.
type Dummy struct {
	lastL, lastR int
}

func NewDummy() *Dummy {
	return &Dummy{}
}

func (d *Dummy) SetMotors(leftPower uint8, leftForward bool, rightPower uint8, rightForward bool) error {
	l, r := signed(leftPower, leftForward), signed(rightPower, rightForward)
	if l != d.lastL || r != d.lastR {
		fmt.Printf("DHW: SetMotors left=%v right=%v\n", l, r)
		d.lastL, d.lastR = l, r
	}
	return nil
}

func (d *Dummy) Brake() error {
	fmt.Println("DHW: Brake")
	d.lastL, d.lastR = 0, 0
	return nil
}

func signed(p uint8, forward bool) int {
	if forward {
		return int(p)
	}
	return -int(p)
}

var (
	_ motors.Sink   = (*Dummy)(nil)
	_ motors.Braker = (*Dummy)(nil)
	_ MotorDriver   = (*I2CMotors)(nil)
)
