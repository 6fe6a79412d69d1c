// Package clock provides the millisecond time source for the control loop.
//
// Readings are uint32 milliseconds and wrap after about 49.7 days. Callers
// measure intervals with unsigned subtraction (now - then), which stays
// correct across a single wrap; never compare two readings with < or >.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	NowMillis() uint32
}

// System counts milliseconds since it was created.
type System struct {
	epoch time.Time
}

func NewSystem() *System {
	return &System{epoch: time.Now()}
}

func (s *System) NowMillis() uint32 {
	// Truncation to 32 bits is the wrap.
	return uint32(time.Since(s.epoch).Milliseconds())
}

// Manual is advanced explicitly; used by the simulator and tests.
type Manual struct {
	lock sync.Mutex
	now  uint32
}

func NewManual(start uint32) *Manual {
	return &Manual{now: start}
}

func (m *Manual) NowMillis() uint32 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.now
}

// Advance moves the clock forward, wrapping like the hardware counter.
func (m *Manual) Advance(d time.Duration) uint32 {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.now += uint32(d.Milliseconds())
	return m.now
}

// Since returns the milliseconds elapsed from then to now across a wrap.
func Since(c Clock, then uint32) uint32 {
	return c.NowMillis() - then
}
