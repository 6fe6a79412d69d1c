package linefollow

import (
	"github.com/tigerbot-team/linebot/pkg/fixedpoint"
	"github.com/tigerbot-team/linebot/pkg/linesensor"
	"github.com/tigerbot-team/linebot/pkg/pid"
	"github.com/tigerbot-team/linebot/pkg/screen"
)

// Status is a snapshot of the loop taken at the end of each tick.
type Status struct {
	Phase       Phase
	SensorState linesensor.State
	Ticks       uint64

	Position fixedpoint.Q
	Turn     int
	Terms    pid.Terms
	OnLine   bool
	OnFloor  bool
	Lifted   bool
	Polarity bool

	Raw        [linesensor.NumChannels]uint8
	Normalized [linesensor.NumChannels]uint8

	PIDSaturations    uint32
	SensorSaturations uint32
}

// Calibration describes the array's calibrated windows.
type Calibration struct {
	Min, Max, Range, Thresholds [linesensor.NumChannels]uint8
	Histogram                   [linesensor.HistogramSize]uint16
	Coefficients                [linesensor.NumChannels]fixedpoint.Q
	Polarity                    bool
	Valid                       bool
}

func (f *Follower) publish() {
	a := f.sensors
	s := Status{
		Phase:             f.phase,
		SensorState:       a.State(),
		Ticks:             f.ticks,
		Position:          f.position,
		Turn:              f.turn,
		Terms:             f.pid.Terms(),
		OnLine:            a.OnLine(),
		OnFloor:           !f.lifted,
		Lifted:            f.lifted,
		Polarity:          a.Polarity(),
		Raw:               a.Raw(),
		Normalized:        a.Normalized(),
		PIDSaturations:    f.pid.Saturations(),
		SensorSaturations: a.Saturations(),
	}
	f.lock.Lock()
	f.status = s
	f.lock.Unlock()

	screen.Update(s.Screen(f.name))
}

func (f *Follower) Status() Status {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.status
}

// Calibration must be called from the goroutine running Tick, or after Stop.
func (f *Follower) Calibration() Calibration {
	a := f.sensors
	return Calibration{
		Min:          a.Min(),
		Max:          a.Max(),
		Range:        a.Range(),
		Thresholds:   a.Thresholds(),
		Histogram:    a.Histogram(),
		Coefficients: a.Coefficients(),
		Polarity:     a.Polarity(),
		Valid:        a.Calibrated(),
	}
}

// Screen converts the snapshot for the status display.
func (s Status) Screen(mode string) screen.Status {
	st := screen.Status{
		Mode:     mode,
		State:    s.Phase.String(),
		Position: s.Position.Float(),
		Turn:     s.Turn,
		OnLine:   s.OnLine,
		OnFloor:  s.OnFloor,
		Polarity: s.Polarity,
		Readings: s.Normalized,
	}
	if s.Phase == Failed {
		st.Notice = "CAL FAILED"
	}
	return st
}
