// Package linefollow is the control loop: it sweeps the robot over the line
// to calibrate the sensor array, swings back onto the line, then steers with
// the PID controller once per tick.
//
// Channel 0 of the array is on the robot's right, so a positive position
// means the line is to the left and a positive correction, which speeds up
// the right wheel, turns towards it.
package linefollow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/linebot/pkg/clock"
	"github.com/tigerbot-team/linebot/pkg/config"
	"github.com/tigerbot-team/linebot/pkg/fixedpoint"
	"github.com/tigerbot-team/linebot/pkg/led"
	"github.com/tigerbot-team/linebot/pkg/linesensor"
	"github.com/tigerbot-team/linebot/pkg/motors"
	"github.com/tigerbot-team/linebot/pkg/pid"
	"github.com/tigerbot-team/linebot/pkg/screen"
	"github.com/tigerbot-team/linebot/pkg/sound"
	"github.com/tigerbot-team/linebot/pkg/tunable"
)

var ErrCalibrationTimeout = errors.New("calibration timed out")

type Phase int

const (
	Idle Phase = iota
	Calibrating
	Centring
	Following
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Calibrating:
		return "calibrating"
	case Centring:
		return "centring"
	case Following:
		return "following"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Sounder plays an event sound by name; *hardware.Hardware implements it.
type Sounder interface {
	PlaySound(name string)
}

// Deps are the robot's I/O. Emitter, StatusLED and Sounds may be nil.
type Deps struct {
	FrontEnd  linesensor.FrontEnd
	Emitter   linesensor.Emitter
	Sink      motors.Sink
	Clock     clock.Clock
	StatusLED *led.Blinker
	Sounds    Sounder
}

type Follower struct {
	name string
	cfg  config.Config

	sensors *linesensor.Array
	pid     *pid.Controller
	motors  *motors.Mapper
	clock   clock.Clock
	led     *led.Blinker
	sounds  Sounder

	tunables   tunable.Tunables
	kp, ki, kd *tunable.Tunable
	gainGen    uint64

	recalibrate int32

	// Loop state, owned by whoever calls Tick.
	phase      Phase
	calStart   uint32
	leg        int
	legTicks   int
	direction  int
	validTicks int
	ticks      uint64
	position   fixedpoint.Q
	turn       int
	lifted     bool
	lost       bool
	lastErr    string

	lock   sync.Mutex
	status Status

	cancel context.CancelFunc
	done   sync.WaitGroup
}

func New(name string, cfg config.Config, deps Deps) (*Follower, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sensorCfg := cfg.Sensors.Linesensor()
	f := &Follower{
		name:    name,
		cfg:     cfg,
		sensors: linesensor.New(deps.FrontEnd, deps.Emitter, sensorCfg),
		pid:     pid.New(),
		motors:  motors.New(deps.Sink, cfg.Motors.MinSpeed, cfg.Motors.MaxSpeed),
		clock:   deps.Clock,
		led:     deps.StatusLED,
		sounds:  deps.Sounds,
	}
	if f.clock == nil {
		f.clock = clock.NewSystem()
	}
	if f.led == nil {
		f.led = led.New(nil)
	}
	if err := cfg.PID.Apply(f.pid); err != nil {
		// The controller keeps running on the clamped gains.
		fmt.Println("LF: PID configuration:", err)
	}

	kp, ki, kd := f.pid.Gains()
	f.kp = f.tunables.Create("kp", kp.Float())
	f.ki = f.tunables.Create("ki", ki.Float())
	f.kd = f.tunables.Create("kd", kd.Float())
	f.gainGen = f.tunables.Generation()
	return f, nil
}

func (f *Follower) Name() string {
	return f.name
}

// Tunables are the live gains; changes are applied at the next tick.
func (f *Follower) Tunables() *tunable.Tunables {
	return &f.tunables
}

func (f *Follower) Sensors() *linesensor.Array {
	return f.sensors
}

// Init brings up the front end and starts a calibration sweep.
func (f *Follower) Init() error {
	if err := f.sensors.Init(); err != nil {
		f.phase = Failed
		return err
	}
	f.beginCalibration(f.clock.NowMillis())
	return nil
}

// Recalibrate asks the loop to start a new sweep at its next tick.
func (f *Follower) Recalibrate() {
	atomic.StoreInt32(&f.recalibrate, 1)
}

// Tick runs one iteration of the loop.
func (f *Follower) Tick() error {
	now := f.clock.NowMillis()
	if atomic.CompareAndSwapInt32(&f.recalibrate, 1, 0) {
		f.beginCalibration(now)
	}
	f.applyTunables()

	var err error
	switch f.phase {
	case Calibrating:
		err = f.calibrateTick(now)
	case Centring:
		err = f.centreTick(now)
	case Following:
		err = f.followTick(now)
	}
	if ledErr := f.led.Update(now); err == nil && ledErr != nil {
		err = errors.Wrap(ledErr, "updating status LED")
	}
	f.ticks++
	f.publish()
	return err
}

func (f *Follower) beginCalibration(now uint32) {
	fmt.Println("CAL: sweeping across the line")
	f.sensors.Reset()
	f.pid.Reset()
	f.phase = Calibrating
	f.calStart = now
	f.leg = max(f.cfg.Loop.CalibrateSwing/2, 1)
	f.legTicks = 0
	f.direction = 1
	f.validTicks = 0
	f.position = 0
	f.lifted = false
	f.lost = false
	_ = f.led.Set(led.Calibrating, now)
}

func (f *Follower) calibrationTimedOut(now uint32) bool {
	limit := uint32(f.cfg.Loop.CalibrateTimeout / time.Millisecond)
	return limit > 0 && now-f.calStart >= limit
}

// sweep spins in place, starting with half a swing so the sweep is centred
// on the starting heading.
func (f *Follower) sweep() error {
	f.turn = f.direction * f.cfg.Loop.CalibrateTurn
	err := f.motors.Drive(0, f.turn)
	f.legTicks++
	if f.legTicks >= f.leg {
		f.legTicks = 0
		f.leg = f.cfg.Loop.CalibrateSwing
		f.direction = -f.direction
	}
	return err
}

func (f *Follower) calibrateTick(now uint32) error {
	if f.calibrationTimedOut(now) {
		return f.fail(now, ErrCalibrationTimeout)
	}
	valid, err := f.sensors.Calibrate()
	if valid {
		f.validTicks++
	}
	// Keep sweeping for a full swing once valid so the histogram sees both
	// sides of the line.
	if f.validTicks >= f.cfg.Loop.CalibrateSwing {
		f.finishCalibration()
	}
	if sweepErr := f.sweep(); err == nil {
		err = sweepErr
	}
	return err
}

func (f *Follower) finishCalibration() {
	f.sensors.Coeff()
	polarity, fixed := f.cfg.Sensors.FixedPolarity()
	if fixed {
		f.sensors.SetPolarity(polarity)
	} else {
		polarity = f.sensors.DetectPolarity()
	}
	fmt.Printf("CAL: calibrated min=%v max=%v polarity=%v (fixed=%v)\n",
		f.sensors.Min(), f.sensors.Max(), polarity, fixed)
	f.playSound(sound.Calibrated)
	f.phase = Centring
}

func (f *Follower) centreTick(now uint32) error {
	if f.calibrationTimedOut(now) {
		return f.fail(now, ErrCalibrationTimeout)
	}
	pos, err := f.sensors.Position()
	f.position = pos
	if f.sensors.OnLine() && pos >= -fixedpoint.Half && pos <= fixedpoint.Half {
		fmt.Println("LF: centred on the line, following")
		f.turn = 0
		if stopErr := f.motors.Stop(f.cfg.Motors.Brake); err == nil {
			err = stopErr
		}
		f.pid.Reset()
		f.phase = Following
		_ = f.led.Set(led.Following, now)
		return err
	}
	if sweepErr := f.sweep(); err == nil {
		err = sweepErr
	}
	return err
}

func (f *Follower) fail(now uint32, cause error) error {
	fmt.Println("CAL: giving up:", cause)
	f.phase = Failed
	f.turn = 0
	_ = f.led.Set(led.Fault, now)
	f.playSound(sound.CalibrationFailed)
	if err := f.motors.Stop(f.cfg.Motors.Brake); err != nil {
		return errors.Wrap(err, "stopping after failed calibration")
	}
	return cause
}

func (f *Follower) followTick(now uint32) error {
	pos, err := f.sensors.Position()
	f.position = pos

	if !f.sensors.OnFloor() {
		if !f.lifted {
			fmt.Println("LF: lifted, stopping")
			f.playSound(sound.OffFloor)
			_ = f.led.Set(led.Fault, now)
			f.lifted = true
		}
		f.turn = 0
		f.pid.Reset()
		if stopErr := f.motors.Stop(f.cfg.Motors.Brake); err == nil {
			err = stopErr
		}
		return err
	}
	if f.lifted {
		fmt.Println("LF: back on the floor")
		f.lifted = false
		_ = f.led.Set(led.Following, now)
	}

	onLine := f.sensors.OnLine()
	if !onLine && !f.lost {
		fmt.Println("LF: line lost, steering towards", pos)
		f.playSound(sound.LineLost)
		_ = f.led.Set(led.LineLost, now)
	} else if onLine && f.lost {
		fmt.Println("LF: line found")
		_ = f.led.Set(led.Following, now)
	}
	f.lost = !onLine

	correction := f.pid.Step(pos, now)
	f.turn = correction.Round()
	if driveErr := f.motors.Drive(f.cfg.Motors.BaseSpeed, f.turn); err == nil {
		err = driveErr
	}

	if n := f.cfg.Loop.LogEvery; n > 0 && f.ticks%uint64(n) == 0 {
		t := f.pid.Terms()
		fmt.Printf("LF: pos=%v turn=%d P=%v I=%v D=%v online=%v\n", pos, f.turn, t.P, t.I, t.D, onLine)
	}
	return err
}

func (f *Follower) applyTunables() {
	gen := f.tunables.Generation()
	if gen == f.gainGen {
		return
	}
	f.gainGen = gen
	if err := f.pid.Configure(f.kp.Get(), f.ki.Get(), f.kd.Get()); err != nil {
		fmt.Println("LF: gains:", err)
	}
}

func (f *Follower) playSound(name string) {
	if f.sounds != nil {
		f.sounds.PlaySound(name)
	}
}

// Start runs the loop on the configured period until Stop or ctx is done.
func (f *Follower) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.done.Add(1)
	go f.loop(ctx)
}

func (f *Follower) Stop() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	f.done.Wait()
	f.cancel = nil
}

func (f *Follower) loop(ctx context.Context) {
	defer f.done.Done()
	defer fmt.Println("LF: loop exited")
	defer func() {
		if err := f.motors.Stop(f.cfg.Motors.Brake); err != nil {
			fmt.Println("LF: failed to stop motors:", err)
		}
		if err := f.sensors.Close(); err != nil {
			fmt.Println("LF: failed to switch emitters off:", err)
		}
	}()

	if err := f.Init(); err != nil {
		fmt.Println("LF: failed to initialise sensors:", err)
		f.publish()
		return
	}

	ticker := time.NewTicker(f.cfg.Loop.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := f.Tick()
		f.logError(err)
	}
}

// logError prints a tick error when it differs from the previous one.
func (f *Follower) logError(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if msg != f.lastErr && msg != "" {
		fmt.Println("LF: tick error:", msg)
	}
	f.lastErr = msg
}
