package linefollow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerbot-team/linebot/pkg/clock"
	"github.com/tigerbot-team/linebot/pkg/config"
	"github.com/tigerbot-team/linebot/pkg/fixedpoint"
	"github.com/tigerbot-team/linebot/pkg/sim"
	"github.com/tigerbot-team/linebot/pkg/sound"
)

type recordingSounder struct {
	lock   sync.Mutex
	played []string
}

func (r *recordingSounder) PlaySound(name string) {
	r.lock.Lock()
	r.played = append(r.played, name)
	r.lock.Unlock()
}

func (r *recordingSounder) Played() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]string(nil), r.played...)
}

type rig struct {
	f      *Follower
	world  *sim.World
	sounds *recordingSounder
	period time.Duration
}

func newRig(t *testing.T, cfg config.Config, track sim.Track, start sim.Pose) *rig {
	t.Helper()
	world := sim.New(sim.DefaultParams(), track, start)
	sounds := &recordingSounder{}
	f, err := New("test", cfg, Deps{
		FrontEnd: world,
		Emitter:  world,
		Sink:     world,
		Clock:    world,
		Sounds:   sounds,
	})
	require.NoError(t, err)
	require.NoError(t, f.Init())
	return &rig{f: f, world: world, sounds: sounds, period: cfg.Loop.Period}
}

// tick runs one loop iteration then lets the world move for a period.
func (r *rig) tick() error {
	err := r.f.Tick()
	r.world.Step(r.period)
	return err
}

// runUntil ticks until done returns true or limit simulated time has passed.
func (r *rig) runUntil(t *testing.T, limit time.Duration, done func() bool) bool {
	t.Helper()
	for elapsed := time.Duration(0); elapsed < limit; elapsed += r.period {
		if err := r.tick(); err != nil {
			t.Logf("tick error: %v", err)
		}
		if done() {
			return true
		}
	}
	return false
}

func (r *rig) phaseIs(p Phase) func() bool {
	return func() bool { return r.f.Status().Phase == p }
}

func TestCalibratesAndCentres(t *testing.T) {
	r := newRig(t, config.Default(), sim.Straight{}, sim.Pose{})
	assert.Equal(t, Calibrating, r.f.Status().Phase)

	require.True(t, r.runUntil(t, 3*time.Second, r.phaseIs(Following)), "never started following")

	cal := r.f.Calibration()
	assert.True(t, cal.Valid)
	assert.True(t, cal.Polarity, "a dark line reads high")
	for c := range cal.Min {
		assert.EqualValues(t, 40, cal.Min[c], "channel %d", c)
		assert.EqualValues(t, 220, cal.Max[c], "channel %d", c)
		assert.EqualValues(t, 130, cal.Thresholds[c], "channel %d", c)
	}
	assert.Contains(t, r.sounds.Played(), sound.Calibrated)

	st := r.f.Status()
	assert.True(t, st.OnLine)
	assert.True(t, st.OnFloor)
	assert.LessOrEqual(t, int(st.Position), int(fixedpoint.Half))
	assert.GreaterOrEqual(t, int(st.Position), -int(fixedpoint.Half))
}

func TestCalibratesFromAnAngle(t *testing.T) {
	for _, heading := range []float64{0.3, -0.3} {
		r := newRig(t, config.Default(), sim.Straight{}, sim.Pose{Heading: heading})
		assert.True(t, r.runUntil(t, 3*time.Second, r.phaseIs(Following)), "heading %v", heading)
	}
}

func TestFollowsStraightLine(t *testing.T) {
	r := newRig(t, config.Default(), sim.Straight{}, sim.Pose{})
	require.True(t, r.runUntil(t, 3*time.Second, r.phaseIs(Following)))

	startX := r.world.Pose().X
	worst := 0.0
	for i := 0; i < 500; i++ {
		require.NoError(t, r.tick())
		if i > 100 {
			worst = max(worst, r.world.Offset())
		}
	}
	assert.Less(t, worst, 2.0, "strayed from the line")
	assert.Greater(t, r.world.Pose().X-startX, 1000.0, "did not drive along the line")
	assert.True(t, r.f.Status().OnLine)
}

func TestFollowsCircle(t *testing.T) {
	r := newRig(t, config.Default(), sim.Circle{Radius: 500}, sim.Pose{})
	require.True(t, r.runUntil(t, 3*time.Second, r.phaseIs(Following)))

	worst := 0.0
	for i := 0; i < 1000; i++ {
		require.NoError(t, r.tick())
		if i > 200 {
			assert.True(t, r.f.Status().OnLine, "lost the line at tick %d", i)
			worst = max(worst, r.world.Offset())
		}
	}
	assert.Less(t, worst, 6.0)

	// A steady left curve needs a steady positive correction.
	assert.Greater(t, r.f.Status().Turn, 0)
}

func TestStopsWhenLiftedAndResumes(t *testing.T) {
	r := newRig(t, config.Default(), sim.Straight{}, sim.Pose{})
	require.True(t, r.runUntil(t, 3*time.Second, r.phaseIs(Following)))
	for i := 0; i < 20; i++ {
		require.NoError(t, r.tick())
	}

	r.world.Lift(true)
	require.NoError(t, r.tick())
	st := r.f.Status()
	assert.True(t, st.Lifted)
	assert.False(t, st.OnFloor)
	assert.Equal(t, 0, st.Turn)
	left, right := r.world.Wheels()
	assert.Zero(t, left)
	assert.Zero(t, right)
	assert.False(t, st.Screen("test").OnFloor)

	// Staying lifted only reports once.
	require.NoError(t, r.tick())
	require.NoError(t, r.tick())
	played := 0
	for _, s := range r.sounds.Played() {
		if s == sound.OffFloor {
			played++
		}
	}
	assert.Equal(t, 1, played)

	r.world.Lift(false)
	require.NoError(t, r.tick())
	st = r.f.Status()
	assert.False(t, st.Lifted)
	assert.True(t, st.OnFloor)
	left, right = r.world.Wheels()
	assert.Greater(t, left, 0.0)
	assert.Greater(t, right, 0.0)
}

func TestBrakesWhenConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.Motors.Brake = true
	r := newRig(t, cfg, sim.Straight{}, sim.Pose{})
	require.True(t, r.runUntil(t, 3*time.Second, r.phaseIs(Following)))
	require.NoError(t, r.tick())

	r.world.Lift(true)
	require.NoError(t, r.tick())
	assert.True(t, r.world.Braked())
}

func TestLineLostHoldsLastPosition(t *testing.T) {
	r := newRig(t, config.Default(), sim.Straight{}, sim.Pose{})
	require.True(t, r.runUntil(t, 3*time.Second, r.phaseIs(Following)))

	// Shift the robot right of the line: the line is now to its left.
	p := r.world.Pose()
	r.world.SetPose(sim.Pose{X: p.X, Y: -15})
	require.NoError(t, r.f.Tick())
	before := r.f.Status()
	require.True(t, before.OnLine)
	require.Greater(t, int(before.Position), 0)

	// Now well clear of it.
	r.world.SetPose(sim.Pose{X: p.X, Y: -100})
	r.world.Step(r.period)
	require.NoError(t, r.f.Tick())
	after := r.f.Status()
	assert.False(t, after.OnLine)
	assert.True(t, after.OnFloor)
	assert.Equal(t, before.Position, after.Position)
	assert.Greater(t, after.Turn, 0, "keeps steering towards the side the line was lost")
	assert.Contains(t, r.sounds.Played(), sound.LineLost)
}

func TestCalibrationTimesOut(t *testing.T) {
	cfg := config.Default()
	cfg.Loop.CalibrateTimeout = 500 * time.Millisecond
	r := newRig(t, cfg, sim.Straight{}, sim.Pose{})
	r.world.Lift(true)

	var err error
	for i := 0; i < 100 && err == nil; i++ {
		err = r.tick()
	}
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCalibrationTimeout))

	st := r.f.Status()
	assert.Equal(t, Failed, st.Phase)
	assert.Equal(t, "CAL FAILED", st.Screen("test").Notice)
	assert.False(t, r.f.Calibration().Valid)
	assert.Contains(t, r.sounds.Played(), sound.CalibrationFailed)
	left, right := r.world.Wheels()
	assert.Zero(t, left)
	assert.Zero(t, right)

	// A failed loop stays put until asked to recalibrate.
	require.NoError(t, r.tick())
	assert.Equal(t, Failed, r.f.Status().Phase)

	r.world.Lift(false)
	r.f.Recalibrate()
	require.NoError(t, r.tick())
	assert.Equal(t, Calibrating, r.f.Status().Phase)
	assert.True(t, r.runUntil(t, 3*time.Second, r.phaseIs(Following)))
}

func TestRecalibrate(t *testing.T) {
	r := newRig(t, config.Default(), sim.Straight{}, sim.Pose{})
	require.True(t, r.runUntil(t, 3*time.Second, r.phaseIs(Following)))

	r.f.Recalibrate()
	require.NoError(t, r.tick())
	assert.Equal(t, Calibrating, r.f.Status().Phase)
	assert.True(t, r.runUntil(t, 3*time.Second, r.phaseIs(Following)))
	assert.True(t, r.f.Calibration().Valid)
}

func TestForcedPolarity(t *testing.T) {
	cfg := config.Default()
	cfg.Sensors.Polarity = config.PolarityLow
	r := newRig(t, cfg, sim.Straight{}, sim.Pose{})
	require.True(t, r.runUntil(t, 3*time.Second, func() bool {
		return r.f.Status().Phase != Calibrating
	}))
	assert.False(t, r.f.Calibration().Polarity)
}

func TestTunablesReachThePID(t *testing.T) {
	r := newRig(t, config.Default(), sim.Straight{}, sim.Pose{})
	kp, ki, kd := r.f.pid.Gains()
	assert.Equal(t, fixedpoint.FromInt(16), kp)
	assert.Equal(t, fixedpoint.Q(0), ki)
	assert.Equal(t, fixedpoint.FromInt(40), kd)

	tun := r.f.Tunables()
	require.NotNil(t, tun.Find("kp"))
	tun.Find("kp").Set(8)
	tun.Find("kd").Add(-20000)
	require.NoError(t, r.tick())

	kp, _, kd = r.f.pid.Gains()
	assert.Equal(t, fixedpoint.FromInt(8), kp)
	assert.Equal(t, fixedpoint.FromInt(20), kd)
}

func TestStatusScreen(t *testing.T) {
	s := Status{
		Phase:      Following,
		Position:   fixedpoint.FromFloat(1.5),
		Turn:       24,
		OnLine:     true,
		OnFloor:    true,
		Polarity:   true,
		Normalized: [8]uint8{1, 2, 3, 4, 5, 6, 7, 8},
	}
	sc := s.Screen("follow")
	assert.Equal(t, "follow", sc.Mode)
	assert.Equal(t, "following", sc.State)
	assert.InDelta(t, 1.5, sc.Position, 0.01)
	assert.Equal(t, 24, sc.Turn)
	assert.Equal(t, s.Normalized, sc.Readings)
	assert.Empty(t, sc.Notice)
}

func TestStartStop(t *testing.T) {
	world := sim.New(sim.DefaultParams(), sim.Straight{}, sim.Pose{})
	f, err := New("loop", config.Default(), Deps{
		FrontEnd: world,
		Emitter:  world,
		Sink:     world,
		Clock:    clock.NewSystem(),
	})
	require.NoError(t, err)

	f.Start(context.Background())
	assert.Eventually(t, func() bool { return f.Status().Ticks >= 3 }, time.Second, 5*time.Millisecond)
	f.Stop()

	left, right := world.Wheels()
	assert.Zero(t, left)
	assert.Zero(t, right)
	assert.Equal(t, sim.DefaultParams().Lifted, world.Reading(3), "emitters left on")

	// Stopping twice is harmless.
	f.Stop()
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Loop.Period = 0
	_, err := New("bad", cfg, Deps{})
	assert.Error(t, err)
}
