package main

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/linebot/pkg/config"
	"github.com/tigerbot-team/linebot/pkg/linefollow"
	"github.com/tigerbot-team/linebot/pkg/screen"
	"github.com/tigerbot-team/linebot/pkg/sim"
)

// SimOptions describe the simulated track and robot.
type SimOptions struct {
	Track   string  `enum:"straight,circle" default:"straight" help:"Track shape (straight, circle)."`
	Radius  float64 `default:"500" help:"Circle radius in mm; negative curves right."`
	Offset  float64 `help:"Starting sideways offset in mm, positive puts the robot left of the line."`
	Heading float64 `help:"Starting heading in radians."`
	Noise   float64 `help:"Standard deviation of the reading noise."`
	Seed    int64   `default:"1" help:"Noise seed."`
}

// simRobot is a follower driven in lockstep with a simulated world.
type simRobot struct {
	f      *linefollow.Follower
	world  *sim.World
	period time.Duration
}

func (o SimOptions) newRobot(cfg config.Config) (*simRobot, error) {
	p := sim.DefaultParams()
	p.Noise = o.Noise
	p.Seed = o.Seed

	var track sim.Track = sim.Straight{}
	start := sim.Pose{Y: o.Offset, Heading: o.Heading}
	if o.Track == "circle" {
		track = sim.Circle{Radius: math.Abs(o.Radius)}
		if o.Radius < 0 {
			// Mirrored, the circle curves to the right.
			track = mirrored{track}
		}
	}
	world := sim.New(p, track, start)

	f, err := linefollow.New("SIM", cfg, linefollow.Deps{
		FrontEnd: world,
		Emitter:  world,
		Sink:     world,
		Clock:    world,
		Sounds:   printSounder{},
	})
	if err != nil {
		return nil, err
	}
	if err := f.Init(); err != nil {
		return nil, errors.Wrap(err, "initialising simulated sensors")
	}
	return &simRobot{f: f, world: world, period: cfg.Loop.Period}, nil
}

type mirrored struct {
	sim.Track
}

func (m mirrored) Distance(x, y float64) float64 {
	return m.Track.Distance(x, -y)
}

type printSounder struct{}

func (printSounder) PlaySound(name string) {
	fmt.Println("SIM: sound", name)
}

// run advances the simulation by d, calling report after every tick.
func (r *simRobot) run(d time.Duration, report func(elapsed time.Duration)) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += r.period {
		if err := r.f.Tick(); err != nil {
			fmt.Println("SIM: tick error:", err)
		}
		r.world.Step(r.period)
		if report != nil {
			report(elapsed + r.period)
		}
	}
}

func (r *simRobot) show() {
	st := r.f.Status()
	pose := r.world.Pose()
	fmt.Printf("SIM: t=%dms phase=%v pos=%v turn=%d online=%v floor=%v offset=%.1fmm x=%.0f y=%.0f heading=%.2f\n",
		r.world.NowMillis(), st.Phase, st.Position, st.Turn, st.OnLine, st.OnFloor,
		r.world.Offset(), pose.X, pose.Y, pose.Heading)
}

type SimCmd struct {
	SimOptions

	Duration time.Duration `default:"10s" help:"Simulated time to run for."`
	Every    time.Duration `default:"1s" help:"How often to print the state."`
	Snapshot string        `help:"Write the final status screen to this PNG." type:"path"`
}

func (c *SimCmd) Run(g *Globals) error {
	cfg := g.loadConfig()
	r, err := c.newRobot(cfg)
	if err != nil {
		return err
	}

	var worst, total float64
	var samples int
	r.run(c.Duration, func(elapsed time.Duration) {
		if c.Every > 0 && elapsed%c.Every == 0 {
			r.show()
		}
		if r.f.Status().Phase == linefollow.Following {
			off := r.world.Offset()
			worst = math.Max(worst, off)
			total += off
			samples++
		}
	})

	st := r.f.Status()
	fmt.Printf("SIM: done phase=%v following for %v\n", st.Phase, time.Duration(samples)*r.period)
	if samples > 0 {
		fmt.Printf("SIM: offset mean=%.2fmm worst=%.2fmm\n", total/float64(samples), worst)
	}
	fmt.Printf("SIM: saturations pid=%d sensors=%d\n", st.PIDSaturations, st.SensorSaturations)

	if c.Snapshot != "" {
		if err := screen.SavePNG(c.Snapshot, st.Screen(r.f.Name())); err != nil {
			return err
		}
		fmt.Println("SIM: wrote", c.Snapshot)
	}
	if st.Phase == linefollow.Failed {
		return linefollow.ErrCalibrationTimeout
	}
	return nil
}
