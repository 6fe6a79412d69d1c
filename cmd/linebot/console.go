package main

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/linebot/pkg/screen"
)

// ConsoleCmd reads commands from stdin and applies them to a simulated robot.
type ConsoleCmd struct {
	SimOptions
}

var consoleCLI struct {
	Quit  QuitCmd  `cmd:"" help:"Quit."`
	Step  StepCmd  `cmd:"" help:"Run the simulation for a while."`
	Show  ShowCmd  `cmd:"" help:"Print the loop state."`
	Cal   CalCmd   `cmd:"" help:"Print the calibration."`
	Recal RecalCmd `cmd:"" help:"Start a new calibration sweep."`
	Set   SetCmd   `cmd:"" help:"Set a tunable."`
	Next  NextCmd  `cmd:"" help:"Select the next tunable."`
	Prev  PrevCmd  `cmd:"" help:"Select the previous tunable."`
	Up    UpCmd    `cmd:"" help:"Nudge the selected tunable up."`
	Down  DownCmd  `cmd:"" help:"Nudge the selected tunable down."`
	Lift  LiftCmd  `cmd:"" help:"Pick the robot up."`
	Drop  DropCmd  `cmd:"" help:"Put the robot back down."`
	Move  MoveCmd  `cmd:"" help:"Move the robot sideways."`
	Snap  SnapCmd  `cmd:"" help:"Save the status screen as a PNG."`
}

var Quit = errors.New("Quit")

type QuitCmd struct{}

func (q *QuitCmd) Run(r *simRobot) error {
	return Quit
}

type StepCmd struct {
	Duration time.Duration `arg:"" optional:"" default:"1s"`
}

func (c *StepCmd) Run(r *simRobot) error {
	r.run(c.Duration, nil)
	r.show()
	return nil
}

type ShowCmd struct{}

func (c *ShowCmd) Run(r *simRobot) error {
	r.show()
	st := r.f.Status()
	t := st.Terms
	fmt.Printf("P=%v I=%v D=%v raw=%v norm=%v\n", t.P, t.I, t.D, st.Raw, st.Normalized)
	for _, tn := range r.f.Tunables().All {
		fmt.Printf("  %s = %v\n", tn.Name, tn.Get())
	}
	return nil
}

type CalCmd struct{}

func (c *CalCmd) Run(r *simRobot) error {
	printCalibration(r.f.Calibration())
	return nil
}

type RecalCmd struct{}

func (c *RecalCmd) Run(r *simRobot) error {
	r.f.Recalibrate()
	return nil
}

type SetCmd struct {
	Name  string  `arg:""`
	Value float64 `arg:""`
}

func (c *SetCmd) Run(r *simRobot) error {
	t := r.f.Tunables().Find(c.Name)
	if t == nil {
		return errors.Errorf("no tunable %q", c.Name)
	}
	t.Set(c.Value)
	return nil
}

type NextCmd struct{}

func (c *NextCmd) Run(r *simRobot) error {
	r.f.Tunables().SelectNext()
	return nil
}

type PrevCmd struct{}

func (c *PrevCmd) Run(r *simRobot) error {
	r.f.Tunables().SelectPrev()
	return nil
}

// Nudges are in thousandths.
type UpCmd struct {
	By int `arg:"" optional:"" default:"500"`
}

func (c *UpCmd) Run(r *simRobot) error {
	r.f.Tunables().Current().Add(c.By)
	return nil
}

type DownCmd struct {
	By int `arg:"" optional:"" default:"500"`
}

func (c *DownCmd) Run(r *simRobot) error {
	r.f.Tunables().Current().Add(-c.By)
	return nil
}

type LiftCmd struct{}

func (c *LiftCmd) Run(r *simRobot) error {
	r.world.Lift(true)
	return nil
}

type DropCmd struct{}

func (c *DropCmd) Run(r *simRobot) error {
	r.world.Lift(false)
	return nil
}

type MoveCmd struct {
	Left float64 `arg:"" help:"Millimetres to the robot's left."`
}

func (c *MoveCmd) Run(r *simRobot) error {
	p := r.world.Pose()
	sin, cos := math.Sincos(p.Heading)
	p.X -= c.Left * sin
	p.Y += c.Left * cos
	r.world.SetPose(p)
	return nil
}

type SnapCmd struct {
	Path string `arg:"" type:"path"`
}

func (c *SnapCmd) Run(r *simRobot) error {
	return screen.SavePNG(c.Path, r.f.Status().Screen(r.f.Name()))
}

func (c *ConsoleCmd) Run(g *Globals) error {
	cfg := g.loadConfig()
	r, err := c.newRobot(cfg)
	if err != nil {
		return err
	}

	k, err := kong.New(&consoleCLI, kong.Exit(func(int) {}))
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Println("Enter a command:")
		if !scanner.Scan() {
			break
		}
		command := strings.TrimSpace(scanner.Text())
		if command == "" {
			continue
		}
		parsed, err := k.Parse(strings.Fields(command))
		if err != nil {
			fmt.Println("parse error:", err)
			continue
		}
		err = parsed.Run(r)
		if err == Quit {
			break
		} else if err != nil {
			fmt.Println("ERROR:", err)
			continue
		}
	}
	return scanner.Err()
}
