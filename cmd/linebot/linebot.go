package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/linebot/pkg/config"
	"github.com/tigerbot-team/linebot/pkg/hardware"
	"github.com/tigerbot-team/linebot/pkg/linefollow"
	"github.com/tigerbot-team/linebot/pkg/screen"
	"github.com/tigerbot-team/linebot/pkg/sound"
)

type Globals struct {
	Config string `help:"Config file." default:"${config_path}" type:"path"`
}

var CLI struct {
	Globals

	Run       RunCmd       `cmd:"" default:"1" help:"Calibrate, then follow the line."`
	Calibrate CalibrateCmd `cmd:"" help:"Calibrate the sensor array and print the result."`
	Sim       SimCmd       `cmd:"" help:"Run the loop against the simulated track."`
	Console   ConsoleCmd   `cmd:"" help:"Interactive console on the simulated robot."`
}

func main() {
	fmt.Println("---- linebot ----")
	fmt.Println("GOMAXPROCS", runtime.GOMAXPROCS(0))

	ctx := kong.Parse(&CLI,
		kong.Name("linebot"),
		kong.Description("Line follower controller."),
		kong.Vars{"config_path": config.DefaultPath},
	)
	err := ctx.Run(&CLI.Globals)
	ctx.FatalIfErrorf(err)
}

// loadConfig loads the config file and records what is actually in use next
// to it. A broken file is reported and the defaults are used.
func (g *Globals) loadConfig() config.Config {
	cfg, err := config.Load(g.Config)
	if err != nil {
		fmt.Println("Failed to load config, using defaults:", err)
	}
	if err := cfg.WriteInUse(config.InUsePath(g.Config)); err != nil {
		fmt.Println("Failed to write in-use config:", err)
	}
	return cfg
}

type RunCmd struct {
	DryRun bool `help:"Print motor commands instead of driving the motors."`
}

func (c *RunCmd) Run(g *Globals) error {
	cfg := g.loadConfig()

	// Our global context, we cancel it to trigger shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registerSignalHandlers(cancel)

	hw, f, err := startRobot(ctx, cfg, c.DryRun)
	if err != nil {
		return err
	}
	defer func() {
		fmt.Println("Zeroing motors for shut down")
		f.Stop()
		cancel()
		hw.Shutdown()
		time.Sleep(100 * time.Millisecond)
	}()

	watchdog := time.NewTicker(5 * time.Second)
	defer watchdog.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println("Context done, stopping the loop and shutting down")
			f.Stop()
			return nil
		case <-watchdog.C:
			st := f.Status()
			fmt.Printf("Main loop still running: phase=%v ticks=%d online=%v\n", st.Phase, st.Ticks, st.OnLine)
		}
	}
}

type CalibrateCmd struct {
	DryRun  bool          `help:"Print motor commands instead of driving the motors."`
	Timeout time.Duration `default:"30s" help:"Give up after this long."`
}

func (c *CalibrateCmd) Run(g *Globals) error {
	cfg := g.loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	registerSignalHandlers(cancel)

	hw, f, err := startRobot(ctx, cfg, c.DryRun)
	if err != nil {
		return err
	}
	defer func() {
		f.Stop()
		cancel()
		hw.Shutdown()
	}()

	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			f.Stop()
			return errors.Wrap(ctx.Err(), "waiting for calibration")
		case <-poll.C:
		}
		phase := f.Status().Phase
		if phase != linefollow.Following && phase != linefollow.Failed {
			continue
		}
		f.Stop()
		printCalibration(f.Calibration())
		if phase == linefollow.Failed {
			return linefollow.ErrCalibrationTimeout
		}
		return nil
	}
}

// startRobot opens the hardware and starts the follower on it.
func startRobot(ctx context.Context, cfg config.Config, dryRun bool) (*hardware.Hardware, *linefollow.Follower, error) {
	hw, err := hardware.New(cfg, dryRun)
	if errors.Cause(err) == hardware.ErrSimFrontEnd {
		return nil, nil, errors.Wrap(err, "use the sim or console commands")
	} else if err != nil {
		return nil, nil, err
	}
	hw.Start(ctx)

	if cfg.Screen.Enabled {
		go screen.LoopUpdatingScreen(ctx, cfg.Screen.Framebuffer)
	}
	hw.PlaySound(sound.Start)

	f, err := linefollow.New("LINE FOLLOW", cfg, linefollow.Deps{
		FrontEnd:  hw.FrontEnd,
		Emitter:   hw.Emitter,
		Sink:      hw.Motors,
		StatusLED: hw.StatusLED,
		Sounds:    hw,
	})
	if err != nil {
		hw.Shutdown()
		return nil, nil, err
	}
	fmt.Printf("----- %s -----\n", f.Name())
	f.Start(ctx)
	return hw, f, nil
}

func printCalibration(cal linefollow.Calibration) {
	fmt.Println("CAL: valid:", cal.Valid, "polarity:", cal.Polarity)
	fmt.Println("CAL: ch   min  max  range  thresh  coeff")
	for c := range cal.Min {
		fmt.Printf("CAL: %2d  %4d %4d  %5d  %6d  %v\n",
			c, cal.Min[c], cal.Max[c], cal.Range[c], cal.Thresholds[c], cal.Coefficients[c])
	}
	fmt.Println("CAL: histogram:", cal.Histogram)
}

func registerSignalHandlers(cancelFunc context.CancelFunc) {
	// Hook Ctrl-C to cause shut down.
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		s := <-signals
		log.Println("Signal: ", s)
		cancelFunc()
		time.Sleep(2 * time.Second)
		os.Exit(0)
	}()
}
