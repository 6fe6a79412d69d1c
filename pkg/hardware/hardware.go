package hardware

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/periph/host"

	"github.com/tigerbot-team/linebot/pkg/config"
	"github.com/tigerbot-team/linebot/pkg/frontend"
	"github.com/tigerbot-team/linebot/pkg/gpioline"
	"github.com/tigerbot-team/linebot/pkg/led"
	"github.com/tigerbot-team/linebot/pkg/linesensor"
	"github.com/tigerbot-team/linebot/pkg/motors"
	"github.com/tigerbot-team/linebot/pkg/mux"
	"github.com/tigerbot-team/linebot/pkg/pca9685"
	"github.com/tigerbot-team/linebot/pkg/sound"
)

var ErrSimFrontEnd = errors.New("the sim front end is provided by the simulator")

// Hardware is the robot as assembled from the hardware config.
type Hardware struct {
	FrontEnd  linesensor.FrontEnd
	Emitter   linesensor.Emitter
	Motors    motors.Sink
	StatusLED *led.Blinker

	openPin      gpioline.OpenFunc
	soundDir     string
	soundsToPlay chan string
	closers      []io.Closer

	stopLoop context.CancelFunc
	loopDone sync.WaitGroup
}

// New opens the devices named in cfg. With dryRun the motors are replaced by a
// Dummy that only prints.
func New(cfg config.Config, dryRun bool) (*Hardware, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "initialising periph")
	}
	h := &Hardware{
		soundDir: cfg.Sounds.Dir,
	}
	hc := cfg.Hardware

	open, err := gpioline.ForBackend(hc.GPIO)
	if err != nil {
		return nil, err
	}
	h.openPin = h.tracking(open)

	fe, err := h.openFrontEnd(hc)
	if err != nil {
		h.close()
		return nil, err
	}
	h.FrontEnd = fe

	if hc.EmitterPin != "" {
		e, err := frontend.NewGPIOEmitter(hc.EmitterPin, h.openPin)
		if err != nil {
			h.close()
			return nil, err
		}
		h.Emitter = e
	}

	statusPin, err := h.lookupPin(hc.StatusLEDPin)
	if err != nil {
		h.close()
		return nil, err
	}
	h.StatusLED = led.New(statusPin)

	if dryRun {
		h.Motors = NewDummy()
	} else {
		dirL, err := h.lookupPin(hc.DirLeftPin)
		if err != nil {
			h.close()
			return nil, err
		}
		dirR, err := h.lookupPin(hc.DirRightPin)
		if err != nil {
			h.close()
			return nil, err
		}
		open := func() (pca9685.Interface, error) {
			return pca9685.New(hc.I2CDevice)
		}
		h.Motors = NewI2CMotors(open, hc.PWMLeft, hc.PWMRight, dirL, dirR)
	}

	if cfg.Sounds.Enabled {
		h.soundsToPlay = sound.InitSound()
	}
	return h, nil
}

func (h *Hardware) openFrontEnd(hc config.HardwareConfig) (linesensor.FrontEnd, error) {
	switch hc.FrontEnd {
	case config.FrontEndMCP3008:
		adc, err := frontend.NewMCP3008(hc.SPIDevice, hc.SPIKHz)
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, adc)
		return adc, nil
	case config.FrontEndMuxed:
		m, err := mux.New(hc.MuxPins, h.openPin)
		if err != nil {
			return nil, err
		}
		adc, err := frontend.NewMCP3008(hc.SPIDevice, hc.SPIKHz)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		fe := frontend.NewMuxed(m, adc, hc.MuxADCChannel)
		h.closers = append(h.closers, fe)
		return fe, nil
	case config.FrontEndSerial:
		s, err := frontend.OpenSerial(hc.SerialPort, hc.SerialBaud)
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, s)
		return s, nil
	case config.FrontEndSim:
		return nil, ErrSimFrontEnd
	}
	return nil, errors.Errorf("unknown front end %q", hc.FrontEnd)
}

// tracking wraps open so lines that need releasing are closed on shutdown.
func (h *Hardware) tracking(open gpioline.OpenFunc) gpioline.OpenFunc {
	return func(name string) (gpioline.Output, error) {
		p, err := open(name)
		if err != nil {
			return nil, err
		}
		if c, ok := p.(io.Closer); ok {
			h.closers = append(h.closers, c)
		}
		return p, nil
	}
}

// lookupPin opens an optional pin; an empty name means not fitted.
func (h *Hardware) lookupPin(name string) (mux.Pin, error) {
	if name == "" {
		return nil, nil
	}
	return h.openPin(name)
}

// Start runs the motor driver's background loop, if it has one, and waits
// for it to initialise.
func (h *Hardware) Start(ctx context.Context) {
	d, ok := h.Motors.(MotorDriver)
	if !ok {
		return
	}
	ctx, h.stopLoop = context.WithCancel(ctx)
	var initDone sync.WaitGroup
	initDone.Add(1)
	h.loopDone.Add(1)
	go func() {
		defer h.loopDone.Done()
		d.Loop(ctx, &initDone)
	}()
	initDone.Wait()
}

// PlaySound queues the named sound from the sounds directory.
func (h *Hardware) PlaySound(name string) {
	if h.soundsToPlay == nil {
		return
	}
	path := filepath.Join(h.soundDir, name)
	defer func() {
		recover() // Don't die if the channel is already closed.
	}()
	select {
	case h.soundsToPlay <- path:
		return
	case <-time.After(10 * time.Millisecond):
		fmt.Println("Timed out trying to play sound: ", path)
	}
}

func (h *Hardware) Shutdown() {
	fmt.Println("HW: Shutting down")
	if h.Motors != nil {
		_ = h.Motors.SetMotors(0, true, 0, true)
	}
	// The motor loop still drives the direction pins; it has to be gone
	// before they are released.
	if h.stopLoop != nil {
		h.stopLoop()
		h.stopLoop = nil
	}
	h.loopDone.Wait()
	if h.Emitter != nil {
		_ = h.Emitter.Off()
	}
	h.close()
	if h.soundsToPlay != nil {
		close(h.soundsToPlay)
		h.soundsToPlay = nil
	}
}

func (h *Hardware) close() {
	// Newest first, so devices are closed before the pins under them.
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i].Close(); err != nil {
			fmt.Println("HW: close failed:", err)
		}
	}
	h.closers = nil
}
