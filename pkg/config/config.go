package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/tigerbot-team/linebot/pkg/gpioline"
	"github.com/tigerbot-team/linebot/pkg/linesensor"
	"github.com/tigerbot-team/linebot/pkg/pid"
)

const (
	DefaultPath = "/cfg/linebot.yaml"

	FormIdeal    = "ideal"
	FormStandard = "standard"

	PolarityAuto = "auto"
	PolarityHigh = "high"
	PolarityLow  = "low"

	FloorAnyInactive = "any-inactive"
	FloorAnyBelow    = "any-below"

	FrontEndMCP3008 = "mcp3008"
	FrontEndMuxed   = "muxed"
	FrontEndSerial  = "serial"
	FrontEndSim     = "sim"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	PID      PIDConfig      `yaml:"pid"`
	Sensors  SensorConfig   `yaml:"sensors"`
	Motors   MotorConfig    `yaml:"motors"`
	Loop     LoopConfig     `yaml:"loop"`
	Hardware HardwareConfig `yaml:"hardware"`
	Screen   ScreenConfig   `yaml:"screen"`
	Sounds   SoundConfig    `yaml:"sounds"`
}

type PIDConfig struct {
	// Form selects ideal (kp, ki, kd) or standard (kp, ti, td) gains.
	Form string  `yaml:"form"`
	Kp   float64 `yaml:"kp"`
	Ki   float64 `yaml:"ki"`
	Kd   float64 `yaml:"kd"`
	Ti   float64 `yaml:"ti"`
	Td   float64 `yaml:"td"`

	OutputBits   int  `yaml:"output_bits"`
	OutputSigned bool `yaml:"output_signed"`
}

type SensorConfig struct {
	Threshold   uint8         `yaml:"threshold"`
	Weight      float64       `yaml:"weight"`
	Mode        string        `yaml:"mode"`
	SettleDelay time.Duration `yaml:"settle_delay"`

	// Polarity is auto (detected after calibration), high (the line reads
	// higher than the floor) or low.
	Polarity string `yaml:"polarity"`

	Floor          string `yaml:"floor"`
	FloorThreshold uint8  `yaml:"floor_threshold"`
}

type MotorConfig struct {
	BaseSpeed int   `yaml:"base_speed"`
	MinSpeed  uint8 `yaml:"min_speed"`
	MaxSpeed  uint8 `yaml:"max_speed"`
	Brake     bool  `yaml:"brake"`
}

type LoopConfig struct {
	Period   time.Duration `yaml:"period"`
	LogEvery int           `yaml:"log_every"`

	// The calibration sweep spins in place at CalibrateTurn, reversing every
	// CalibrateSwing ticks, until the array is valid or the timeout passes.
	CalibrateTurn    int           `yaml:"calibrate_turn"`
	CalibrateSwing   int           `yaml:"calibrate_swing"`
	CalibrateTimeout time.Duration `yaml:"calibrate_timeout"`
}

type HardwareConfig struct {
	FrontEnd string `yaml:"frontend"`

	// GPIO is auto, periph or gpiocdev.
	GPIO string `yaml:"gpio"`

	SPIDevice string `yaml:"spi_device"`
	SPIKHz    int    `yaml:"spi_khz"`

	// For the muxed front end: the ADC input behind the multiplexer and the
	// three select lines, least significant first.
	MuxADCChannel int      `yaml:"mux_adc_channel"`
	MuxPins       []string `yaml:"mux_pins"`

	SerialPort string `yaml:"serial_port"`
	SerialBaud int    `yaml:"serial_baud"`

	EmitterPin   string `yaml:"emitter_pin"`
	StatusLEDPin string `yaml:"status_led_pin"`

	I2CDevice   string `yaml:"i2c_device"`
	PWMLeft     int    `yaml:"pwm_left"`
	PWMRight    int    `yaml:"pwm_right"`
	DirLeftPin  string `yaml:"dir_left_pin"`
	DirRightPin string `yaml:"dir_right_pin"`
}

type ScreenConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Framebuffer string `yaml:"framebuffer"`
}

type SoundConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

func Default() Config {
	return Config{
		PID: PIDConfig{
			Form:         FormIdeal,
			Kp:           16,
			Ki:           0,
			Kd:           40,
			OutputBits:   16,
			OutputSigned: true,
		},
		Sensors: SensorConfig{
			Threshold:      linesensor.DefaultThreshold,
			Weight:         linesensor.DefaultWeight,
			Mode:           linesensor.Analog.String(),
			SettleDelay:    linesensor.DefaultSettleDelay,
			Polarity:       PolarityAuto,
			Floor:          FloorAnyInactive,
			FloorThreshold: 0x20,
		},
		Motors: MotorConfig{
			BaseSpeed: 120,
			MinSpeed:  60,
			MaxSpeed:  255,
		},
		Loop: LoopConfig{
			Period:           10 * time.Millisecond,
			LogEvery:         25,
			CalibrateTurn:    90,
			CalibrateSwing:   40,
			CalibrateTimeout: 10 * time.Second,
		},
		Hardware: HardwareConfig{
			FrontEnd:      FrontEndMCP3008,
			GPIO:          gpioline.BackendAuto,
			SPIDevice:     "/dev/spidev0.0",
			SPIKHz:        1000,
			MuxADCChannel: 0,
			MuxPins:       []string{"GPIO5", "GPIO6", "GPIO13"},
			SerialPort:    "/dev/ttyAMA0",
			SerialBaud:    115200,
			EmitterPin:    "GPIO17",
			StatusLEDPin:  "GPIO27",
			I2CDevice:     "/dev/i2c-1",
			PWMLeft:       0,
			PWMRight:      1,
			DirLeftPin:    "GPIO23",
			DirRightPin:   "GPIO24",
		},
		Screen: ScreenConfig{
			Enabled:     false,
			Framebuffer: "/dev/fb1",
		},
		Sounds: SoundConfig{
			Enabled: false,
			Dir:     "/sounds",
		},
	}
}

// Load overlays the YAML file at path on the defaults. A missing file is not
// an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		fmt.Println("Config", path, "not found, using defaults")
		return cfg, nil
	}
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Default(), errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Default(), err
	}
	return cfg, nil
}

// InUsePath is where the effective config is written next to path.
func InUsePath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-in-use" + ext
}

// WriteInUse records the effective config so a run can be reproduced.
func (c Config) WriteInUse(path string) error {
	data, err := yaml.Marshal(&c)
	if err != nil {
		return errors.Wrap(err, "marshalling config")
	}
	return errors.Wrapf(ioutil.WriteFile(path, data, 0666), "writing %s", path)
}

func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.PID.Form == FormIdeal || c.PID.Form == FormStandard, "pid.form %q", c.PID.Form)
	check(c.PID.OutputBits >= 1 && c.PID.OutputBits <= 16, "pid.output_bits %d", c.PID.OutputBits)

	_, err := c.Sensors.mode()
	check(err == nil, "sensors.mode %q", c.Sensors.Mode)
	check(c.Sensors.Weight > 0, "sensors.weight %v", c.Sensors.Weight)
	check(c.Sensors.Threshold > 0, "sensors.threshold %d", c.Sensors.Threshold)
	check(c.Sensors.Polarity == PolarityAuto || c.Sensors.Polarity == PolarityHigh || c.Sensors.Polarity == PolarityLow,
		"sensors.polarity %q", c.Sensors.Polarity)
	check(c.Sensors.Floor == FloorAnyInactive || c.Sensors.Floor == FloorAnyBelow, "sensors.floor %q", c.Sensors.Floor)
	check(c.Sensors.SettleDelay >= 0, "sensors.settle_delay %v", c.Sensors.SettleDelay)

	check(c.Motors.MinSpeed <= c.Motors.MaxSpeed, "motors.min_speed %d > max_speed %d", c.Motors.MinSpeed, c.Motors.MaxSpeed)
	check(c.Motors.BaseSpeed >= 0 && c.Motors.BaseSpeed <= int(c.Motors.MaxSpeed), "motors.base_speed %d", c.Motors.BaseSpeed)

	check(c.Loop.Period > 0, "loop.period %v", c.Loop.Period)
	check(c.Loop.CalibrateSwing > 0, "loop.calibrate_swing %d", c.Loop.CalibrateSwing)

	switch c.Hardware.GPIO {
	case gpioline.BackendAuto, gpioline.BackendPeriph, gpioline.BackendGPIOCdev:
	default:
		check(false, "hardware.gpio %q", c.Hardware.GPIO)
	}

	switch c.Hardware.FrontEnd {
	case FrontEndMCP3008, FrontEndSerial, FrontEndSim:
	case FrontEndMuxed:
		check(len(c.Hardware.MuxPins) == 3, "hardware.mux_pins needs 3 pins, got %d", len(c.Hardware.MuxPins))
	default:
		check(false, "hardware.frontend %q", c.Hardware.FrontEnd)
	}

	if len(problems) > 0 {
		return errors.Wrap(ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func (s SensorConfig) mode() (linesensor.Mode, error) {
	switch s.Mode {
	case linesensor.Analog.String():
		return linesensor.Analog, nil
	case linesensor.Digital.String():
		return linesensor.Digital, nil
	}
	return 0, errors.Wrapf(ErrInvalid, "sensor mode %q", s.Mode)
}

// Linesensor converts the sensor section for linesensor.New.
func (s SensorConfig) Linesensor() linesensor.Config {
	mode, _ := s.mode()
	floor := linesensor.AnyInactive
	if s.Floor == FloorAnyBelow {
		floor = linesensor.AnyBelow(s.FloorThreshold)
	}
	return linesensor.Config{
		Threshold:   s.Threshold,
		Weight:      s.Weight,
		Mode:        mode,
		SettleDelay: s.SettleDelay,
		Floor:       floor,
	}
}

// FixedPolarity returns the configured polarity and whether it overrides
// detection.
func (s SensorConfig) FixedPolarity() (polarity bool, fixed bool) {
	switch s.Polarity {
	case PolarityHigh:
		return true, true
	case PolarityLow:
		return false, true
	}
	return false, false
}

// Apply configures the controller's gains and output range.
func (p PIDConfig) Apply(c *pid.Controller) error {
	var err error
	if p.Form == FormStandard {
		err = c.ConfigureStandard(p.Kp, p.Ti, p.Td)
	} else {
		err = c.Configure(p.Kp, p.Ki, p.Kd)
	}
	if rangeErr := c.SetOutputRange(p.OutputBits, p.OutputSigned); rangeErr != nil && err == nil {
		err = rangeErr
	}
	return err
}
