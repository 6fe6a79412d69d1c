//go:build linux

package gpioline

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
	"periph.io/x/periph/conn/gpio"
)

const consumer = "linebot"

// Line is an output requested from a GPIO chip. Close releases it low.
type Line struct {
	name string
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// OpenCdev searches every gpiochip for the named line and requests it as an
// output, initially low.
func OpenCdev(name string) (Output, error) {
	chips := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "gpiochip") {
			chips = append(chips, filepath.Join("/dev", e.Name()))
		}
	}

	for _, path := range chips {
		chip, err := gpiocdev.NewChip(path)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(name)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer(consumer))
		if err != nil {
			_ = chip.Close()
			return nil, errors.Wrapf(err, "requesting %s on %s", name, path)
		}
		return &Line{name: name, chip: chip, line: line}, nil
	}
	return nil, errors.Errorf("gpio line %q not found (or busy)", name)
}

func (l *Line) Out(level gpio.Level) error {
	if l.line == nil {
		return errors.Errorf("gpio line %q closed", l.name)
	}
	v := 0
	if level {
		v = 1
	}
	return l.line.SetValue(v)
}

func (l *Line) Close() error {
	if l.line == nil {
		return nil
	}
	_ = l.line.SetValue(0)
	err := l.line.Close()
	l.line = nil
	if l.chip != nil {
		_ = l.chip.Close()
		l.chip = nil
	}
	return err
}

func (l *Line) String() string {
	return l.name
}

// IsRaspberryPi5 reads the device-tree model.
func IsRaspberryPi5() bool {
	for _, p := range []string{"/sys/firmware/devicetree/base/model", "/proc/device-tree/model"} {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		model := strings.Trim(strings.TrimSpace(string(b)), "\x00")
		if strings.Contains(model, "Raspberry Pi 5") {
			return true
		}
	}
	return false
}
