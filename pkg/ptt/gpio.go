package ptt

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// GPIO drives a sysfs-style value file, e.g. /sys/class/gpio/gpio17/value.
type GPIO struct {
	path      string
	activeLow bool
}

func NewGPIO(path string, activeLow bool) (*GPIO, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("gpio value file: %w", err)
	}
	return &GPIO{path: path, activeLow: activeLow}, nil
}

func (g *GPIO) SetKeyed(keyed bool) error {
	level := "0"
	if keyed != g.activeLow {
		level = "1"
	}
	if err := os.WriteFile(g.path, []byte(level), 0); err != nil {
		return fmt.Errorf("gpio %s: %w", g.path, err)
	}
	return nil
}

// DryRun only logs; used for bench runs without a transmitter attached.
type DryRun struct {
	logger zerolog.Logger
}

func NewDryRun(logger zerolog.Logger) *DryRun {
	return &DryRun{logger: logger}
}

func (d *DryRun) SetKeyed(keyed bool) error {
	d.logger.Info().Bool("keyed", keyed).Msg("dry-run ptt")
	return nil
}
