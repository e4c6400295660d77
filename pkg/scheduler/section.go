package scheduler

import (
	"errors"
	"fmt"
	"time"
)

// Section is one scheduled slice of a source file.
type Section struct {
	Name   string
	Source string
	Start  time.Duration
	End    time.Duration
}

func (s Section) Length() time.Duration {
	return s.End - s.Start
}

// ConfigError is fatal to a run and is always reported before the transmitter is keyed.
type ConfigError struct {
	Section string
	Reason  string
	Err     error
}

func (e *ConfigError) Error() string {
	msg := "invalid configuration"
	if e.Section != "" {
		msg = fmt.Sprintf("section %q", e.Section)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// PlaybackError is an audio or keying failure during a run.
type PlaybackError struct {
	Section string
	Op      string
	Err     error
}

func (e *PlaybackError) Error() string {
	if e.Section == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("section %q: %s: %v", e.Section, e.Op, e.Err)
}

func (e *PlaybackError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err stops a run before transmission.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
