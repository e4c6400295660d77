// Package audio defines the playback capability the scheduler drives and a
// backend that runs an external player process.
package audio

import (
	"fmt"
	"time"
)

// Player plays one source at a time. Offsets are positions within the loaded source.
type Player interface {
	Load(ref string) error
	Play(from time.Duration) error
	Pause() error
	Unpause() error
	Seek(offset time.Duration) error
	Stop() error
	// IsBusy reports whether a source is playing or paused mid-way.
	IsBusy() bool
	// Duration returns the length of ref, or a *DecodeError if it cannot be read as audio.
	Duration(ref string) (time.Duration, error)
}

// DecodeError reports media that is missing, unreadable or not decodable.
type DecodeError struct {
	Ref string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Ref, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
