// Package ptt keys a transmitter. Every backend is driven through Controller;
// Latch adds idempotence and state tracking on top of any of them.
package ptt

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Controller asserts or releases push-to-talk.
type Controller interface {
	SetKeyed(keyed bool) error
}

// Latch remembers the last asserted state and only forwards changes to the backend.
// The first call always reaches the backend so the transmitter starts from a known state.
type Latch struct {
	ctrl     Controller
	logger   zerolog.Logger
	onChange func(keyed bool)

	mu    sync.Mutex
	keyed bool
	known bool
}

type LatchOption func(l *Latch)

func WithLogger(logger zerolog.Logger) LatchOption {
	return func(l *Latch) {
		l.logger = logger
	}
}

// WithChangeHook is called after every state change reaches the backend.
func WithChangeHook(fn func(keyed bool)) LatchOption {
	return func(l *Latch) {
		l.onChange = fn
	}
}

func NewLatch(ctrl Controller, opts ...LatchOption) *Latch {
	l := &Latch{
		ctrl:   ctrl,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Latch) SetKeyed(keyed bool) error {
	l.mu.Lock()
	if l.known && l.keyed == keyed {
		l.mu.Unlock()
		return nil
	}

	if err := l.ctrl.SetKeyed(keyed); err != nil {
		// The backend may be half-way; force the next call through.
		l.known = false
		l.mu.Unlock()
		return err
	}
	l.keyed = keyed
	l.known = true
	l.mu.Unlock()

	l.logger.Debug().Bool("keyed", keyed).Msg("ptt")
	if l.onChange != nil {
		l.onChange(keyed)
	}
	return nil
}

// Keyed reports the last state the backend accepted.
func (l *Latch) Keyed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.known && l.keyed
}
