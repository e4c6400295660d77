package output

import (
	"context"
	"fmt"
	"io"
	"time"
)

const eventBufferLength int = 32

// SimpleEventOutput writes one text line per event.
type SimpleEventOutput struct {
	dest       io.Writer
	recvChan   chan *Event
	kindFilter map[EventKind]struct{}
}

// NewSimpleEventOutput writes events of the given kinds to dest. No kinds means all of them.
func NewSimpleEventOutput(dest io.Writer, kinds []EventKind) *SimpleEventOutput {
	ret := &SimpleEventOutput{
		dest:       dest,
		recvChan:   make(chan *Event, eventBufferLength),
		kindFilter: make(map[EventKind]struct{}),
	}

	for _, kind := range kinds {
		ret.kindFilter[kind] = struct{}{}
	}

	return ret
}

func (s *SimpleEventOutput) Receive() chan<- *Event {
	return s.recvChan
}

func (s *SimpleEventOutput) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-s.recvChan:
			if len(s.kindFilter) > 0 {
				if _, ok := s.kindFilter[ev.Kind]; !ok {
					continue
				}
			}

			if _, err := fmt.Fprintf(s.dest, "%s %s\n", ev.Time.Format(time.RFC3339), ev); err != nil {
				return err
			}
		}
	}
}
