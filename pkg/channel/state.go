// Package channel holds the shared channel occupancy (COS) published by the
// management listener and polled by the playback scheduler.
package channel

import (
	"sync/atomic"
	"time"
)

// OccupancyReader is the read side of State.
type OccupancyReader interface {
	GetOccupancy() bool
}

// State is last-value-wins occupancy. The zero value reports an idle channel.
type State struct {
	occupied atomic.Bool
	updated  atomic.Int64
	changes  atomic.Uint64
}

func NewState() *State {
	return &State{}
}

// SetOccupancy publishes the most recently classified occupancy and reports whether it changed.
func (s *State) SetOccupancy(occupied bool) bool {
	s.updated.Store(time.Now().UnixNano())
	if s.occupied.Swap(occupied) == occupied {
		return false
	}
	s.changes.Add(1)
	return true
}

func (s *State) GetOccupancy() bool {
	return s.occupied.Load()
}

// LastUpdate returns when SetOccupancy was last called, or the zero time if it never was.
func (s *State) LastUpdate() time.Time {
	ns := s.updated.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Changes counts busy/idle transitions since start.
func (s *State) Changes() uint64 {
	return s.changes.Load()
}
