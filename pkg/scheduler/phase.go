package scheduler

import "time"

// Phase of the playback cycle. PhaseIdle is used between sections.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhasePlaying
	PhaseAlertPending
	PhasePaused
	PhaseAwaitingChannelClear
	PhaseResuming
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePlaying:
		return "playing"
	case PhaseAlertPending:
		return "alert_pending"
	case PhasePaused:
		return "paused"
	case PhaseAwaitingChannelClear:
		return "awaiting_channel_clear"
	case PhaseResuming:
		return "resuming"
	}
	return "unknown"
}

// CycleState is the transient state of the section being played.
type CycleState struct {
	Section string
	Phase   Phase
	// Elapsed is the position within the source, between the section's Start and End.
	Elapsed time.Duration
	Pauses  int
}
