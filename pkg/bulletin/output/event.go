package output

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

type EventKind string

const (
	EventOccupancy EventKind = "occupancy"
	EventSession   EventKind = "session"
	EventPTT       EventKind = "ptt"
	EventPhase     EventKind = "phase"
)

// Event is one state transition. Only the fields relevant to Kind are set.
type Event struct {
	Kind     EventKind
	Time     time.Time
	Occupied bool
	Session  string
	Keyed    bool
	Phase    string
	Section  string
	Elapsed  time.Duration
	Pauses   int
}

func (e *Event) String() string {
	switch e.Kind {
	case EventOccupancy:
		return fmt.Sprintf("occupancy occupied=%t", e.Occupied)
	case EventSession:
		return fmt.Sprintf("session state=%s", e.Session)
	case EventPTT:
		return fmt.Sprintf("ptt keyed=%t", e.Keyed)
	case EventPhase:
		return fmt.Sprintf("phase phase=%s section=%q elapsed=%s pauses=%d", e.Phase, e.Section, e.Elapsed, e.Pauses)
	}
	return string(e.Kind)
}

func (e *Event) ToProtobuf() (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"kind": string(e.Kind),
		"time": e.Time.UTC().Format(time.RFC3339Nano),
	}
	switch e.Kind {
	case EventOccupancy:
		fields["occupied"] = e.Occupied
	case EventSession:
		fields["session"] = e.Session
	case EventPTT:
		fields["keyed"] = e.Keyed
	case EventPhase:
		fields["phase"] = e.Phase
		fields["section"] = e.Section
		fields["elapsed_s"] = e.Elapsed.Seconds()
		fields["pauses"] = e.Pauses
	}
	return structpb.NewStruct(fields)
}
