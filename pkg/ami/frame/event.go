package frame

import "strings"

const (
	FieldEvent      = "Event"
	FieldEventValue = "EventValue"
	FieldNode       = "Node"
	FieldResponse   = "Response"
	FieldMessage    = "Message"

	fieldSeparator = ": "
)

// Event is a parsed frame: field name to value.
type Event map[string]string

func (e Event) Name() string  { return e[FieldEvent] }
func (e Event) Value() string { return e[FieldEventValue] }
func (e Event) Node() string  { return e[FieldNode] }

// Parse splits a frame into its Key: Value lines. Lines without a ": " separator are ignored.
// When a key repeats the last occurrence wins.
func Parse(frame string) Event {
	ev := make(Event)
	for _, line := range strings.Split(frame, "\r\n") {
		idx := strings.Index(line, fieldSeparator)
		if idx < 0 {
			continue
		}
		ev[line[:idx]] = line[idx+len(fieldSeparator):]
	}
	return ev
}

// Classifier decides whether an event reports channel occupancy.
type Classifier struct {
	// ReceiverEvent and TransmitterEvent are the monitored event names,
	// e.g. RPT_RXKEYED and RPT_TXKEYED on an app_rpt node.
	ReceiverEvent    string
	TransmitterEvent string
}

func NewClassifier(receiverEvent, transmitterEvent string) Classifier {
	return Classifier{
		ReceiverEvent:    receiverEvent,
		TransmitterEvent: transmitterEvent,
	}
}

// Monitored reports whether ev is one of the two occupancy events.
func (c Classifier) Monitored(ev Event) bool {
	name := ev.Name()
	if name == "" {
		return false
	}
	return name == c.ReceiverEvent || name == c.TransmitterEvent
}

// Classify returns the occupancy carried by ev. ok is false for unmonitored events
// and for monitored events whose EventValue is neither "0" nor "1".
func (c Classifier) Classify(ev Event) (occupied bool, ok bool) {
	if !c.Monitored(ev) {
		return false, false
	}

	switch ev.Value() {
	case "1":
		return true, true
	case "0":
		return false, true
	default:
		return false, false
	}
}
