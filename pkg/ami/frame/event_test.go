package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	ev := Parse("Event: RPT_RXKEYED\r\nNode: 12345\r\ngarbage line\r\nEventValue: 1\r\nMessage: a: b")

	assert.Equal(t, "RPT_RXKEYED", ev.Name())
	assert.Equal(t, "1", ev.Value())
	assert.Equal(t, "12345", ev.Node())
	assert.Equal(t, "a: b", ev[FieldMessage])
	assert.NotContains(t, ev, "garbage line")
	assert.Len(t, ev, 4)
}

func TestClassifier_Classify(t *testing.T) {
	c := NewClassifier("RPT_RXKEYED", "RPT_TXKEYED")

	tests := []struct {
		name         string
		frame        string
		wantOccupied bool
		wantOK       bool
	}{
		{"rx keyed", "Event: RPT_RXKEYED\r\nNode: 12345\r\nEventValue: 1", true, true},
		{"rx unkeyed", "Event: RPT_RXKEYED\r\nEventValue: 0", false, true},
		{"tx keyed", "Event: RPT_TXKEYED\r\nEventValue: 1", true, true},
		{"extra fields", "Privilege: call,all\r\nEvent: RPT_RXKEYED\r\nUniqueid: 99\r\nEventValue: 1\r\nNode: 12345\r\nFoo: bar", true, true},
		{"unknown value", "Event: RPT_RXKEYED\r\nEventValue: 2", false, false},
		{"missing value", "Event: RPT_TXKEYED\r\nNode: 1", false, false},
		{"unmonitored event", "Event: RPT_LINKS\r\nEventValue: 1", false, false},
		{"response frame", "Response: Success\r\nPing: Pong", false, false},
		{"no separator", "Event:RPT_RXKEYED\r\nEventValue:1", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			occupied, ok := c.Classify(Parse(tt.frame))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantOccupied, occupied)
		})
	}
}

func TestClassifier_EmptyNamesNeverMatch(t *testing.T) {
	c := NewClassifier("RPT_RXKEYED", "")
	_, ok := c.Classify(Event{FieldEventValue: "1"})
	assert.False(t, ok)
}
