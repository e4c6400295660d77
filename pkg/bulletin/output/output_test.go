package output

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/norasector/bulletin/pkg/bulletin/config"
	"github.com/norasector/bulletin/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var eventTime = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

func TestEventString(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{Event{Kind: EventOccupancy, Occupied: true}, "occupancy occupied=true"},
		{Event{Kind: EventSession, Session: "authenticated"}, "session state=authenticated"},
		{Event{Kind: EventPTT}, "ptt keyed=false"},
		{Event{Kind: EventPhase, Phase: "paused", Section: "weather", Elapsed: 150 * time.Second, Pauses: 1},
			`phase phase=paused section="weather" elapsed=2m30s pauses=1`},
	}
	for _, tt := range tests {
		t.Run(string(tt.ev.Kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ev.String())
		})
	}
}

func TestSimpleEventOutput(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var buf lockedBuffer
	out := NewSimpleEventOutput(&buf, []EventKind{EventPTT, EventPhase})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- out.Start(ctx) }()

	out.Receive() <- &Event{Kind: EventOccupancy, Time: eventTime, Occupied: true}
	out.Receive() <- &Event{Kind: EventPTT, Time: eventTime, Keyed: true}
	out.Receive() <- &Event{Kind: EventPhase, Time: eventTime, Phase: "playing", Section: "news"}

	assert.Eventually(t, func() bool {
		return strings.Count(buf.String(), "\n") == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"2026-10-18T09:30:00Z ptt keyed=true",
		`2026-10-18T09:30:00Z phase phase=playing section="news" elapsed=0s pauses=0`,
	}, lines)
}

func TestEncode(t *testing.T) {
	msg, err := Encode(&Event{Kind: EventPhase, Time: eventTime, Phase: "paused", Section: "weather", Elapsed: 150 * time.Second, Pauses: 2})
	require.NoError(t, err)

	size := binary.LittleEndian.Uint16(msg[:2])
	require.Equal(t, int(size), len(msg)-2)

	var pb structpb.Struct
	require.NoError(t, proto.Unmarshal(msg[2:], &pb))
	fields := pb.AsMap()
	assert.Equal(t, "phase", fields["kind"])
	assert.Equal(t, "paused", fields["phase"])
	assert.Equal(t, "weather", fields["section"])
	assert.Equal(t, 150.0, fields["elapsed_s"])
	assert.Equal(t, 2.0, fields["pauses"])
	assert.Equal(t, "2026-10-18T09:30:00Z", fields["time"])
}

func TestEventUDPOutput(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	recv, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer recv.Close()

	metrics := util.NewRecordingWriteAPI()
	out := NewEventUDPOutput([]config.OutputDestination{
		{Host: "127.0.0.1", Port: recv.LocalAddr().(*net.UDPAddr).Port},
	}, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- out.Start(ctx) }()

	out.Receive() <- &Event{Kind: EventOccupancy, Time: eventTime, Occupied: true}

	require.NoError(t, recv.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 2048)
	n, _, err := recv.ReadFromUDP(buf)
	require.NoError(t, err)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	require.Greater(t, n, 2)
	size := binary.LittleEndian.Uint16(buf[:2])
	require.Equal(t, int(size), n-2)

	var pb structpb.Struct
	require.NoError(t, proto.Unmarshal(buf[2:n], &pb))
	assert.Equal(t, "occupancy", pb.AsMap()["kind"])
	assert.Equal(t, true, pb.AsMap()["occupied"])

	assert.Eventually(t, func() bool {
		return metrics.Count("output.sent_event") == 1
	}, time.Second, 5*time.Millisecond)
}
