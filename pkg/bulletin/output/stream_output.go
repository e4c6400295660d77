package output

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/bulletin/pkg/bulletin/config"
	"github.com/norasector/bulletin/pkg/util"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/proto"
)

// EventUDPOutput sends every event as a protobuf Struct, prefixed with its
// little-endian uint16 length, to each destination.
type EventUDPOutput struct {
	dests    []config.OutputDestination
	recvChan chan *Event
	metrics  api.WriteAPI
}

func NewEventUDPOutput(dests []config.OutputDestination, metrics api.WriteAPI) *EventUDPOutput {
	if metrics == nil {
		metrics = &util.MockWriteAPI{}
	}
	return &EventUDPOutput{
		dests:    dests,
		recvChan: make(chan *Event, eventBufferLength),
		metrics:  metrics,
	}
}

func (s *EventUDPOutput) Receive() chan<- *Event {
	return s.recvChan
}

// Encode returns the length-prefixed wire form of ev.
func Encode(ev *Event) ([]byte, error) {
	pb, err := ev.ToProtobuf()
	if err != nil {
		return nil, err
	}
	encoded, err := proto.Marshal(pb)
	if err != nil {
		return nil, err
	}
	if len(encoded) > 0xffff {
		return nil, fmt.Errorf("encoded event too large: %d bytes", len(encoded))
	}

	var msgBuf bytes.Buffer
	if err := binary.Write(&msgBuf, binary.LittleEndian, uint16(len(encoded))); err != nil {
		return nil, err
	}
	msgBuf.Write(encoded)
	return msgBuf.Bytes(), nil
}

func (s *EventUDPOutput) Start(ctx context.Context) error {
	destAddrs := make([]*net.UDPAddr, 0, len(s.dests))
	for _, dest := range s.dests {
		ips, err := net.LookupIP(dest.Host)
		if err != nil {
			return err
		}
		if len(ips) == 0 {
			return fmt.Errorf("no IPs returned for %s", dest.Host)
		}

		destAddr := &net.UDPAddr{IP: ips[0], Port: dest.Port}
		destAddrs = append(destAddrs, destAddr)
		log.Info().IPAddr("dest_ip", destAddr.IP).Int("port", dest.Port).Msg("event output starting")
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.recvChan:
			msg, err := Encode(ev)
			if err != nil {
				log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("error encoding event")
				continue
			}

			sent, dropped := 0, 0
			for _, destAddr := range destAddrs {
				if _, err := conn.WriteToUDP(msg, destAddr); err != nil {
					log.Error().Err(err).Msg("error writing")
					dropped++
					continue
				}
				sent++
			}

			util.WritePoint(s.metrics, "output.sent_event",
				map[string]string{"kind": string(ev.Kind)},
				map[string]interface{}{
					"bytes":   len(msg),
					"sent":    sent,
					"dropped": dropped,
				})
		}
	}
}
