// Package ami is a minimal client for the telephony exchange management interface.
// It authenticates, subscribes to events and publishes channel occupancy from the
// receiver/transmitter keyed events of a repeater node.
package ami

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/bulletin/pkg/ami/frame"
	"github.com/norasector/bulletin/pkg/util"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	readBufferSize = 4096

	DefaultSuccessToken      = "Success"
	DefaultReceiverEvent     = "RPT_RXKEYED"
	DefaultTransmitterEvent  = "RPT_TXKEYED"
	DefaultReconnectDelay    = 5 * time.Second
	DefaultMaxReconnectDelay = time.Minute
	DefaultLoginTimeout      = 10 * time.Second
)

type Options struct {
	Host     string
	Port     int
	Username string
	Secret   string

	UseTLS        bool
	TLSSkipVerify bool

	// SuccessToken is matched case-insensitively against the login response.
	SuccessToken     string
	ReceiverEvent    string
	TransmitterEvent string

	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	LoginTimeout      time.Duration
	// KeepaliveInterval enables periodic pings and a read deadline of twice the interval. Zero disables both.
	KeepaliveInterval time.Duration
}

// OccupancyWriter receives classified occupancy. channel.State satisfies it.
type OccupancyWriter interface {
	SetOccupancy(occupied bool) bool
}

type Listener struct {
	opts       Options
	store      OccupancyWriter
	classifier frame.Classifier
	logger     zerolog.Logger
	writeAPI   api.WriteAPI
	state      atomic.Int32
	pings      atomic.Uint64

	onOccupancy func(occupied bool)
	onState     func(state SessionState)
}

type ListenerOption func(l *Listener) error

func WithLogger(logger zerolog.Logger) ListenerOption {
	return func(l *Listener) error {
		l.logger = logger
		return nil
	}
}

func WithInfluxDB(writeAPI api.WriteAPI) ListenerOption {
	return func(l *Listener) error {
		l.writeAPI = writeAPI
		return nil
	}
}

// WithOccupancyHook is called from the listener goroutine whenever published occupancy changes.
func WithOccupancyHook(fn func(occupied bool)) ListenerOption {
	return func(l *Listener) error {
		l.onOccupancy = fn
		return nil
	}
}

// WithStateHook is called from the listener goroutine on every session state transition.
func WithStateHook(fn func(state SessionState)) ListenerOption {
	return func(l *Listener) error {
		l.onState = fn
		return nil
	}
}

func NewListener(store OccupancyWriter, options Options, opts ...ListenerOption) (*Listener, error) {
	if options.SuccessToken == "" {
		options.SuccessToken = DefaultSuccessToken
	}
	if options.ReceiverEvent == "" {
		options.ReceiverEvent = DefaultReceiverEvent
	}
	if options.TransmitterEvent == "" {
		options.TransmitterEvent = DefaultTransmitterEvent
	}
	if options.ReconnectDelay <= 0 {
		options.ReconnectDelay = DefaultReconnectDelay
	}
	if options.MaxReconnectDelay <= 0 {
		options.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if options.MaxReconnectDelay < options.ReconnectDelay {
		options.MaxReconnectDelay = options.ReconnectDelay
	}
	if options.LoginTimeout <= 0 {
		options.LoginTimeout = DefaultLoginTimeout
	}

	l := &Listener{
		opts:       options,
		store:      store,
		classifier: frame.NewClassifier(options.ReceiverEvent, options.TransmitterEvent),
		logger:     log.Logger,
		writeAPI:   &util.MockWriteAPI{}, // overwritten with option
	}

	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}

	if store == nil {
		return nil, fmt.Errorf("must specify an occupancy store")
	}
	if l.opts.Host == "" || l.opts.Port == 0 {
		return nil, fmt.Errorf("must specify management host and port")
	}

	return l, nil
}

// State returns the current session state.
func (l *Listener) State() SessionState {
	return SessionState(l.state.Load())
}

func (l *Listener) Addr() string {
	return net.JoinHostPort(l.opts.Host, strconv.Itoa(l.opts.Port))
}

// Start runs sessions until ctx is done, reconnecting after every failure.
// It only returns ctx.Err().
func (l *Listener) Start(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.opts.ReconnectDelay
	bo.MaxInterval = l.opts.MaxReconnectDelay
	bo.RandomizationFactor = 0.1
	bo.Reset()

	for {
		authenticated, err := l.session(ctx)
		if ctx.Err() != nil {
			l.setState(StateDisconnected)
			return ctx.Err()
		}
		if authenticated {
			bo.Reset()
		}

		wait := bo.NextBackOff()
		if wait <= 0 || wait > l.opts.MaxReconnectDelay {
			wait = l.opts.MaxReconnectDelay
		}

		l.logger.Warn().
			Err(err).
			Str("addr", l.Addr()).
			Str("state", l.State().String()).
			Dur("retry_in", wait).
			Msg("management session ended")

		if err := sleepWithContext(ctx, wait); err != nil {
			l.setState(StateDisconnected)
			return err
		}
		l.setState(StateDisconnected)
	}
}

func (l *Listener) session(ctx context.Context) (bool, error) {
	l.setState(StateConnecting)

	conn, err := l.dial(ctx)
	if err != nil {
		l.setState(StateFailed)
		return false, fmt.Errorf("connect %s: %w", l.Addr(), err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	// Unblocks any pending read or write once the session is over or shutdown is requested.
	go func() {
		<-sessCtx.Done()
		conn.Close()
	}()

	l.setState(StateAuthenticating)

	asm := frame.NewAssembler()
	pending, err := l.login(conn, asm)
	if err != nil {
		l.setState(StateFailed)
		return false, err
	}

	l.setState(StateAuthenticated)
	l.handleFrames(pending)

	if l.opts.KeepaliveInterval > 0 {
		go l.keepalive(sessCtx, conn)
	}

	err = l.readLoop(conn, asm)
	l.setState(StateDisconnected)
	return true, err
}

func (l *Listener) dial(ctx context.Context) (net.Conn, error) {
	d := &net.Dialer{Timeout: l.opts.LoginTimeout}
	if !l.opts.UseTLS {
		return d.DialContext(ctx, "tcp", l.Addr())
	}

	td := &tls.Dialer{
		NetDialer: d,
		Config: &tls.Config{
			ServerName:         l.opts.Host,
			InsecureSkipVerify: l.opts.TLSSkipVerify,
		},
	}
	return td.DialContext(ctx, "tcp", l.Addr())
}

func loginRequest(username, secret string) string {
	var b strings.Builder
	b.WriteString("Action: Login\r\n")
	b.WriteString("Username: " + username + "\r\n")
	b.WriteString("Secret: " + secret + "\r\n")
	b.WriteString("Events: on\r\n")
	b.WriteString("\r\n")
	return b.String()
}

// login sends the login action and waits for the first complete frame. The greeting banner
// carries no delimiter of its own, so it arrives folded into that frame.
// Frames that arrived in the same reads after the response are returned for processing.
func (l *Listener) login(conn net.Conn, asm *frame.Assembler) ([]string, error) {
	if err := conn.SetDeadline(time.Now().Add(l.opts.LoginTimeout)); err != nil {
		return nil, err
	}

	if _, err := io.WriteString(conn, loginRequest(l.opts.Username, l.opts.Secret)); err != nil {
		return nil, fmt.Errorf("send login: %w", err)
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if frames := asm.Receive(buf[:n]); len(frames) > 0 {
				if err := l.checkLoginResponse(frames[0]); err != nil {
					return nil, err
				}
				if err := conn.SetDeadline(time.Time{}); err != nil {
					return nil, err
				}
				return frames[1:], nil
			}
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoLoginResponse, err)
		}
	}
}

func (l *Listener) checkLoginResponse(raw string) error {
	resp := frame.Parse(raw)
	if strings.EqualFold(resp[frame.FieldResponse], "error") {
		return fmt.Errorf("%w: %s", ErrAuthFailed, resp[frame.FieldMessage])
	}
	if !strings.Contains(strings.ToLower(raw), strings.ToLower(l.opts.SuccessToken)) {
		return fmt.Errorf("%w: unexpected response %q", ErrAuthFailed, raw)
	}
	return nil
}

func (l *Listener) readLoop(conn net.Conn, asm *frame.Assembler) error {
	buf := make([]byte, readBufferSize)
	for {
		if l.opts.KeepaliveInterval > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(2 * l.opts.KeepaliveInterval)); err != nil {
				return err
			}
		}

		n, err := conn.Read(buf)
		if n > 0 {
			l.handleFrames(asm.Receive(buf[:n]))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("peer closed connection: %w", err)
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

func (l *Listener) keepalive(ctx context.Context, conn net.Conn) {
	tick := time.NewTicker(l.opts.KeepaliveInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			id := l.pings.Add(1)
			if err := conn.SetWriteDeadline(time.Now().Add(l.opts.KeepaliveInterval)); err != nil {
				return
			}
			if _, err := io.WriteString(conn, fmt.Sprintf("Action: Ping\r\nActionID: ping-%d\r\n\r\n", id)); err != nil {
				l.logger.Debug().Err(err).Msg("keepalive write failed")
				return
			}
		}
	}
}

func (l *Listener) handleFrames(frames []string) {
	for _, raw := range frames {
		ev := frame.Parse(raw)
		if !l.classifier.Monitored(ev) {
			continue
		}

		occupied, ok := l.classifier.Classify(ev)
		if !ok {
			l.logger.Debug().
				Str("event", ev.Name()).
				Str("value", ev.Value()).
				Msg("ignoring occupancy event without a usable value")
			continue
		}

		changed := l.store.SetOccupancy(occupied)

		l.logger.Debug().
			Str("event", ev.Name()).
			Str("node", ev.Node()).
			Bool("occupied", occupied).
			Bool("changed", changed).
			Msg("channel occupancy")

		util.WritePoint(l.writeAPI, "ami.event",
			map[string]string{
				"event": ev.Name(),
				"node":  ev.Node(),
			},
			map[string]interface{}{
				"occupied": util.BoolToInt(occupied),
				"changed":  util.BoolToInt(changed),
			})

		if changed && l.onOccupancy != nil {
			l.onOccupancy(occupied)
		}
	}
}

func (l *Listener) setState(state SessionState) {
	prev := SessionState(l.state.Swap(int32(state)))
	if prev == state {
		return
	}

	l.logger.Info().
		Str("addr", l.Addr()).
		Str("from", prev.String()).
		Str("state", state.String()).
		Msg("management session")

	util.WritePoint(l.writeAPI, "ami.session",
		map[string]string{"state": state.String()},
		map[string]interface{}{"transition": 1})

	if l.onState != nil {
		l.onState(state)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
