// Package bulletin runs a complete bulletin: the channel listener, the
// playback scheduler and everything observing them.
package bulletin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/bulletin/pkg/ami"
	"github.com/norasector/bulletin/pkg/audio"
	"github.com/norasector/bulletin/pkg/bulletin/output"
	"github.com/norasector/bulletin/pkg/channel"
	"github.com/norasector/bulletin/pkg/ptt"
	"github.com/norasector/bulletin/pkg/scheduler"
	"github.com/norasector/bulletin/pkg/status"
	"github.com/norasector/bulletin/pkg/util"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// EventOutput handles state transitions.
type EventOutput interface {
	// Start receives a context and should run in a loop, terminating upon ctx closing or on any errors.
	Start(ctx context.Context) error
	// Receive returns a channel that receives transition events.
	Receive() chan<- *output.Event
}

type Options struct {
	Connection ami.Options
	Playback   scheduler.Options
	Sections   []scheduler.Section
	Player     audio.Player
	// Cues plays announcements and cues. It may be nil when none are configured.
	Cues    audio.Player
	PTT     ptt.Controller
	Outputs []EventOutput
}

type Bulletin struct {
	opts         Options
	state        *channel.State
	latch        *ptt.Latch
	listener     *ami.Listener
	scheduler    *scheduler.Scheduler
	statusServer *status.Server
	writeAPI     api.WriteAPI
	logger       zerolog.Logger
	schedOpts    []scheduler.SchedulerOption

	mu     sync.Mutex
	cancel context.CancelFunc
}

type BulletinOption func(b *Bulletin) error

func WithInfluxDB(writeAPI api.WriteAPI) BulletinOption {
	return func(b *Bulletin) error {
		b.writeAPI = writeAPI
		return nil
	}
}

func WithLogger(logger zerolog.Logger) BulletinOption {
	return func(b *Bulletin) error {
		b.logger = logger
		return nil
	}
}

func WithStatusServer(srv *status.Server) BulletinOption {
	return func(b *Bulletin) error {
		b.statusServer = srv
		return nil
	}
}

// WithChannelState uses an existing store instead of a fresh idle one.
func WithChannelState(state *channel.State) BulletinOption {
	return func(b *Bulletin) error {
		if state == nil {
			return fmt.Errorf("channel state must not be nil")
		}
		b.state = state
		return nil
	}
}

// WithSchedulerOptions passes extra options through to the scheduler.
func WithSchedulerOptions(opts ...scheduler.SchedulerOption) BulletinOption {
	return func(b *Bulletin) error {
		b.schedOpts = append(b.schedOpts, opts...)
		return nil
	}
}

func NewBulletin(options Options, opts ...BulletinOption) (*Bulletin, error) {
	b := &Bulletin{
		opts:     options,
		state:    channel.NewState(),
		writeAPI: &util.MockWriteAPI{}, // overwritten with option
		logger:   log.Logger,
	}

	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}

	if options.PTT == nil {
		return nil, fmt.Errorf("must specify a ptt controller")
	}

	b.latch = ptt.NewLatch(options.PTT,
		ptt.WithLogger(b.logger),
		ptt.WithChangeHook(b.onKeyed))

	var err error
	b.listener, err = ami.NewListener(b.state, options.Connection,
		ami.WithLogger(b.logger.With().Str("component", "listener").Logger()),
		ami.WithInfluxDB(b.writeAPI),
		ami.WithOccupancyHook(b.onOccupancy),
		ami.WithStateHook(b.onSession))
	if err != nil {
		return nil, err
	}

	schedOpts := append([]scheduler.SchedulerOption{
		scheduler.WithLogger(b.logger.With().Str("component", "scheduler").Logger()),
		scheduler.WithInfluxDB(b.writeAPI),
		scheduler.WithPhaseHook(b.onPhase),
	}, b.schedOpts...)
	b.scheduler, err = scheduler.NewScheduler(options.Player, options.Cues, b.latch, b.state, options.Playback, schedOpts...)
	if err != nil {
		return nil, err
	}

	if b.statusServer != nil {
		b.statusServer.SetSource(b)
	}

	return b, nil
}

// Stop cancels a running bulletin. Start then returns context.Canceled.
func (b *Bulletin) Stop() error {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if b.statusServer != nil {
		return b.statusServer.Stop(context.TODO())
	}
	return nil
}

// Start plays every section and returns when the last one is done. The listener,
// status server and outputs run alongside and are stopped once playback ends.
func (b *Bulletin) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	eg, ctx := errgroup.WithContext(ctx)
	auxCtx, stopAux := context.WithCancel(ctx)
	defer stopAux()

	runAux := func(name string, fn func(ctx context.Context) error) {
		eg.Go(func() error {
			err := fn(auxCtx)
			if err == nil || auxCtx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: %w", name, err)
		})
	}

	runAux("listener", b.listener.Start)
	if b.statusServer != nil {
		runAux("status server", b.statusServer.Run)
	}
	for _, out := range b.opts.Outputs {
		runAux("output", out.Start)
	}

	eg.Go(func() error {
		defer stopAux()
		return b.scheduler.Run(ctx, b.opts.Sections)
	})

	b.logger.Info().
		Str("addr", b.listener.Addr()).
		Int("sections", len(b.opts.Sections)).
		Msg("Starting")

	return eg.Wait()
}

// Snapshot reports the live state for the status server.
func (b *Bulletin) Snapshot() status.Snapshot {
	cycle := b.scheduler.State()
	return status.Snapshot{
		Occupied:        b.state.GetOccupancy(),
		OccupancyUpdate: b.state.LastUpdate(),
		Session:         b.listener.State().String(),
		Phase:           cycle.Phase.String(),
		Section:         cycle.Section,
		ElapsedSeconds:  cycle.Elapsed.Seconds(),
		Pauses:          cycle.Pauses,
		Keyed:           b.latch.Keyed(),
	}
}

func (b *Bulletin) onOccupancy(occupied bool) {
	b.publish(&output.Event{Kind: output.EventOccupancy, Occupied: occupied})
}

func (b *Bulletin) onSession(state ami.SessionState) {
	b.publish(&output.Event{Kind: output.EventSession, Session: state.String()})
}

func (b *Bulletin) onKeyed(keyed bool) {
	b.publish(&output.Event{Kind: output.EventPTT, Keyed: keyed})
}

func (b *Bulletin) onPhase(state scheduler.CycleState) {
	b.publish(&output.Event{
		Kind:    output.EventPhase,
		Phase:   state.Phase.String(),
		Section: state.Section,
		Elapsed: state.Elapsed,
		Pauses:  state.Pauses,
	})
}

// publish fans ev out to every output without waiting on any of them.
func (b *Bulletin) publish(ev *output.Event) {
	if len(b.opts.Outputs) == 0 {
		return
	}
	ev.Time = time.Now()

	skippedOutputs := 0
	for _, out := range b.opts.Outputs {
		select {
		case out.Receive() <- ev:
		default:
			skippedOutputs++
		}
	}

	util.WritePoint(b.writeAPI, "bulletin.transition",
		map[string]string{"kind": string(ev.Kind)},
		map[string]interface{}{
			"outputs":         len(b.opts.Outputs),
			"skipped_outputs": skippedOutputs,
		})
}
