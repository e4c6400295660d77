// Package scheduler plays a bulletin section by section over a keyed
// transmitter, pausing periodically so other stations can talk and holding
// every key-up until the shared channel is idle.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/bulletin/pkg/audio"
	"github.com/norasector/bulletin/pkg/channel"
	"github.com/norasector/bulletin/pkg/ptt"
	"github.com/norasector/bulletin/pkg/util"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultGatePollInterval = time.Second
	DefaultTick             = time.Second
	DefaultKeyUpDelay       = time.Second
	DefaultKeyDownDelay     = time.Second
	DefaultSectionGap       = 2 * time.Second

	cuePollInterval = 100 * time.Millisecond
)

type Options struct {
	// PlayDuration is how long to play before offering the channel to others.
	PlayDuration  time.Duration
	PauseDuration time.Duration
	// AlertLeadTime is how long before a pause the alert cue sounds. Zero disables the alert.
	AlertLeadTime time.Duration
	RewindAmount  time.Duration

	GatePollInterval time.Duration
	Tick             time.Duration
	KeyUpDelay       time.Duration
	KeyDownDelay     time.Duration
	SectionGap       time.Duration

	// Cue sources, played on the cue player. Empty disables the cue.
	Intro   string
	Outro   string
	Standby string
	Resume  string
	Alert   string
}

func (o Options) cues() []string {
	var refs []string
	for _, ref := range []string{o.Intro, o.Outro, o.Standby, o.Resume, o.Alert} {
		if ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}

// SleepFunc waits for d or until ctx is done, whichever comes first.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Scheduler struct {
	opts     Options
	player   audio.Player
	cues     audio.Player
	ptt      ptt.Controller
	channel  channel.OccupancyReader
	logger   zerolog.Logger
	writeAPI api.WriteAPI
	sleep    SleepFunc
	onPhase  func(CycleState)

	mu    sync.Mutex
	state CycleState
}

type SchedulerOption func(s *Scheduler) error

func WithLogger(logger zerolog.Logger) SchedulerOption {
	return func(s *Scheduler) error {
		s.logger = logger
		return nil
	}
}

func WithInfluxDB(writeAPI api.WriteAPI) SchedulerOption {
	return func(s *Scheduler) error {
		s.writeAPI = writeAPI
		return nil
	}
}

func WithSleeper(sleep SleepFunc) SchedulerOption {
	return func(s *Scheduler) error {
		if sleep == nil {
			return fmt.Errorf("sleeper must not be nil")
		}
		s.sleep = sleep
		return nil
	}
}

// WithPhaseHook is called synchronously from the scheduler loop on every phase change.
func WithPhaseHook(fn func(CycleState)) SchedulerOption {
	return func(s *Scheduler) error {
		s.onPhase = fn
		return nil
	}
}

// NewScheduler builds a scheduler. cues may be nil when no cue sources are configured.
func NewScheduler(player, cues audio.Player, ctrl ptt.Controller, occupancy channel.OccupancyReader, options Options, opts ...SchedulerOption) (*Scheduler, error) {
	if options.GatePollInterval <= 0 {
		options.GatePollInterval = DefaultGatePollInterval
	}
	if options.Tick <= 0 {
		options.Tick = DefaultTick
	}
	if options.KeyUpDelay < 0 {
		options.KeyUpDelay = 0
	}
	if options.KeyDownDelay < 0 {
		options.KeyDownDelay = 0
	}
	if options.SectionGap < 0 {
		options.SectionGap = 0
	}

	s := &Scheduler{
		opts:     options,
		player:   player,
		cues:     cues,
		ptt:      ctrl,
		channel:  occupancy,
		logger:   log.Logger,
		writeAPI: &util.MockWriteAPI{}, // overwritten with option
		sleep:    sleepWithContext,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if player == nil || ctrl == nil || occupancy == nil {
		return nil, fmt.Errorf("must specify player, ptt controller and occupancy source")
	}
	if options.PlayDuration <= 0 {
		return nil, &ConfigError{Reason: "play duration must be positive"}
	}
	if options.PauseDuration < 0 || options.RewindAmount < 0 || options.AlertLeadTime < 0 {
		return nil, &ConfigError{Reason: "pause duration, rewind amount and alert lead time must not be negative"}
	}
	if options.AlertLeadTime >= options.PlayDuration {
		return nil, &ConfigError{Reason: "alert lead time must be shorter than play duration"}
	}
	if cues == nil && len(options.cues()) > 0 {
		return nil, &ConfigError{Reason: "cue sources configured without a cue player"}
	}

	return s, nil
}

// State returns a snapshot of the current cycle.
func (s *Scheduler) State() CycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setPhase(phase Phase, c *cycle) {
	s.mu.Lock()
	s.state.Phase = phase
	if c != nil {
		s.state.Section = c.section.Name
		s.state.Elapsed = c.elapsed
		s.state.Pauses = c.pauses
	} else {
		s.state.Section = ""
		s.state.Elapsed = 0
		s.state.Pauses = 0
	}
	state := s.state
	s.mu.Unlock()

	if s.onPhase != nil {
		s.onPhase(state)
	}
}

// Validate checks every section against its source before anything is keyed.
func (s *Scheduler) Validate(sections []Section) error {
	if len(sections) == 0 {
		return &ConfigError{Reason: "no sections scheduled"}
	}

	seen := make(map[string]struct{}, len(sections))
	durations := make(map[string]time.Duration)
	for _, sec := range sections {
		if sec.Name == "" {
			return &ConfigError{Reason: "section without a name"}
		}
		if _, ok := seen[sec.Name]; ok {
			return &ConfigError{Section: sec.Name, Reason: "duplicate section name"}
		}
		seen[sec.Name] = struct{}{}

		if sec.Start < 0 {
			return &ConfigError{Section: sec.Name, Reason: "start offset is negative"}
		}
		if sec.Start >= sec.End {
			return &ConfigError{Section: sec.Name, Reason: fmt.Sprintf("start %s is not before end %s", sec.Start, sec.End)}
		}

		dur, ok := durations[sec.Source]
		if !ok {
			var err error
			dur, err = s.player.Duration(sec.Source)
			if err != nil {
				return &ConfigError{Section: sec.Name, Reason: "unreadable source", Err: err}
			}
			durations[sec.Source] = dur
		}
		if sec.End > dur {
			return &ConfigError{Section: sec.Name, Reason: fmt.Sprintf("end %s is past the source duration %s", sec.End, dur)}
		}
	}

	for _, ref := range s.opts.cues() {
		if _, err := s.cues.Duration(ref); err != nil {
			return &ConfigError{Reason: "unreadable cue", Err: err}
		}
	}

	return nil
}

// Run validates the schedule, then plays the intro, every section and the outro.
// The transmitter is released on every return path.
func (s *Scheduler) Run(ctx context.Context, sections []Section) (err error) {
	if err := s.Validate(sections); err != nil {
		return err
	}

	defer func() {
		if rerr := s.release(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	start := time.Now()
	s.logger.Info().Int("sections", len(sections)).Msg("bulletin starting")

	if s.opts.Intro != "" {
		if err := s.announcement(ctx, "intro", s.opts.Intro); err != nil {
			return err
		}
		if err := s.sleep(ctx, s.opts.SectionGap); err != nil {
			return err
		}
	}

	for i, sec := range sections {
		if err := s.PlaySection(ctx, sec); err != nil {
			return err
		}
		if err := s.key(ctx, false, sec.Name); err != nil {
			return err
		}
		if i < len(sections)-1 || s.opts.Outro != "" {
			if err := s.sleep(ctx, s.opts.SectionGap); err != nil {
				return err
			}
		}
	}

	if s.opts.Outro != "" {
		if err := s.announcement(ctx, "outro", s.opts.Outro); err != nil {
			return err
		}
	}

	s.logger.Info().Dur("took", time.Since(start)).Msg("bulletin complete")
	return nil
}

// release unkeys and silences everything. It does not take ctx and runs after cancellation too.
func (s *Scheduler) release() error {
	s.setPhase(PhaseIdle, nil)

	err := s.ptt.SetKeyed(false)
	if perr := s.player.Stop(); perr != nil {
		s.logger.Warn().Err(perr).Msg("stopping player")
	}
	if s.cues != nil {
		if cerr := s.cues.Stop(); cerr != nil {
			s.logger.Warn().Err(cerr).Msg("stopping cue player")
		}
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to release ptt")
		return &PlaybackError{Op: "release ptt", Err: err}
	}
	return nil
}

func (s *Scheduler) announcement(ctx context.Context, name, ref string) error {
	if err := s.gate(ctx, name); err != nil {
		return err
	}
	if err := s.key(ctx, true, name); err != nil {
		return err
	}
	if err := s.announce(ctx, name, ref); err != nil {
		return err
	}
	return s.key(ctx, false, name)
}

// gate holds until the channel is idle. There is no deadline; only ctx ends the wait.
func (s *Scheduler) gate(ctx context.Context, name string) error {
	if !s.channel.GetOccupancy() {
		return nil
	}

	start := time.Now()
	polls := 0
	s.logger.Info().Str("section", name).Msg("channel busy, holding transmission")

	for s.channel.GetOccupancy() {
		if err := s.sleep(ctx, s.opts.GatePollInterval); err != nil {
			return err
		}
		polls++
	}

	s.logger.Info().Str("section", name).Int("polls", polls).Msg("channel clear")
	util.WritePoint(s.writeAPI, "playback.gate",
		map[string]string{"section": name},
		map[string]interface{}{
			"polls":       polls,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	return nil
}

// key switches the transmitter and waits for it to settle. Keying up is refused once ctx is done.
func (s *Scheduler) key(ctx context.Context, on bool, name string) error {
	if on {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if err := s.ptt.SetKeyed(on); err != nil {
		return &PlaybackError{Section: name, Op: "ptt", Err: err}
	}

	delay := s.opts.KeyDownDelay
	if on {
		delay = s.opts.KeyUpDelay
	}
	return s.sleep(ctx, delay)
}

// announce plays ref on the cue player and waits for it to finish.
func (s *Scheduler) announce(ctx context.Context, name, ref string) error {
	if ref == "" {
		return nil
	}
	if err := s.cues.Load(ref); err != nil {
		return &PlaybackError{Section: name, Op: "load cue", Err: err}
	}
	if err := s.cues.Play(0); err != nil {
		return &PlaybackError{Section: name, Op: "play cue", Err: err}
	}
	for s.cues.IsBusy() {
		if err := s.sleep(ctx, cuePollInterval); err != nil {
			return err
		}
	}
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
