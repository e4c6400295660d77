package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/norasector/bulletin/pkg/audio"
	"github.com/norasector/bulletin/pkg/ptt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// eventLog records everything the scheduler does to its collaborators, in order.
type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(format string, args ...interface{}) {
	l.mu.Lock()
	l.entries = append(l.entries, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func (l *eventLog) count(entry string) int {
	n := 0
	for _, e := range l.all() {
		if e == entry {
			n++
		}
	}
	return n
}

func (l *eventLog) withPrefix(prefix string) []string {
	var out []string
	for _, e := range l.all() {
		if strings.HasPrefix(e, prefix) {
			out = append(out, e)
		}
	}
	return out
}

func indexOf(entries []string, entry string, from int) int {
	for i := from; i < len(entries); i++ {
		if entries[i] == entry {
			return i
		}
	}
	return -1
}

// virtualClock makes every sleep instant while keeping track of simulated time.
type virtualClock struct {
	now    time.Duration
	sleeps int
	after  func()
}

func (c *virtualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now += d
	c.sleeps++
	if c.after != nil {
		c.after()
	}
	return ctx.Err()
}

type fakePlayer struct {
	clock     *virtualClock
	log       *eventLog
	durations map[string]time.Duration
	failOp    string

	loaded    string
	playing   bool
	paused    bool
	base      time.Duration
	startedAt time.Duration
	seeks     []time.Duration
}

func (p *fakePlayer) fail(op string) error {
	if p.failOp == op {
		return errors.New("audio device gone")
	}
	return nil
}

func (p *fakePlayer) pos() time.Duration {
	if p.playing && !p.paused {
		return p.base + p.clock.now - p.startedAt
	}
	return p.base
}

func (p *fakePlayer) Load(ref string) error {
	if err := p.fail("load"); err != nil {
		return err
	}
	p.loaded = ref
	p.playing = false
	p.paused = false
	p.log.add("load:%s", ref)
	return nil
}

func (p *fakePlayer) Play(from time.Duration) error {
	if err := p.fail("play"); err != nil {
		return err
	}
	p.playing = true
	p.paused = false
	p.base = from
	p.startedAt = p.clock.now
	p.log.add("play:%s", from)
	return nil
}

func (p *fakePlayer) Pause() error {
	if err := p.fail("pause"); err != nil {
		return err
	}
	p.base = p.pos()
	p.paused = true
	p.log.add("pause")
	return nil
}

func (p *fakePlayer) Unpause() error {
	if err := p.fail("unpause"); err != nil {
		return err
	}
	p.paused = false
	p.startedAt = p.clock.now
	p.log.add("unpause")
	return nil
}

func (p *fakePlayer) Seek(offset time.Duration) error {
	if err := p.fail("seek"); err != nil {
		return err
	}
	p.base = offset
	p.startedAt = p.clock.now
	p.seeks = append(p.seeks, offset)
	p.log.add("seek:%s", offset)
	return nil
}

func (p *fakePlayer) Stop() error {
	p.playing = false
	p.paused = false
	p.loaded = ""
	p.log.add("stop")
	return nil
}

func (p *fakePlayer) IsBusy() bool {
	if p.loaded == "" || !p.playing {
		return false
	}
	return p.paused || p.pos() < p.durations[p.loaded]
}

func (p *fakePlayer) Duration(ref string) (time.Duration, error) {
	d, ok := p.durations[ref]
	if !ok {
		return 0, &audio.DecodeError{Ref: ref, Err: errors.New("not a media file")}
	}
	return d, nil
}

// fakeCues finishes every cue instantly.
type fakeCues struct {
	log    *eventLog
	loaded string
}

func (c *fakeCues) Load(ref string) error           { c.loaded = ref; return nil }
func (c *fakeCues) Play(from time.Duration) error   { c.log.add("cue:%s", c.loaded); return nil }
func (c *fakeCues) Pause() error                    { return nil }
func (c *fakeCues) Unpause() error                  { return nil }
func (c *fakeCues) Seek(offset time.Duration) error { return nil }
func (c *fakeCues) Stop() error                     { return nil }
func (c *fakeCues) IsBusy() bool                    { return false }

func (c *fakeCues) Duration(ref string) (time.Duration, error) {
	return 2 * time.Second, nil
}

type fakeOccupancy struct {
	log  *eventLog
	busy bool
}

func (o *fakeOccupancy) GetOccupancy() bool {
	o.log.add("occ:%t", o.busy)
	return o.busy
}

type recordingPTT struct {
	log *eventLog
}

func (r *recordingPTT) SetKeyed(keyed bool) error {
	if keyed {
		r.log.add("ptt:on")
	} else {
		r.log.add("ptt:off")
	}
	return nil
}

type harness struct {
	clock  *virtualClock
	log    *eventLog
	player *fakePlayer
	cues   *fakeCues
	occ    *fakeOccupancy
	latch  *ptt.Latch
	sched  *Scheduler

	mu      sync.Mutex
	states  []CycleState
	onPhase func(CycleState)
}

func testOptions() Options {
	return Options{
		PlayDuration:     150 * time.Second,
		PauseDuration:    5 * time.Second,
		AlertLeadTime:    10 * time.Second,
		RewindAmount:     5 * time.Second,
		GatePollInterval: time.Second,
		Tick:             time.Second,
		KeyUpDelay:       time.Second,
		KeyDownDelay:     time.Second,
		SectionGap:       2 * time.Second,
	}
}

func newHarness(t *testing.T, opts Options) *harness {
	h := &harness{
		clock: &virtualClock{},
		log:   &eventLog{},
	}
	h.player = &fakePlayer{
		clock: h.clock,
		log:   h.log,
		durations: map[string]time.Duration{
			"bulletin.wav": 600 * time.Second,
			"a.wav":        60 * time.Second,
			"b.wav":        60 * time.Second,
		},
	}
	h.cues = &fakeCues{log: h.log}
	h.occ = &fakeOccupancy{log: h.log}
	h.latch = ptt.NewLatch(&recordingPTT{log: h.log}, ptt.WithLogger(zerolog.New(io.Discard)))

	sched, err := NewScheduler(h.player, h.cues, h.latch, h.occ, opts,
		WithLogger(zerolog.New(io.Discard)),
		WithSleeper(h.clock.Sleep),
		WithPhaseHook(func(s CycleState) {
			h.mu.Lock()
			h.states = append(h.states, s)
			fn := h.onPhase
			h.mu.Unlock()
			if fn != nil {
				fn(s)
			}
		}))
	require.NoError(t, err)
	h.sched = sched
	return h
}

// statesIn returns the recorded states with the given phase.
func (h *harness) statesIn(phase Phase) []CycleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []CycleState
	for _, s := range h.states {
		if s.Phase == phase {
			out = append(out, s)
		}
	}
	return out
}

func elapsedOf(states []CycleState) []time.Duration {
	out := make([]time.Duration, 0, len(states))
	for _, s := range states {
		out = append(out, s.Elapsed)
	}
	return out
}
