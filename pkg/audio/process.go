package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	placeholderFile   = "{file}"
	placeholderOffset = "{offset}"

	probeTimeout = 30 * time.Second
)

var (
	DefaultPlayCommand  = []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", "-ss", placeholderOffset, placeholderFile}
	DefaultProbeCommand = []string{"ffprobe", "-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", placeholderFile}

	errNotLoaded = errors.New("no source loaded")
)

type ProcessOptions struct {
	// PlayCommand is run once per (re)start; {file} and {offset} (seconds) are substituted.
	PlayCommand []string
	// ProbeCommand must print the duration of {file} in seconds.
	ProbeCommand []string
}

// ProcessPlayer plays through an external player process. Pause suspends the
// process; seeking restarts it at the new offset.
type ProcessPlayer struct {
	opts   ProcessOptions
	logger zerolog.Logger

	mu        sync.Mutex
	ref       string
	cmd       *exec.Cmd
	done      chan struct{}
	exitErr   *error
	paused    bool
	offset    time.Duration
	startedAt time.Time
}

func NewProcessPlayer(opts ProcessOptions, logger zerolog.Logger) *ProcessPlayer {
	if len(opts.PlayCommand) == 0 {
		opts.PlayCommand = DefaultPlayCommand
	}
	if len(opts.ProbeCommand) == 0 {
		opts.ProbeCommand = DefaultProbeCommand
	}
	return &ProcessPlayer{opts: opts, logger: logger}
}

// NewDefaultProcessPlayer uses ffplay/ffprobe and the global logger.
func NewDefaultProcessPlayer() *ProcessPlayer {
	return NewProcessPlayer(ProcessOptions{}, log.Logger)
}

func expand(argv []string, ref string, offset time.Duration) []string {
	out := make([]string, len(argv))
	for i, arg := range argv {
		arg = strings.ReplaceAll(arg, placeholderFile, ref)
		arg = strings.ReplaceAll(arg, placeholderOffset, strconv.FormatFloat(offset.Seconds(), 'f', 3, 64))
		out[i] = arg
	}
	return out
}

func (p *ProcessPlayer) Load(ref string) error {
	if _, err := os.Stat(ref); err != nil {
		return &DecodeError{Ref: ref, Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.killLocked()
	p.ref = ref
	p.offset = 0
	return nil
}

func (p *ProcessPlayer) Play(from time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killLocked()
	return p.startLocked(from)
}

func (p *ProcessPlayer) startLocked(from time.Duration) error {
	if p.ref == "" {
		return errNotLoaded
	}

	argv := expand(p.opts.PlayCommand, p.ref, from)
	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", argv[0], err)
	}

	ref := p.ref
	done := make(chan struct{})
	var exitErr error
	go func() {
		exitErr = cmd.Wait()
		if exitErr != nil {
			p.logger.Debug().Err(exitErr).Str("ref", ref).Msg("player process exited")
		}
		close(done)
	}()

	p.cmd = cmd
	p.done = done
	p.exitErr = &exitErr
	p.paused = false
	p.offset = from
	p.startedAt = time.Now()
	return nil
}

func (p *ProcessPlayer) running() bool {
	if p.cmd == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *ProcessPlayer) killLocked() {
	if p.cmd != nil && p.running() {
		if p.paused {
			_ = resume(p.cmd.Process)
		}
		_ = p.cmd.Process.Kill()
		<-p.done
	}
	p.cmd = nil
	p.done = nil
	p.exitErr = nil
	p.paused = false
}

func (p *ProcessPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused || !p.running() {
		return nil
	}
	if err := suspend(p.cmd.Process); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	p.offset += time.Since(p.startedAt)
	p.paused = true
	return nil
}

func (p *ProcessPlayer) Unpause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return nil
	}
	if p.cmd == nil {
		// Seeked while paused: the old process is gone.
		return p.startLocked(p.offset)
	}
	if err := resume(p.cmd.Process); err != nil {
		return fmt.Errorf("unpause: %w", err)
	}
	p.paused = false
	p.startedAt = time.Now()
	return nil
}

func (p *ProcessPlayer) Seek(offset time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ref == "" {
		return errNotLoaded
	}
	if p.paused {
		p.killLocked()
		p.paused = true
		p.offset = offset
		return nil
	}
	p.killLocked()
	return p.startLocked(offset)
}

// Stop ends playback. It reports the exit error of a player process that
// failed on its own since the last Play, Seek or Load.
func (p *ProcessPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.cmd != nil && !p.running() && *p.exitErr != nil {
		err = fmt.Errorf("player exited: %w", *p.exitErr)
	}
	p.killLocked()
	return err
}

func (p *ProcessPlayer) IsBusy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused || p.running()
}

func (p *ProcessPlayer) Duration(ref string) (time.Duration, error) {
	if _, err := os.Stat(ref); err != nil {
		return 0, &DecodeError{Ref: ref, Err: err}
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	argv := expand(p.opts.ProbeCommand, ref, 0)
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).Output()
	if err != nil {
		return 0, &DecodeError{Ref: ref, Err: err}
	}

	secs, err := strconv.ParseFloat(string(bytes.TrimSpace(out)), 64)
	if err != nil {
		return 0, &DecodeError{Ref: ref, Err: fmt.Errorf("probe output %q: %w", bytes.TrimSpace(out), err)}
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, &DecodeError{Ref: ref, Err: fmt.Errorf("invalid duration %v", secs)}
	}
	if secs <= 0 {
		return 0, &DecodeError{Ref: ref, Err: fmt.Errorf("non-positive duration %v", secs)}
	}

	return time.Duration(secs * float64(time.Second)), nil
}
