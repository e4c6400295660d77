package scheduler

import (
	"context"
	"time"

	"github.com/norasector/bulletin/pkg/util"
)

type cycle struct {
	section Section
	elapsed time.Duration
	pauses  int
}

// PlaySection gates, keys up and plays one section to its end, pausing every
// PlayDuration. The transmitter is left keyed; the caller releases it.
func (s *Scheduler) PlaySection(ctx context.Context, sec Section) error {
	c := &cycle{section: sec, elapsed: sec.Start}

	s.setPhase(PhaseAwaitingChannelClear, c)
	if err := s.gate(ctx, sec.Name); err != nil {
		return err
	}
	if err := s.key(ctx, true, sec.Name); err != nil {
		return err
	}

	if err := s.player.Load(sec.Source); err != nil {
		return &PlaybackError{Section: sec.Name, Op: "load", Err: err}
	}
	if err := s.player.Play(sec.Start); err != nil {
		return &PlaybackError{Section: sec.Name, Op: "play", Err: err}
	}

	s.logger.Info().
		Str("section", sec.Name).
		Str("source", sec.Source).
		Dur("start", sec.Start).
		Dur("end", sec.End).
		Msg("section starting")
	s.setPhase(PhasePlaying, c)

	for c.elapsed < sec.End && s.player.IsBusy() {
		nextPause := sec.Start + time.Duration(c.pauses+1)*s.opts.PlayDuration

		if sec.End-c.elapsed <= s.opts.PlayDuration || nextPause >= sec.End {
			if err := s.playUntil(ctx, c, sec.End, false); err != nil {
				return err
			}
			break
		}

		if err := s.playUntil(ctx, c, nextPause, true); err != nil {
			return err
		}
		if c.elapsed >= sec.End || !s.player.IsBusy() {
			break
		}

		if err := s.pauseCycle(ctx, c); err != nil {
			return err
		}
	}

	if err := s.player.Stop(); err != nil {
		return &PlaybackError{Section: sec.Name, Op: "stop", Err: err}
	}

	s.logger.Info().
		Str("section", sec.Name).
		Dur("elapsed", c.elapsed).
		Int("pauses", c.pauses).
		Msg("section complete")

	util.WritePoint(s.writeAPI, "playback.section",
		map[string]string{"section": sec.Name},
		map[string]interface{}{
			"length_s": sec.Length().Seconds(),
			"pauses":   c.pauses,
		})

	s.setPhase(PhaseIdle, nil)
	return nil
}

// playUntil tracks progress up to until. With alert set, the alert cue fires once
// when the remaining time reaches AlertLeadTime.
func (s *Scheduler) playUntil(ctx context.Context, c *cycle, until time.Duration, alert bool) error {
	alerted := false
	for c.elapsed < until && s.player.IsBusy() {
		if alert && !alerted && s.opts.AlertLeadTime > 0 && until-c.elapsed <= s.opts.AlertLeadTime {
			alerted = true
			s.fireAlert(c)
		}

		step := s.opts.Tick
		if rem := until - c.elapsed; rem < step {
			step = rem
		}
		if err := s.sleep(ctx, step); err != nil {
			return err
		}
		c.elapsed += step
	}
	return nil
}

// fireAlert starts the alert cue without waiting for it.
func (s *Scheduler) fireAlert(c *cycle) {
	s.setPhase(PhaseAlertPending, c)
	s.logger.Debug().Str("section", c.section.Name).Dur("elapsed", c.elapsed).Msg("pause alert")

	if s.opts.Alert == "" {
		return
	}
	if err := s.cues.Load(s.opts.Alert); err != nil {
		s.logger.Warn().Err(err).Msg("loading alert cue")
		return
	}
	if err := s.cues.Play(0); err != nil {
		s.logger.Warn().Err(err).Msg("playing alert cue")
	}
}

// pauseCycle hands the channel to other stations and comes back rewound.
func (s *Scheduler) pauseCycle(ctx context.Context, c *cycle) error {
	name := c.section.Name
	pausedAt := c.elapsed
	c.pauses++

	if err := s.player.Pause(); err != nil {
		return &PlaybackError{Section: name, Op: "pause", Err: err}
	}
	s.setPhase(PhasePaused, c)
	s.logger.Info().Str("section", name).Dur("elapsed", pausedAt).Int("pause", c.pauses).Msg("pausing for other stations")

	if err := s.announce(ctx, name, s.opts.Standby); err != nil {
		return err
	}
	if err := s.key(ctx, false, name); err != nil {
		return err
	}
	if err := s.sleep(ctx, s.opts.PauseDuration); err != nil {
		return err
	}

	c.elapsed -= s.opts.RewindAmount
	if c.elapsed < c.section.Start {
		c.elapsed = c.section.Start
	}
	if err := s.player.Seek(c.elapsed); err != nil {
		return &PlaybackError{Section: name, Op: "seek", Err: err}
	}

	s.setPhase(PhaseAwaitingChannelClear, c)
	if err := s.gate(ctx, name); err != nil {
		return err
	}

	s.setPhase(PhaseResuming, c)
	if err := s.key(ctx, true, name); err != nil {
		return err
	}
	if err := s.announce(ctx, name, s.opts.Resume); err != nil {
		return err
	}
	if err := s.player.Unpause(); err != nil {
		return &PlaybackError{Section: name, Op: "unpause", Err: err}
	}

	s.logger.Info().Str("section", name).Dur("elapsed", c.elapsed).Msg("resuming")
	util.WritePoint(s.writeAPI, "playback.pause",
		map[string]string{"section": name},
		map[string]interface{}{
			"paused_at_s":  pausedAt.Seconds(),
			"resumed_at_s": c.elapsed.Seconds(),
		})

	s.setPhase(PhasePlaying, c)
	return nil
}
