package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/bulletin/pkg/ami"
	"github.com/norasector/bulletin/pkg/audio"
	"github.com/norasector/bulletin/pkg/bulletin"
	"github.com/norasector/bulletin/pkg/bulletin/config"
	"github.com/norasector/bulletin/pkg/bulletin/output"
	"github.com/norasector/bulletin/pkg/ptt"
	"github.com/norasector/bulletin/pkg/scheduler"
	"github.com/norasector/bulletin/pkg/status"
	"github.com/norasector/bulletin/pkg/util"
	"golang.org/x/sync/errgroup"
)

const exitConfigError = 2

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)
	configFile := flag.String("config", "bulletin.yaml", "YAML config file")
	debug := flag.Bool("debug", false, "enable debug logging")

	flag.Parse()
	if *debug {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Error().Err(err).Str("config", *configFile).Msg("error loading config")
		os.Exit(exitConfigError)
	}

	var ctrl ptt.Controller
	switch cfg.PTT.Backend {
	case config.PTTBackendDryRun:
		log.Warn().Msg("dry-run ptt, transmitter will not be keyed")
		ctrl = ptt.NewDryRun(log.Logger)
	default:
		ctrl, err = ptt.NewGPIO(cfg.PTT.GPIOPath, cfg.PTT.ActiveLow)
		if err != nil {
			log.Error().Err(err).Msg("failed to open ptt gpio")
			os.Exit(exitConfigError)
		}
	}

	playerOpts := audio.ProcessOptions{
		PlayCommand:  cfg.Player.Command,
		ProbeCommand: cfg.Player.ProbeCommand,
	}
	player := audio.NewProcessPlayer(playerOpts, log.Logger.With().Str("player", "bulletin").Logger())
	cues := audio.NewProcessPlayer(playerOpts, log.Logger.With().Str("player", "cues").Logger())

	var writeAPI api.WriteAPI = &util.MockWriteAPI{}
	if cfg.InfluxDB.Host != "" {
		client := influxdb2.NewClient(cfg.InfluxDB.Host, cfg.InfluxDB.Token)
		defer client.Close()
		writeAPI = client.WriteAPI(cfg.InfluxDB.Organization, cfg.InfluxDB.Bucket)
	}

	var outputs []bulletin.EventOutput
	if len(cfg.OutputDestinations) > 0 {
		outputs = append(outputs, output.NewEventUDPOutput(cfg.OutputDestinations, writeAPI))
	}
	if cfg.LogTransitions {
		outputs = append(outputs, output.NewSimpleEventOutput(os.Stdout, nil))
	}

	opts := []bulletin.BulletinOption{
		bulletin.WithInfluxDB(writeAPI),
		bulletin.WithLogger(log.Logger),
	}
	if cfg.StatusServer.Port != 0 {
		opts = append(opts, bulletin.WithStatusServer(status.NewServer(cfg.StatusServer.Port)))
	}

	b, err := bulletin.NewBulletin(bulletin.Options{
		Connection: connectionOptions(cfg),
		Playback:   playbackOptions(cfg),
		Sections:   sections(cfg),
		Player:     player,
		Cues:       cues,
		PTT:        ctrl,
		Outputs:    outputs,
	}, opts...)
	if err != nil {
		log.Error().Err(err).Msg("failed to create bulletin")
		os.Exit(exitConfigError)
	}

	eg, ctx := errgroup.WithContext(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	eg.Go(func() error {
		select {
		case <-sigChan:
			log.Info().Msg("shutting down")
		case <-ctx.Done():
		case <-done:
			return nil
		}

		return b.Stop()
	})

	eg.Go(func() error {
		defer close(done)
		return b.Start(ctx)
	})

	err = eg.Wait()
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		log.Info().Msg("bulletin finished")
	case scheduler.IsConfigError(err):
		log.Error().Err(err).Msg("invalid bulletin")
		os.Exit(exitConfigError)
	default:
		log.Fatal().Err(err).Msg("exited program")
	}
}

func connectionOptions(cfg *config.Config) ami.Options {
	c := cfg.Connection
	return ami.Options{
		Host:              c.Host,
		Port:              c.Port,
		Username:          c.Username,
		Secret:            c.Secret,
		UseTLS:            c.UseTLS,
		TLSSkipVerify:     c.TLSSkipVerify,
		SuccessToken:      c.SuccessToken,
		ReceiverEvent:     c.Events.Receiver,
		TransmitterEvent:  c.Events.Transmitter,
		ReconnectDelay:    c.ReconnectDelay,
		MaxReconnectDelay: c.MaxReconnectDelay,
		LoginTimeout:      c.LoginTimeout,
		KeepaliveInterval: c.KeepaliveInterval,
	}
}

func playbackOptions(cfg *config.Config) scheduler.Options {
	t := cfg.Timing
	return scheduler.Options{
		PlayDuration:     t.PlayDuration,
		PauseDuration:    t.PauseDuration,
		AlertLeadTime:    t.AlertLeadTime,
		RewindAmount:     t.RewindAmount,
		GatePollInterval: t.GatePollInterval,
		Tick:             t.Tick,
		KeyUpDelay:       t.KeyUpDelay,
		KeyDownDelay:     t.KeyDownDelay,
		SectionGap:       t.SectionGap,
		Intro:            cfg.Announcements.Intro,
		Outro:            cfg.Announcements.Outro,
		Standby:          cfg.Announcements.Standby,
		Resume:           cfg.Announcements.Resume,
		Alert:            cfg.Announcements.Alert,
	}
}

func sections(cfg *config.Config) []scheduler.Section {
	out := make([]scheduler.Section, 0, len(cfg.Sections))
	for _, sec := range cfg.Sections {
		out = append(out, scheduler.Section{
			Name:   sec.Name,
			Source: sec.Source,
			Start:  sec.Start,
			End:    sec.End,
		})
	}
	return out
}
