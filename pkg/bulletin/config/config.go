package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/norasector/bulletin/pkg/ami"
	"github.com/norasector/bulletin/pkg/scheduler"
	"gopkg.in/yaml.v2"
)

var ErrInvalid = errors.New("invalid configuration")

const (
	PTTBackendGPIO   = "gpio"
	PTTBackendDryRun = "dryrun"
)

type Config struct {
	Sections           []Section           `yaml:"sections"`
	Timing             Timing              `yaml:"timing"`
	Connection         Connection          `yaml:"connection"`
	Announcements      Announcements       `yaml:"announcements"`
	PTT                PTT                 `yaml:"ptt"`
	Player             Player              `yaml:"player"`
	OutputDestinations []OutputDestination `yaml:"output_destinations"`
	LogTransitions     bool                `yaml:"log_transitions"`
	StatusServer       struct {
		Port int `yaml:"port"`
	} `yaml:"status_server"`
	InfluxDB struct {
		Host         string `yaml:"host"`
		Token        string `yaml:"token"`
		Organization string `yaml:"organization"`
		Bucket       string `yaml:"bucket"`
	} `yaml:"influxdb"`
}

type Section struct {
	Name   string        `yaml:"name"`
	Source string        `yaml:"source"`
	Start  time.Duration `yaml:"start"`
	End    time.Duration `yaml:"end"`
}

type Timing struct {
	PlayDuration     time.Duration `yaml:"play_duration"`
	PauseDuration    time.Duration `yaml:"pause_duration"`
	AlertLeadTime    time.Duration `yaml:"alert_lead_time"`
	RewindAmount     time.Duration `yaml:"rewind_amount"`
	GatePollInterval time.Duration `yaml:"gate_poll_interval"`
	KeyUpDelay       time.Duration `yaml:"key_up_delay"`
	KeyDownDelay     time.Duration `yaml:"key_down_delay"`
	SectionGap       time.Duration `yaml:"section_gap"`
	Tick             time.Duration `yaml:"tick"`
}

type Connection struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Username      string `yaml:"username"`
	Secret        string `yaml:"secret"`
	UseTLS        bool   `yaml:"use_tls"`
	TLSSkipVerify bool   `yaml:"tls_skip_verify"`
	SuccessToken  string `yaml:"success_token"`
	Events        struct {
		Receiver    string `yaml:"receiver"`
		Transmitter string `yaml:"transmitter"`
	} `yaml:"events"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
	LoginTimeout      time.Duration `yaml:"login_timeout"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

type Announcements struct {
	Intro   string `yaml:"intro"`
	Outro   string `yaml:"outro"`
	Standby string `yaml:"standby"`
	Resume  string `yaml:"resume"`
	Alert   string `yaml:"alert"`
}

type PTT struct {
	Backend   string `yaml:"backend"`
	GPIOPath  string `yaml:"gpio_path"`
	ActiveLow bool   `yaml:"active_low"`
}

type Player struct {
	Command      []string `yaml:"command,flow"`
	ProbeCommand []string `yaml:"probe_command,flow"`
}

type OutputDestination struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(contents)
}

// Parse unmarshals YAML, applies defaults and validates the result.
func Parse(contents []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(contents, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Timing.GatePollInterval == 0 {
		c.Timing.GatePollInterval = scheduler.DefaultGatePollInterval
	}
	if c.Timing.Tick == 0 {
		c.Timing.Tick = scheduler.DefaultTick
	}
	if c.Timing.KeyUpDelay == 0 {
		c.Timing.KeyUpDelay = scheduler.DefaultKeyUpDelay
	}
	if c.Timing.KeyDownDelay == 0 {
		c.Timing.KeyDownDelay = scheduler.DefaultKeyDownDelay
	}
	if c.Timing.SectionGap == 0 {
		c.Timing.SectionGap = scheduler.DefaultSectionGap
	}
	if c.Connection.ReconnectDelay == 0 {
		c.Connection.ReconnectDelay = ami.DefaultReconnectDelay
	}
	if c.Connection.MaxReconnectDelay == 0 {
		c.Connection.MaxReconnectDelay = ami.DefaultMaxReconnectDelay
	}
	if c.Connection.LoginTimeout == 0 {
		c.Connection.LoginTimeout = ami.DefaultLoginTimeout
	}
	if c.Connection.SuccessToken == "" {
		c.Connection.SuccessToken = ami.DefaultSuccessToken
	}
	if c.Connection.Events.Receiver == "" {
		c.Connection.Events.Receiver = ami.DefaultReceiverEvent
	}
	if c.Connection.Events.Transmitter == "" {
		c.Connection.Events.Transmitter = ami.DefaultTransmitterEvent
	}
	if c.PTT.Backend == "" {
		c.PTT.Backend = PTTBackendGPIO
	}
}

// Validate reports structural problems. Source files are checked later, against the player.
func (c *Config) Validate() error {
	if len(c.Sections) == 0 {
		return fmt.Errorf("%w: no sections", ErrInvalid)
	}
	seen := make(map[string]struct{}, len(c.Sections))
	for i, sec := range c.Sections {
		if sec.Name == "" {
			return fmt.Errorf("%w: section %d has no name", ErrInvalid, i)
		}
		if _, ok := seen[sec.Name]; ok {
			return fmt.Errorf("%w: duplicate section %q", ErrInvalid, sec.Name)
		}
		seen[sec.Name] = struct{}{}
		if sec.Source == "" {
			return fmt.Errorf("%w: section %q has no source", ErrInvalid, sec.Name)
		}
	}

	t := c.Timing
	if t.PlayDuration <= 0 {
		return fmt.Errorf("%w: play_duration must be positive", ErrInvalid)
	}
	if t.PauseDuration < 0 || t.RewindAmount < 0 || t.AlertLeadTime < 0 {
		return fmt.Errorf("%w: pause_duration, rewind_amount and alert_lead_time must not be negative", ErrInvalid)
	}
	if t.GatePollInterval < 0 || t.Tick < 0 || t.KeyUpDelay < 0 || t.KeyDownDelay < 0 || t.SectionGap < 0 {
		return fmt.Errorf("%w: timing values must not be negative", ErrInvalid)
	}

	if c.Connection.Host == "" || c.Connection.Port <= 0 {
		return fmt.Errorf("%w: connection host and port are required", ErrInvalid)
	}

	switch c.PTT.Backend {
	case PTTBackendGPIO:
		if c.PTT.GPIOPath == "" {
			return fmt.Errorf("%w: ptt gpio_path is required for the gpio backend", ErrInvalid)
		}
	case PTTBackendDryRun:
	default:
		return fmt.Errorf("%w: unknown ptt backend %q", ErrInvalid, c.PTT.Backend)
	}

	for _, dest := range c.OutputDestinations {
		if dest.Host == "" || dest.Port <= 0 {
			return fmt.Errorf("%w: output destination needs host and port", ErrInvalid)
		}
	}
	return nil
}
