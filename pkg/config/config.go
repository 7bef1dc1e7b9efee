// Package config loads node configuration from YAML, an optional .env file
// and SPRINTGATE_* environment variables, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sprintgate/sprintgate-go/pkg/timing"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SPRINTGATE_"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Node roles.
const (
	RolePrimary   = "primary"
	RoleSecondary = "secondary"
)

// Config is the full node configuration.
type Config struct {
	Role     string        `yaml:"role"`
	Simulate bool          `yaml:"simulate"`
	Timing   TimingConfig  `yaml:"timing"`
	Sensor   SensorConfig  `yaml:"sensor"`
	Network  NetworkConfig `yaml:"network"`
	Web      WebConfig     `yaml:"web"`
	Storage  StorageConfig `yaml:"storage"`
	Results  ResultsConfig `yaml:"results"`
	Log      LogConfig     `yaml:"log"`
}

// TimingConfig selects and tunes the time reference.
type TimingConfig struct {
	// Mode is AUTO, GPS, WIRED or SYSTEM.
	Mode             string        `yaml:"mode"`
	GPSLockTimeout   time.Duration `yaml:"gps_lock_timeout"`
	GPSMinSatellites int           `yaml:"gps_min_satellites"`
	GPSPollInterval  time.Duration `yaml:"gps_poll_interval"`
	GPSQueryTimeout  time.Duration `yaml:"gps_query_timeout"`

	// PulseChip and PulseLine carry the wired sync pulse. A negative line
	// disables wired sync.
	PulseChip  string        `yaml:"pulse_chip"`
	PulseLine  int           `yaml:"pulse_line"`
	PulseWidth time.Duration `yaml:"pulse_width"`
}

// SensorConfig describes the beam sensor input.
type SensorConfig struct {
	Chip     string        `yaml:"chip"`
	Line     int           `yaml:"line"`
	Debounce time.Duration `yaml:"debounce"`

	// ActiveHigh triggers on the rising edge instead of the falling edge.
	ActiveHigh bool `yaml:"active_high"`
}

// NetworkConfig configures the gate link.
type NetworkConfig struct {
	// Host is the primary's address, used by the secondary. Empty with
	// Discovery enabled browses for the primary.
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	ReconnectBackoff  time.Duration `yaml:"reconnect_backoff"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	Discovery         bool          `yaml:"discovery"`
	Instance          string        `yaml:"instance"`
}

// WebConfig configures the spectator API on the primary.
type WebConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Address           string   `yaml:"address"`
	AdminUser         string   `yaml:"admin_user"`
	AdminPasswordHash string   `yaml:"admin_password_hash"`
	AllowedOrigins    []string `yaml:"allowed_origins"`
}

// StorageConfig locates the runner database and the node state file.
type StorageConfig struct {
	Path string `yaml:"path"`

	// StatePath keeps the armed runner and last primary address across
	// restarts. Empty disables it.
	StatePath string `yaml:"state_path"`
}

// ResultsConfig enables NATS result fan-out when NATSURL is set.
type ResultsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`

	// ProtocolLog is the capture file path. Empty disables capture.
	ProtocolLog string `yaml:"protocol_log"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Role: RolePrimary,
		Timing: TimingConfig{
			Mode:             timing.ModeAuto.String(),
			GPSLockTimeout:   timing.DefaultLockTimeout,
			GPSMinSatellites: timing.DefaultMinSatellites,
			GPSPollInterval:  timing.DefaultPollInterval,
			GPSQueryTimeout:  timing.DefaultQueryTimeout,
			PulseChip:        "gpiochip0",
			PulseLine:        -1,
			PulseWidth:       timing.DefaultPulseWidth,
		},
		Sensor: SensorConfig{
			Chip:     "gpiochip0",
			Line:     17,
			Debounce: 300 * time.Millisecond,
		},
		Network: NetworkConfig{
			Port:              9999,
			ReconnectBackoff:  5 * time.Second,
			HeartbeatInterval: 2 * time.Second,
			ConnectTimeout:    5 * time.Second,
			Discovery:         true,
			Instance:          "sprintgate",
		},
		Web: WebConfig{
			Enabled:   true,
			Address:   ":8080",
			AdminUser: "admin",
		},
		Storage: StorageConfig{Path: "sprintgate.db", StatePath: "sprintgate-state.json"},
		Results: ResultsConfig{Subject: "sprintgate.results"},
		Log:     LogConfig{Level: "info"},
	}
}

// Load returns the defaults overlaid with the YAML file at path (if any)
// and the process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse overlays YAML data onto cfg. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored; existing variables are not overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// LogLevel returns the slog level for Log.Level.
func (c Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// PrimaryAddress returns host:port of the primary for the secondary to dial.
func (c Config) PrimaryAddress() string {
	return net.JoinHostPort(c.Network.Host, strconv.Itoa(c.Network.Port))
}

// ListenAddress returns the primary's gate link listen address.
func (c Config) ListenAddress() string {
	return net.JoinHostPort("", strconv.Itoa(c.Network.Port))
}

// Validate reports every problem in c, joined.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Role != RolePrimary && c.Role != RoleSecondary {
		bad("role %q (want primary or secondary)", c.Role)
	}
	if _, err := timing.ParseMode(c.Timing.Mode); err != nil {
		bad("timing.mode %q", c.Timing.Mode)
	}
	if c.Timing.GPSMinSatellites < 1 {
		bad("timing.gps_min_satellites must be at least 1")
	}
	for name, d := range map[string]time.Duration{
		"timing.gps_lock_timeout":    c.Timing.GPSLockTimeout,
		"timing.gps_poll_interval":   c.Timing.GPSPollInterval,
		"timing.gps_query_timeout":   c.Timing.GPSQueryTimeout,
		"timing.pulse_width":         c.Timing.PulseWidth,
		"network.reconnect_backoff":  c.Network.ReconnectBackoff,
		"network.heartbeat_interval": c.Network.HeartbeatInterval,
		"network.connect_timeout":    c.Network.ConnectTimeout,
	} {
		if d <= 0 {
			bad("%s must be positive", name)
		}
	}
	if c.Sensor.Debounce < 0 {
		bad("sensor.debounce must not be negative")
	}
	if c.Sensor.Line < 0 {
		bad("sensor.line %d", c.Sensor.Line)
	}
	if c.Timing.PulseLine >= 0 && c.Timing.PulseLine == c.Sensor.Line && c.Timing.PulseChip == c.Sensor.Chip {
		bad("timing.pulse_line shares sensor line %d", c.Sensor.Line)
	}
	if c.Network.Port < 1 || c.Network.Port > 65535 {
		bad("network.port %d", c.Network.Port)
	}
	if c.Role == RoleSecondary && c.Network.Host == "" && !c.Network.Discovery {
		bad("secondary needs network.host or network.discovery")
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		bad("log.level %q", c.Log.Level)
	}
	return errors.Join(errs...)
}
