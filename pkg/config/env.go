package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// envBinding maps one SPRINTGATE_* variable onto a field.
type envBinding struct {
	key   string
	apply func(c *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func duration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"ROLE", str(func(c *Config) *string { return &c.Role })},
	{"SIMULATE", boolean(func(c *Config) *bool { return &c.Simulate })},

	{"TIMING_MODE", str(func(c *Config) *string { return &c.Timing.Mode })},
	{"TIMING_GPS_LOCK_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Timing.GPSLockTimeout })},
	{"TIMING_GPS_MIN_SATELLITES", integer(func(c *Config) *int { return &c.Timing.GPSMinSatellites })},
	{"TIMING_PULSE_CHIP", str(func(c *Config) *string { return &c.Timing.PulseChip })},
	{"TIMING_PULSE_LINE", integer(func(c *Config) *int { return &c.Timing.PulseLine })},

	{"SENSOR_CHIP", str(func(c *Config) *string { return &c.Sensor.Chip })},
	{"SENSOR_LINE", integer(func(c *Config) *int { return &c.Sensor.Line })},
	{"SENSOR_DEBOUNCE", duration(func(c *Config) *time.Duration { return &c.Sensor.Debounce })},

	{"NETWORK_HOST", str(func(c *Config) *string { return &c.Network.Host })},
	{"NETWORK_PORT", integer(func(c *Config) *int { return &c.Network.Port })},
	{"NETWORK_RECONNECT_BACKOFF", duration(func(c *Config) *time.Duration { return &c.Network.ReconnectBackoff })},
	{"NETWORK_HEARTBEAT_INTERVAL", duration(func(c *Config) *time.Duration { return &c.Network.HeartbeatInterval })},
	{"NETWORK_DISCOVERY", boolean(func(c *Config) *bool { return &c.Network.Discovery })},

	{"WEB_ENABLED", boolean(func(c *Config) *bool { return &c.Web.Enabled })},
	{"WEB_ADDRESS", str(func(c *Config) *string { return &c.Web.Address })},
	{"WEB_ADMIN_USER", str(func(c *Config) *string { return &c.Web.AdminUser })},
	{"WEB_ADMIN_PASSWORD_HASH", str(func(c *Config) *string { return &c.Web.AdminPasswordHash })},

	{"STORAGE_PATH", str(func(c *Config) *string { return &c.Storage.Path })},
	{"STORAGE_STATE_PATH", str(func(c *Config) *string { return &c.Storage.StatePath })},

	{"RESULTS_NATS_URL", str(func(c *Config) *string { return &c.Results.NATSURL })},
	{"RESULTS_SUBJECT", str(func(c *Config) *string { return &c.Results.Subject })},

	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_PROTOCOL_LOG", str(func(c *Config) *string { return &c.Log.ProtocolLog })},
}

// ApplyEnv overlays SPRINTGATE_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.key)
		if !ok {
			continue
		}
		if err := b.apply(c, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%w: %s%s=%q: %v", ErrInvalid, EnvPrefix, b.key, v, err)
		}
	}
	return nil
}
