package config

import (
	"fmt"
	"time"

	"github.com/muurk/netbridge/internal/discovery"
	"github.com/muurk/netbridge/internal/logging"
	"github.com/muurk/netbridge/internal/transport"
	"go.uber.org/multierr"
)

// CurrentVersion is the config file format version.
const CurrentVersion = 1

// Config represents the entire configuration file. Durations are stored as
// strings in time.ParseDuration format ("200ms", "5s").
type Config struct {
	Version     int              `yaml:"version"`
	LogLevel    string           `yaml:"log_level,omitempty"`   // debug, info, warn, error or empty for silent
	Granularity string           `yaml:"granularity,omitempty"` // Worker poll timeout
	Server      *ServerConfig    `yaml:"server,omitempty"`
	Client      *ClientConfig    `yaml:"client,omitempty"`
	Discovery   *DiscoveryConfig `yaml:"discovery,omitempty"`
}

// ServerConfig holds defaults for the serve command.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Path         string `yaml:"path,omitempty"`         // WebSocket path, empty accepts any
	Cert         string `yaml:"cert,omitempty"`         // PEM certificate for wss
	Key          string `yaml:"key,omitempty"`          // PEM private key for wss
	MetricsPath  string `yaml:"metrics_path,omitempty"` // Prometheus route, empty disables
	ReplyTimeout string `yaml:"reply_timeout,omitempty"`
}

// ClientConfig holds defaults for the connect command.
type ClientConfig struct {
	Path               string `yaml:"path,omitempty"`
	TLS                bool   `yaml:"tls"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty"`
	HandshakeTimeout   string `yaml:"handshake_timeout,omitempty"`
}

// DiscoveryConfig holds defaults for the publish and browse commands.
type DiscoveryConfig struct {
	Backend        string   `yaml:"backend"` // zeroconf or mdns
	Type           string   `yaml:"type"`
	Domain         string   `yaml:"domain"`
	ResolveTimeout string   `yaml:"resolve_timeout,omitempty"`
	SweepInterval  string   `yaml:"sweep_interval,omitempty"`
	ProbeTimeout   string   `yaml:"probe_timeout,omitempty"`
	Targets        []string `yaml:"targets,omitempty"` // Names the browse command tracks
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Version:     CurrentVersion,
		Granularity: "200ms",
		Server: &ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			MetricsPath:  "/metrics",
			ReplyTimeout: "30s",
		},
		Client: &ClientConfig{
			HandshakeTimeout: "10s",
		},
		Discovery: &DiscoveryConfig{
			Backend:        "zeroconf",
			Type:           discovery.DefaultServiceType,
			Domain:         discovery.DefaultDomain,
			ResolveTimeout: "5s",
			SweepInterval:  "2s",
			ProbeTimeout:   "1s",
		},
	}
}

// fillDefaults populates sections missing from a loaded file.
func (c *Config) fillDefaults() {
	def := Default()
	if c.Server == nil {
		c.Server = def.Server
	}
	if c.Client == nil {
		c.Client = def.Client
	}
	if c.Discovery == nil {
		c.Discovery = def.Discovery
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var err error

	if c.Version != CurrentVersion {
		err = multierr.Append(err, fmt.Errorf("unsupported config version: %d (expected %d)", c.Version, CurrentVersion))
	}
	if c.LogLevel != "" {
		if _, lerr := logging.ParseLevel(c.LogLevel); lerr != nil {
			err = multierr.Append(err, lerr)
		}
	}
	err = multierr.Append(err, checkDuration("granularity", c.Granularity))

	if s := c.Server; s != nil {
		if s.Port < 0 || s.Port > 65535 {
			err = multierr.Append(err, fmt.Errorf("server.port %d out of range", s.Port))
		}
		if (s.Cert == "") != (s.Key == "") {
			err = multierr.Append(err, fmt.Errorf("server.cert and server.key must be set together"))
		}
		if perr := transport.CheckMetricsPath(s.MetricsPath, s.Path); perr != nil {
			err = multierr.Append(err, fmt.Errorf("server.metrics_path: %w", perr))
		}
		err = multierr.Append(err, checkDuration("server.reply_timeout", s.ReplyTimeout))
	}

	if cl := c.Client; cl != nil {
		err = multierr.Append(err, checkDuration("client.handshake_timeout", cl.HandshakeTimeout))
	}

	if d := c.Discovery; d != nil {
		if _, berr := discovery.NewBackend(d.Backend); berr != nil {
			err = multierr.Append(err, fmt.Errorf("discovery.backend: %w", berr))
		}
		err = multierr.Append(err, checkDuration("discovery.resolve_timeout", d.ResolveTimeout))
		err = multierr.Append(err, checkDuration("discovery.sweep_interval", d.SweepInterval))
		err = multierr.Append(err, checkDuration("discovery.probe_timeout", d.ProbeTimeout))
	}

	return err
}

func checkDuration(field, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return nil
}

// Duration parses value, returning def when it is empty or invalid.
// Validate catches invalid values before they get here.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
