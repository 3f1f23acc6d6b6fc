package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestGetConfigDir(t *testing.T) {
	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	if !strings.Contains(configDir, "netbridge") {
		t.Errorf("GetConfigDir() = %v, should contain 'netbridge'", configDir)
	}

	if runtime.GOOS == "linux" && os.Getenv("XDG_CONFIG_HOME") == "" && !strings.Contains(configDir, ".config") {
		t.Errorf("Unix config dir should contain '.config', got: %v", configDir)
	}
}

func TestGetConfigDir_XDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_CONFIG_HOME only applies on Linux")
	}
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}
	if want := filepath.Join(dir, "netbridge", "config.yaml"); got != want {
		t.Errorf("GetConfigPath() = %v, want %v", got, want)
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if got := Duration(cfg.Granularity, 0); got != 200*time.Millisecond {
		t.Errorf("granularity = %v, want 200ms", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad version", func(c *Config) { c.Version = 2 }, "unsupported config version"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log level"},
		{"bad granularity", func(c *Config) { c.Granularity = "fast" }, "granularity"},
		{"negative granularity", func(c *Config) { c.Granularity = "-1s" }, "must be positive"},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"cert without key", func(c *Config) { c.Server.Cert = "cert.pem" }, "set together"},
		{"metrics path is root", func(c *Config) { c.Server.MetricsPath = "/" }, "server.metrics_path"},
		{"metrics path without slash", func(c *Config) { c.Server.MetricsPath = "metrics" }, "server.metrics_path"},
		{"metrics path equals ws path", func(c *Config) { c.Server.Path = "/ws"; c.Server.MetricsPath = "/ws" }, "server.metrics_path"},
		{"bad reply timeout", func(c *Config) { c.Server.ReplyTimeout = "soon" }, "server.reply_timeout"},
		{"bad handshake timeout", func(c *Config) { c.Client.HandshakeTimeout = "x" }, "client.handshake_timeout"},
		{"unknown backend", func(c *Config) { c.Discovery.Backend = "bonjour" }, "discovery.backend"},
		{"bad sweep interval", func(c *Config) { c.Discovery.SweepInterval = "1 minute" }, "discovery.sweep_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() error = nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "loud"
	cfg.Server.Port = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	for _, want := range []string{"log level", "server.port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error = %v, missing %q", err, want)
		}
	}
}

func TestLoad_MissingFileGivesDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Version != CurrentVersion || cfg.Discovery.Backend != "zeroconf" {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.LogLevel = "debug"
	cfg.Server.Port = 9443
	cfg.Discovery.Targets = []string{"Studio", "Kitchen"}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.LogLevel != "debug" || loaded.Server.Port != 9443 {
		t.Errorf("loaded = %+v", loaded)
	}
	if len(loaded.Discovery.Targets) != 2 || loaded.Discovery.Targets[1] != "Kitchen" {
		t.Errorf("targets = %v", loaded.Discovery.Targets)
	}
}

func TestLoad_PartialFileFillsSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("version: 1\nlog_level: info\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server == nil || cfg.Client == nil || cfg.Discovery == nil {
		t.Fatalf("sections not filled: %+v", cfg)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not yaml", "version: [1"},
		{"wrong version", "version: 7\n"},
		{"bad duration", "version: 1\ngranularity: often\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.data), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() error = nil")
			}
		})
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", time.Second},
		{"250ms", 250 * time.Millisecond},
		{"bogus", time.Second},
		{"0s", time.Second},
	}
	for _, tt := range tests {
		if got := Duration(tt.in, time.Second); got != tt.want {
			t.Errorf("Duration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
