// Package config loads the manager's TOML configuration: transport
// flags, launch and scheduler settings, and the status server surface.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type TransportConfig struct {
	Secure              bool   `toml:"secure"`
	LocalOnly           bool   `toml:"local_only"`
	ListenAllInterfaces bool   `toml:"listen_all_interfaces"`
	CertDir             string `toml:"cert_dir"`
	Host                string `toml:"host"`
	Port                int    `toml:"port"`
}

type LaunchConfig struct {
	EnginePath         string            `toml:"engine_path"`
	NonGraphical       bool              `toml:"non_graphical"`
	WaitForLicense     bool              `toml:"wait_for_license"`
	LogfilePath        string            `toml:"logfile"`
	LicenseHost        string            `toml:"license_host"`
	TimeoutSeconds     int               `toml:"timeout_seconds"`
	PollSeconds        int               `toml:"poll_seconds"`
	AllowedExecutables []string          `toml:"allowed_executables"`
	Env                map[string]string `toml:"env"`
}

type SSHConfig struct {
	Host                        string `toml:"host"`
	Port                        string `toml:"port"`
	User                        string `toml:"user"`
	KeyPath                     string `toml:"key_path"`
	KnownHostsPath              string `toml:"known_hosts"`
	InsecureSkipHostKeyChecking bool   `toml:"insecure_skip_host_key_checking"`
}

type SchedulerConfig struct {
	Enabled                  bool      `toml:"enabled"`
	Cores                    int       `toml:"cores"`
	Resource                 string    `toml:"resource"`
	Queue                    string    `toml:"queue"`
	Custom                   []string  `toml:"custom"`
	MaxStderrLines           int       `toml:"max_stderr_lines"`
	AllocationTimeoutSeconds int       `toml:"allocation_timeout_seconds"`
	StartupTimeoutSeconds    int       `toml:"startup_timeout_seconds"`
	SSH                      SSHConfig `toml:"ssh"`
}

type SessionConfig struct {
	Version         string `toml:"version"`
	Student         bool   `toml:"student"`
	MultiSession    bool   `toml:"multi_session"`
	RemoteSession   bool   `toml:"remote_session"`
	EmbeddedConsole bool   `toml:"embedded_console"`
	CloseTimeoutSec int    `toml:"close_timeout_seconds"`
}

type StatusConfig struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

type Config struct {
	Transport TransportConfig `toml:"transport"`
	Launch    LaunchConfig    `toml:"launch"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Session   SessionConfig   `toml:"session"`
	Status    StatusConfig    `toml:"status"`
}

func Default() Config {
	return Config{
		Launch: LaunchConfig{
			TimeoutSeconds: 120,
			PollSeconds:    1,
		},
		Scheduler: SchedulerConfig{
			Cores:                    4,
			MaxStderrLines:           64,
			AllocationTimeoutSeconds: 600,
			StartupTimeoutSeconds:    120,
		},
		Session: SessionConfig{
			CloseTimeoutSec: 60,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if cfg.Transport.LocalOnly && cfg.Transport.ListenAllInterfaces {
		return fmt.Errorf("transport local_only and listen_all_interfaces are mutually exclusive")
	}
	if cfg.Launch.TimeoutSeconds < 0 || cfg.Launch.PollSeconds < 0 {
		return fmt.Errorf("launch timeouts must not be negative")
	}
	if cfg.Scheduler.Enabled {
		if len(cfg.Scheduler.Custom) == 0 && strings.TrimSpace(cfg.Scheduler.Resource) == "" {
			return fmt.Errorf("scheduler requires a resource string or a custom template")
		}
		if cfg.Scheduler.Cores <= 0 {
			return fmt.Errorf("scheduler cores must be positive")
		}
	}
	if cfg.Transport.Port < 0 {
		return fmt.Errorf("transport port must not be negative")
	}
	return nil
}

func (c LaunchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c LaunchConfig) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

func (c SchedulerConfig) AllocationTimeout() time.Duration {
	return time.Duration(c.AllocationTimeoutSeconds) * time.Second
}

func (c SchedulerConfig) StartupTimeout() time.Duration {
	return time.Duration(c.StartupTimeoutSeconds) * time.Second
}

func (c SessionConfig) CloseTimeout() time.Duration {
	return time.Duration(c.CloseTimeoutSec) * time.Second
}
