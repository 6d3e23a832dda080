// Package config provides TOML configuration loading for sleeponlan.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Disabled turns off an optional path setting (log_path, db_path,
// rpc_socket). An empty value means the default path.
const Disabled = "-"

// Config is the top-level configuration structure.
type Config struct {
	Agent AgentConfig `toml:"agent"`
	Send  SendConfig  `toml:"send"`
}

// AgentConfig holds settings for the listening agent.
type AgentConfig struct {
	BindAddress      string `toml:"bind_address"`
	Port             int    `toml:"port"`
	PollInterval     string `toml:"poll_interval"`
	StopTimeout      string `toml:"stop_timeout"`
	Interface        string `toml:"interface"`
	AllInterfaces    bool   `toml:"all_interfaces"`
	DryRun           bool   `toml:"dry_run"`
	LogLevel         string `toml:"log_level"`
	LogPath          string `toml:"log_path"`
	DBPath           string `toml:"db_path"`
	HistoryRetention string `toml:"history_retention"`
	MaxRecords       int    `toml:"max_records"`
	RPCSocket        string `toml:"rpc_socket"`
	MetricsAddress   string `toml:"metrics_address"`
}

// SendConfig holds defaults for the send command.
type SendConfig struct {
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// ParsePollInterval parses the receive poll interval.
func (a *AgentConfig) ParsePollInterval() (time.Duration, error) {
	return parsePositive("poll_interval", a.PollInterval, time.Second)
}

// ParseStopTimeout parses how long a stop waits for the listener.
func (a *AgentConfig) ParseStopTimeout() (time.Duration, error) {
	return parsePositive("stop_timeout", a.StopTimeout, 3*time.Second)
}

// ParseHistoryRetention parses how long decisions are kept.
func (a *AgentConfig) ParseHistoryRetention() (time.Duration, error) {
	return parsePositive("history_retention", a.HistoryRetention, 30*24*time.Hour)
}

func parsePositive(name, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", name, value)
	}
	return d, nil
}

// Validate checks ports and durations.
func (cfg *Config) Validate() error {
	if cfg.Agent.Port < 1 || cfg.Agent.Port > 65535 {
		return fmt.Errorf("agent port %d out of range (must be 1-65535)", cfg.Agent.Port)
	}
	if cfg.Send.Port < 1 || cfg.Send.Port > 65535 {
		return fmt.Errorf("send port %d out of range (must be 1-65535)", cfg.Send.Port)
	}
	if cfg.Agent.MaxRecords < 1 {
		return fmt.Errorf("max_records must be at least 1, got %d", cfg.Agent.MaxRecords)
	}
	if _, err := cfg.Agent.ParsePollInterval(); err != nil {
		return err
	}
	if _, err := cfg.Agent.ParseStopTimeout(); err != nil {
		return err
	}
	if _, err := cfg.Agent.ParseHistoryRetention(); err != nil {
		return err
	}
	return nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.expandPaths()
	return cfg
}

// Load reads and parses a TOML config file, applying defaults for unset values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(cfg)
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns Default when the file does not
// exist. The boolean reports whether a file was read.
func LoadOrDefault(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// expandPaths expands tildes and turns Disabled into an empty path.
func (cfg *Config) expandPaths() {
	cfg.Agent.LogPath = resolvePath(cfg.Agent.LogPath)
	cfg.Agent.DBPath = resolvePath(cfg.Agent.DBPath)
	cfg.Agent.RPCSocket = resolvePath(cfg.Agent.RPCSocket)
}

func resolvePath(path string) string {
	if path == Disabled {
		return ""
	}
	return ExpandPath(path)
}

// ExpandPath expands tilde (~) to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

func applyDefaults(cfg *Config) {

	// Agent defaults
	if cfg.Agent.Port == 0 {
		cfg.Agent.Port = 4100
	}
	if cfg.Agent.PollInterval == "" {
		cfg.Agent.PollInterval = "1s"
	}
	if cfg.Agent.StopTimeout == "" {
		cfg.Agent.StopTimeout = "3s"
	}
	if cfg.Agent.LogLevel == "" {
		cfg.Agent.LogLevel = "info"
	}
	if cfg.Agent.LogPath == "" {
		cfg.Agent.LogPath = filepath.Join(defaultStateDir(), "agent.log")
	}
	if cfg.Agent.DBPath == "" {
		cfg.Agent.DBPath = filepath.Join(defaultStateDir(), "history.db")
	}
	if cfg.Agent.HistoryRetention == "" {
		cfg.Agent.HistoryRetention = "720h"
	}
	if cfg.Agent.MaxRecords == 0 {
		cfg.Agent.MaxRecords = 10000
	}
	if cfg.Agent.RPCSocket == "" {
		cfg.Agent.RPCSocket = defaultSocketPath()
	}

	// Send defaults
	if cfg.Send.Address == "" {
		cfg.Send.Address = "255.255.255.255"
	}
	if cfg.Send.Port == 0 {
		cfg.Send.Port = cfg.Agent.Port
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "windows":
		if dir := os.Getenv("ProgramData"); dir != "" {
			return filepath.Join(dir, "sleeponlan")
		}
		return filepath.Join(os.TempDir(), "sleeponlan")
	case "darwin":
		return "/usr/local/var/lib/sleeponlan"
	default:
		return "/var/lib/sleeponlan"
	}
}

func defaultSocketPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(defaultStateDir(), "agent.sock")
	case "darwin":
		return "/tmp/sleeponlan.sock"
	default:
		return "/var/run/sleeponlan.sock"
	}
}
