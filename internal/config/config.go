// Package config loads agentlink host settings from TOML.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/danmuck/agentlink/internal/agent"
	"github.com/danmuck/agentlink/internal/logging"
	"github.com/danmuck/agentlink/internal/transport/local"
)

var ErrInvalid = errors.New("config: invalid")

// Config is everything a host needs to reach an agent.
type Config struct {
	AgentPath     string
	ClientName    string
	ClientMajor   uint32
	ClientMinor   uint32
	FragmentBound int
	LogLevel      zerolog.Level

	ConnectTimeout     time.Duration
	MaxConnectAttempts int
	Backoff            local.BackoffConfig
}

type fileConfig struct {
	AgentPath          string  `toml:"agent_path"`
	ClientName         string  `toml:"client_name"`
	ClientMajor        uint32  `toml:"client_major"`
	ClientMinor        uint32  `toml:"client_minor"`
	FragmentBound      int     `toml:"fragment_bound"`
	LogLevel           string  `toml:"log_level"`
	ConnectTimeout     string  `toml:"connect_timeout"`
	MaxConnectAttempts int     `toml:"max_connect_attempts"`
	BackoffInitial     string  `toml:"backoff_initial"`
	BackoffMax         string  `toml:"backoff_max"`
	BackoffMultiplier  float64 `toml:"backoff_multiplier"`
	BackoffJitter      bool    `toml:"backoff_jitter"`
}

func DefaultConfig() Config {
	engine := agent.DefaultConfig()
	return Config{
		ClientName:         engine.ClientName,
		ClientMajor:        engine.ClientMajor,
		ClientMinor:        engine.ClientMinor,
		FragmentBound:      engine.FragmentBound,
		LogLevel:           zerolog.InfoLevel,
		ConnectTimeout:     2 * time.Second,
		MaxConnectAttempts: 1,
		Backoff:            local.DefaultBackoff(),
	}
}

// Load reads path over DefaultConfig. Keys missing from the file keep their
// defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load agentlink config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalid, undecoded[0].String())
	}

	if meta.IsDefined("agent_path") {
		cfg.AgentPath = strings.TrimSpace(raw.AgentPath)
	}
	if meta.IsDefined("client_name") {
		if name := strings.TrimSpace(raw.ClientName); name != "" {
			cfg.ClientName = name
		}
	}
	if meta.IsDefined("client_major") {
		cfg.ClientMajor = raw.ClientMajor
	}
	if meta.IsDefined("client_minor") {
		cfg.ClientMinor = raw.ClientMinor
	}
	if meta.IsDefined("fragment_bound") {
		cfg.FragmentBound = raw.FragmentBound
	}
	if meta.IsDefined("log_level") {
		level, ok := logging.ParseLevel(raw.LogLevel)
		if !ok {
			return Config{}, fmt.Errorf("%w: unknown log_level %q", ErrInvalid, raw.LogLevel)
		}
		cfg.LogLevel = level
	}
	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.ConnectTimeout = d
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("backoff_initial") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.BackoffInitial))
		if err != nil {
			return Config{}, fmt.Errorf("parse backoff_initial: %w", err)
		}
		cfg.Backoff.InitialDelay = d
	}
	if meta.IsDefined("backoff_max") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.BackoffMax))
		if err != nil {
			return Config{}, fmt.Errorf("parse backoff_max: %w", err)
		}
		cfg.Backoff.MaxDelay = d
	}
	if meta.IsDefined("backoff_multiplier") {
		cfg.Backoff.Multiplier = raw.BackoffMultiplier
	}
	if meta.IsDefined("backoff_jitter") {
		cfg.Backoff.Jitter = raw.BackoffJitter
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.ClientName) == "" {
		return fmt.Errorf("%w: client_name is required", ErrInvalid)
	}
	if cfg.FragmentBound < 0 {
		return fmt.Errorf("%w: fragment_bound must not be negative", ErrInvalid)
	}
	if cfg.ConnectTimeout < 0 {
		return fmt.Errorf("%w: connect_timeout must not be negative", ErrInvalid)
	}
	if cfg.Backoff.MaxDelay > 0 && cfg.Backoff.MaxDelay < cfg.Backoff.InitialDelay {
		return fmt.Errorf("%w: backoff_max below backoff_initial", ErrInvalid)
	}
	return nil
}
