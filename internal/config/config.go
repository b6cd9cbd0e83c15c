package config

import (
	"fmt"
	"time"
)

// Config collects the full daemon configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Paths   PathsConfig   `mapstructure:"paths"`
	DB      DBConfig      `mapstructure:"database"`
	Command CommandConfig `mapstructure:"command"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
}

type LogConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	AddSource bool   `mapstructure:"add_source"`
	// RingLines bounds the in-memory log buffer served to clients.
	RingLines int `mapstructure:"ring_lines"`
}

// PathsConfig locates the daemon's working directories.
type PathsConfig struct {
	BaseDir string `mapstructure:"base_dir"`
	TempDir string `mapstructure:"temp_dir"`
	LogFile string `mapstructure:"log_file"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

// CommandConfig describes the control API surface.
type CommandConfig struct {
	SocketPath string            `mapstructure:"socket_path"`
	Listen     string            `mapstructure:"listen"`
	Auth       CommandAuthConfig `mapstructure:"auth"`
}

type CommandAuthConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	Issuer     string        `mapstructure:"issuer"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
}

// EngineConfig describes how engine instances are launched.
type EngineConfig struct {
	Binary      string        `mapstructure:"binary"`
	ExtraArgs   []string      `mapstructure:"extra_args"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

type JobsConfig struct {
	ProfileRefreshSpec string        `mapstructure:"profile_refresh_spec"`
	TempSweepSpec      string        `mapstructure:"temp_sweep_spec"`
	TempMaxAge         time.Duration `mapstructure:"temp_max_age"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Paths.BaseDir == "" {
		return fmt.Errorf("paths.base_dir is required")
	}
	if c.DB.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Command.SocketPath == "" {
		return fmt.Errorf("command.socket_path is required")
	}
	if c.Engine.Binary == "" {
		return fmt.Errorf("engine.binary is required")
	}
	if c.Command.Listen != "" && c.Command.Auth.SigningKey == "" {
		return fmt.Errorf("command.auth.signing_key is required when command.listen is set")
	}
	return nil
}
