// Package config loads firebridge settings from an optional YAML file,
// FIREBRIDGE_* environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/me/firebridge/pkg/model"
)

// EnvPrefix is prepended to every environment override, with dots in keys
// replaced by underscores: FIREBRIDGE_SCHEDULER_KEEP_ENV.
const EnvPrefix = "FIREBRIDGE"

// Config is the full set of settings.
type Config struct {
	DBPath        string          `mapstructure:"db_path"`
	ComputersFile string          `mapstructure:"computers_file"`
	Log           LogConfig       `mapstructure:"log"`
	Scheduler     SchedulerConfig `mapstructure:"scheduler"`
	Server        ServerConfig    `mapstructure:"server"`
	Worker        WorkerConfig    `mapstructure:"worker"`
}

// LogConfig selects the slog level and handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// SchedulerConfig tunes the scheduler bridge.
type SchedulerConfig struct {
	KeepEnv        bool          `mapstructure:"keep_env"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	Username       string        `mapstructure:"username"`
	PollSeconds    int           `mapstructure:"poll_seconds"`
}

// ServerConfig holds configuration for the REST server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// WorkerConfig holds configuration for the worker launcher.
type WorkerConfig struct {
	Poll time.Duration `mapstructure:"poll"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", "~/.firebridge/queue.db")
	v.SetDefault("computers_file", "~/.firebridge/computers.yaml")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("scheduler.keep_env", false)
	v.SetDefault("scheduler.command_timeout", "30s")
	v.SetDefault("scheduler.username", model.DefaultUsername)
	v.SetDefault("scheduler.poll_seconds", 5)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("worker.poll", "5s")
}

// Default returns the configuration with no file and no environment.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	cfg.expand()
	return cfg
}

// Load reads path if it is non-empty, then applies environment overrides.
// A missing file named explicitly is an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config file %s not found", path)
			}
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.expand()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings that cannot work.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("config: db_path is required")
	}
	if c.Scheduler.CommandTimeout <= 0 {
		return fmt.Errorf("config: scheduler.command_timeout must be positive, got %s", c.Scheduler.CommandTimeout)
	}
	if c.Scheduler.PollSeconds < 1 {
		return fmt.Errorf("config: scheduler.poll_seconds must be at least 1, got %d", c.Scheduler.PollSeconds)
	}
	if c.Worker.Poll <= 0 {
		return fmt.Errorf("config: worker.poll must be positive, got %s", c.Worker.Poll)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func (c *Config) expand() {
	c.DBPath = ExpandHome(c.DBPath)
	c.ComputersFile = ExpandHome(c.ComputersFile)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
