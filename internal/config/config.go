package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/fetchd/internal/logger"
	"github.com/loykin/fetchd/internal/supervisor"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Supervisor SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	Log        logger.Config    `toml:"log" mapstructure:"log"`
	EventLog   EventLogConfig   `toml:"eventlog" mapstructure:"eventlog"`
	Metrics    MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
	Server     ServerConfig     `toml:"server" mapstructure:"server"`
	History    HistoryConfig    `toml:"history" mapstructure:"history"`
}

// SupervisorConfig is the file-level form of the restart policy settings
// plus the fixed paths the supervisor owns.
type SupervisorConfig struct {
	MaxRestarts           int           `toml:"max_restarts" mapstructure:"max_restarts"`
	Cooldown              time.Duration `toml:"cooldown" mapstructure:"cooldown"`
	CriticalErrorPatterns []string      `toml:"critical_error_patterns" mapstructure:"critical_error_patterns"`
	MemoryWarnMB          int           `toml:"memory_warn_mb" mapstructure:"memory_warn_mb"`
	MemoryCriticalMB      int           `toml:"memory_critical_mb" mapstructure:"memory_critical_mb"`
	MemorySampleInterval  time.Duration `toml:"memory_sample_interval" mapstructure:"memory_sample_interval"`
	FlushDelay            time.Duration `toml:"flush_delay" mapstructure:"flush_delay"`
	StateFile             string        `toml:"state_file" mapstructure:"state_file"`
	PIDFile               string        `toml:"pid_file" mapstructure:"pid_file"`
	TempDir               string        `toml:"temp_dir" mapstructure:"temp_dir"`
	TempPatterns          []string      `toml:"temp_patterns" mapstructure:"temp_patterns"`
}

type EventLogConfig struct {
	Path string `toml:"path" mapstructure:"path"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

type ServerConfig struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type HistoryConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Path    string `toml:"path" mapstructure:"path"`
}

// Load reads a TOML config file and applies defaults for everything absent.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	fc.applyDefaults()
	return &fc, nil
}

// Default returns the configuration used when no file is given.
func Default() *FileConfig {
	fc := &FileConfig{}
	fc.applyDefaults()
	return fc
}

func (fc *FileConfig) applyDefaults() {
	s := &fc.Supervisor
	if s.MaxRestarts <= 0 {
		s.MaxRestarts = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = time.Minute
	}
	if len(s.CriticalErrorPatterns) == 0 {
		s.CriticalErrorPatterns = supervisor.DefaultCriticalPatterns()
	}
	if s.MemoryWarnMB <= 0 {
		s.MemoryWarnMB = 512
	}
	if s.MemoryCriticalMB <= 0 {
		s.MemoryCriticalMB = 1024
	}
	if s.MemorySampleInterval <= 0 {
		s.MemorySampleInterval = 30 * time.Second
	}
	if s.FlushDelay <= 0 {
		s.FlushDelay = 2 * time.Second
	}
	if s.StateFile == "" {
		s.StateFile = "data/restart-state.json"
	}
	if s.PIDFile == "" {
		s.PIDFile = "data/fetchd.pid"
	}
	if len(s.TempPatterns) == 0 {
		s.TempPatterns = supervisor.DefaultTempPatterns
	}
	if fc.EventLog.Path == "" {
		fc.EventLog.Path = "logs/events.log"
	}
	if fc.History.Path == "" {
		fc.History.Path = "data/history.db"
	}
	if fc.Server.BasePath == "" {
		fc.Server.BasePath = "/api"
	}
}

// PolicyConfig converts the file-level settings into the supervisor's
// immutable Config.
func (fc *FileConfig) PolicyConfig() supervisor.Config {
	s := fc.Supervisor
	return supervisor.Config{
		MaxRestarts:           s.MaxRestarts,
		Cooldown:              s.Cooldown,
		CriticalErrorPatterns: s.CriticalErrorPatterns,
		MemoryWarnMB:          s.MemoryWarnMB,
		MemoryCriticalMB:      s.MemoryCriticalMB,
		MemorySampleInterval:  s.MemorySampleInterval,
		FlushDelay:            s.FlushDelay,
	}
}
