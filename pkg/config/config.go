// Package config holds scriptproxy's process-wide configuration: log
// level/format and the pool definitions to seed at startup, optionally
// loaded from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/scriptproxy/pool"
)

// PoolSeed is one pool's startup configuration, as loaded from
// scriptproxy.yaml, echoing pool.Options' fields under snake_case keys.
type PoolSeed struct {
	Name    string `yaml:"name"`
	Exec    string `yaml:"exec"`
	Init    string `yaml:"init"`
	Reinit  string `yaml:"reinit"`
	Min     int    `yaml:"min"`
	Max     int    `yaml:"max"`
	TGetMs  int    `yaml:"t_get_ms"`
	TEvalMs int    `yaml:"t_eval_ms"`
	TSendMs int    `yaml:"t_send_ms"`
	TRecvMs int    `yaml:"t_recv_ms"`
	TWaitMs int    `yaml:"t_wait_ms"`
	TIdleMs int    `yaml:"t_idle_ms"`
}

// Options converts the seed into pool.Options, leaving any field at its
// YAML zero value defaulted by pool.DefaultOptions.
func (s PoolSeed) Options() pool.Options {
	o := pool.DefaultOptions()
	o.Exec = s.Exec
	o.Init = s.Init
	o.Reinit = s.Reinit
	if s.Min != 0 {
		o.Min = s.Min
	}
	if s.Max != 0 {
		o.Max = s.Max
	}
	if s.TGetMs != 0 {
		o.TGetMs = s.TGetMs
	}
	if s.TEvalMs != 0 {
		o.TEvalMs = s.TEvalMs
	}
	if s.TSendMs != 0 {
		o.TSendMs = s.TSendMs
	}
	if s.TRecvMs != 0 {
		o.TRecvMs = s.TRecvMs
	}
	if s.TWaitMs != 0 {
		o.TWaitMs = s.TWaitMs
	}
	if s.TIdleMs != 0 {
		o.TIdleMs = s.TIdleMs
	}
	return o
}

// Config holds application configuration.
type Config struct {
	LogLevel     logrus.Level  `yaml:"log_level"`
	OutputFormat string        `yaml:"output_format"` // table, json
	ShutdownWait time.Duration `yaml:"shutdown_wait"`
	Pools        []PoolSeed    `yaml:"pools"`
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:     logrus.InfoLevel,
		OutputFormat: "table",
		ShutdownWait: 5 * time.Second,
	}
}

// Load reads a scriptproxy.yaml file and merges it onto DefaultConfig. A
// missing file is not an error; callers run with defaults and no seeded
// pools.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// NewLogger creates a configured logger instance.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
