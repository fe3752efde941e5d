// Package config loads the service configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Postgres PostgresConfig `yaml:"postgres"`
	Poll     PollConfig     `yaml:"poll"`
	Serial   SerialConfig   `yaml:"serial"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type PostgresConfig struct {
	ConnString string `yaml:"conn_string"`
}

type PollConfig struct {
	Hz        float64 `yaml:"hz"`
	BatchSize int     `yaml:"batch_size"`
	// FlushKeepTail is how many of the newest buffered frames survive a
	// failed flush.
	FlushKeepTail int `yaml:"flush_keep_tail"`
}

type SerialConfig struct {
	// BootDelay gives the microcontroller time to finish resetting after
	// the port is opened.
	BootDelay   time.Duration `yaml:"boot_delay"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8000"
	}
	if c.Poll.Hz == 0 {
		c.Poll.Hz = 20
	}
	if c.Poll.BatchSize == 0 {
		c.Poll.BatchSize = 20
	}
	if c.Poll.FlushKeepTail == 0 {
		c.Poll.FlushKeepTail = 10
	}
	if c.Serial.BootDelay == 0 {
		c.Serial.BootDelay = 2200 * time.Millisecond
	}
	if c.Serial.ReadTimeout == 0 {
		c.Serial.ReadTimeout = 250 * time.Millisecond
	}
}

func (c *Config) validate() error {
	if c.Postgres.ConnString == "" {
		return fmt.Errorf("postgres.conn_string is required")
	}
	if c.Poll.Hz < 1 {
		return fmt.Errorf("poll.hz must be at least 1")
	}
	if c.Poll.BatchSize < 1 {
		return fmt.Errorf("poll.batch_size must be at least 1")
	}
	if c.Poll.FlushKeepTail < 0 || c.Poll.FlushKeepTail > c.Poll.BatchSize {
		return fmt.Errorf("poll.flush_keep_tail must be within [0, batch_size]")
	}
	return nil
}
