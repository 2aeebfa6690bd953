package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tgifai/taskpilot/internal/consts"
)

const (
	defaultBind              = "127.0.0.1:8088"
	defaultMetricsBind       = "127.0.0.1:9091"
	defaultRequestTimeoutSec = 30

	defaultScriptTimeoutSec = 60
	maxScriptTimeoutSec     = 300
	defaultMaxOutputBytes   = 100000

	defaultGuardKey    = "taskpilot:scheduler:leader"
	defaultGuardTTLSec = 30
)

// Validate normalizes the config and fills defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config cannot be nil")
	}

	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultBind
	}
	c.Server.MetricsBind = strings.TrimSpace(c.Server.MetricsBind)
	if c.Server.MetricsBind == "" {
		c.Server.MetricsBind = defaultMetricsBind
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = defaultRequestTimeoutSec
	}

	if c.Scheduler.MaxConcurrentRuns <= 0 {
		c.Scheduler.MaxConcurrentRuns = 1
	}
	c.Scheduler.Timezone = strings.TrimSpace(c.Scheduler.Timezone)
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("invalid scheduler.timezone %q: %w", c.Scheduler.Timezone, err)
		}
	}
	if len(c.Scheduler.DefaultChannels) == 0 {
		c.Scheduler.DefaultChannels = []string{"telegram"}
	}

	if err := c.Runner.validate(); err != nil {
		return fmt.Errorf("runner validation failed: %w", err)
	}
	if err := c.Store.validate(); err != nil {
		return fmt.Errorf("store validation failed: %w", err)
	}
	if err := c.Instance.validate(); err != nil {
		return fmt.Errorf("instance validation failed: %w", err)
	}

	normalizedChannels := make(map[string]ChannelConfig, len(c.Channels))
	for key, one := range c.Channels {
		channelID := strings.TrimSpace(key)
		if channelID == "" {
			return errors.New("channel id cannot be empty")
		}
		one.ID = channelID

		if err := one.Validate(); err != nil {
			return fmt.Errorf("channels[%s] validation failed: %w", channelID, err)
		}
		normalizedChannels[channelID] = one
	}
	c.Channels = normalizedChannels
	return nil
}

func (c *RunnerConfig) validate() error {
	if c.MaxTimeoutSec <= 0 {
		c.MaxTimeoutSec = maxScriptTimeoutSec
	}
	if c.DefaultTimeoutSec <= 0 {
		c.DefaultTimeoutSec = defaultScriptTimeoutSec
	}
	if c.DefaultTimeoutSec > c.MaxTimeoutSec {
		return fmt.Errorf("default_timeout_sec %d exceeds max_timeout_sec %d", c.DefaultTimeoutSec, c.MaxTimeoutSec)
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = defaultMaxOutputBytes
	}
	if strings.TrimSpace(c.PythonBin) == "" {
		c.PythonBin = "python3"
	}
	if strings.TrimSpace(c.NodeBin) == "" {
		c.NodeBin = "node"
	}
	if strings.TrimSpace(c.ShellBin) == "" {
		c.ShellBin = "bash"
	}
	return nil
}

func (c *StoreConfig) validate() error {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	switch c.Driver {
	case "", "sqlite":
		c.Driver = "sqlite"
		if strings.TrimSpace(c.Path) == "" {
			c.Path = consts.DefaultDatabasePath()
		}
	case "postgres":
		if strings.TrimSpace(c.DSN) == "" {
			return errors.New("dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported driver: %s", c.Driver)
	}
	return nil
}

func (c *InstanceConfig) validate() error {
	c.Guard = strings.ToLower(strings.TrimSpace(c.Guard))
	switch c.Guard {
	case "", "none":
		c.Guard = "none"
	case "redis":
		if strings.TrimSpace(c.Addr) == "" {
			return errors.New("addr is required for redis guard")
		}
		if strings.TrimSpace(c.Key) == "" {
			c.Key = defaultGuardKey
		}
		if c.TTLSec <= 0 {
			c.TTLSec = defaultGuardTTLSec
		}
	default:
		return fmt.Errorf("unsupported guard: %s", c.Guard)
	}
	return nil
}

func (c *ChannelConfig) Validate() error {
	if c == nil {
		return errors.New("channel config cannot be nil")
	}

	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
	switch c.Type {
	case "telegram", "email", "whatsapp":
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("unsupported channel type: %s", c.Type)
	}
	if c.Config == nil {
		c.Config = map[string]any{}
	}
	return nil
}
