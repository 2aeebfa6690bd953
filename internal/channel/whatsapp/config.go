package whatsapp

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/gg/gconv"

	"github.com/tgifai/taskpilot/internal/channel"
)

// Config points at a WAHA (WhatsApp HTTP API) server.
type Config struct {
	APIURL  string
	APIKey  string
	Session string
	Timeout time.Duration
}

func (c *Config) Validate() error {
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	if c.APIURL == "" {
		return errors.New("waha api_url cannot be empty")
	}
	if c.Session == "" {
		c.Session = "default"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return nil
}

func (c *Config) GetType() channel.Type {
	return channel.WhatsApp
}

func ParseConfig(configMap map[string]interface{}) (*Config, error) {
	cfg := &Config{
		APIURL:  gconv.To[string](configMap["api_url"]),
		APIKey:  gconv.To[string](configMap["api_key"]),
		Session: strings.TrimSpace(gconv.To[string](configMap["session"])),
	}
	if timeout := gconv.To[int](configMap["timeout"]); timeout > 0 {
		cfg.Timeout = time.Duration(timeout) * time.Second
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid whatsapp config: %w", err)
	}
	return cfg, nil
}
