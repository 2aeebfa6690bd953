package email

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/gg/gconv"

	"github.com/tgifai/taskpilot/internal/channel"
)

type TLSMode string

const (
	TLSStartTLS TLSMode = "starttls"
	TLSImplicit TLSMode = "ssl"
	TLSNone     TLSMode = "none"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      TLSMode
	Timeout  time.Duration
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("smtp host cannot be empty")
	}
	if c.From == "" {
		return errors.New("sender address cannot be empty")
	}
	switch c.TLS {
	case "":
		c.TLS = TLSStartTLS
	case TLSStartTLS, TLSImplicit, TLSNone:
	default:
		return fmt.Errorf("unsupported tls mode: %s", c.TLS)
	}
	if c.Port <= 0 {
		c.Port = 587
		if c.TLS == TLSImplicit {
			c.Port = 465
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	return nil
}

func (c *Config) GetType() channel.Type {
	return channel.Email
}

func ParseConfig(configMap map[string]interface{}) (*Config, error) {
	cfg := &Config{
		Host:     strings.TrimSpace(gconv.To[string](configMap["host"])),
		Port:     gconv.To[int](configMap["port"]),
		Username: gconv.To[string](configMap["username"]),
		Password: gconv.To[string](configMap["password"]),
		From:     strings.TrimSpace(gconv.To[string](configMap["from"])),
		TLS:      TLSMode(strings.ToLower(gconv.To[string](configMap["tls"]))),
	}
	if timeout := gconv.To[int](configMap["timeout"]); timeout > 0 {
		cfg.Timeout = time.Duration(timeout) * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid email config: %w", err)
	}
	return cfg, nil
}
