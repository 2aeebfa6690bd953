package telegram

import (
	"errors"
	"strings"
	"time"

	"github.com/bytedance/gg/gconv"

	"github.com/tgifai/taskpilot/internal/channel"
)

type Config struct {
	Token       string // Telegram Bot Token
	APIURL      string // Bot API server, empty for the public one
	PollTimeout time.Duration
	// CommandsOnly drops group chat messages that are not bot commands.
	CommandsOnly bool
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return errors.New("telegram bot token cannot be empty")
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 30 * time.Second
	}
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	return nil
}

func (c *Config) GetType() channel.Type {
	return channel.Telegram
}

func ParseConfig(configMap map[string]interface{}) (*Config, error) {
	config := &Config{
		Token:        gconv.To[string](configMap["token"]),
		APIURL:       gconv.To[string](configMap["api_url"]),
		CommandsOnly: true,
	}
	if pollTimeout := gconv.To[int](configMap["poll_timeout"]); pollTimeout > 0 {
		config.PollTimeout = time.Duration(pollTimeout) * time.Second
	}
	if v, ok := configMap["group_commands_only"]; ok {
		config.CommandsOnly = gconv.To[bool](v)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
