package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const envPrefix = "TASKPILOT_"

// loadDotEnv loads KEY=VALUE pairs without overriding the real environment.
// A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func lookupEnv(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// applyEnvOverrides lets secrets live outside the yaml file.
func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupEnv("API_KEY"); ok {
		cfg.Server.APIKey = v
	}
	if v, ok := lookupEnv("STORE_DSN"); ok {
		cfg.Store.DSN = v
	}
	if v, ok := lookupEnv("STORE_PATH"); ok {
		cfg.Store.Path = v
	}
	if v, ok := lookupEnv("REDIS_PASSWORD"); ok {
		cfg.Instance.Password = v
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}

	secrets := map[string]string{
		"telegram": "TELEGRAM_TOKEN",
		"email":    "SMTP_PASSWORD",
		"whatsapp": "WAHA_API_KEY",
	}
	fields := map[string]string{
		"telegram": "token",
		"email":    "password",
		"whatsapp": "api_key",
	}
	for id, ch := range cfg.Channels {
		typ := strings.ToLower(strings.TrimSpace(ch.Type))
		name, ok := secrets[typ]
		if !ok {
			continue
		}
		v, ok := lookupEnv(name)
		if !ok {
			continue
		}
		if ch.Config == nil {
			ch.Config = map[string]any{}
		}
		ch.Config[fields[typ]] = v
		cfg.Channels[id] = ch
	}
}
