package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tgifai/taskpilot/internal/consts"
)

const (
	lockPollInterval = 50 * time.Millisecond
	lockWait         = 5 * time.Second
	lockStaleAfter   = 30 * time.Second
	keepBackups      = 5
)

var defaultManager = &InstanceManager{}

// InstanceManager owns the config file of this process.
type InstanceManager struct {
	mu   sync.Mutex
	path string
	cfg  *Config
}

// Load reads path, or the default location when empty, applies .env and
// environment overrides and validates the result.
func (ins *InstanceManager) Load(path string) (*Config, error) {
	ins.mu.Lock()
	defer ins.mu.Unlock()

	if path = strings.TrimSpace(path); path == "" {
		path = ins.path
	}
	if path == "" {
		path = consts.DefaultConfigPath()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), consts.EnvFileName)); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	ins.path, ins.cfg = path, cfg
	return cfg, nil
}

// Bootstrap validates cfg and writes it to path. An existing file is kept
// as a timestamped backup.
func (ins *InstanceManager) Bootstrap(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("config path is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ins.mu.Lock()
	defer ins.mu.Unlock()

	if err := writeConfig(path, cfg); err != nil {
		return err
	}
	ins.path, ins.cfg = path, cfg
	return nil
}

func Load(path string) (*Config, error) {
	return defaultManager.Load(path)
}

func Bootstrap(path string, cfg *Config) error {
	return defaultManager.Bootstrap(path, cfg)
}

func writeConfig(path string, cfg *Config) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	unlock, err := lockPath(path + ".lock")
	if err != nil {
		return fmt.Errorf("lock config file: %w", err)
	}
	defer unlock()

	mode := os.FileMode(0o600)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
		if err := backup(path); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	return nil
}

// lockPath takes an exclusive lock file, breaking it when older than
// lockStaleAfter.
func lockPath(name string) (func(), error) {
	deadline := time.Now().Add(lockWait)
	for {
		f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			return func() { _ = os.Remove(name) }, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		if info, statErr := os.Stat(name); statErr == nil && time.Since(info.ModTime()) > lockStaleAfter {
			_ = os.Remove(name)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock timeout after %s", lockWait)
		}
		time.Sleep(lockPollInterval)
	}
}

// backup copies path to path.<stamp> and prunes all but the newest
// keepBackups copies.
func backup(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config for backup: %w", err)
	}

	name := path + "." + time.Now().Format("060102150405")
	for i := 1; ; i++ {
		if _, err := os.Stat(name); os.IsNotExist(err) {
			break
		}
		name = fmt.Sprintf("%s.%s.%d", path, time.Now().Format("060102150405"), i)
	}
	if err := os.WriteFile(name, raw, 0o600); err != nil {
		return fmt.Errorf("write config backup: %w", err)
	}

	olds, err := filepath.Glob(path + ".[0-9]*")
	if err != nil || len(olds) <= keepBackups {
		return nil
	}
	sort.Strings(olds)
	for _, one := range olds[:len(olds)-keepBackups] {
		_ = os.Remove(one)
	}
	return nil
}
