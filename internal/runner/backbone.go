package runner

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tgifai/taskpilot/internal/config"
)

const (
	BackboneLocal = "local"
	BackboneSSH   = "ssh"
)

type BackboneBuilder func(cfg config.RunnerConfig) (Executor, error)

var (
	backboneBuilders = map[string]BackboneBuilder{
		BackboneLocal: func(cfg config.RunnerConfig) (Executor, error) {
			return NewLocalExecutor(cfg.WorkDir), nil
		},
		BackboneSSH: func(cfg config.RunnerConfig) (Executor, error) {
			return NewSSHExecutor(cfg.KnownHostsFile)
		},
	}
	backboneMu sync.RWMutex
)

func RegisterBackbone(name string, builder BackboneBuilder) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return fmt.Errorf("backbone name is required")
	}
	if builder == nil {
		return fmt.Errorf("backbone builder cannot be nil")
	}

	backboneMu.Lock()
	defer backboneMu.Unlock()
	if _, exists := backboneBuilders[key]; exists {
		return fmt.Errorf("backbone already registered: %s", key)
	}
	backboneBuilders[key] = builder
	return nil
}

// NewExecutor builds the executor registered under name.
func NewExecutor(name string, cfg config.RunnerConfig) (Executor, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = BackboneLocal
	}

	backboneMu.RLock()
	builder, ok := backboneBuilders[key]
	backboneMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported runner backbone: %s", key)
	}

	executor, err := builder(cfg)
	if err != nil {
		return nil, err
	}
	if executor == nil {
		return nil, fmt.Errorf("runner backbone %s returned nil executor", key)
	}
	return executor, nil
}
