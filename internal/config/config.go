package config

type (
	Config struct {
		Server    ServerConfig             `yaml:"server"`
		Logging   LoggingConfig            `yaml:"logging"`
		Scheduler SchedulerConfig          `yaml:"scheduler"`
		Runner    RunnerConfig             `yaml:"runner"`
		Store     StoreConfig              `yaml:"store"`
		Instance  InstanceConfig           `yaml:"instance"`
		Channels  map[string]ChannelConfig `yaml:"channels"`
	}

	ServerConfig struct {
		Enabled        *bool  `yaml:"enabled"`
		Bind           string `yaml:"bind"`
		MetricsBind    string `yaml:"metrics_bind"`
		APIKey         string `yaml:"api_key"`
		RequestTimeout int    `yaml:"request_timeout"` // seconds
	}

	LoggingConfig struct {
		Level      string `yaml:"level"`  // debug, info, warn, error
		Format     string `yaml:"format"` // json, text
		Output     string `yaml:"output"` // stdout, file, both
		File       string `yaml:"file"`
		MaxSize    int    `yaml:"max_size"` // MB
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"` // days
		Compress   bool   `yaml:"compress"`
	}

	SchedulerConfig struct {
		Enabled           *bool  `yaml:"enabled"`
		MaxConcurrentRuns int    `yaml:"max_concurrent_runs"`
		Timezone          string `yaml:"timezone"`
		DailySummary      bool   `yaml:"daily_summary"`
		// DefaultChannels is used when a reminder has no owning assistant.
		DefaultChannels []string `yaml:"default_channels"`
	}

	RunnerConfig struct {
		DefaultTimeoutSec int    `yaml:"default_timeout_sec"`
		MaxTimeoutSec     int    `yaml:"max_timeout_sec"`
		MaxOutputBytes    int    `yaml:"max_output_bytes"`
		PythonBin         string `yaml:"python_bin"`
		NodeBin           string `yaml:"node_bin"`
		ShellBin          string `yaml:"shell_bin"`
		WorkDir           string `yaml:"work_dir"`
		KnownHostsFile    string `yaml:"known_hosts_file"`
		ShareTokens       bool   `yaml:"share_tokens"`
	}

	StoreConfig struct {
		Driver string `yaml:"driver"` // sqlite, postgres
		Path   string `yaml:"path"`
		DSN    string `yaml:"dsn"`
	}

	InstanceConfig struct {
		Guard    string `yaml:"guard"` // none, redis
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Key      string `yaml:"key"`
		TTLSec   int    `yaml:"ttl_sec"`
	}

	ChannelConfig struct {
		ID      string         `yaml:"-"`
		Type    string         `yaml:"type"` // telegram, email, whatsapp
		Enabled bool           `yaml:"enabled"`
		Config  map[string]any `yaml:"config"`
	}
)

func (c *SchedulerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c *ServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
