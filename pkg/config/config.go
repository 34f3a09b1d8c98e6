package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config is the top-level configuration struct for the application.
// Tags are used by Viper to map YAML keys to struct fields.
type Config struct {
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"` // "json" or "console"
	APIPort       string              `mapstructure:"api_port"`
	Ingestion     IngestionConfig     `mapstructure:"ingestion"`
	Analytics     AnalyticsConfig     `mapstructure:"analytics"`
	Orchestration OrchestrationConfig `mapstructure:"orchestration"`
	Store         StoreConfig         `mapstructure:"store"`
	Sources       []SourceConfig      `mapstructure:"sources"`
}

// IngestionConfig tunes source polling and buffering.
type IngestionConfig struct {
	BufferCapacity int           `mapstructure:"buffer_capacity"`
	MaxFetchDelay  time.Duration `mapstructure:"max_fetch_delay"`
	FailureRate    float64       `mapstructure:"failure_rate"`
	MaxBatchSize   int           `mapstructure:"max_batch_size"`
	DedupWindow    time.Duration `mapstructure:"dedup_window"` // 0 disables
}

// AnalyticsConfig tunes the simulated detection strategies.
type AnalyticsConfig struct {
	AnomalyRate    float64 `mapstructure:"anomaly_rate"`
	ComplianceRate float64 `mapstructure:"compliance_rate"`
}

// OrchestrationConfig tunes playbook and policy execution.
type OrchestrationConfig struct {
	ActionsEnabled    bool    `mapstructure:"actions_enabled"`
	ActionSuccessRate float64 `mapstructure:"action_success_rate"`
	ConditionRate     float64 `mapstructure:"condition_rate"`
	ActionRateLimit   float64 `mapstructure:"action_rate_limit"` // executions per second per action, 0 disables
	ActionBurst       int     `mapstructure:"action_burst"`
	DefinitionsPath   string  `mapstructure:"definitions_path"`
}

// StoreConfig selects the relational store.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
}

// SourceConfig declares a data source registered at startup.
type SourceConfig struct {
	ID              string                 `mapstructure:"id"`
	Name            string                 `mapstructure:"name"`
	Type            string                 `mapstructure:"type"`
	Environment     string                 `mapstructure:"environment"`
	Status          string                 `mapstructure:"status"`
	PollingInterval int                    `mapstructure:"polling_interval"`
	Connection      map[string]interface{} `mapstructure:"connection"`
}

// Loader owns the viper instance so the file can be watched after loading.
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares a loader. An empty path searches ./config.yaml and
// /etc/secops/config.yaml.
func NewLoader(path string) *Loader {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // config.yaml
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/secops/")
	}

	setDefaults(v)

	v.SetEnvPrefix("SECOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("api_port", "8080")

	v.SetDefault("ingestion.buffer_capacity", 1000)
	v.SetDefault("ingestion.max_fetch_delay", "500ms")
	v.SetDefault("ingestion.failure_rate", 0.05)
	v.SetDefault("ingestion.max_batch_size", 10)
	v.SetDefault("ingestion.dedup_window", "0s")

	v.SetDefault("analytics.anomaly_rate", 0.05)
	v.SetDefault("analytics.compliance_rate", 0.10)

	v.SetDefault("orchestration.actions_enabled", true)
	v.SetDefault("orchestration.action_success_rate", 0.95)
	v.SetDefault("orchestration.condition_rate", 0.10)
	v.SetDefault("orchestration.action_rate_limit", 0)
	v.SetDefault("orchestration.action_burst", 10)

	v.SetDefault("store.enabled", false)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "file:secops.db?_pragma=foreign_keys(1)")
}

// Load reads the configuration file (if any) and environment overrides.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Info().Msg("Config file not found, using defaults and environment variables.")
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch reloads the configuration whenever the file changes and hands the
// result to onChange. Reloads that fail validation are logged and dropped.
func (l *Loader) Watch(onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var cfg Config
		if err := l.v.Unmarshal(&cfg); err != nil {
			log.Error().Err(err).Str("file", e.Name).Msg("Failed to reload configuration")
			return
		}
		if err := cfg.Validate(); err != nil {
			log.Error().Err(err).Str("file", e.Name).Msg("Reloaded configuration is invalid")
			return
		}
		log.Info().Str("file", e.Name).Msg("Configuration reloaded")
		onChange(&cfg)
	})
	l.v.WatchConfig()
}

// LoadConfig is shorthand for NewLoader(path).Load().
func LoadConfig(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Validate checks ranges that would otherwise break the simulated strategies.
func (c *Config) Validate() error {
	rates := map[string]float64{
		"ingestion.failure_rate":            c.Ingestion.FailureRate,
		"analytics.anomaly_rate":            c.Analytics.AnomalyRate,
		"analytics.compliance_rate":         c.Analytics.ComplianceRate,
		"orchestration.action_success_rate": c.Orchestration.ActionSuccessRate,
		"orchestration.condition_rate":      c.Orchestration.ConditionRate,
	}
	for key, rate := range rates {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("invalid %s %.2f: must be within [0,1]", key, rate)
		}
	}
	if c.Ingestion.BufferCapacity <= 0 {
		return fmt.Errorf("invalid ingestion.buffer_capacity %d: must be positive", c.Ingestion.BufferCapacity)
	}
	for i, s := range c.Sources {
		if s.ID == "" {
			return fmt.Errorf("source %d: id is required", i)
		}
	}
	return nil
}
