package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// NewViper returns a viper instance carrying the defaults and BK_ environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	d := DefaultConfig()

	v.SetDefault("engine.workers", d.Engine.Workers)
	v.SetDefault("engine.queue_size", d.Engine.QueueSize)
	v.SetDefault("engine.queue_policy", d.Engine.QueuePolicy)
	v.SetDefault("engine.hour_zone", d.Engine.HourZone)
	v.SetDefault("engine.stop_timeout", d.Engine.StopTimeout.String())

	v.SetDefault("ingest.host", d.Ingest.Host)
	v.SetDefault("ingest.port", d.Ingest.Port)
	v.SetDefault("ingest.max_batch_size", d.Ingest.MaxBatchSize)
	v.SetDefault("ingest.request_timeout", d.Ingest.RequestTimeout.String())
	v.SetDefault("ingest.data_dir", d.Ingest.DataDir)
	v.SetDefault("ingest.archive", d.Ingest.Archive)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("rules.file", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*Config, error) {
	return Load(NewViper(), configPath)
}

// BindFlags binds command flags to config keys, e.g. {"port": "ingest.port"}.
// Only flags the user set take precedence over environment and file.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		f := flags.Lookup(name)
		if f == nil {
			return fmt.Errorf("unknown flag %q", name)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", name, err)
		}
	}
	return nil
}

// Load reads configPath (if set) into v and decodes the result.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets are environment-only
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		Engine: EngineConfig{
			Workers:     v.GetInt("engine.workers"),
			QueueSize:   v.GetInt("engine.queue_size"),
			QueuePolicy: strings.ToLower(v.GetString("engine.queue_policy")),
			HourZone:    v.GetString("engine.hour_zone"),
			StopTimeout: v.GetDuration("engine.stop_timeout"),
		},
		Ingest: IngestConfig{
			Host:           v.GetString("ingest.host"),
			Port:           v.GetInt("ingest.port"),
			MaxBatchSize:   v.GetInt("ingest.max_batch_size"),
			RequestTimeout: v.GetDuration("ingest.request_timeout"),
			DataDir:        v.GetString("ingest.data_dir"),
			Archive:        v.GetBool("ingest.archive"),
		},
		Metrics: MetricsConfig{
			Addr: v.GetString("metrics.addr"),
		},
		RulesFile: v.GetString("rules.file"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks ranges and enums.
func validateConfig(cfg *Config) error {
	if cfg.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be positive, got %d", cfg.Engine.Workers)
	}
	if cfg.Engine.QueueSize <= 0 {
		return fmt.Errorf("engine.queue_size must be positive, got %d", cfg.Engine.QueueSize)
	}
	switch cfg.Engine.QueuePolicy {
	case "block", "reject":
	default:
		return fmt.Errorf("engine.queue_policy must be block or reject, got %q", cfg.Engine.QueuePolicy)
	}
	if _, err := cfg.Engine.HourLocation(); err != nil {
		return err
	}
	if cfg.Engine.StopTimeout <= 0 {
		return fmt.Errorf("engine.stop_timeout must be positive, got %v", cfg.Engine.StopTimeout)
	}

	if cfg.Ingest.Port <= 0 || cfg.Ingest.Port > 65535 {
		return fmt.Errorf("ingest.port must be between 1 and 65535, got %d", cfg.Ingest.Port)
	}
	if cfg.Ingest.RequestTimeout <= 0 {
		return fmt.Errorf("ingest.request_timeout must be positive, got %v", cfg.Ingest.RequestTimeout)
	}
	if cfg.Ingest.MaxBatchSize <= 0 {
		return fmt.Errorf("ingest.max_batch_size must be positive, got %d", cfg.Ingest.MaxBatchSize)
	}
	if cfg.Ingest.Archive && cfg.Ingest.DataDir == "" {
		return fmt.Errorf("ingest.data_dir required when ingest.archive is enabled")
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("hmac_secret") || v.InConfig("ingest.hmac_secret") {
		return fmt.Errorf("HMAC secrets not allowed in config files (use %s_HMAC_SECRET environment variable)", EnvPrefix)
	}
	return nil
}
