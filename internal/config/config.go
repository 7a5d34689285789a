// Package config loads the executor's layered configuration (flags,
// environment, config file, defaults) via viper and manages the encrypted
// on-disk executor record.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved runtime configuration for one executor
// instance.
type Config struct {
	ExecutorID  string
	LogLevel    string
	DataDir     string
	Profile     string // "demo" or "live"

	PlatformURL       string
	PushKey           string
	PushCluster       string
	APIKey            string
	APISecret         string

	BrokerHost        string
	BrokerPort        int
	BrokerPoolSize    int

	HeartbeatInterval time.Duration
	AutoReconnect     bool

	DiagnosticsAddr   string
	MetricsEnabled    bool

	EvaluationConcurrency int
}

// Load resolves configuration from (in increasing priority): built-in
// defaults, a config file, environment variables prefixed EXECUTOR_, and
// explicit overrides passed by the caller (typically parsed flags).
func Load(configPath string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EXECUTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}
	}

	for key, val := range overrides {
		v.Set(key, val)
	}

	cfg := &Config{
		ExecutorID:            v.GetString("executor_id"),
		LogLevel:              v.GetString("log_level"),
		DataDir:               v.GetString("data_dir"),
		Profile:               v.GetString("profile"),
		PlatformURL:           v.GetString("platform_url"),
		PushKey:               v.GetString("push_key"),
		PushCluster:           v.GetString("push_cluster"),
		APIKey:                v.GetString("api_key"),
		APISecret:             v.GetString("api_secret"),
		BrokerHost:            v.GetString("broker_host"),
		BrokerPort:            v.GetInt("broker_port"),
		BrokerPoolSize:        v.GetInt("broker_pool_size"),
		HeartbeatInterval:     v.GetDuration("heartbeat_interval"),
		AutoReconnect:         v.GetBool("auto_reconnect"),
		DiagnosticsAddr:       v.GetString("diagnostics_addr"),
		MetricsEnabled:        v.GetBool("metrics_enabled"),
		EvaluationConcurrency: v.GetInt("evaluation_concurrency"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("profile", "demo")
	v.SetDefault("broker_host", "127.0.0.1")
	v.SetDefault("broker_port", 9090)
	v.SetDefault("broker_pool_size", 3)
	v.SetDefault("heartbeat_interval", 30*time.Second)
	v.SetDefault("auto_reconnect", true)
	v.SetDefault("diagnostics_addr", "127.0.0.1:7800")
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("evaluation_concurrency", 0) // 0 => resolved to 2*NumCPU at startup
}

func (c *Config) validate() error {
	if c.Profile != "demo" && c.Profile != "live" {
		return fmt.Errorf("invalid profile %q: must be demo or live", c.Profile)
	}
	if c.PlatformURL == "" {
		return fmt.Errorf("platform_url is required")
	}
	if c.BrokerPort <= 0 || c.BrokerPort > 65535 {
		return fmt.Errorf("invalid broker_port %d", c.BrokerPort)
	}
	if c.BrokerPoolSize < 1 {
		return fmt.Errorf("broker_pool_size must be >= 1")
	}
	return nil
}
