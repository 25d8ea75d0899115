package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port    int    `mapstructure:"port"`
	GinMode string `mapstructure:"gin_mode"`
	DBPath  string `mapstructure:"db_path"`

	ReadLimit  int64 `mapstructure:"read_limit"`
	SendBuffer int   `mapstructure:"send_buffer"`

	ServerPingInterval time.Duration `mapstructure:"server_ping_interval"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	DiagInterval       time.Duration `mapstructure:"diag_interval"`

	PersistWorkers   int `mapstructure:"persist_workers"`
	PersistQueueSize int `mapstructure:"persist_queue_size"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Load reads configuration from an optional config.yaml plus ECOUTE_-prefixed
// environment variables, falling back to defaults. PORT is also honored bare,
// which is what the hosting platform sets.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("ECOUTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("port", "ECOUTE_PORT", "PORT")

	v.SetDefault("port", 10000)
	v.SetDefault("gin_mode", "release")
	v.SetDefault("db_path", "")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("send_buffer", 256)
	v.SetDefault("server_ping_interval", "25s")
	v.SetDefault("heartbeat_interval", "30s")
	v.SetDefault("sweep_interval", "60s")
	v.SetDefault("diag_interval", "5m")
	v.SetDefault("persist_workers", 2)
	v.SetDefault("persist_queue_size", 256)
	v.SetDefault("shutdown_timeout", "30s")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration, used by tests.
func Default() *Config {
	return &Config{
		Port:               10000,
		GinMode:            "release",
		ReadLimit:          1 << 20,
		SendBuffer:         256,
		ServerPingInterval: 25 * time.Second,
		HeartbeatInterval:  30 * time.Second,
		SweepInterval:      60 * time.Second,
		DiagInterval:       5 * time.Minute,
		PersistWorkers:     2,
		PersistQueueSize:   256,
		ShutdownTimeout:    30 * time.Second,
	}
}
