// Package config loads the environment-variable driven startup
// configuration shared by the beat, worker, and cdc-consumer processes, the
// same way the control plane this scheduler descends from reads its
// REDIS_ADDR/POD_INDEX/POD_COUNT block in main.go.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every environment-variable recognized at startup (spec §6).
type Config struct {
	BrokerURL        string
	ResultBackendURL string
	DatabaseURL      string

	PluginsDir    string
	PluginEnvsDir string

	CDCHost        string
	CDCPort        int
	CDCDestination string
	CDCBatchSize   int

	MaxLoopInterval time.Duration
	Timezone        string

	LogLevel  string
	LogFormat string
}

// Load reads Config from the process environment, applying the defaults
// documented in spec.md.
func Load() (*Config, error) {
	cfg := &Config{
		BrokerURL:        getenv("TASKBEAT_BROKER_URL", "redis://localhost:6379/0"),
		ResultBackendURL: getenv("TASKBEAT_RESULT_BACKEND_URL", "redis://localhost:6379/1"),
		DatabaseURL:      getenv("TASKBEAT_DATABASE_URL", "postgres://localhost:5432/taskbeat"),
		PluginsDir:       getenv("TASKBEAT_PLUGINS_DIR", "./plugins"),
		PluginEnvsDir:    getenv("TASKBEAT_PLUGIN_ENVS_DIR", "./plugins"),
		CDCHost:          getenv("TASKBEAT_CDC_HOST", "127.0.0.1"),
		CDCDestination:   getenv("TASKBEAT_CDC_DESTINATION", "taskbeat-cdc"),
		Timezone:         getenv("TASKBEAT_TIMEZONE", "UTC"),
		LogLevel:         getenv("TASKBEAT_LOG_LEVEL", "info"),
		LogFormat:        getenv("TASKBEAT_LOG_FORMAT", "text"),
	}

	var err error
	if cfg.MaxLoopInterval, err = getenvDuration("TASKBEAT_MAX_LOOP_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.CDCPort, err = getenvInt("TASKBEAT_CDC_PORT", 3306); err != nil {
		return nil, err
	}
	if cfg.CDCBatchSize, err = getenvInt("TASKBEAT_CDC_BATCH_SIZE", 100); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a duration: %w", key, err)
	}
	return d, nil
}
