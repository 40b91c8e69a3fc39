package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from an optional config.yaml and from
// environment variables with the WHISPER_ prefix (e.g.
// WHISPER_DATABASE_URL, WHISPER_WORKER_JOB_TIMEOUT). Environment
// variables win over file values.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/whisper-api")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// no file is fine, env-only deployments are the norm
	}

	v.SetEnvPrefix("WHISPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("redis.queue_key", "jobs:queue")
	v.SetDefault("redis.processing_key", "jobs:processing")

	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.job_timeout", 30*time.Minute)
	v.SetDefault("worker.requeue_interval", 30*time.Second)

	v.SetDefault("store.result_ttl", 24*time.Hour)
	v.SetDefault("store.sweep_interval", time.Hour)

	v.SetDefault("whisper.binary", "/app/whisper.cpp/main")
	v.SetDefault("whisper.models_dir", "/app/whisper.cpp/models")
	v.SetDefault("whisper.extra_models_dir", "/app/models")
	v.SetDefault("whisper.threads", 4)
	v.SetDefault("whisper.default_model", "base.en")
	v.SetDefault("whisper.model_refresh_interval", time.Minute)
}
