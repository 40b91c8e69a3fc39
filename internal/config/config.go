// Package config loads service configuration from the environment and
// an optional config file.
package config

import "time"

// Config holds all application configuration, grouped by concern.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Store    StoreConfig    `mapstructure:"store"`
	Whisper  WhisperConfig  `mapstructure:"whisper"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

type RedisConfig struct {
	Addr          string `mapstructure:"addr" validate:"required"`
	QueueKey      string `mapstructure:"queue_key" validate:"required"`
	ProcessingKey string `mapstructure:"processing_key" validate:"required"`
}

type WorkerConfig struct {
	// Concurrency is jobs-in-flight per worker process. Whisper is
	// internally multi-threaded, so 1 is the intended production value.
	Concurrency int `mapstructure:"concurrency" validate:"gte=1"`
	// JobTimeout bounds one transcription wall-clock; past it the job
	// is written failed with kind Timeout.
	JobTimeout      time.Duration `mapstructure:"job_timeout" validate:"required"`
	RequeueInterval time.Duration `mapstructure:"requeue_interval" validate:"required"`
}

type StoreConfig struct {
	// ResultTTL is the fixed retention window from submission; records
	// past it are unreachable and eventually swept.
	ResultTTL     time.Duration `mapstructure:"result_ttl" validate:"required"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"required"`
}

type WhisperConfig struct {
	Binary         string `mapstructure:"binary" validate:"required"`
	ModelsDir      string `mapstructure:"models_dir" validate:"required"`
	ExtraModelsDir string `mapstructure:"extra_models_dir"`
	Threads        int    `mapstructure:"threads" validate:"gte=1"`
	DefaultModel   string `mapstructure:"default_model" validate:"required"`
	// ModelRefreshInterval bounds how stale the cached models-dir scan
	// may get; each tick drops the cache so a newly downloaded model
	// file becomes resolvable without a restart.
	ModelRefreshInterval time.Duration `mapstructure:"model_refresh_interval" validate:"required"`
}
