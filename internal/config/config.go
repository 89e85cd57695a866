// Package config loads configuration from defaults, an optional config file
// and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/ClippyCDN/clippy/internal/logging"
	"github.com/ClippyCDN/clippy/internal/storage"
)

// Storage providers.
const (
	ProviderLocal = "LOCAL"
	ProviderS3    = "S3"
)

// ConfigFileEnv names the environment variable holding a config file path.
const ConfigFileEnv = "CLIPPY_CONFIG"

// Config holds all server configuration. Keys are the lower-cased names of
// the environment variables that set them.
type Config struct {
	// Server
	ListenAddr      string        `mapstructure:"listen_addr" validate:"required"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	AppEnv          string        `mapstructure:"app_env"`

	// Logging
	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json console"`

	// Database
	DatabaseURL string `mapstructure:"database_url"`

	// Storage
	StorageProvider  string `mapstructure:"storage_provider" validate:"oneof=LOCAL S3"`
	StorageLocalPath string `mapstructure:"storage_local_path" validate:"required_if=StorageProvider LOCAL"`
	S3Driver         string `mapstructure:"storage_s3_driver" validate:"oneof=s3 minio"`
	S3Endpoint       string `mapstructure:"storage_s3_endpoint" validate:"required_if=StorageProvider S3"`
	S3Port           int    `mapstructure:"storage_s3_port" validate:"gte=0,lt=65536"`
	S3UseSSL         bool   `mapstructure:"storage_s3_use_ssl"`
	S3AccessKey      string `mapstructure:"storage_s3_access_key"`
	S3SecretKey      string `mapstructure:"storage_s3_secret_key"`
	S3Bucket         string `mapstructure:"storage_s3_bucket" validate:"required_if=StorageProvider S3"`
	S3Region         string `mapstructure:"storage_s3_region"`

	// Thumbnails
	ThumbnailEnabled        bool          `mapstructure:"thumbnail_enabled"`
	ThumbnailConcurrency    int           `mapstructure:"thumbnail_concurrency" validate:"gte=1"`
	ThumbnailPollInterval   time.Duration `mapstructure:"thumbnail_poll_interval" validate:"gt=0"`
	ThumbnailReloadInterval time.Duration `mapstructure:"thumbnail_reload_interval" validate:"gt=0"`
	ThumbnailTimeout        time.Duration `mapstructure:"thumbnail_timeout" validate:"gte=0"`
	ThumbnailFFmpegPath     string        `mapstructure:"thumbnail_ffmpeg_path"`

	// Caches
	CacheTTL           time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
	CacheCheckInterval time.Duration `mapstructure:"cache_check_interval" validate:"gte=0"`
	CacheDebug         bool          `mapstructure:"cache_debug"`
}

var defaults = map[string]any{
	"listen_addr":      ":8080",
	"metrics_addr":     ":9090",
	"shutdown_timeout": 30 * time.Second,
	"app_env":          "development",

	"log_level":  "info",
	"log_format": "json",

	"database_url": "",

	"storage_provider":      ProviderLocal,
	"storage_local_path":    "./storage",
	"storage_s3_driver":     storage.DriverS3,
	"storage_s3_endpoint":   "",
	"storage_s3_port":       0,
	"storage_s3_use_ssl":    false,
	"storage_s3_access_key": "",
	"storage_s3_secret_key": "",
	"storage_s3_bucket":     "",
	"storage_s3_region":     "us-east-1",

	"thumbnail_enabled":         true,
	"thumbnail_concurrency":     2,
	"thumbnail_poll_interval":   time.Second,
	"thumbnail_reload_interval": time.Minute,
	"thumbnail_timeout":         0,
	"thumbnail_ffmpeg_path":     "ffmpeg",

	"cache_ttl":            5 * time.Minute,
	"cache_check_interval": time.Minute,
	"cache_debug":          false,
}

// Load reads configuration. configFile may be empty, in which case the path
// in CLIPPY_CONFIG is used if set.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.AutomaticEnv()
	// The web frontend sets the environment under its public name.
	if err := v.BindEnv("app_env", "APP_ENV", "NEXT_PUBLIC_APP_ENV"); err != nil {
		return nil, fmt.Errorf("bind app_env: %w", err)
	}

	if configFile == "" {
		configFile = os.Getenv(ConfigFileEnv)
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.StorageProvider = strings.ToUpper(strings.TrimSpace(c.StorageProvider))
	c.S3Driver = strings.ToLower(strings.TrimSpace(c.S3Driver))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.AppEnv = strings.ToLower(strings.TrimSpace(c.AppEnv))
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// IsProduction reports whether the service runs in production. Read-through
// caches only serve cached values in production.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Logging returns the logger settings.
func (c *Config) Logging() logging.Config {
	return logging.Config{Level: c.LogLevel, Format: c.LogFormat}
}

// Storage returns the storage backend settings.
func (c *Config) Storage() storage.Config {
	if c.StorageProvider == ProviderS3 {
		return storage.Config{
			Kind: storage.KindObjectStore,
			ObjectStore: storage.ObjectStoreConfig{
				Driver:    c.S3Driver,
				Endpoint:  c.S3Endpoint,
				Port:      c.S3Port,
				UseSSL:    c.S3UseSSL,
				AccessKey: c.S3AccessKey,
				SecretKey: c.S3SecretKey,
				Bucket:    c.S3Bucket,
				Region:    c.S3Region,
			},
		}
	}
	return storage.Config{Kind: storage.KindLocal, LocalPath: c.StorageLocalPath}
}
