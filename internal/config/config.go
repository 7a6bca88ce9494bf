// Package config loads runtime settings from an optional YAML file, a .env
// file and PLANTSCAN_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/example/plant-scan/internal/inference"
	"github.com/example/plant-scan/internal/kvstore"
	"github.com/example/plant-scan/internal/workflow"
)

const envPrefix = "PLANTSCAN"

// Config is the full runtime configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Inference InferenceConfig `mapstructure:"inference"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Images    ImagesConfig    `mapstructure:"images"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type InferenceConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	ImageSize   uint          `mapstructure:"image_size"`
	JPEGQuality int           `mapstructure:"jpeg_quality"`
	TopN        int           `mapstructure:"top_n"`
}

type StorageConfig struct {
	Driver    string `mapstructure:"driver"`
	DSN       string `mapstructure:"dsn"`
	RedisAddr string `mapstructure:"redis_addr"`
	Namespace string `mapstructure:"namespace"`
}

type ImagesConfig struct {
	GalleryDir string `mapstructure:"gallery_dir"`
	CameraDir  string `mapstructure:"camera_dir"`
	SpoolDir   string `mapstructure:"spool_dir"`
}

type WorkflowConfig struct {
	// Phases overrides feedback phase durations by phase id.
	Phases map[string]time.Duration `mapstructure:"phases"`
}

type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	JWTAudience string `mapstructure:"jwt_audience"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_upload_bytes", 10<<20)

	v.SetDefault("log.level", "info")

	v.SetDefault("inference.base_url", "http://localhost:5000")
	v.SetDefault("inference.timeout", 30*time.Second)
	v.SetDefault("inference.image_size", 224)
	v.SetDefault("inference.jpeg_quality", 80)
	v.SetDefault("inference.top_n", 1)

	v.SetDefault("storage.driver", kvstore.DriverSQLite)
	v.SetDefault("storage.dsn", "plantscan.db")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.namespace", "plantscan")

	v.SetDefault("images.gallery_dir", "images/gallery")
	v.SetDefault("images.camera_dir", "images/camera")
	v.SetDefault("images.spool_dir", "images/uploads")

	for _, p := range workflow.DefaultPhases() {
		v.SetDefault("workflow.phases."+p.ID, p.Duration)
	}

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_audience", "")
}

// Load reads configuration. path may be empty, in which case only defaults,
// .env and the environment are used.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if u, err := url.Parse(c.Inference.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("inference.base_url %q is not an absolute URL", c.Inference.BaseURL))
	}
	switch c.Storage.Driver {
	case kvstore.DriverMemory:
	case kvstore.DriverSQLite, kvstore.DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for driver %s", c.Storage.Driver))
		}
	case kvstore.DriverRedis:
		if c.Storage.RedisAddr == "" {
			errs = append(errs, errors.New("storage.redis_addr is required for driver redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}
	if c.Inference.JPEGQuality < 1 || c.Inference.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("inference.jpeg_quality must be within 1..100, got %d", c.Inference.JPEGQuality))
	}
	return errors.Join(errs...)
}

// InferenceClientConfig converts to the inference package configuration.
func (c *Config) InferenceClientConfig() inference.Config {
	return inference.Config{
		BaseURL:     c.Inference.BaseURL,
		Timeout:     c.Inference.Timeout,
		ImageSize:   c.Inference.ImageSize,
		JPEGQuality: c.Inference.JPEGQuality,
		TopN:        c.Inference.TopN,
	}
}

// KVStoreConfig converts to the kvstore package configuration.
func (c *Config) KVStoreConfig() kvstore.Config {
	return kvstore.Config{
		Driver:    c.Storage.Driver,
		DSN:       c.Storage.DSN,
		RedisAddr: c.Storage.RedisAddr,
		Namespace: c.Storage.Namespace,
	}
}

// Phases returns the feedback sequence with configured durations.
func (c *Config) Phases() []workflow.Phase {
	return workflow.PhasesWithDurations(c.Workflow.Phases)
}
