package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the food classifier service configuration.
type Config struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port string `env:"PORT" envDefault:"5000"`

	Model    ModelConfig
	Store    StoreConfig
	Upload   UploadConfig
	LogLevel string `env:"FOODCLASS_LOG_LEVEL" envDefault:"info"`
	// "json" or "console"
	LogFormat string `env:"FOODCLASS_LOG_FORMAT" envDefault:"json"`

	ShutdownTimeout time.Duration `env:"FOODCLASS_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// ModelConfig points at the backbone graph, its metadata, the trained head
// weights and the label map.
type ModelConfig struct {
	ModelPath      string `env:"FOODCLASS_MODEL_PATH" envDefault:"models/backbone.onnx"`
	MetadataPath   string `env:"FOODCLASS_METADATA_PATH" envDefault:"models/backbone_metadata.json"`
	CheckpointPath string `env:"FOODCLASS_CHECKPOINT_PATH" envDefault:"food_classifier.safetensors"`
	ClassesPath    string `env:"FOODCLASS_CLASSES_PATH" envDefault:"classes.json"`
	// Empty means the runtime's default lookup.
	RuntimeLibPath string `env:"FOODCLASS_ORT_LIB_PATH"`
	TopK           int    `env:"FOODCLASS_TOPK" envDefault:"3"`
}

// StoreConfig configures the prediction log.
type StoreConfig struct {
	DBPath string `env:"FOODCLASS_DB_PATH" envDefault:"food_data.db"`
}

// UploadConfig bounds and locates uploaded images.
type UploadConfig struct {
	// Empty means os.TempDir().
	Dir      string `env:"FOODCLASS_UPLOAD_DIR"`
	MaxBytes int64  `env:"FOODCLASS_UPLOAD_MAX_BYTES" envDefault:"10485760"`
}

// Load parses the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Model.TopK <= 0 {
		return Config{}, fmt.Errorf("FOODCLASS_TOPK must be positive, got %d", cfg.Model.TopK)
	}
	if cfg.Upload.MaxBytes <= 0 {
		return Config{}, fmt.Errorf("FOODCLASS_UPLOAD_MAX_BYTES must be positive, got %d", cfg.Upload.MaxBytes)
	}
	return cfg, nil
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}
