package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend selects which model runner the server uses.
const (
	BackendHuggingFace = "huggingface"
	BackendONNX        = "onnx"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Model    ModelConfig    `mapstructure:"model"`
	Advisory AdvisoryConfig `mapstructure:"advisory"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowedorigins"`
	MaxUploadBytes int64    `mapstructure:"maxuploadbytes"`
	AllowedTypes   []string `mapstructure:"allowedtypes"`
	StaticDir      string   `mapstructure:"staticdir"`
}

type ModelConfig struct {
	Backend     string            `mapstructure:"backend"`
	HuggingFace HuggingFaceConfig `mapstructure:"huggingface"`
	ONNX        ONNXConfig        `mapstructure:"onnx"`
}

type HuggingFaceConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	ModelID     string        `mapstructure:"modelid"`
	Token       string        `mapstructure:"token"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"maxattempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

type ONNXConfig struct {
	ModelPath    string `mapstructure:"modelpath"`
	MetadataPath string `mapstructure:"metadatapath"`
}

type AdvisoryConfig struct {
	Path string `mapstructure:"path"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowedorigins", []string{"*"})
	v.SetDefault("server.maxuploadbytes", int64(10<<20))
	v.SetDefault("server.allowedtypes", []string{"image/jpeg", "image/png", "image/webp"})
	v.SetDefault("server.staticdir", "static")

	v.SetDefault("model.backend", BackendHuggingFace)
	v.SetDefault("model.huggingface.endpoint", "https://api-inference.huggingface.co")
	v.SetDefault("model.huggingface.modelid", "")
	v.SetDefault("model.huggingface.token", "")
	v.SetDefault("model.huggingface.timeout", 30*time.Second)
	v.SetDefault("model.huggingface.maxattempts", 3)
	v.SetDefault("model.huggingface.backoff", 2*time.Second)

	v.SetDefault("model.onnx.modelpath", "models/model_embedded.onnx")
	v.SetDefault("model.onnx.metadatapath", "models/model_metadata.json")

	v.SetDefault("advisory.path", "")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", 10*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// Load reads configuration from the given YAML file (optional), the
// FARM_ADVISOR_* environment and built-in defaults, in that order of
// precedence. An empty path means env and defaults only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FARM_ADVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			// A missing file falls back to env and defaults.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Model.Backend {
	case BackendHuggingFace, BackendONNX:
	default:
		return fmt.Errorf("unknown model backend %q", c.Model.Backend)
	}

	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.maxuploadbytes must be positive, got %d", c.Server.MaxUploadBytes)
	}

	if len(c.Server.AllowedTypes) == 0 {
		return errors.New("server.allowedtypes must not be empty")
	}

	if c.Model.Backend == BackendHuggingFace {
		if c.Model.HuggingFace.ModelID == "" {
			return errors.New("model.huggingface.modelid is required for the huggingface backend")
		}
		if c.Model.HuggingFace.MaxAttempts < 1 {
			return fmt.Errorf("model.huggingface.maxattempts must be at least 1, got %d", c.Model.HuggingFace.MaxAttempts)
		}
	}

	return nil
}
