package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Model  ModelConfig  `yaml:"model" mapstructure:"model"`
	Train  TrainConfig  `yaml:"train" mapstructure:"train"`
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// ModelConfig locates the active model bundle and the feature schema overlay.
type ModelConfig struct {
	Path        string `yaml:"path" mapstructure:"path"`
	Watch       bool   `yaml:"watch" mapstructure:"watch"`
	AliasesPath string `yaml:"aliases_path" mapstructure:"aliases_path"`
}

// TrainConfig configures random forest training.
type TrainConfig struct {
	CSVPath         string   `yaml:"csv_path" mapstructure:"csv_path"`
	Trees           int      `yaml:"trees" mapstructure:"trees"`
	MaxDepth        int      `yaml:"max_depth" mapstructure:"max_depth"`
	MinSamplesSplit int      `yaml:"min_samples_split" mapstructure:"min_samples_split"`
	MinSamplesLeaf  int      `yaml:"min_samples_leaf" mapstructure:"min_samples_leaf"`
	Seed            uint64   `yaml:"seed" mapstructure:"seed"`
	Workers         int      `yaml:"workers" mapstructure:"workers"`
	Features        []string `yaml:"features" mapstructure:"features"`
	LabelColumn     string   `yaml:"label_column" mapstructure:"label_column"`
	TestFraction    float64  `yaml:"test_fraction" mapstructure:"test_fraction"`
}

// StoreConfig configures the prediction history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	RateLimit   float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst   int      `yaml:"rate_burst" mapstructure:"rate_burst"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxUploadMB int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DROPOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("model.path", "models/dropout_model.json")
	v.SetDefault("model.watch", false)
	v.SetDefault("train.csv_path", "data/students.csv")
	v.SetDefault("train.trees", 300)
	v.SetDefault("train.max_depth", 15)
	v.SetDefault("train.min_samples_split", 4)
	v.SetDefault("train.min_samples_leaf", 2)
	v.SetDefault("train.seed", 42)
	v.SetDefault("train.workers", 4)
	v.SetDefault("train.label_column", "target")
	v.SetDefault("train.test_fraction", 0.2)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "dropout.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the keys a command depends on.
func (c *Config) Validate(command string) error {
	var errs []string

	switch command {
	case "serve", "score":
		if c.Model.Path == "" {
			errs = append(errs, "model.path is required")
		}
	case "train":
		if c.Train.Trees <= 0 {
			errs = append(errs, "train.trees must be > 0")
		}
		if c.Train.MaxDepth <= 0 {
			errs = append(errs, "train.max_depth must be > 0")
		}
		if c.Train.MinSamplesSplit < 2 {
			errs = append(errs, "train.min_samples_split must be >= 2")
		}
		if c.Train.MinSamplesLeaf < 1 {
			errs = append(errs, "train.min_samples_leaf must be >= 1")
		}
		if c.Train.TestFraction < 0 || c.Train.TestFraction >= 1 {
			errs = append(errs, "train.test_fraction must be in [0, 1)")
		}
		if c.Train.LabelColumn == "" {
			errs = append(errs, "train.label_column is required")
		}
	case "history":
		if c.Store.Driver == "none" || c.Store.Driver == "" {
			errs = append(errs, "store.driver must be sqlite or postgres for history")
		}
	default:
		return eris.Errorf("config: unknown mode %q", command)
	}

	switch c.Store.Driver {
	case "none", "":
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" && command != "train" {
			errs = append(errs, fmt.Sprintf("store.database_url is required for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of none, sqlite, postgres", c.Store.Driver))
	}

	if command == "serve" {
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server.rate_limit must be >= 0")
		}
		if c.Server.MaxUploadMB <= 0 {
			errs = append(errs, "server.max_upload_mb must be > 0")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s: %s", command, strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
