package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Data     DataConfig     `yaml:"data" mapstructure:"data"`
	Jobs     JobsConfig     `yaml:"jobs" mapstructure:"jobs"`
	Training TrainingConfig `yaml:"training" mapstructure:"training"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Chat     ChatConfig     `yaml:"chat" mapstructure:"chat"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port         int      `yaml:"port" mapstructure:"port"`
	CORSOrigins  []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	ShutdownSecs int      `yaml:"shutdown_secs" mapstructure:"shutdown_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DataConfig locates the on-disk data tree.
type DataConfig struct {
	Root string `yaml:"root" mapstructure:"root"`
	// PurgeSchedule is a cron spec for orphan cleanup. Empty disables it.
	PurgeSchedule string `yaml:"purge_schedule" mapstructure:"purge_schedule"`
}

// ConfigDir is where the settings and statistics documents live.
func (d DataConfig) ConfigDir() string { return filepath.Join(d.Root, ".config") }

// JobsConfig configures the background job registry.
type JobsConfig struct {
	Workers          int `yaml:"workers" mapstructure:"workers"`
	RetentionMinutes int `yaml:"retention_minutes" mapstructure:"retention_minutes"`
	ProgressBuffer   int `yaml:"progress_buffer" mapstructure:"progress_buffer"`
}

// Retention is how long finished jobs stay in memory.
func (j JobsConfig) Retention() time.Duration {
	return time.Duration(j.RetentionMinutes) * time.Minute
}

// TrainingConfig tunes the regression fit.
type TrainingConfig struct {
	BatchSize    int     `yaml:"batch_size" mapstructure:"batch_size"`
	LearningRate float64 `yaml:"learning_rate" mapstructure:"learning_rate"`
	Seed         uint64  `yaml:"seed" mapstructure:"seed"`
}

// StoreConfig configures the job history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ChatConfig configures the question answering generator.
type ChatConfig struct {
	Provider       string `yaml:"provider" mapstructure:"provider"`
	OllamaURL      string `yaml:"ollama_url" mapstructure:"ollama_url"`
	AnthropicKey   string `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	AnthropicModel string `yaml:"anthropic_model" mapstructure:"anthropic_model"`
	DefaultModel   string `yaml:"default_model" mapstructure:"default_model"`
	MaxTokens      int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	TopK           int    `yaml:"top_k" mapstructure:"top_k"`
	RatePerMinute  int    `yaml:"rate_per_minute" mapstructure:"rate_per_minute"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout bounds one generation.
func (c ChatConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_secs", 15)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("data.root", ".")
	v.SetDefault("data.purge_schedule", "")
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.retention_minutes", 60)
	v.SetDefault("jobs.progress_buffer", 256)
	v.SetDefault("training.batch_size", 16)
	v.SetDefault("training.learning_rate", 0.001)
	v.SetDefault("training.seed", 42)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "pulse.db")
	v.SetDefault("chat.provider", "ollama")
	v.SetDefault("chat.ollama_url", "http://localhost:11434")
	v.SetDefault("chat.anthropic_model", "claude-haiku-4-5-20251001")
	v.SetDefault("chat.default_model", "phi")
	v.SetDefault("chat.max_tokens", 1024)
	v.SetDefault("chat.top_k", 3)
	v.SetDefault("chat.rate_per_minute", 30)
	v.SetDefault("chat.timeout_secs", 120)

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

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var problems []string
	switch c.Store.Driver {
	case "", "none", "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite, postgres or none")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required for postgres")
	}
	if c.Jobs.Workers < 1 {
		problems = append(problems, "jobs.workers must be at least 1")
	}
	if c.Data.Root == "" {
		problems = append(problems, "data.root is required")
	}

	switch mode {
	case "serve":
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be between 1 and 65535")
		}
		switch c.Chat.Provider {
		case "ollama":
		case "anthropic":
			if c.Chat.AnthropicKey == "" {
				problems = append(problems, "chat.anthropic_key is required for the anthropic provider")
			}
		default:
			problems = append(problems, "chat.provider must be ollama or anthropic")
		}
	case "cli":
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid: %s", strings.Join(problems, "; "))
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
