// Package config handles literag configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	if path == "~" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return homeDir
	}
	return path
}

// Config holds all literag configuration.
type Config struct {
	DataDir   string `mapstructure:"data_dir" yaml:"data_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	API       APIConfig       `mapstructure:"api" yaml:"api"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant" yaml:"qdrant"`
	Embedding EmbeddingConfig `mapstructure:"embedding" yaml:"embedding"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
	GC        GCConfig        `mapstructure:"gc" yaml:"gc"`
}

// APIConfig holds HTTP server configuration.
type APIConfig struct {
	Port           int           `mapstructure:"port" yaml:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`
}

// DatabaseConfig holds the relational store configuration.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `mapstructure:"path" yaml:"path"`
}

// QdrantConfig holds the vector store configuration.
type QdrantConfig struct {
	Host       string `mapstructure:"host" yaml:"host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	Collection string `mapstructure:"collection" yaml:"collection"`
	Dimension  int    `mapstructure:"dimension" yaml:"dimension"`
}

// EmbeddingConfig holds embedding provider configuration.
type EmbeddingConfig struct {
	// Provider: "ollama" (default, local) or "openai" (any
	// OpenAI-compatible embeddings endpoint).
	Provider       string `mapstructure:"provider" yaml:"provider"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`
	Model          string `mapstructure:"model" yaml:"model"`
	BatchSize      int    `mapstructure:"batch_size" yaml:"batch_size"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// SyncConfig holds ingestion state machine configuration.
type SyncConfig struct {
	Workers    int           `mapstructure:"workers" yaml:"workers"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// GCConfig holds reconciliation sweep configuration.
type GCConfig struct {
	IntervalHours int `mapstructure:"interval_hours" yaml:"interval_hours"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".literag")

	return &Config{
		DataDir:   dataDir,
		LogLevel:  "info",
		LogFormat: "console",

		API: APIConfig{
			Port:           3000,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
			IdleTimeout:    120 * time.Second,
			MaxUploadBytes: 10 * 1024 * 1024,
		},

		Database: DatabaseConfig{
			Path: filepath.Join(dataDir, "literag.db"),
		},

		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "literag_chunks",
			Dimension:  768,
		},

		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			Endpoint:       "http://localhost:11434",
			Model:          "nomic-embed-text",
			BatchSize:      200,
			TimeoutSeconds: 60,
		},

		Sync: SyncConfig{
			Workers:    4,
			MaxRetries: 5,
			BaseDelay:  time.Second,
			MaxDelay:   60 * time.Second,
		},

		GC: GCConfig{
			IntervalHours: 24,
		},
	}
}

// setDefaults mirrors DefaultConfig into viper so environment-only
// overrides resolve for every key.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)

	v.SetDefault("api.port", cfg.API.Port)
	v.SetDefault("api.read_timeout", cfg.API.ReadTimeout)
	v.SetDefault("api.write_timeout", cfg.API.WriteTimeout)
	v.SetDefault("api.idle_timeout", cfg.API.IdleTimeout)
	v.SetDefault("api.max_upload_bytes", cfg.API.MaxUploadBytes)

	v.SetDefault("database.path", cfg.Database.Path)

	v.SetDefault("qdrant.host", cfg.Qdrant.Host)
	v.SetDefault("qdrant.port", cfg.Qdrant.Port)
	v.SetDefault("qdrant.collection", cfg.Qdrant.Collection)
	v.SetDefault("qdrant.dimension", cfg.Qdrant.Dimension)

	v.SetDefault("embedding.provider", cfg.Embedding.Provider)
	v.SetDefault("embedding.endpoint", cfg.Embedding.Endpoint)
	v.SetDefault("embedding.api_key", cfg.Embedding.APIKey)
	v.SetDefault("embedding.model", cfg.Embedding.Model)
	v.SetDefault("embedding.batch_size", cfg.Embedding.BatchSize)
	v.SetDefault("embedding.timeout_seconds", cfg.Embedding.TimeoutSeconds)

	v.SetDefault("sync.workers", cfg.Sync.Workers)
	v.SetDefault("sync.max_retries", cfg.Sync.MaxRetries)
	v.SetDefault("sync.base_delay", cfg.Sync.BaseDelay)
	v.SetDefault("sync.max_delay", cfg.Sync.MaxDelay)

	v.SetDefault("gc.interval_hours", cfg.GC.IntervalHours)
}

// Load loads configuration from files and environment.
// An explicit configFile path skips the search paths.
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("literag")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".literag"))
		v.AddConfigPath("/etc/literag")
		v.AddConfigPath(".")
	}

	setDefaults(v, cfg)

	// Environment variable binding: LITERAG_QDRANT_HOST -> qdrant.host
	v.SetEnvPrefix("LITERAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is OK, use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	cfg.DataDir = expandPath(cfg.DataDir)
	cfg.Database.Path = expandPath(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	if c.API.MaxUploadBytes <= 0 {
		return fmt.Errorf("api.max_upload_bytes must be positive")
	}
	if c.Qdrant.Dimension <= 0 {
		return fmt.Errorf("qdrant.dimension must be positive")
	}
	if c.Qdrant.Collection == "" {
		return fmt.Errorf("qdrant.collection must not be empty")
	}
	switch c.Embedding.Provider {
	case "ollama":
	case "openai":
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("embedding.api_key required for the openai provider")
		}
	default:
		return fmt.Errorf("unknown embedding provider: %s", c.Embedding.Provider)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive")
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync.workers must be positive")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must not be negative")
	}
	if c.GC.IntervalHours <= 0 {
		return fmt.Errorf("gc.interval_hours must be positive")
	}
	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.Database.Path),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return nil
}

// ListenAddr returns the TCP address the API server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.API.Port)
}

// EmbedTimeout returns the per-call embedding timeout.
func (c *Config) EmbedTimeout() time.Duration {
	return time.Duration(c.Embedding.TimeoutSeconds) * time.Second
}

// GCInterval returns the sweep period.
func (c *Config) GCInterval() time.Duration {
	return time.Duration(c.GC.IntervalHours) * time.Hour
}
