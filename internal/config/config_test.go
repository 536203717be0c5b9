package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.DataDir == "" {
		t.Error("DataDir should not be empty")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel should be 'info', got %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "console" {
		t.Errorf("LogFormat should be 'console', got %s", cfg.LogFormat)
	}
}

func TestDefaultConfig_APIDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Port != 3000 {
		t.Errorf("Port should be 3000, got %d", cfg.API.Port)
	}
	if cfg.API.ReadTimeout != 30*time.Second {
		t.Errorf("ReadTimeout should be 30s, got %v", cfg.API.ReadTimeout)
	}
	if cfg.API.IdleTimeout != 120*time.Second {
		t.Errorf("IdleTimeout should be 120s, got %v", cfg.API.IdleTimeout)
	}
	if cfg.API.MaxUploadBytes != 10*1024*1024 {
		t.Errorf("MaxUploadBytes should be 10MiB, got %d", cfg.API.MaxUploadBytes)
	}
}

func TestDefaultConfig_EmbeddingDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Embedding.Provider != "ollama" {
		t.Errorf("Embedding.Provider should be 'ollama', got %s", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Endpoint != "http://localhost:11434" {
		t.Errorf("Embedding.Endpoint should be 'http://localhost:11434', got %s", cfg.Embedding.Endpoint)
	}
	if cfg.Embedding.Model != "nomic-embed-text" {
		t.Errorf("Embedding.Model should be 'nomic-embed-text', got %s", cfg.Embedding.Model)
	}
	if cfg.Embedding.BatchSize != 200 {
		t.Errorf("Embedding.BatchSize should be 200, got %d", cfg.Embedding.BatchSize)
	}
}

func TestDefaultConfig_SyncDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Sync.Workers != 4 {
		t.Errorf("Workers should be 4, got %d", cfg.Sync.Workers)
	}
	if cfg.Sync.MaxRetries != 5 {
		t.Errorf("MaxRetries should be 5, got %d", cfg.Sync.MaxRetries)
	}
	if cfg.Sync.BaseDelay != time.Second {
		t.Errorf("BaseDelay should be 1s, got %v", cfg.Sync.BaseDelay)
	}
	if cfg.Sync.MaxDelay != 60*time.Second {
		t.Errorf("MaxDelay should be 60s, got %v", cfg.Sync.MaxDelay)
	}
}

func TestDefaultConfig_QdrantDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Qdrant.Port != 6334 {
		t.Errorf("Qdrant.Port should be 6334, got %d", cfg.Qdrant.Port)
	}
	if cfg.Qdrant.Collection != "literag_chunks" {
		t.Errorf("Qdrant.Collection should be 'literag_chunks', got %s", cfg.Qdrant.Collection)
	}
	if cfg.Qdrant.Dimension != 768 {
		t.Errorf("Qdrant.Dimension should be 768, got %d", cfg.Qdrant.Dimension)
	}
	if cfg.GC.IntervalHours != 24 {
		t.Errorf("GC.IntervalHours should be 24, got %d", cfg.GC.IntervalHours)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(c *Config) {}, false},
		{"port zero", func(c *Config) { c.API.Port = 0 }, true},
		{"port too large", func(c *Config) { c.API.Port = 70000 }, true},
		{"zero upload cap", func(c *Config) { c.API.MaxUploadBytes = 0 }, true},
		{"zero dimension", func(c *Config) { c.Qdrant.Dimension = 0 }, true},
		{"empty collection", func(c *Config) { c.Qdrant.Collection = "" }, true},
		{"bogus provider", func(c *Config) { c.Embedding.Provider = "cohere" }, true},
		{"openai without key", func(c *Config) { c.Embedding.Provider = "openai" }, true},
		{"openai with key", func(c *Config) {
			c.Embedding.Provider = "openai"
			c.Embedding.APIKey = "sk-test"
		}, false},
		{"zero batch", func(c *Config) { c.Embedding.BatchSize = 0 }, true},
		{"zero workers", func(c *Config) { c.Sync.Workers = 0 }, true},
		{"negative retries", func(c *Config) { c.Sync.MaxRetries = -1 }, true},
		{"zero gc interval", func(c *Config) { c.GC.IntervalHours = 0 }, true},
	}

	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(cfg)
		err := cfg.Validate()
		if tt.wantErr && err == nil {
			t.Errorf("%s: expected error, got nil", tt.name)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", tt.name, err)
		}
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "literag.yaml")

	yaml := `
api:
  port: 8080
embedding:
  model: all-minilm
qdrant:
  dimension: 384
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.Port != 8080 {
		t.Errorf("Port should be 8080, got %d", cfg.API.Port)
	}
	if cfg.Embedding.Model != "all-minilm" {
		t.Errorf("Model should be 'all-minilm', got %s", cfg.Embedding.Model)
	}
	if cfg.Qdrant.Dimension != 384 {
		t.Errorf("Dimension should be 384, got %d", cfg.Qdrant.Dimension)
	}
	// Untouched keys keep defaults
	if cfg.Embedding.BatchSize != 200 {
		t.Errorf("BatchSize should keep default 200, got %d", cfg.Embedding.BatchSize)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "literag.yaml")
	if err := os.WriteFile(cfgPath, []byte("log_level: debug\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("LITERAG_API_PORT", "9090")
	t.Setenv("LITERAG_QDRANT_DIMENSION", "1024")
	t.Setenv("LITERAG_EMBEDDING_BATCH_SIZE", "50")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.Port != 9090 {
		t.Errorf("env should override port to 9090, got %d", cfg.API.Port)
	}
	if cfg.Qdrant.Dimension != 1024 {
		t.Errorf("env should override dimension to 1024, got %d", cfg.Qdrant.Dimension)
	}
	if cfg.Embedding.BatchSize != 50 {
		t.Errorf("env should override batch size to 50, got %d", cfg.Embedding.BatchSize)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("file value should apply, got %s", cfg.LogLevel)
	}
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "literag.yaml")
	if err := os.WriteFile(cfgPath, []byte("qdrant:\n  dimension: -1\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(cfgPath); err == nil {
		t.Error("Load should reject negative dimension")
	}
}

func TestConfig_EnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := &Config{
		DataDir: filepath.Join(tmpDir, "data"),
		Database: DatabaseConfig{
			Path: filepath.Join(tmpDir, "data", "db", "literag.db"),
		},
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{cfg.DataDir, filepath.Dir(cfg.Database.Path)} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("Directory %s not created: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}

func TestConfig_ListenAddr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.Port = 3000

	if addr := cfg.ListenAddr(); addr != ":3000" {
		t.Errorf("ListenAddr should be ':3000', got %s", addr)
	}
}

func TestConfig_DurationHelpers(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.EmbedTimeout() != 60*time.Second {
		t.Errorf("EmbedTimeout should be 60s, got %v", cfg.EmbedTimeout())
	}
	if cfg.GCInterval() != 24*time.Hour {
		t.Errorf("GCInterval should be 24h, got %v", cfg.GCInterval())
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Cannot determine home directory")
	}

	tests := []struct {
		input    string
		expected string
	}{
		{"~/.literag", filepath.Join(homeDir, ".literag")},
		{"~", homeDir},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}

	for _, tt := range tests {
		result := expandPath(tt.input)
		if result != tt.expected {
			t.Errorf("expandPath(%q) = %q, expected %q", tt.input, result, tt.expected)
		}
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Error("Load should fail for an explicit path that does not exist")
	}
	if err != nil && !strings.Contains(err.Error(), "missing.yaml") {
		t.Errorf("error should name the file, got: %v", err)
	}
}
