// Package config provides configuration loading and structs for the iris server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Vector    VectorConfig    `yaml:"vector"`
	Extractor ExtractorConfig `yaml:"extractor"`
	LLM       LLMConfig       `yaml:"llm"`
	Reasoning ReasoningConfig `yaml:"reasoning"`
	RunLog    RunLogConfig    `yaml:"run_log"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	UploadDir string `yaml:"upload_dir"`
	// MaxUploadMB caps multipart request bodies.
	MaxUploadMB int `yaml:"max_upload_mb"`
}

// StorageConfig holds paths for the ledger database and indices.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	// PersistLedger enables SQLite write-through for the extraction ledger.
	PersistLedger   bool   `yaml:"persist_ledger"`
	VectorIndexPath string `yaml:"vector_index_path"`
	// BleveIndexPath keeps the keyword index on disk; empty means in memory.
	BleveIndexPath string `yaml:"bleve_index_path"`
}

// VectorConfig holds similarity index settings.
type VectorConfig struct {
	Dimensions int `yaml:"dimensions"`
	DefaultK   int `yaml:"default_k"`
}

// ExtractorConfig holds feature extraction service settings. An empty URL selects the
// built-in deterministic mock extractor.
type ExtractorConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	CacheSize      int    `yaml:"cache_size"`
}

// LLMConfig holds generative gateway settings.
type LLMConfig struct {
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     *int   `yaml:"max_retries"`
	NumPredict     int    `yaml:"num_predict"`
}

// MaxRetriesOrDefault returns the per-tier retry count; defaults to 1 when unset.
func (l *LLMConfig) MaxRetriesOrDefault() int {
	if l.MaxRetries != nil {
		return *l.MaxRetries
	}
	return DefaultMaxRetries
}

// Timeout returns the per-call timeout.
func (l *LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// ReasoningConfig holds generation and session limits.
type ReasoningConfig struct {
	MinDetailedChars int `yaml:"min_detailed_chars"`
	HistoryWindow    int `yaml:"history_window"`
	MaxHistoryStore  int `yaml:"max_history_store"`
	MaxSessions      int `yaml:"max_sessions"`
}

// RunLogConfig holds the audit log location.
type RunLogConfig struct {
	Path string `yaml:"path"`
}

// WatchConfig holds inbox directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads the config file at path (optional: an empty path uses only the
// environment and defaults), expands file paths, applies environment overrides
// and then defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		configDir := filepath.Dir(path)
		cfg.Server.UploadDir = expandPath(cfg.Server.UploadDir, configDir)
		cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
		cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
		cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
		cfg.RunLog.Path = expandPath(cfg.RunLog.Path, configDir)
		for i := range cfg.Watch.Directories {
			cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
		}
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty stays empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
