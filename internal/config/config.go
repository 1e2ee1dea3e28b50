// Package config provides configuration loading and structs for the cvpost server and CLI.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Server  ServerConfig  `yaml:"server"`
	Submit  SubmitConfig  `yaml:"submit"`
	Storage StorageConfig `yaml:"storage"`
	Watch   WatchConfig   `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// SubmitConfig holds the ingestion endpoint and the submitter identifier sent with every upload.
type SubmitConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	CandidateID string        `yaml:"candidate_id"`
	Timeout     time.Duration `yaml:"timeout"`
}

// StorageConfig holds the attempt history settings. History is on unless Enabled is
// set to false; after ApplyDefaults an empty DatabasePath means history is off.
type StorageConfig struct {
	Enabled      *bool  `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// HistoryEnabled reports whether attempts are recorded.
func (s StorageConfig) HistoryEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// WatchConfig holds inbox directory watch settings.
type WatchConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Directory    string        `yaml:"directory"`
	Debounce     time.Duration `yaml:"debounce"`
	SyncExisting bool          `yaml:"sync_existing"`
}

// Load reads and parses the config file at path, expands paths, applies defaults and validates.
// Returns an error if the file cannot be read, parsed or is invalid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Watch.Directory = expandPath(cfg.Watch.Directory, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Submit.CandidateID) == "" {
		return fmt.Errorf("invalid config: submit.candidate_id is required")
	}
	u, err := url.Parse(c.Submit.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid config: submit.endpoint must be an absolute http(s) URL, got %q", c.Submit.Endpoint)
	}
	if c.Submit.Timeout < 0 {
		return fmt.Errorf("invalid config: submit.timeout must not be negative")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", c.Server.Port)
	}
	if c.Watch.Enabled && c.Watch.Directory == "" {
		return fmt.Errorf("invalid config: watch.directory is required when watch is enabled")
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
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
