package config

import "time"

// DefaultEndpoint is the ingestion endpoint used when none is configured.
const DefaultEndpoint = "https://technopark-alert-api-1.onrender.com/upload_cv"

// DefaultDatabasePath is where attempt history lives unless configured otherwise.
const DefaultDatabasePath = "/usr/local/var/cvpost/data/attempts.db"

// ApplyDefaults sets default values for any zero values in cfg.
// The candidate id has no default: it identifies the submitter and must be configured.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 10 << 20
	}
	if cfg.Submit.Endpoint == "" {
		cfg.Submit.Endpoint = DefaultEndpoint
	}
	if cfg.Submit.Timeout == 0 {
		cfg.Submit.Timeout = 30 * time.Second
	}
	if !cfg.Storage.HistoryEnabled() {
		cfg.Storage.DatabasePath = ""
	} else if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = DefaultDatabasePath
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 400 * time.Millisecond
	}
}
