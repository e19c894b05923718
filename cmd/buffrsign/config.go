package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all buffrsign server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath          string `json:"db_path"` // empty = in-memory store only
	LogLevel        string `json:"log_level"`
	AIBaseURL       string `json:"ai_base_url"`
	AIAPIKey        string `json:"ai_api_key"`
	AITimeout       string `json:"ai_timeout"`
	Scheduler       bool   `json:"scheduler"`
	PanelAddr       string `json:"panel_addr"` // empty = panel disabled
	VaultPassphrase string `json:"vault_passphrase"` // enables the credential vault
	VaultSalt       string `json:"vault_salt"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:  "info",
		AIBaseURL: "http://localhost:8000",
		AITimeout: "30s",
		Scheduler: true,
	}
}

func buffrsignDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".buffrsign"
	}
	return filepath.Join(home, ".buffrsign")
}

func settingsPath() string {
	return filepath.Join(buffrsignDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("BUFFRSIGN_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("BUFFRSIGN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BUFFRSIGN_AI_BASE_URL"); v != "" {
		cfg.AIBaseURL = v
	}
	if v := os.Getenv("BUFFRSIGN_AI_API_KEY"); v != "" {
		cfg.AIAPIKey = v
	}
	if v := os.Getenv("BUFFRSIGN_AI_TIMEOUT"); v != "" {
		cfg.AITimeout = v
	}
	if v := os.Getenv("BUFFRSIGN_PANEL_ADDR"); v != "" {
		cfg.PanelAddr = v
	}
	if v := os.Getenv("BUFFRSIGN_VAULT_PASSPHRASE"); v != "" {
		cfg.VaultPassphrase = v
	}
	if v := os.Getenv("BUFFRSIGN_VAULT_SALT"); v != "" {
		cfg.VaultSalt = v
	}
	if v := os.Getenv("BUFFRSIGN_SCHEDULER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Scheduler = b
		}
	}

	return cfg
}

// validate catches configuration mistakes before any component starts, so
// the operator gets an actionable message instead of a mid-startup failure.
func (c Config) validate() error {
	if c.VaultPassphrase != "" && c.VaultSalt == "" {
		return fmt.Errorf("vault passphrase is set but the salt is empty: set BUFFRSIGN_VAULT_SALT (or vault_salt in settings.json) to a stable per-installation value")
	}
	return nil
}

func (c Config) aiTimeout() time.Duration {
	d, err := time.ParseDuration(c.AITimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}
