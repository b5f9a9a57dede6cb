package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Client configures the terminal chat client. Values come from an optional
// TOML file (CHAT_CONFIG_FILE) and are then overridden by the environment.
type Client struct {
	APIURL        string        `toml:"api_url"`
	Store         string        `toml:"store"`
	StorePath     string        `toml:"store_path"`
	LogLevel      string        `toml:"log_level"`
	LogFile       string        `toml:"log_file"`
	Timeout       time.Duration `toml:"-"`
	UploadTimeout time.Duration `toml:"-"`

	TimeoutSeconds       int `toml:"timeout_seconds"`
	UploadTimeoutSeconds int `toml:"upload_timeout_seconds"`
}

func LoadClient() (Client, error) {
	return LoadClientFromEnv(osEnv{})
}

func LoadClientFromEnv(env Env) (Client, error) {
	cfg := Client{
		APIURL:               "http://localhost:3000",
		Store:                StoreFile,
		LogLevel:             "info",
		TimeoutSeconds:       15,
		UploadTimeoutSeconds: 30,
	}

	if path := env.Getenv("CHAT_CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Client{}, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if raw := env.Getenv("CHAT_API_URL"); raw != "" {
		cfg.APIURL = raw
	}
	if raw := env.Getenv("CHAT_STORE"); raw != "" {
		cfg.Store = raw
	}
	switch cfg.Store {
	case StoreFile, StoreSQLite, StoreMemory:
	default:
		return Client{}, fmt.Errorf("invalid CHAT_STORE %q", cfg.Store)
	}
	if raw := env.Getenv("CHAT_STORE_PATH"); raw != "" {
		cfg.StorePath = raw
	}
	if cfg.StorePath == "" && cfg.Store != StoreMemory {
		home := env.Getenv("HOME")
		if home == "" {
			home = "."
		}
		name := "state.json"
		if cfg.Store == StoreSQLite {
			name = "state.db"
		}
		cfg.StorePath = filepath.Join(home, ".nexchat", name)
	}
	if raw := env.Getenv("CHAT_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := env.Getenv("CHAT_LOG_FILE"); raw != "" {
		cfg.LogFile = raw
	}

	if raw := env.Getenv("CHAT_HTTP_TIMEOUT_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Client{}, fmt.Errorf("invalid CHAT_HTTP_TIMEOUT_SECONDS")
		}
		cfg.TimeoutSeconds = seconds
	}
	if raw := env.Getenv("CHAT_UPLOAD_TIMEOUT_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Client{}, fmt.Errorf("invalid CHAT_UPLOAD_TIMEOUT_SECONDS")
		}
		cfg.UploadTimeoutSeconds = seconds
	}
	if cfg.TimeoutSeconds <= 0 || cfg.UploadTimeoutSeconds <= 0 {
		return Client{}, fmt.Errorf("timeouts must be positive")
	}
	cfg.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	cfg.UploadTimeout = time.Duration(cfg.UploadTimeoutSeconds) * time.Second

	return cfg, nil
}
