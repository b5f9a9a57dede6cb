package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Server configures the development backend.
type Server struct {
	Port               int
	GinMode            string
	TLSCertFile        string
	TLSKeyFile         string
	FileLinkSecret     string
	FileLinkExpiry     time.Duration
	PublicURL          string
	UploadDir          string
	StateFile          string
	ProcessingDelay    time.Duration
	RateLimitPerMinute int
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func LoadServer() (Server, error) {
	return LoadServerFromEnv(osEnv{})
}

func LoadServerFromEnv(env Env) (Server, error) {
	cfg := Server{
		Port:               3000,
		GinMode:            "release",
		FileLinkExpiry:     7 * 24 * time.Hour,
		UploadDir:          "./uploads",
		RateLimitPerMinute: 60,
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Server{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	cfg.FileLinkSecret = env.Getenv("FILE_LINK_SECRET")
	if cfg.FileLinkSecret == "" {
		return Server{}, fmt.Errorf("FILE_LINK_SECRET is required")
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")

	if raw := env.Getenv("FILE_LINK_EXPIRY_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Server{}, fmt.Errorf("invalid FILE_LINK_EXPIRY_SECONDS")
		}
		cfg.FileLinkExpiry = time.Duration(seconds) * time.Second
	}

	cfg.PublicURL = env.Getenv("PUBLIC_URL")
	if cfg.PublicURL == "" {
		scheme := "http"
		if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
			scheme = "https"
		}
		cfg.PublicURL = fmt.Sprintf("%s://localhost:%d", scheme, cfg.Port)
	}

	if raw := env.Getenv("UPLOAD_DIR"); raw != "" {
		cfg.UploadDir = raw
	}
	cfg.StateFile = env.Getenv("STATE_FILE")

	if raw := env.Getenv("PROCESSING_DELAY_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 0 {
			return Server{}, fmt.Errorf("invalid PROCESSING_DELAY_MS")
		}
		cfg.ProcessingDelay = time.Duration(ms) * time.Millisecond
	}

	if raw := env.Getenv("CHAT_RATE_LIMIT_PER_MINUTE"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return Server{}, fmt.Errorf("invalid CHAT_RATE_LIMIT_PER_MINUTE")
		}
		cfg.RateLimitPerMinute = limit
	}

	return cfg, nil
}
