package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	URLsFile  string `envconfig:"URLS_FILE" required:"true"`
	AuthFile  string `envconfig:"AUTH_FILE"`
	OutputDir string `envconfig:"OUTPUT_DIR" default:"./downloads"`

	MaxParallel       int           `envconfig:"MAX_PARALLEL" default:"4"`
	ChunkSize         int           `envconfig:"CHUNK_SIZE" default:"8192"`
	MinArchiveSize    int64         `envconfig:"MIN_ARCHIVE_SIZE" default:"50000"`
	PersistEveryChunk int           `envconfig:"PERSIST_EVERY_CHUNKS" default:"100"`
	RequestTimeout    time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	// Web is the optional live status API. It stays off unless a bind
	// address is configured.
	Web struct {
		BindAddress     string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
