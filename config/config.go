package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config holds relay settings. Defaults come from the env tags; flags
// registered in main override them.
type Config struct {
	Port               string        `env:"PORT,default=8080"`
	SessionTimeout     time.Duration `env:"SESSION_TIMEOUT,default=10m"`
	ReapInterval       time.Duration `env:"REAP_INTERVAL,default=1m"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	MaxMessageSize     int64         `env:"MAX_MESSAGE_SIZE,default=65536"`
	MinSessionIDLength int           `env:"MIN_SESSION_ID_LENGTH,default=0"`
	AllowedOrigins     []string      `env:"ALLOWED_ORIGINS"`
	LogLevel           string        `env:"LOG_LEVEL,default=info"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.Port == "":
		return errors.New("port is required")
	case c.SessionTimeout <= 0:
		return fmt.Errorf("session timeout must be positive, got %s", c.SessionTimeout)
	case c.ReapInterval <= 0:
		return fmt.Errorf("reap interval must be positive, got %s", c.ReapInterval)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout)
	case c.MaxMessageSize <= 0:
		return fmt.Errorf("max message size must be positive, got %d", c.MaxMessageSize)
	case c.MinSessionIDLength < 0:
		return fmt.Errorf("min session id length must not be negative, got %d", c.MinSessionIDLength)
	}
	return nil
}

func (c Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func SetupLogger(level slog.Level) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}
