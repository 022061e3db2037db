package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

type Config struct {
	StorageBackend  string        `env:"STORAGE_BACKEND" envDefault:"file"`
	StoragePath     string        `env:"STORAGE_PATH" envDefault:"playerstate.json"`
	StorageAutosave time.Duration `env:"STORAGE_AUTOSAVE" envDefault:"10s"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"playerstate:"`

	// Nodes maps node id to host identity, e.g. "main=lavalink:2333,eu=10.0.0.4:2333".
	Nodes map[string]string `env:"NODES" envKeyValSeparator:"="`

	IdleTimeout    time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ResumeDebounce time.Duration `env:"RESUME_DEBOUNCE" envDefault:"1s"`
	ResumeWorkers  int           `env:"RESUME_WORKERS" envDefault:"8"`

	AlwaysOnGuilds []string `env:"ALWAYS_ON_GUILDS" envSeparator:","`
	// SetupMessages maps guild id to the id of its dedicated player message.
	SetupMessages map[string]string `env:"SETUP_MESSAGES" envKeyValSeparator:":"`
	// SetupIdleText is shown on a setup message once its guild stops playing.
	SetupIdleText string `env:"SETUP_IDLE_CONTENT" envDefault:"Nothing is playing right now."`

	DiscordToken string `env:"DISCORD_TOKEN"`
	PostgresDSN  string `env:"POSTGRES_DSN"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, falling back to system environment variables")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.StorageBackend {
	case BackendFile:
		if strings.TrimSpace(c.StoragePath) == "" {
			errs = append(errs, errors.New("STORAGE_PATH is empty"))
		}
	case BackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("REDIS_ADDR is empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", BackendFile, BackendRedis, c.StorageBackend))
	}

	if c.IdleTimeout <= 0 {
		errs = append(errs, errors.New("IDLE_TIMEOUT must be positive"))
	}
	if c.ResumeDebounce < 0 {
		errs = append(errs, errors.New("RESUME_DEBOUNCE must not be negative"))
	}
	if c.ResumeWorkers <= 0 {
		errs = append(errs, errors.New("RESUME_WORKERS must be positive"))
	}
	for id, host := range c.Nodes {
		if strings.TrimSpace(id) == "" || strings.TrimSpace(host) == "" {
			errs = append(errs, fmt.Errorf("NODES entry %q=%q is incomplete", id, host))
		}
	}

	return errors.Join(errs...)
}

// NodeHosts returns the configured node host identities, sorted.
func (c *Config) NodeHosts() []string {
	hosts := make([]string, 0, len(c.Nodes))
	for _, h := range c.Nodes {
		hosts = append(hosts, h)
	}
	slices.Sort(hosts)
	return slices.Compact(hosts)
}

// IsAlwaysOn reports whether the guild runs in 24/7 mode.
func (c *Config) IsAlwaysOn(guildID string) bool {
	return slices.Contains(c.AlwaysOnGuilds, guildID)
}

// SetupMessageID returns the dedicated player message of a guild, if any.
func (c *Config) SetupMessageID(guildID string) string {
	return c.SetupMessages[guildID]
}

// SetupIdleContent is the same for every guild for now.
func (c *Config) SetupIdleContent(string) string {
	return c.SetupIdleText
}
