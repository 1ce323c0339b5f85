package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN"`
	DeveloperID  string `env:"DEVELOPER_ID"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"json"`
	StoragePath   string `env:"STORAGE_PATH"   envDefault:"datastore.json"`

	// CommandCachePath holds hashes of registered slash commands per guild.
	CommandCachePath string `env:"COMMAND_CACHE_PATH" envDefault:"data/commands.json"`

	ProtectedUsers    []string `env:"PROTECTED_USERS"     envSeparator:","`
	GuildBlacklist    []string `env:"GUILD_BLACKLIST"     envSeparator:","`
	InitSlashCommands bool     `env:"INIT_SLASH_COMMANDS" envDefault:"true"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
	LogFile   string `env:"LOG_FILE"`

	MetricsAddr string `env:"METRICS_ADDR"`

	EnforceRetries  int           `env:"ENFORCE_RETRIES"  envDefault:"3"`
	BreakerFailures uint32        `env:"BREAKER_FAILURES" envDefault:"5"`
	BreakerTimeout  time.Duration `env:"BREAKER_TIMEOUT"  envDefault:"30s"`
}

var ErrNoToken = errors.New("DISCORD_TOKEN is not set")

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads an optional .env file and then the environment. The returned bool reports
// whether a .env file was found.
func Load(files ...string) (*Config, bool, error) {
	found := godotenv.Load(files...) == nil

	cfg := &Config{}
	if err := ParseEnv(cfg); err != nil {
		return nil, found, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, found, err
	}
	return cfg, found, nil
}

func (c *Config) Validate() error {
	switch c.StorageDriver {
	case "json", "sqlite":
	default:
		return fmt.Errorf("STORAGE_DRIVER must be json or sqlite, got %q", c.StorageDriver)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be console or json, got %q", c.LogFormat)
	}
	if c.EnforceRetries < 0 {
		return fmt.Errorf("ENFORCE_RETRIES must not be negative, got %d", c.EnforceRetries)
	}
	if c.BreakerFailures == 0 {
		return errors.New("BREAKER_FAILURES must be at least 1")
	}
	return nil
}

// RequireToken is called by the bot binary; the CLI works without a token.
func (c *Config) RequireToken() error {
	if c.DiscordToken == "" {
		return ErrNoToken
	}
	return nil
}

func (c *Config) IsProtected(userID string) bool {
	return slices.Contains(c.ProtectedUsers, userID)
}

func (c *Config) IsBlacklisted(guildID string) bool {
	return slices.Contains(c.GuildBlacklist, guildID)
}
