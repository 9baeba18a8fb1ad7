// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Env          string                      `mapstructure:"env"`
	Discord      DiscordConfig               `mapstructure:"discord"`
	Database     DatabaseConfig              `mapstructure:"database"`
	Redis        RedisConfig                 `mapstructure:"redis"`
	Server       ServerConfig                `mapstructure:"server"`
	Log          LogConfig                   `mapstructure:"log"`
	Alerts       AlertsConfig                `mapstructure:"alerts"`
	Housekeeping HousekeepingConfig          `mapstructure:"housekeeping"`
	Transcripts  TranscriptConfig            `mapstructure:"transcripts"`
	Deployments  map[string]DeploymentConfig `mapstructure:"deployments"`
}

// DiscordConfig holds Discord bot configuration.
type DiscordConfig struct {
	Token  string `mapstructure:"token"`
	AppID  string `mapstructure:"app_id"`
	Prefix string `mapstructure:"prefix"` // prefix for message commands
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig holds the optional Redis connection used for ticket locks.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Token is the bearer token transcript requests must carry. Empty disables the transcript API.
	Token string `mapstructure:"token"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// AlertsConfig holds operator alert sinks.
type AlertsConfig struct {
	Telegram TelegramAlertConfig `mapstructure:"telegram"`
}

// TelegramAlertConfig configures alerts delivered to a Telegram chat.
type TelegramAlertConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

// HousekeepingConfig controls the periodic sweep.
type HousekeepingConfig struct {
	Interval time.Duration `mapstructure:"interval"` // grid the runs are aligned to
}

// TranscriptConfig controls the transcript pipeline.
type TranscriptConfig struct {
	PageSize      int `mapstructure:"page_size"`
	ProgressEvery int `mapstructure:"progress_every"`
}

// DeploymentConfig holds every environment-specific platform id.
// Keys are symbolic names (e.g. "theorycrafter", "libsubs_closed") referenced by the ticket catalog.
type DeploymentConfig struct {
	ServerID   string            `mapstructure:"server_id"`
	Roles      map[string]string `mapstructure:"roles"`
	Categories map[string]string `mapstructure:"categories"`
	Channels   map[string]string `mapstructure:"channels"`
}

// Role returns the role id configured under key, or "" if absent.
func (d DeploymentConfig) Role(key string) string {
	return d.Roles[key]
}

// Category returns the category id configured under key, or "" if absent.
func (d DeploymentConfig) Category(key string) string {
	return d.Categories[key]
}

// Channel returns the channel id configured under key, or "" if absent.
func (d DeploymentConfig) Channel(key string) string {
	return d.Channels[key]
}

// Load reads configuration from a .env file, the config file and environment variables.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Set defaults
	v.SetDefault("env", "development")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.token", "")
	v.SetDefault("database.path", "./data/ticketbot.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("discord.prefix", "!")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("housekeeping.interval", "15m")
	v.SetDefault("transcripts.page_size", 100)
	v.SetDefault("transcripts.progress_every", 1000)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("TICKETBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks if all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord token is required")
	}
	if _, ok := c.Deployments[c.Env]; !ok {
		return fmt.Errorf("no deployment configured for env %q", c.Env)
	}
	if c.Housekeeping.Interval <= 0 {
		return fmt.Errorf("housekeeping interval must be positive")
	}
	if c.Transcripts.PageSize <= 0 || c.Transcripts.PageSize > 100 {
		return fmt.Errorf("transcripts page_size must be between 1 and 100")
	}
	return nil
}

// Deployment returns the deployment selected by Env.
func (c *Config) Deployment() DeploymentConfig {
	return c.Deployments[c.Env]
}

// ServerAddress returns the full server address.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
