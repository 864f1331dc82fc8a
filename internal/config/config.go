package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "YTNOTES"

	// The agent serves local UI surfaces only.
	defaultHTTPAddress  = "127.0.0.1:8675"
	defaultDatabasePath = "yt-notes.db"
	defaultLogLevel     = "info"
	defaultSyncInterval = 5 * time.Minute
	defaultSyncTimeout  = 30 * time.Second
)

// AppConfig captures runtime configuration for the sync agent.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	BackendBaseURL string
	SyncInterval   time.Duration
	SyncTimeout    time.Duration
	LogLevel       string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("backend.base_url", "")
	configViper.SetDefault("sync.interval", defaultSyncInterval)
	configViper.SetDefault("sync.timeout", defaultSyncTimeout)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		BackendBaseURL: configViper.GetString("backend.base_url"),
		SyncInterval:   configViper.GetDuration("sync.interval"),
		SyncTimeout:    configViper.GetDuration("sync.timeout"),
		LogLevel:       configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.SyncTimeout <= 0 {
		return fmt.Errorf("sync.timeout must be positive")
	}
	return nil
}
