package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                   = "STUDYBUDDY"
	defaultHTTPAddress          = "0.0.0.0:8080"
	defaultDatabaseDriver       = DriverSQLite
	defaultDatabasePath         = "studybuddy.db"
	defaultLogLevel             = "info"
	defaultIssuer               = "studybuddy-auth"
	defaultCookieName           = "app_session"
	defaultTokenTTLMinutes      = 60
	defaultAIBaseURL            = "https://api.openai.com/v1"
	defaultAIModel              = "gpt-4o-mini"
	defaultAITimeoutSeconds     = 30
	defaultPresenceBackend      = PresenceDatabase
	defaultSweepIntervalSeconds = 60
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Presence backends.
const (
	PresenceDatabase = "database"
	PresenceRedis    = "redis"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	AllowedOrigins []string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	LogLevel string
	LogFile  string

	AuthSigningSecret string
	AuthIssuer        string
	AuthCookieName    string
	TokenTTL          time.Duration

	AIBaseURL string
	AIAPIKey  string
	AIModel   string
	AITimeout time.Duration

	PresenceBackend       string
	PresenceRedisURL      string
	PresenceSweepInterval time.Duration
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
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("ai.base_url", defaultAIBaseURL)
	configViper.SetDefault("ai.api_key", "")
	configViper.SetDefault("ai.model", defaultAIModel)
	configViper.SetDefault("ai.timeout_seconds", defaultAITimeoutSeconds)
	configViper.SetDefault("presence.backend", defaultPresenceBackend)
	configViper.SetDefault("presence.redis_url", "")
	configViper.SetDefault("presence.sweep_interval_seconds", defaultSweepIntervalSeconds)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:           configViper.GetString("http.address"),
		AllowedOrigins:        configViper.GetStringSlice("http.allowed_origins"),
		DatabaseDriver:        strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:          configViper.GetString("database.path"),
		DatabaseDSN:           configViper.GetString("database.dsn"),
		LogLevel:              configViper.GetString("log.level"),
		LogFile:               configViper.GetString("log.file"),
		AuthSigningSecret:     configViper.GetString("auth.signing_secret"),
		AuthIssuer:            configViper.GetString("auth.issuer"),
		AuthCookieName:        configViper.GetString("auth.cookie_name"),
		TokenTTL:              time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		AIBaseURL:             configViper.GetString("ai.base_url"),
		AIAPIKey:              configViper.GetString("ai.api_key"),
		AIModel:               configViper.GetString("ai.model"),
		AITimeout:             time.Duration(configViper.GetInt("ai.timeout_seconds")) * time.Second,
		PresenceBackend:       strings.ToLower(strings.TrimSpace(configViper.GetString("presence.backend"))),
		PresenceRedisURL:      configViper.GetString("presence.redis_url"),
		PresenceSweepInterval: time.Duration(configViper.GetInt("presence.sweep_interval_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.AuthCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	switch c.PresenceBackend {
	case PresenceDatabase:
	case PresenceRedis:
		if strings.TrimSpace(c.PresenceRedisURL) == "" {
			return fmt.Errorf("presence.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("presence.backend %q is not supported", c.PresenceBackend)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.AITimeout <= 0 {
		return fmt.Errorf("ai.timeout_seconds must be positive")
	}
	if c.PresenceSweepInterval < 0 {
		return fmt.Errorf("presence.sweep_interval_seconds must not be negative")
	}
	return nil
}
