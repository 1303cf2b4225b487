package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "studybuddy-api",
		Short: "StudyBuddy backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newSweepPresenceCommand(), newIssueTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before configuration is read")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.StringSlice("allowed-origins", defaults.GetStringSlice("http.allowed_origins"), "CORS origins allowed to call the API (empty allows any)")
	flags.String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("database-dsn", defaults.GetString("database.dsn"), "Postgres connection string")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-file", defaults.GetString("log.file"), "Optional rotated log file")
	flags.String("signing-secret", "", "Session signing secret (overrides env)")
	flags.String("auth-issuer", defaults.GetString("auth.issuer"), "Expected session token issuer")
	flags.String("auth-cookie-name", defaults.GetString("auth.cookie_name"), "Session cookie name")
	flags.Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Lifetime of issued session tokens in minutes")
	flags.String("ai-base-url", defaults.GetString("ai.base_url"), "Chat completion endpoint root")
	flags.String("ai-api-key", "", "AI provider API key (overrides env)")
	flags.String("ai-model", defaults.GetString("ai.model"), "AI model name")
	flags.Int("ai-timeout-seconds", defaults.GetInt("ai.timeout_seconds"), "Per-call AI timeout in seconds")
	flags.String("presence-backend", defaults.GetString("presence.backend"), "Presence store (database, redis)")
	flags.String("presence-redis-url", defaults.GetString("presence.redis_url"), "Redis URL for the redis presence store")
	flags.Int("presence-sweep-interval-seconds", defaults.GetInt("presence.sweep_interval_seconds"), "In-process presence sweep period; 0 disables")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.issuer", "auth-issuer")
	bindFlag(cmd, "auth.cookie_name", "auth-cookie-name")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "ai.base_url", "ai-base-url")
	bindFlag(cmd, "ai.api_key", "ai-api-key")
	bindFlag(cmd, "ai.model", "ai-model")
	bindFlag(cmd, "ai.timeout_seconds", "ai-timeout-seconds")
	bindFlag(cmd, "presence.backend", "presence-backend")
	bindFlag(cmd, "presence.redis_url", "presence-redis-url")
	bindFlag(cmd, "presence.sweep_interval_seconds", "presence-sweep-interval-seconds")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
