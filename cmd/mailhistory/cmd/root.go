// Package cmd holds the mailhistory command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nhle/mailhistory/internal/credential"
	"github.com/nhle/mailhistory/internal/logging"
	"github.com/nhle/mailhistory/internal/model"
	"github.com/nhle/mailhistory/internal/store"
)

// Version is stamped at build time.
var Version = "dev"

var (
	configFile string
	logLevel   string

	v = viper.New()

	// openCredentials is replaced in tests.
	openCredentials = credential.Open
)

var rootCmd = &cobra.Command{
	Use:   "mailhistory",
	Short: "Import mail into the contact history database",
	Long: `mailhistory reads the messages of one or more IMAP accounts and records
each one as a history entry on the matching contact.

Accounts, the database location and the ignore list are read from
~/.config/mailhistory/config.yaml. Any setting can be overridden with a
MAILHISTORY_ environment variable, for example MAILHISTORY_DATABASE_PATH.
Account passwords live in the system keyring.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return fang.Execute(context.Background(), rootCmd, fang.WithVersion(Version))
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ~/.config/mailhistory/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	_ = v.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(runCmd, initDBCmd, accountsCmd, historyCmd, ignoreCmd)
}

func configPath() string {
	if configFile != "" {
		return configFile
	}
	return model.DefaultConfigPath()
}

// env is what every subcommand starts from.
type env struct {
	cfg    *model.AppConfig
	logger *slog.Logger
	closer io.Closer
}

func (e *env) Close() error { return e.closer.Close() }

func loadEnv() (*env, error) {
	cfg, err := model.LoadConfigWith(v, configPath())
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("opening log: %w", err)
	}
	logger.Debug("configuration loaded", "path", configPath(), "accounts", len(cfg.Accounts))
	return &env{cfg: cfg, logger: logger, closer: closer}, nil
}

func storeOptions(cfg model.DatabaseConfig) store.Options {
	return store.Options{
		Exclusive:   cfg.Exclusive,
		JournalMode: cfg.JournalMode,
		BusyTimeout: time.Duration(cfg.BusyTimeout) * time.Millisecond,
	}
}
