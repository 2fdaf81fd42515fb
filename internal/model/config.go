package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Account authentication mechanisms.
const (
	AuthPassword    = "password"
	AuthOAuthBearer = "oauthbearer"
)

// AccountConfig holds the configuration for a single mail account.
type AccountConfig struct {
	// ID is the stable identifier for this account. It survives
	// renumbering and keys the import ledger and keyring entries.
	ID string `mapstructure:"id" yaml:"id"`

	// Index is the account's position in the contiguous 0..N-1 numbering.
	// It is derived from list order and never persisted.
	Index int `mapstructure:"-" yaml:"-"`

	// Label is the user-defined name for this account.
	Label string `mapstructure:"label" yaml:"label"`

	// Enabled controls whether the account takes part in imports.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`

	// Auth selects the login mechanism ("password" or "oauthbearer").
	// The secret itself is kept in the system keyring.
	Auth string `mapstructure:"auth" yaml:"auth"`

	// Mailbox is the folder to import from.
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`

	// SinceDays limits the import to messages newer than this many days.
	// Zero imports the whole mailbox.
	SinceDays int `mapstructure:"since_days" yaml:"since_days"`
}

// DatabaseConfig locates the contact database.
type DatabaseConfig struct {
	Path        string `mapstructure:"path" yaml:"path"`
	Exclusive   bool   `mapstructure:"exclusive" yaml:"exclusive"`
	JournalMode string `mapstructure:"journal_mode" yaml:"journal_mode"`
	BusyTimeout int    `mapstructure:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// ImportConfig holds pipeline behavior settings.
type ImportConfig struct {
	// IgnoreList is the delimiter-separated list of ignored sender patterns.
	IgnoreList string `mapstructure:"ignore_list" yaml:"ignore_list"`

	// IgnoreDelimiter separates the patterns in IgnoreList.
	IgnoreDelimiter string `mapstructure:"ignore_delimiter" yaml:"ignore_delimiter"`

	TaskTypeCode   int  `mapstructure:"task_type_code" yaml:"task_type_code"`
	CreateContacts bool `mapstructure:"create_contacts" yaml:"create_contacts"`
	MaxAttempts    int  `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// StatusConfig controls the optional status/metrics HTTP listener.
type StatusConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Accounts []AccountConfig `mapstructure:"accounts" yaml:"accounts"`
	Database DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Import   ImportConfig    `mapstructure:"import" yaml:"import"`
	Logging  LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Status   StatusConfig    `mapstructure:"status" yaml:"status"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailhistory/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailhistory", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Accounts: []AccountConfig{},
		Database: DatabaseConfig{
			Path:        "contacts.db",
			JournalMode: "wal",
			BusyTimeout: 5000,
		},
		Import: ImportConfig{
			IgnoreDelimiter: ";",
			TaskTypeCode:    TaskTypeEmail,
			CreateContacts:  true,
			MaxAttempts:     3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	d := defaultAppConfig()
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.journal_mode", d.Database.JournalMode)
	v.SetDefault("database.busy_timeout_ms", d.Database.BusyTimeout)
	v.SetDefault("import.ignore_delimiter", d.Import.IgnoreDelimiter)
	v.SetDefault("import.task_type_code", d.Import.TaskTypeCode)
	v.SetDefault("import.create_contacts", d.Import.CreateContacts)
	v.SetDefault("import.max_attempts", d.Import.MaxAttempts)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
// Environment variables prefixed with MAILHISTORY_ override file values.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	return LoadConfigWith(v, path)
}

// LoadConfigWith is LoadConfig on a caller-provided Viper instance, so that
// command-line flags bound to v take precedence.
func LoadConfigWith(v *viper.Viper, path string) (*AppConfig, error) {
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAILHISTORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		_, isPathErr := err.(*os.PathError)
		_, isNotFound := err.(viper.ConfigFileNotFoundError)
		if !isPathErr && !isNotFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	for i := range cfg.Accounts {
		acct := &cfg.Accounts[i]
		acct.Index = i
		if acct.ID == "" {
			acct.ID = uuid.NewString()
		}
		if acct.Mailbox == "" {
			acct.Mailbox = "INBOX"
		}
		if acct.Auth == "" {
			acct.Auth = AuthPassword
		}
		if acct.Port == "" {
			acct.Port = "993"
		}
		if !acct.Enabled {
			// Viper unmarshals missing bools as false; treat unset as true.
			key := fmt.Sprintf("accounts.%d.enabled", i)
			if !v.IsSet(key) {
				acct.Enabled = true
			}
		}
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	accounts := make([]map[string]any, 0, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		accounts = append(accounts, map[string]any{
			"id":         a.ID,
			"label":      a.Label,
			"enabled":    a.Enabled,
			"host":       a.Host,
			"port":       a.Port,
			"username":   a.Username,
			"tls":        a.TLS,
			"auth":       a.Auth,
			"mailbox":    a.Mailbox,
			"since_days": a.SinceDays,
		})
	}

	v.Set("accounts", accounts)
	v.Set("database", cfg.Database)
	v.Set("import", cfg.Import)
	v.Set("logging", cfg.Logging)
	v.Set("status", cfg.Status)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
