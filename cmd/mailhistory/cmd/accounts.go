package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/nhle/mailhistory/internal/credential"
	"github.com/nhle/mailhistory/internal/importer"
	"github.com/nhle/mailhistory/internal/model"
	"github.com/nhle/mailhistory/internal/store"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage the configured mail accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts in import order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		if len(e.cfg.Accounts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No accounts configured.")
			return nil
		}

		counts := importedCounts(cmd.Context(), e)

		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("#", "LABEL", "HOST", "MAILBOX", "USER", "ENABLED", "IMPORTED", "ID")
		for _, a := range e.cfg.Accounts {
			imported := "-"
			if n, ok := counts[a.ID]; ok {
				imported = strconv.Itoa(n)
			}
			t.Row(strconv.Itoa(a.Index), a.Label, a.Host+":"+a.Port, a.Mailbox,
				a.Username, strconv.FormatBool(a.Enabled), imported, a.ID)
		}
		fmt.Fprintln(cmd.OutOrStdout(), t.Render())
		return nil
	},
}

// importedCounts returns the imported-message count per account id. It
// is nil when the database cannot be opened, e.g. before init-db.
func importedCounts(ctx context.Context, e *env) map[string]int {
	db, err := store.Open(e.cfg.Database.Path, storeOptions(e.cfg.Database))
	if err != nil {
		e.logger.Debug("imported counts unavailable", "error", err)
		return nil
	}
	defer db.Close()

	counts := make(map[string]int, len(e.cfg.Accounts))
	for _, a := range e.cfg.Accounts {
		n, err := db.ImportedCount(ctx, a.ID)
		if err != nil {
			e.logger.Warn("counting imported messages", "account", a.ID, "error", err)
			continue
		}
		counts[a.ID] = n
	}
	return counts
}

// accountForm holds the values of the add form. Flags prefill it.
type accountForm struct {
	acct     model.AccountConfig
	password string
	noInput  bool
}

var addForm = accountForm{acct: model.AccountConfig{TLS: true, Enabled: true}}

var accountsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an account and store its password in the keyring",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !addForm.noInput {
			if err := buildAccountForm(&addForm).RunWithContext(cmd.Context()); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					return nil
				}
				return err
			}
		}
		if err := validateRequired("host")(addForm.acct.Host); err != nil {
			return err
		}

		return withAccounts(func(e *env, coord *importer.Coordinator) error {
			acct, err := coord.AddAccount(addForm.acct)
			if err != nil {
				return err
			}
			if addForm.password != "" {
				creds, err := openCredentials()
				if err != nil {
					return err
				}
				if err := creds.Set(credential.AccountKey(acct.ID), addForm.password); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added account %d (%s)\n", acct.Index, acct.Label)
			return nil
		})
	},
}

var accountsRemoveCmd = &cobra.Command{
	Use:   "remove INDEX",
	Short: "Remove an account; the accounts after it are renumbered",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid account index %q", args[0])
		}

		return withAccounts(func(e *env, coord *importer.Coordinator) error {
			removed, err := coord.RemoveAccount(index)
			if err != nil {
				return err
			}
			if creds, err := openCredentials(); err != nil {
				e.logger.Warn("keyring unavailable, secret left in place", "account", removed.ID, "error", err)
			} else if err := creds.Delete(credential.AccountKey(removed.ID)); err != nil {
				e.logger.Warn("removing account secret", "account", removed.ID, "error", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed account %d (%s)\n", index, removed.Label)
			return nil
		})
	},
}

func setEnabledCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " INDEX",
		Short: fmt.Sprintf("Set an account as %sd for imports", use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid account index %q", args[0])
			}

			return withAccounts(func(_ *env, coord *importer.Coordinator) error {
				accts := coord.Accounts()
				if index < 0 || index >= len(accts) {
					return fmt.Errorf("account index %d: %w", index, importer.ErrNoSuchAccount)
				}
				return coord.SetEnabled(accts[index].ID, enabled)
			})
		},
	}
}

func init() {
	f := accountsAddCmd.Flags()
	f.StringVar(&addForm.acct.Label, "label", "", "account label")
	f.StringVar(&addForm.acct.Host, "host", "", "IMAP host")
	f.StringVar(&addForm.acct.Port, "port", "993", "IMAP port")
	f.StringVar(&addForm.acct.Username, "username", "", "login name")
	f.StringVar(&addForm.acct.Mailbox, "mailbox", "INBOX", "mailbox to import")
	f.StringVar(&addForm.acct.Auth, "auth", model.AuthPassword, "password or oauthbearer")
	f.IntVar(&addForm.acct.SinceDays, "since-days", 0, "only import messages newer than this many days")
	f.BoolVar(&addForm.noInput, "no-input", false, "take every value from flags; no password is stored")

	accountsCmd.AddCommand(
		accountsListCmd,
		accountsAddCmd,
		accountsRemoveCmd,
		setEnabledCmd("enable", true),
		setEnabledCmd("disable", false),
	)
}

// withAccounts loads the account set into a coordinator, applies fn and
// saves the result.
func withAccounts(fn func(e *env, coord *importer.Coordinator) error) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	coord := importer.New(nil, nil, e.logger)
	defer coord.Close()
	if err := coord.InitAccounts(e.cfg.Accounts); err != nil {
		return err
	}

	if err := fn(e, coord); err != nil {
		return err
	}

	e.cfg.Accounts = coord.Accounts()
	return model.SaveConfig(configPath(), e.cfg)
}

func buildAccountForm(f *accountForm) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Label").
				Description("A name for this account").
				Placeholder("Work").
				Value(&f.acct.Label).
				Validate(validateRequired("Label")),
			huh.NewInput().
				Title("IMAP Host").
				Placeholder("imap.example.com").
				Value(&f.acct.Host).
				Validate(validateRequired("IMAP Host")),
			huh.NewInput().
				Title("IMAP Port").
				Placeholder("993").
				Value(&f.acct.Port).
				Validate(validatePort),
			huh.NewInput().
				Title("Username").
				Placeholder("user@example.com").
				Value(&f.acct.Username).
				Validate(validateRequired("Username")),
			huh.NewInput().
				Title("Password").
				Description("Stored in the system keyring").
				EchoMode(huh.EchoModePassword).
				Value(&f.password),
			huh.NewInput().
				Title("Mailbox").
				Placeholder("INBOX").
				Value(&f.acct.Mailbox),
			huh.NewConfirm().
				Title("Use TLS").
				Affirmative("Yes").
				Negative("No").
				Value(&f.acct.TLS),
		),
	)
}

func validateRequired(field string) func(string) error {
	return func(s string) error {
		if s == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func validatePort(s string) error {
	if s == "" {
		return nil
	}
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}
