package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/nhle/mailhistory/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history CONTACT [ENTRY_ID]",
	Short: "Show the history recorded for a contact",
	Long: `Show the history recorded for a contact. CONTACT is a contact id or
the contact's email address. With ENTRY_ID the full entry is printed.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var entryID int64
		if len(args) == 2 {
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid entry id %q", args[1])
			}
			entryID = id
		}

		e, err := loadEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		db, err := store.Open(e.cfg.Database.Path, storeOptions(e.cfg.Database))
		if err != nil {
			return err
		}
		defer db.Close()

		contactID, err := lookupContact(cmd, db, args[0])
		if err != nil {
			return err
		}
		if entryID != 0 {
			return printEntry(cmd, db, contactID, entryID)
		}
		return printHistory(cmd, db, contactID)
	},
}

// lookupContact accepts a numeric contact id or an email address.
func lookupContact(cmd *cobra.Command, db *store.SQLiteStore, arg string) (int64, error) {
	if !strings.Contains(arg, "@") {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid contact id %q", arg)
		}
		return id, nil
	}

	id, found, err := db.ContactIDByEmail(cmd.Context(), arg)
	if err != nil {
		return 0, fmt.Errorf("looking up %s: %w", arg, err)
	}
	if !found {
		return 0, fmt.Errorf("%s: %w", arg, store.ErrContactNotFound)
	}
	return id, nil
}

func printHistory(cmd *cobra.Command, db store.Store, contactID int64) error {
	ctx := cmd.Context()
	name, err := db.ContactDisplayName(ctx, contactID)
	if err != nil {
		return err
	}
	recs, err := db.HistoryForContact(ctx, contactID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d entries\n", name, len(recs))
	if len(recs) == 0 {
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "DATE", "SPOUSE", "SUBJECT")
	for _, r := range recs {
		spouse := ""
		if r.WithSpouse {
			spouse = "yes"
		}
		t.Row(strconv.FormatInt(r.HistoryID, 10), r.OccurredAt.Format("2006-01-02 15:04"), spouse, r.Subject)
	}
	fmt.Fprintln(out, t.Render())
	return nil
}

func printEntry(cmd *cobra.Command, db store.Store, contactID, entryID int64) error {
	rec, err := db.GetHistory(cmd.Context(), entryID)
	if err != nil {
		return err
	}
	if rec.ContactID != contactID {
		return fmt.Errorf("entry %d belongs to contact %d: %w", entryID, rec.ContactID, store.ErrHistoryNotFound)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Subject: %s\n", rec.Subject)
	fmt.Fprintf(out, "Date:    %s\n", rec.OccurredAt.Format("2006-01-02 15:04"))
	if rec.WithSpouse {
		fmt.Fprintln(out, "Spouse:  yes")
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, rec.Body)
	return nil
}
