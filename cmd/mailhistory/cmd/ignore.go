package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/mailhistory/internal/filter"
	"github.com/nhle/mailhistory/internal/model"
)

var ignoreCmd = &cobra.Command{
	Use:   "ignore",
	Short: "Manage the ignored sender patterns",
}

var ignoreListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the ignored sender patterns",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		patterns := filter.Split(e.cfg.Import.IgnoreList, e.cfg.Import.IgnoreDelimiter)
		if len(patterns) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No ignored senders.")
			return nil
		}
		for _, p := range patterns {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

var ignoreAddCmd = &cobra.Command{
	Use:   "add PATTERN...",
	Short: "Ignore senders matching the patterns",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		_, errs := filter.Compile(args)
		if len(errs) > 0 {
			return errs[0]
		}
		return withIgnoreList(func(patterns []string) []string {
			for _, p := range args {
				p = strings.TrimSpace(p)
				if !slices.Contains(patterns, p) {
					patterns = append(patterns, p)
				}
			}
			return patterns
		})
	},
}

var ignoreRemoveCmd = &cobra.Command{
	Use:   "remove PATTERN...",
	Short: "Stop ignoring the patterns",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withIgnoreList(func(patterns []string) []string {
			return slices.DeleteFunc(patterns, func(p string) bool {
				return slices.Contains(args, p)
			})
		})
	},
}

func init() {
	ignoreCmd.AddCommand(ignoreListCmd, ignoreAddCmd, ignoreRemoveCmd)
}

// withIgnoreList applies fn to the configured patterns and saves the
// result. Blank entries left by hand edits are dropped.
func withIgnoreList(fn func(patterns []string) []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	imp := &e.cfg.Import
	patterns := slices.DeleteFunc(filter.Split(imp.IgnoreList, imp.IgnoreDelimiter), func(p string) bool {
		return strings.TrimSpace(p) == ""
	})
	pref, err := filter.Join(fn(patterns), imp.IgnoreDelimiter)
	if err != nil {
		return err
	}
	imp.IgnoreList = pref
	return model.SaveConfig(configPath(), e.cfg)
}
