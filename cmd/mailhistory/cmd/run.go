package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/nhle/mailhistory/internal/app"
	"github.com/nhle/mailhistory/internal/contact"
	"github.com/nhle/mailhistory/internal/filter"
	"github.com/nhle/mailhistory/internal/importer"
	"github.com/nhle/mailhistory/internal/model"
	"github.com/nhle/mailhistory/internal/retry"
	"github.com/nhle/mailhistory/internal/source/email"
	"github.com/nhle/mailhistory/internal/statusapi"
	"github.com/nhle/mailhistory/internal/store"
	"github.com/nhle/mailhistory/internal/theme"
	"github.com/nhle/mailhistory/internal/ui/resolve"
)

var (
	interactive bool
	accessible  bool
	useTUI      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Import every enabled account",
	Long: `Connects to every enabled account and imports its messages into the
contact database. Messages already imported are skipped, so a run can be
repeated safely.

With --interactive, senders that cannot be matched automatically are
resolved through prompts. With --tui, progress is shown in a terminal view
that can pause, resume and stop sessions.`,
	Args: cobra.NoArgs,
	RunE: runImport,
}

func init() {
	runCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "ask how to file senders that do not match exactly one contact")
	runCmd.Flags().BoolVar(&accessible, "accessible", false, "use plain line prompts with --interactive")
	runCmd.Flags().BoolVar(&useTUI, "tui", false, "show the progress view")
	runCmd.Flags().String("status-addr", "", "serve status and metrics on this address")
	_ = v.BindPFlag("status.addr", runCmd.Flags().Lookup("status-addr"))
	runCmd.MarkFlagsMutuallyExclusive("interactive", "tui")
}

func runImport(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	cfg, logger := e.cfg, e.logger

	db, err := store.Open(cfg.Database.Path, storeOptions(cfg.Database))
	if err != nil {
		return err
	}
	defer db.Close()

	creds, err := openCredentials()
	if err != nil {
		return err
	}

	pipeline := importer.NewPipeline(db, newResolver(cfg.Import), pipelineConfig(cfg.Import, logger), logger)
	coord := importer.New(email.NewAdapter(creds.AccountSecret, logger), pipeline, logger)
	defer coord.Close()

	if err := coord.InitAccounts(cfg.Accounts); err != nil {
		return err
	}

	if cfg.Status.Addr != "" {
		srv := statusapi.New(cfg.Status.Addr, coord, logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("status server failed", "error", err)
			}
		}()
	}

	if useTUI {
		return runTUI(ctx, coord)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("stopping import")
			coord.StopAll()
		case <-done:
		}
	}()

	if err := coord.StartAll(ctx); err != nil {
		return err
	}
	coord.Wait()

	writeSummary(cmd.OutOrStdout(), coord.Sessions())
	if n, err := db.CountHistory(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("counting history", "error", err)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%d history entries in %s\n", n, cfg.Database.Path)
	}
	return nil
}

func runTUI(ctx context.Context, coord *importer.Coordinator) error {
	feed := app.NewFeed(coord.Events)
	defer feed.Close()

	if err := coord.StartAll(ctx); err != nil {
		return err
	}

	p := tea.NewProgram(app.New(ctx, coord, feed), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("progress view: %w", err)
	}
	coord.StopAll()
	return nil
}

func newResolver(cfg model.ImportConfig) contact.Resolver {
	if interactive {
		return resolve.New(resolve.HuhPrompter{Accessible: accessible})
	}
	return contact.AutoResolver{CreateContacts: cfg.CreateContacts}
}

func pipelineConfig(cfg model.ImportConfig, logger *slog.Logger) importer.PipelineConfig {
	ignore, errs := filter.Compile(filter.Split(cfg.IgnoreList, cfg.IgnoreDelimiter))
	for _, err := range errs {
		logger.Warn("ignore list entry dropped", "error", err)
	}

	backoff := retry.DefaultBackoffConfig()
	if cfg.MaxAttempts > 0 {
		backoff.MaxRetries = cfg.MaxAttempts - 1
	}

	return importer.PipelineConfig{
		Ignore:       ignore,
		TaskTypeCode: cfg.TaskTypeCode,
		Backoff:      backoff,
	}
}

func writeSummary(w io.Writer, snaps []importer.SessionSnapshot) {
	if len(snaps) == 0 {
		fmt.Fprintln(w, "No enabled accounts.")
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "ACCOUNT", "STATUS", "IMPORTED", "DUPLICATE", "IGNORED", "SKIPPED", "FAILED", "ERROR")
	for _, s := range snaps {
		t.Row(
			strconv.Itoa(s.AccountIndex),
			s.Label,
			theme.SessionStatusStyle(s.Status).Render(s.StatusName),
			strconv.Itoa(s.Imported),
			strconv.Itoa(s.Duplicates),
			strconv.Itoa(s.Ignored),
			strconv.Itoa(s.Skipped),
			strconv.Itoa(s.Failed),
			s.LastError,
		)
	}
	fmt.Fprintln(w, t.Render())
}
