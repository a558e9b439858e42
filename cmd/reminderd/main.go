package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"renewal_reminder/internal/domain/item"
	"renewal_reminder/internal/infra/config"
	idb "renewal_reminder/internal/infra/database"
	"renewal_reminder/internal/infra/logger"
	"renewal_reminder/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfg *config.AppConfig

	cmd := &cobra.Command{
		Use:     "reminderd",
		Short:   "Renewal reminder scheduler and ledger",
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(); err != nil {
				return fmt.Errorf("could not load application configuration: %w", err)
			}
			logger.Init(cfg)
			logger.Component("main").WithFields(logrus.Fields{
				"driver":      cfg.DatabaseDriver,
				"environment": cfg.Environment,
				"timezone":    cfg.Timezone.String(),
			}).Info("Configuration loaded")
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	loaded := func() *config.AppConfig { return cfg }
	cmd.AddCommand(
		newServeCmd(loaded),
		newTickCmd(loaded),
		newDueCmd(loaded),
		newMigrateCmd(loaded),
		newCatalogCmd(loaded),
	)
	return cmd
}

func newServeCmd(cfg func() *config.AppConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, HTTP API, Telegram bot and interaction consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg())
		},
	}
}

func newTickCmd(cfg func() *config.AppConfig) *cobra.Command {
	var (
		asOf   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run the reminder pipeline once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			day, err := resolveAsOf(asOf, c.Timezone)
			if err != nil {
				return err
			}
			rt, err := bootstrap(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), c.TickTimeout)
			defer cancel()
			summary, err := rt.reminders.RunTick(ctx, day)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(summary)
			}
			fmt.Println(telegram.FormatTickSummary(summary))
			return nil
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "calendar day to run for (YYYY-MM-DD, default today)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func newDueCmd(cfg func() *config.AppConfig) *cobra.Command {
	var (
		asOf   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "due",
		Short: "Preview the reminders a tick would consider, without sending",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			day, err := resolveAsOf(asOf, c.Timezone)
			if err != nil {
				return err
			}
			rt, err := bootstrap(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			due, scan, err := rt.reminders.FindDue(cmd.Context(), day)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(map[string]any{"summary": scan, "reminders": due})
			}
			fmt.Println(telegram.FormatDue(day, due))
			return nil
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "calendar day to preview (YYYY-MM-DD, default today)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the reminders as JSON")
	return cmd
}

func newMigrateCmd(cfg func() *config.AppConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			db, err := idb.Open(c.DatabaseDriver, c.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			return idb.Migrate(db, c.DatabaseDriver, c.DatabaseURL, logger.Component("migrate"))
		},
	}
}

func newCatalogCmd(cfg func() *config.AppConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Validate and print the item-type catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(cfg())
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"version":          cat.Version(),
				"default_channels": cat.DefaultChannels(),
				"default_offsets":  cat.DefaultOffsets(),
				"entries":          cat.Entries(),
			})
		},
	}
}

func resolveAsOf(raw string, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return item.DateOf(time.Now().In(loc)), nil
	}
	day, err := item.ParseDate(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --as-of: %w", err)
	}
	return day, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
