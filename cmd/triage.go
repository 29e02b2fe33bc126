package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/mailtriage/internal/triage"
)

func newSpamCmd() *cobra.Command {
	var (
		maxMessages int
		del         bool
	)

	cmd := &cobra.Command{
		Use:   "spam <account-id>",
		Short: "Classify inbox messages and report detected spam",
		Long: `Classify up to --max inbox messages of an account as spam or legitimate.

By default nothing is touched; pass --delete to move the detected spam to
trash.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.shutdown(ctx)

			report, err := app.triager.DetectSpam(ctx, args[0], maxMessages, del)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}

	cmd.Flags().IntVar(&maxMessages, "max", 50, "Maximum number of messages to classify")
	cmd.Flags().BoolVar(&del, "delete", false, "Move detected spam to trash")
	return cmd
}

func newCleanupCmd() *cobra.Command {
	var (
		olderThanDays int
		folder        string
		sender        string
		execute       bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup <account-id>",
		Short: "Bulk-delete messages matching age, folder, or sender",
		Long: `Trash every message matching the given criteria.

Cleanup is a dry run by default and only reports how many messages would be
deleted; pass --execute to commit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.shutdown(ctx)

			criteria := triage.DeleteCriteria{
				OlderThanDays: olderThanDays,
				Folder:        folder,
				Sender:        sender,
			}
			report, err := app.triager.BulkDelete(ctx, args[0], criteria, !execute)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}

	cmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Only messages older than this many days")
	cmd.Flags().StringVar(&folder, "folder", "", "Folder to clean (default: inbox)")
	cmd.Flags().StringVar(&sender, "sender", "", "Only messages from this sender")
	cmd.Flags().BoolVar(&execute, "execute", false, "Actually delete instead of reporting")
	return cmd
}

func newCategorizeCmd() *cobra.Command {
	var execute bool

	cmd := &cobra.Command{
		Use:   "categorize",
		Short: "Sort every account's inbox into the category folders",
		Long: `Classify the inbox of every configured account and sort the messages into
the category folders. One account's failure never aborts the sweep.

Categorization is a dry run by default; pass --execute to move messages.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.shutdown(ctx)

			report, err := app.triager.CategorizeAccounts(ctx, !execute)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}

	cmd.Flags().BoolVar(&execute, "execute", false, "Actually move messages instead of reporting")
	return cmd
}

func newFoldersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "folders <account-id>",
		Short: "Create the category folders on an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.shutdown(ctx)

			report, err := app.triager.EnsureFolders(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Poll all accounts once and report priority mail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.shutdown(ctx)

			report, err := app.triager.CheckAllAccounts(ctx)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll all accounts continuously",
		Long: `Poll every account on the configured interval and print priority mail as it
arrives. When metrics_addr is configured, Prometheus metrics are served on it.

Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.shutdown(context.Background())

			if app.cfg.MetricsAddr != "" && app.provider.Enabled() {
				go serveMetrics(app, app.cfg.MetricsAddr)
			}

			interval := time.Duration(app.cfg.Triage.PollIntervalSec) * time.Second
			app.logger.Info("watch started", "interval", interval.String())

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				report, err := app.triager.CheckAllAccounts(ctx)
				if err != nil {
					app.logger.Error("poll failed", "error", err)
				} else if len(report.Notify) > 0 {
					if err := printJSON(report.Notify); err != nil {
						return err
					}
				}

				select {
				case <-ctx.Done():
					app.logger.Info("watch stopped")
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	return cmd
}

func serveMetrics(app *app, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.provider.PrometheusHandler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	app.logger.Info("metrics endpoint started", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		app.logger.Error("metrics endpoint failed", "error", err)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mailtriage version %s\n", version)
		},
	}
}
