package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unclebandit/phishsim-backend/internal/app"
	"github.com/unclebandit/phishsim-backend/internal/config"
	"github.com/unclebandit/phishsim-backend/internal/db"
	"github.com/unclebandit/phishsim-backend/internal/logging"
	"github.com/unclebandit/phishsim-backend/internal/service"
)

// Seams for tests.
var (
	loadConfig = func() (*config.Config, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		return cfg, cfg.Validate()
	}
	openApp = func(ctx context.Context, cfg *config.Config) (*app.App, error) {
		return app.New(ctx, cfg, logging.L())
	}
)

const commandTimeout = 2 * time.Minute

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "phishctl",
		Short:         "Operate phishing simulation campaigns from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newCampaignsCommand())
	cmd.AddCommand(newStatsCommand())
	cmd.AddCommand(newExportCommand())
	cmd.AddCommand(newRedispatchCommand())
	cmd.AddCommand(newSMTPTestCommand())
	return cmd
}

// withApp runs fn against the configured store and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(ctx, a)
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if cfg.Store != config.StorePostgres {
				return errors.New("migrate requires STORE=postgres")
			}
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()

			conn, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()
			if err := db.Migrate(ctx, conn); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
			return nil
		},
	}
}

func newCampaignsCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "campaigns",
		Short: "List campaigns with their counters",
		Long: `List every campaign, newest first.

Examples:
  phishctl campaigns
  phishctl campaigns --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				campaigns, err := (&service.ReportService{Store: a.Store}).Campaigns(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if format == "json" {
					return writeJSON(out, campaigns)
				}
				if len(campaigns) == 0 {
					fmt.Fprintln(out, "No campaigns found")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tTEMPLATE\tTARGETS\tSENT\tCLICKED\tSUBMITTED\tCREATED")
				for _, c := range campaigns {
					fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
						c.ID, c.Name, c.Template, c.TargetCount, c.Sent, c.Clicked, c.Submitted,
						c.CreatedAt.UTC().Format("2006-01-02 15:04"))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "Output format (table, json)")
	return cmd
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show global engagement statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				stats, err := (&service.ReportService{Store: a.Store}).Stats(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
}

func newExportCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the audit report as CSV",
		Long: `Write one row per target across all campaigns.

Examples:
  phishctl export > report.csv
  phishctl export --output phishing_report.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return err
					}
					defer func() { _ = f.Close() }()
					out = f
				}
				return (&service.ReportService{Store: a.Store}).WriteAuditCSV(ctx, out)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (defaults to stdout)")
	return cmd
}

func newRedispatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "redispatch <campaign-id>",
		Short: "Send the lure to every target that has not received it yet",
		Long: `Queue the campaign's unsent targets for delivery using the configured
sender, base URL and SMTP settings.

With DISPATCH_MODE=inprocess the emails are sent before the command exits.

Examples:
  phishctl redispatch 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id < 1 {
				return fmt.Errorf("invalid campaign id %q", args[0])
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				q, closeQueue, err := a.OpenQueue()
				if err != nil {
					return err
				}
				result, err := a.CampaignService(q).Redispatch(ctx, id, service.LaunchOptions{})
				if closeErr := closeQueue(ctx); closeErr != nil {
					a.Logger.Warn("close dispatch queue", zap.Error(closeErr))
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), result.Message)
				return nil
			})
		},
	}
}

func newSMTPTestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "smtp-test",
		Short: "Check the configured SMTP credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if cfg.SMTPUser == "" || cfg.SMTPPass == "" {
				return errors.New("SMTP_USER and SMTP_PASS must be set")
			}
			a := &app.App{Config: cfg}
			settings := a.SMTPDefaults()

			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			if err := smtpTest(ctx, settings); err != nil {
				return fmt.Errorf("smtp login failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s via %s:%d\n", settings.Username, settings.Host, settings.Port)
			return nil
		},
	}
}

var smtpTest = app.TestSMTP

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
