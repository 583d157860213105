package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"ingestd/internal/app"
	"ingestd/internal/config"
	"ingestd/internal/ingest/engine"
	"ingestd/internal/ingest/job"
	"ingestd/pkg/logx"
)

const defaultConfig = "./ingestd.yaml"

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ingestd",
		Short:         "Scheduled data ingestion from external sources",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", defaultConfig, "path to config file (json, yaml or toml)")
	root.AddCommand(runCmd(), jobsCmd(), triggerCmd(), historyCmd(), validateCmd(), versionCmd())
	return root
}

func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("config")
	if strings.TrimSpace(p) == "" {
		return defaultConfig
	}
	return p
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ingestd %s (commit: %s)\n", version, commit)
		},
	}
}

func runCmd() *cobra.Command {
	var grace time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(configPath(cmd))
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Close()
				return err
			}
			// No-op unless NOTIFY_SOCKET is set.
			if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
				a.Logger().Warn("sd_notify ready failed", logx.Err(err))
			}

			select {
			case <-ctx.Done():
			case <-a.Done():
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

			fatal := a.Err()
			stopCtx, stop := context.WithTimeout(context.Background(), grace)
			defer stop()
			if err := a.Stop(stopCtx); err != nil && fatal == nil {
				return err
			}
			return fatal
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 30*time.Second, "how long to wait for in-flight syncs on shutdown")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := config.NewConfigManager(configPath(cmd))
			cfg, err := m.Load()
			if err != nil {
				return err
			}
			defs, err := cfg.JobDefs()
			if err != nil {
				return err
			}
			enabled := 0
			for _, j := range defs {
				if j.Enabled {
					enabled++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d jobs (%d enabled)\n", len(defs), enabled)
			return nil
		},
	}
}

// withApp builds the app for a one-shot command and releases it afterwards.
func withApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	a, err := app.New(configPath(cmd))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func jobsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List configured jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app.App) error {
				snap := a.Scheduler().Snapshot()
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), snap.Jobs)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSOURCE\tCADENCE\tENABLED\tSTATUS\tLAST RUN\tRETRIES")
				for _, j := range snap.Jobs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%s\t%s\t%d/%d\n",
						j.ID, j.Source, j.Cadence, j.Enabled, j.Status, fmtTime(j.LastRun), j.RetryCount, j.MaxRetries)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func triggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <job-id>",
		Short: "Run one job now and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer cancel()
				r, err := a.Scheduler().TriggerJob(ctx, args[0])
				if err != nil {
					return err
				}
				if err := writeJSON(cmd.OutOrStdout(), r); err != nil {
					return err
				}
				if !r.Success {
					return fmt.Errorf("sync failed: %s", r.FirstError())
				}
				return nil
			})
		},
	}
}

func historyCmd() *cobra.Command {
	var (
		jobID  string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync results from storage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app.App) error {
				var (
					rs  []job.SyncResult
					err error
				)
				if jobID != "" {
					rs, err = a.Scheduler().GetJobHistory(jobID, limit)
				} else {
					rs = a.Scheduler().GetSyncHistory(limit)
				}
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), rs)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "START\tJOB\tTRIGGER\tATTEMPT\tOK\tITEMS\tDURATION\tERROR")
				for _, r := range rs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%v\t%d\t%s\t%s\n",
						r.StartTime.Format(time.RFC3339), r.JobID, r.Trigger, r.Attempt, r.Success,
						r.ItemsProcessed, r.Duration.Round(time.Millisecond), r.FirstError())
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "only results of this job")
	cmd.Flags().IntVarP(&limit, "limit", "n", engine.DefaultHistoryLimit, "number of results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
