package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/portprobe/internal/db"
	"github.com/anstrom/portprobe/internal/probe"
)

const (
	defaultReportLimit = 20
	maxOpenDisplay     = 8 // open ports listed before truncation
)

func newMigrateCmd(a *app) *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Create or upgrade the report tables in the configured PostgreSQL
database. With --status the migrations are listed instead of applied.`,
		Example: `  portprobe migrate
  portprobe migrate --status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd, nil)
			if err != nil {
				return err
			}

			return withDatabase(cmd.Context(), cfg, a.log(), func(ctx context.Context, database *db.DB) error {
				migrator := db.NewMigrator(database.DB)
				if status {
					statuses, err := migrator.Status(ctx)
					if err != nil {
						return err
					}
					displayMigrationStatus(cmd.OutOrStdout(), statuses)
					return nil
				}

				applied, err := migrator.Up(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(applied) == 0 {
					fmt.Fprintln(out, "Database is up to date.")
					return nil
				}
				for _, name := range applied {
					fmt.Fprintf(out, "Applied %s\n", name)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "list migrations and whether they are applied")
	return cmd
}

func displayMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	table := tablewriter.NewWriter(w)
	table.Header("MIGRATION", "APPLIED", "APPLIED AT")
	for _, s := range statuses {
		applied := "no"
		appliedAt := "-"
		if s.Applied {
			applied = "yes"
			appliedAt = s.AppliedAt.Format(time.RFC3339)
			if s.Modified {
				applied = "modified"
			}
		}
		_ = table.Append([]string{s.Name, applied, appliedAt})
	}
	_ = table.Render()
}

func newReportsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Inspect stored probe reports",
		Long: `List and show probe reports stored by 'portprobe probe --save',
the API server and scheduled probes.`,
	}

	cmd.AddCommand(newReportsListCmd(a), newReportsShowCmd(a), newReportsDeleteCmd(a))
	return cmd
}

func newReportsListCmd(a *app) *cobra.Command {
	var limit, offset int
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored reports, newest first",
		Example: `  portprobe reports list
  portprobe reports list --limit 50 --offset 50 --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}
			cfg, err := a.loadConfig(cmd, nil)
			if err != nil {
				return err
			}

			return withDatabase(cmd.Context(), cfg, a.log(), func(ctx context.Context, database *db.DB) error {
				reports, err := db.NewReportRepository(database).List(ctx, limit, offset)
				if err != nil {
					return err
				}
				if output == outputJSON {
					return writeJSON(cmd.OutOrStdout(), reports)
				}
				displayReportsTable(cmd.OutOrStdout(), reports)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", defaultReportLimit, "maximum number of reports")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of reports to skip")
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format: table or json")
	return cmd
}

func newReportsShowCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "show [id]",
		Short:   "Show a stored report with every port outcome",
		Example: `  portprobe reports show 3f1c2a9e-6d7b-4f0e-9a51-2c8d4e6f7a10`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}
			cfg, err := a.loadConfig(cmd, nil)
			if err != nil {
				return err
			}

			return withDatabase(cmd.Context(), cfg, a.log(), func(ctx context.Context, database *db.DB) error {
				report, err := db.NewReportRepository(database).Get(ctx, args[0])
				if err != nil {
					return err
				}
				return renderReport(cmd.OutOrStdout(), report, output, true)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format: table or json")
	return cmd
}

func newReportsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a stored report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd, nil)
			if err != nil {
				return err
			}

			return withDatabase(cmd.Context(), cfg, a.log(), func(ctx context.Context, database *db.DB) error {
				if err := db.NewReportRepository(database).Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted report %s\n", args[0])
				return nil
			})
		},
	}
}

func displayReportsTable(w io.Writer, reports []*probe.Report) {
	if len(reports) == 0 {
		fmt.Fprintln(w, "No reports found.")
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "TARGET", "PORTS", "STARTED", "OPEN", "STATUS")
	for _, r := range reports {
		status := "complete"
		if r.Cancelled {
			status = "cancelled"
		}
		_ = table.Append([]string{
			r.ID,
			r.Target,
			r.Ports,
			r.StartedAt.Format(time.RFC3339),
			formatOpenPorts(r.Open),
			status,
		})
	}
	_ = table.Render()
}

// formatOpenPorts lists open ports, truncating long lists.
func formatOpenPorts(open []int) string {
	if len(open) == 0 {
		return "-"
	}
	shown := open
	if len(shown) > maxOpenDisplay {
		shown = shown[:maxOpenDisplay]
	}
	parts := make([]string, len(shown))
	for i, p := range shown {
		parts[i] = strconv.Itoa(p)
	}
	s := strings.Join(parts, ",")
	if len(open) > maxOpenDisplay {
		s += fmt.Sprintf(" (+%d)", len(open)-maxOpenDisplay)
	}
	return s
}
