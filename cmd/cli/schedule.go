package cli

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/portprobe/internal/api/handlers"
	"github.com/anstrom/portprobe/internal/scheduler"
)

const maxTargetDisplay = 30 // target characters shown before truncation

func newSchedulesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedules",
		Aliases: []string{"schedule"},
		Short:   "Manage scheduled probes on a running server",
		Long: `Manage the cron schedules of a running 'portprobe serve' through its
API. The server address defaults to api.listen_addr and api.port from the
config file; the API key comes from --api-key, PORTPROBE_API_KEY or the file
named by PORTPROBE_API_KEY_FILE.

Schedules added here live until the server restarts. Put permanent
schedules in the config file.`,
		Example: `  portprobe schedules list
  portprobe schedules add web --cron "*/15 * * * *" --target 10.0.0.5 --ports 80,443
  portprobe schedules run web
  portprobe schedules disable web
  portprobe schedules remove web`,
	}

	cmd.PersistentFlags().String("server", "", "API base URL (default http://<api.listen_addr>:<api.port>)")
	cmd.PersistentFlags().String("api-key", "", "API key (or PORTPROBE_API_KEY)")

	cmd.AddCommand(
		newScheduleListCmd(a),
		newScheduleAddCmd(a),
		newScheduleActionCmd(a, "remove", "Remove a schedule", "Removed"),
		newScheduleActionCmd(a, "enable", "Enable a schedule", "Enabled"),
		newScheduleActionCmd(a, "disable", "Disable a schedule", "Disabled"),
		newScheduleActionCmd(a, "run", "Queue an immediate run of a schedule", "Queued"),
	)
	return cmd
}

func newScheduleListCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules with their last and next runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}
			client, err := a.apiClient(cmd)
			if err != nil {
				return err
			}

			var jobs []scheduler.JobInfo
			if err := client.Get(cmd.Context(), "/schedules", &jobs); err != nil {
				return describeAPIError(err, "list schedules")
			}

			if output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), jobs)
			}
			displaySchedulesTable(cmd.OutOrStdout(), jobs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format: table or json")
	return cmd
}

func newScheduleAddCmd(a *app) *cobra.Command {
	req := handlers.ScheduleRequest{}
	var timeout, retryDelay time.Duration

	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Add a schedule",
		Long: `Add a schedule that probes a target on a standard five-field cron
expression. Failed runs are retried up to --max-retries times.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.apiClient(cmd)
			if err != nil {
				return err
			}

			req.Name = args[0]
			req.TimeoutMS = int(timeout.Milliseconds())
			req.RetryDelayMS = int(retryDelay.Milliseconds())

			var job scheduler.JobInfo
			if err := client.Post(cmd.Context(), "/schedules", &req, &job); err != nil {
				return describeAPIError(err, "add schedule")
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Added schedule %s\n", req.Name)
			if !job.NextRun.IsZero() {
				fmt.Fprintf(out, "Next run: %s\n", job.NextRun.Local().Format(time.RFC3339))
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&req.Cron, "cron", "", "cron expression, e.g. \"0 */6 * * *\"")
	flags.StringVarP(&req.Target, "target", "t", "", "hostname or IP address to probe")
	flags.StringVarP(&req.Ports, "ports", "p", "common", "port specification")
	flags.IntVarP(&req.Concurrency, "concurrency", "c", 0, "maximum simultaneous connection attempts")
	flags.DurationVar(&timeout, "timeout", 0, "per-attempt connect timeout")
	flags.IntVar(&req.MaxRetries, "max-retries", 0, "retries for a failed run")
	flags.DurationVar(&retryDelay, "retry-delay", 0, "delay between retries")
	flags.BoolVar(&req.Disabled, "disabled", false, "add the schedule without enabling it")
	_ = cmd.MarkFlagRequired("cron")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

// newScheduleActionCmd builds the commands that POST or DELETE a single
// schedule by name.
func newScheduleActionCmd(a *app, action, short, done string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " [name]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.apiClient(cmd)
			if err != nil {
				return err
			}

			endpoint := "/schedules/" + url.PathEscape(args[0])
			if action == "remove" {
				err = client.Delete(cmd.Context(), endpoint)
			} else {
				err = client.Post(cmd.Context(), endpoint+"/"+action, nil, nil)
			}
			if err != nil {
				return describeAPIError(err, action+" schedule")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s schedule %s\n", done, args[0])
			return nil
		},
	}
}

func displaySchedulesTable(w io.Writer, jobs []scheduler.JobInfo) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No schedules configured.")
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("NAME", "CRON", "TARGET", "PORTS", "ENABLED", "RUNS", "LAST RUN", "NEXT RUN", "LAST OPEN")
	for _, j := range jobs {
		enabled := strconv.FormatBool(j.Enabled)
		if j.Running {
			enabled += " (running)"
		}
		lastOpen := formatOpenPorts(j.LastOpen)
		if j.LastError != "" {
			lastOpen = "error: " + truncate(j.LastError, maxTargetDisplay)
		}
		_ = table.Append([]string{
			j.Name,
			j.Cron,
			truncate(j.Target, maxTargetDisplay),
			j.Ports,
			enabled,
			strconv.Itoa(j.Runs),
			formatTime(j.LastRun),
			formatTime(j.NextRun),
			lastOpen,
		})
	}
	_ = table.Render()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
