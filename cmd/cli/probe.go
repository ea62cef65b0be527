package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/portprobe/internal/config"
	"github.com/anstrom/portprobe/internal/db"
	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/metrics"
	"github.com/anstrom/portprobe/internal/ports"
	"github.com/anstrom/portprobe/internal/probe"
	"github.com/anstrom/portprobe/internal/resolve"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

type probeOptions struct {
	target      string
	ports       string
	start       int
	end         int
	diagnostics bool
	output      string
	save        bool
}

func newProbeCmd(a *app) *cobra.Command {
	opts := &probeOptions{}

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Scan a target for open TCP ports",
		Long: `Probe one target with TCP connect attempts and report which ports
accepted a connection. Ports are given either as a specification string
(--ports) or as an inclusive range (--start/--end). Interrupting the probe
prints the partial result.`,
		Example: `  portprobe probe --target scanme.nmap.org --ports common
  portprobe probe --target 10.0.0.5 --start 1 --end 1024 --concurrency 500
  portprobe probe --target 10.0.0.5 --ports 22,80,443,8000-8100 --diagnostics
  portprobe probe --target db.internal --ports 5432 --proxy socks5://127.0.0.1:1080
  portprobe probe --target 10.0.0.5 --ports top-100 --output json --save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, a, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.target, "target", "t", "", "hostname or IP address to probe")
	flags.StringVarP(&opts.ports, "ports", "p", "", "port specification: '80,443', '1-1024', 'common', 'top-100' or 'all'")
	flags.IntVar(&opts.start, "start", 0, "first port of an inclusive range")
	flags.IntVar(&opts.end, "end", 0, "last port of an inclusive range")
	flags.IntP("concurrency", "c", 0, "maximum simultaneous connection attempts (default from config)")
	flags.Duration("timeout", 0, "per-attempt connect timeout (default from config)")
	flags.String("proxy", "", "SOCKS5 proxy URL, e.g. socks5://127.0.0.1:1080")
	flags.String("dns", "", "DNS server used to resolve the target, e.g. 1.1.1.1:53")
	flags.BoolVar(&opts.diagnostics, "diagnostics", false, "include every port's outcome, not just open ports")
	flags.StringVarP(&opts.output, "output", "o", outputTable, "output format: table or json")
	flags.BoolVar(&opts.save, "save", false, "store the report in the configured database")

	_ = cmd.MarkFlagRequired("target")
	cmd.MarkFlagsMutuallyExclusive("ports", "start")
	cmd.MarkFlagsMutuallyExclusive("ports", "end")
	cmd.MarkFlagsRequiredTogether("start", "end")

	return cmd
}

// portSpec builds the requested port specification. Without --ports or a
// range the common ports are probed.
func (o *probeOptions) portSpec() (ports.Spec, error) {
	if o.ports != "" {
		return ports.Parse(o.ports)
	}
	if o.start != 0 || o.end != 0 {
		spec := ports.Range(o.start, o.end)
		if err := spec.Validate(); err != nil {
			return ports.Spec{}, err
		}
		return spec, nil
	}
	return ports.List(ports.Common...), nil
}

func validateOutput(format string) error {
	switch format {
	case outputTable, outputJSON:
		return nil
	default:
		return fmt.Errorf("invalid output format %q (valid: table, json)", format)
	}
}

func runProbe(cmd *cobra.Command, a *app, opts *probeOptions) error {
	if err := validateOutput(opts.output); err != nil {
		return err
	}

	cfg, err := a.loadConfig(cmd, map[string]string{
		"probe.concurrency": "concurrency",
		"probe.timeout":     "timeout",
		"probe.proxy":       "proxy",
		"probe.dns_server":  "dns",
	})
	if err != nil {
		return err
	}

	spec, err := opts.portSpec()
	if err != nil {
		return err
	}

	engine, err := newEngine(cfg, a.log(), metrics.Nop{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, probeErr := engine.Probe(ctx, probe.Request{
		Target:      opts.target,
		Ports:       spec,
		Concurrency: cfg.Probe.Concurrency,
		Timeout:     cfg.Probe.Timeout,
	})
	if report == nil {
		return probeErr
	}

	if opts.save {
		saveErr := withDatabase(cmd.Context(), cfg, a.log(), func(ctx context.Context, database *db.DB) error {
			return db.NewReportRepository(database).Save(ctx, report)
		})
		if saveErr != nil {
			a.log().Error("Failed to save report", "scan_id", report.ID, "error", saveErr)
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: report not saved: %v\n", saveErr)
		}
	}

	if err := renderReport(cmd.OutOrStdout(), report, opts.output, opts.diagnostics); err != nil {
		return err
	}
	// A cancelled probe still printed its partial report above.
	return probeErr
}

// newEngine builds a probe engine from the probe section of cfg.
func newEngine(cfg *config.Config, logger *logging.Logger, recorder metrics.Recorder) (*probe.Engine, error) {
	opts := []probe.Option{
		probe.WithLogger(logger),
		probe.WithRecorder(recorder),
		probe.WithDefaults(cfg.Probe.Concurrency, cfg.Probe.Timeout),
	}

	if cfg.Probe.Proxy != "" {
		dialer, err := probe.NewProxyDialer(cfg.Probe.Proxy, cfg.Probe.Timeout)
		if err != nil {
			return nil, errors.WrapConfigError(errors.CodeConfiguration, "invalid probe proxy", err)
		}
		opts = append(opts, probe.WithDialer(dialer))
	}

	if cfg.Probe.DNSServer != "" {
		opts = append(opts, probe.WithResolver(resolve.NewDNS(cfg.Probe.DNSServer, cfg.Probe.Timeout)))
	}

	return probe.New(opts...), nil
}

// renderReport writes the report as a table or JSON. Outcomes other than
// open ports are only shown with diagnostics.
func renderReport(w io.Writer, report *probe.Report, format string, diagnostics bool) error {
	out := *report
	if !diagnostics {
		out.Outcomes = nil
	}

	if format == outputJSON {
		return writeJSON(w, &out)
	}

	fmt.Fprintf(w, "Target:   %s", out.Target)
	if out.Address != "" && out.Address != out.Target {
		fmt.Fprintf(w, " (%s)", out.Address)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Ports:    %s (%s)\n", out.Ports, out.Mode)
	fmt.Fprintf(w, "Duration: %s\n", out.Duration.Round(time.Millisecond))
	fmt.Fprintln(w)

	if diagnostics {
		displayOutcomesTable(w, out.Outcomes)
	} else if len(out.Open) == 0 {
		fmt.Fprintln(w, "No open ports found.")
	} else {
		table := tablewriter.NewWriter(w)
		table.Header("PORT", "STATE")
		for _, port := range out.Open {
			_ = table.Append([]string{strconv.Itoa(port), probe.StatusOpen.String()})
		}
		_ = table.Render()
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d open, %d closed, %d timed out, %d errors\n",
		out.Summary.Open, out.Summary.Closed, out.Summary.TimedOut, out.Summary.Errors)
	if out.Cancelled {
		fmt.Fprintf(w, "Probe cancelled after %d of %d ports.\n", out.Summary.Total(), out.Summary.Total()+pending(report))
	}
	return nil
}

// pending is how many requested ports have no outcome.
func pending(report *probe.Report) int {
	spec, err := ports.Parse(report.Ports)
	if err != nil {
		return 0
	}
	if n := spec.Len() - report.Summary.Total(); n > 0 {
		return n
	}
	return 0
}

func displayOutcomesTable(w io.Writer, outcomes []probe.Outcome) {
	table := tablewriter.NewWriter(w)
	table.Header("PORT", "STATUS", "DURATION", "REASON")
	for _, o := range outcomes {
		_ = table.Append([]string{
			strconv.Itoa(o.Port),
			o.Status.String(),
			o.Duration.Round(time.Microsecond).String(),
			o.Reason(),
		})
	}
	_ = table.Render()
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
