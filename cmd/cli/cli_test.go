package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portprobe/internal/config"
	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/ports"
	"github.com/anstrom/portprobe/internal/probe"
)

// executeCommand runs the CLI with args against a missing config file, so
// only defaults and PORTPROBE_* variables apply.
func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("PORTPROBE_LOGGING_OUTPUT", "discard")

	root := NewRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetIn(bytes.NewBufferString(stdin))
	root.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, args...))

	err := root.Execute()
	return out.String(), err
}

// listen starts a loopback listener that accepts and closes connections.
func listen(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

// closedPort returns a loopback port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestProbeOptions_portSpec(t *testing.T) {
	tests := []struct {
		name     string
		opts     probeOptions
		expected ports.Spec
		wantErr  bool
	}{
		{
			name:     "port list",
			opts:     probeOptions{ports: "80,443"},
			expected: ports.List(80, 443),
		},
		{
			name:     "keyword",
			opts:     probeOptions{ports: "common"},
			expected: ports.List(ports.Common...),
		},
		{
			name:     "start and end",
			opts:     probeOptions{start: 20, end: 25},
			expected: ports.Range(20, 25),
		},
		{
			name:     "nothing given probes common ports",
			opts:     probeOptions{},
			expected: ports.List(ports.Common...),
		},
		{
			name:    "reversed range",
			opts:    probeOptions{start: 100, end: 10},
			wantErr: true,
		},
		{
			name:    "port above 65535",
			opts:    probeOptions{start: 1, end: 70000},
			wantErr: true,
		},
		{
			name:    "invalid characters",
			opts:    probeOptions{ports: "80,abc"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := tt.opts.portSpec()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected.String(), spec.String())
			assert.Equal(t, tt.expected.IsRange(), spec.IsRange())
		})
	}
}

func TestValidateOutput(t *testing.T) {
	assert.NoError(t, validateOutput("table"))
	assert.NoError(t, validateOutput("json"))
	assert.Error(t, validateOutput("xml"))
	assert.Error(t, validateOutput(""))
}

func TestProbeCommand_JSON(t *testing.T) {
	open := listen(t)
	closed := closedPort(t)

	out, err := executeCommand(t, "", "probe",
		"--target", "127.0.0.1",
		"--ports", strconv.Itoa(open)+","+strconv.Itoa(closed),
		"--timeout", "2s",
		"--diagnostics",
		"--output", "json")
	require.NoError(t, err)

	var report probe.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "127.0.0.1", report.Target)
	assert.Equal(t, "list", report.Mode)
	assert.Equal(t, []int{open}, report.Open)
	assert.Equal(t, 1, report.Summary.Open)
	assert.Equal(t, 1, report.Summary.Closed)
	assert.Len(t, report.Outcomes, 2)
	assert.False(t, report.Cancelled)
}

func TestProbeCommand_Table(t *testing.T) {
	open := listen(t)

	out, err := executeCommand(t, "", "probe",
		"--target", "127.0.0.1",
		"--start", strconv.Itoa(open),
		"--end", strconv.Itoa(open))
	require.NoError(t, err)

	assert.Contains(t, out, "Target:   127.0.0.1")
	assert.Contains(t, out, "(range)")
	assert.Contains(t, out, strconv.Itoa(open))
	assert.Contains(t, out, "1 open, 0 closed, 0 timed out, 0 errors")
}

func TestProbeCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code errors.ErrorCode
	}{
		{
			name: "missing target",
			args: []string{"probe", "--ports", "80"},
		},
		{
			name: "ports and range together",
			args: []string{"probe", "--target", "127.0.0.1", "--ports", "80", "--start", "1", "--end", "2"},
		},
		{
			name: "start without end",
			args: []string{"probe", "--target", "127.0.0.1", "--start", "1"},
		},
		{
			name: "unknown output format",
			args: []string{"probe", "--target", "127.0.0.1", "--ports", "80", "--output", "xml"},
		},
		{
			name: "invalid target",
			args: []string{"probe", "--target", "not a host!", "--ports", "80"},
			code: errors.CodeTargetInvalid,
		},
		{
			name: "invalid port specification",
			args: []string{"probe", "--target", "127.0.0.1", "--ports", "0-10"},
			code: errors.CodePortSpecInvalid,
		},
		{
			name: "unsupported proxy scheme",
			args: []string{"probe", "--target", "127.0.0.1", "--ports", "80", "--proxy", "http://127.0.0.1:8080"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, "", tt.args...)
			require.Error(t, err)
			if tt.code != "" {
				assert.Equal(t, tt.code, errors.GetCode(err))
			}
		})
	}
}

func TestRenderReport(t *testing.T) {
	t.Run("no open ports", func(t *testing.T) {
		var buf bytes.Buffer
		report := &probe.Report{Target: "example.com", Ports: "22", Mode: "list", Open: []int{},
			Summary: probe.Summary{Closed: 1}}
		require.NoError(t, renderReport(&buf, report, outputTable, false))
		assert.Contains(t, buf.String(), "No open ports found.")
		assert.Contains(t, buf.String(), "0 open, 1 closed")
	})

	t.Run("cancelled", func(t *testing.T) {
		var buf bytes.Buffer
		report := &probe.Report{Target: "10.0.0.1", Ports: "1-5", Mode: "range", Open: []int{1},
			Summary: probe.Summary{Open: 1, Closed: 1}, Cancelled: true}
		require.NoError(t, renderReport(&buf, report, outputTable, false))
		assert.Contains(t, buf.String(), "Probe cancelled after 2 of 5 ports.")
	})

	t.Run("json strips outcomes without diagnostics", func(t *testing.T) {
		var buf bytes.Buffer
		report := &probe.Report{Target: "10.0.0.1", Ports: "80", Mode: "list", Open: []int{80},
			Outcomes: []probe.Outcome{{Port: 80, Status: probe.StatusOpen}},
			Summary:  probe.Summary{Open: 1}}
		require.NoError(t, renderReport(&buf, report, outputJSON, false))
		assert.NotContains(t, buf.String(), "outcomes")
		assert.Len(t, report.Outcomes, 1, "caller's report must not be modified")
	})

	t.Run("diagnostics table", func(t *testing.T) {
		var buf bytes.Buffer
		report := &probe.Report{Target: "10.0.0.1", Ports: "80,81", Mode: "list", Open: []int{80},
			Outcomes: []probe.Outcome{
				{Port: 80, Status: probe.StatusOpen, Duration: time.Millisecond},
				{Port: 81, Status: probe.StatusError, Err: assert.AnError},
			},
			Summary: probe.Summary{Open: 1, Errors: 1}}
		require.NoError(t, renderReport(&buf, report, outputTable, true))
		assert.Contains(t, buf.String(), "error")
		assert.Contains(t, buf.String(), assert.AnError.Error())
	})
}

func TestFormatOpenPorts(t *testing.T) {
	assert.Equal(t, "-", formatOpenPorts(nil))
	assert.Equal(t, "22,80", formatOpenPorts([]int{22, 80}))
	assert.Equal(t, "1,2,3,4,5,6,7,8 (+2)", formatOpenPorts([]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList("a, b c"))
	assert.Empty(t, splitList(" , "))
}

func TestApplyOverrides(t *testing.T) {
	t.Setenv("PORTPROBE_PROBE_CONCURRENCY", "42")
	t.Setenv("PORTPROBE_PROBE_TIMEOUT", "250ms")
	t.Setenv("PORTPROBE_API_API_KEYS", "key-one,key-two")
	t.Setenv("PORTPROBE_DATABASE_PASSWORD", "hunter2")
	t.Setenv("PORTPROBE_LOGGING_LEVEL", "warn")

	cfg := config.Default()
	applyOverrides(newViper(), cfg)

	assert.Equal(t, 42, cfg.Probe.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Probe.Timeout)
	assert.Equal(t, []string{"key-one", "key-two"}, cfg.API.APIKeys)
	assert.Equal(t, "hunter2", cfg.Database.Password)
	assert.Equal(t, logging.LevelWarn, cfg.Logging.Level)
	assert.Equal(t, config.Default().API.Port, cfg.API.Port, "unset keys keep their value")
}

func TestLoadConfig_Precedence(t *testing.T) {
	t.Setenv("PORTPROBE_LOGGING_OUTPUT", "discard")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("probe:\n  concurrency: 50\n"), 0o600))

	load := func(t *testing.T, args ...string) *config.Config {
		t.Helper()
		a := &app{cfgFile: path, v: newViper()}
		cmd := &cobra.Command{Use: "test"}
		cmd.Flags().Int("concurrency", 0, "")
		require.NoError(t, cmd.Flags().Parse(args))

		cfg, err := a.loadConfig(cmd, map[string]string{"probe.concurrency": "concurrency"})
		require.NoError(t, err)
		return cfg
	}

	t.Run("config file", func(t *testing.T) {
		assert.Equal(t, 50, load(t).Probe.Concurrency)
	})

	t.Run("environment beats file", func(t *testing.T) {
		t.Setenv("PORTPROBE_PROBE_CONCURRENCY", "60")
		assert.Equal(t, 60, load(t).Probe.Concurrency)
	})

	t.Run("flag beats environment", func(t *testing.T) {
		t.Setenv("PORTPROBE_PROBE_CONCURRENCY", "60")
		assert.Equal(t, 70, load(t, "--concurrency", "70").Probe.Concurrency)
	})
}

func TestLoadConfig_InvalidOverride(t *testing.T) {
	t.Setenv("PORTPROBE_LOGGING_OUTPUT", "discard")
	t.Setenv("PORTPROBE_API_PORT", "70000")

	a := &app{cfgFile: filepath.Join(t.TempDir(), "missing.yaml"), v: newViper()}
	_, err := a.loadConfig(&cobra.Command{Use: "test"}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestLoadConfig_Verbose(t *testing.T) {
	t.Setenv("PORTPROBE_LOGGING_OUTPUT", "discard")

	a := &app{cfgFile: filepath.Join(t.TempDir(), "missing.yaml"), v: newViper(), verbose: true}
	cfg, err := a.loadConfig(&cobra.Command{Use: "test"}, nil)
	require.NoError(t, err)
	assert.Equal(t, logging.LevelDebug, cfg.Logging.Level)
	assert.NotNil(t, a.logger)
}

func TestGetConfigFilePath(t *testing.T) {
	t.Run("flag", func(t *testing.T) {
		a := &app{cfgFile: "/etc/portprobe.yaml", v: newViper()}
		assert.Equal(t, "/etc/portprobe.yaml", a.getConfigFilePath())
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("PORTPROBE_CONFIG", "/opt/portprobe.yaml")
		a := &app{v: newViper()}
		assert.Equal(t, "/opt/portprobe.yaml", a.getConfigFilePath())
	})

	t.Run("default", func(t *testing.T) {
		t.Setenv("PORTPROBE_CONFIG", "")
		a := &app{v: newViper()}
		assert.Equal(t, "config.yaml", a.getConfigFilePath())
	})
}

func TestSetVersion(t *testing.T) {
	defer SetVersion("dev", "none", "unknown")
	SetVersion("1.4.0", "abc123", "2026-10-01")

	root := NewRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetArgs([]string{"--version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "1.4.0 (commit: abc123, built: 2026-10-01)")
}
