package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portprobe/internal/config"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/scheduler"
)

func testServerConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.API.ListenAddr = "127.0.0.1"
	cfg.API.Port = closedPort(t)
	cfg.Schedules = []config.ScheduleConfig{{
		Name:   "loopback",
		Cron:   "0 0 1 1 *",
		Target: "127.0.0.1",
		Ports:  "22",
	}}
	return cfg
}

func TestRunServer(t *testing.T) {
	cfg := testServerConfig(t)
	logger := logging.NewWithWriter(logging.DefaultConfig(), io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &bytes.Buffer{}
	done := make(chan error, 1)
	go func() {
		done <- runServer(ctx, cfg, logger, out)
	}()

	base := fmt.Sprintf("http://%s", cfg.GetAPIAddress())
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/v1/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	var jobs []scheduler.JobInfo
	require.NoError(t, NewAPIClient(base, "").Get(ctx, "/schedules", &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "loopback", jobs[0].Name)
	assert.True(t, jobs[0].Enabled)
	assert.False(t, jobs[0].NextRun.IsZero())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}

	assert.Contains(t, out.String(), "Listening on "+cfg.GetAPIAddress())
	assert.Contains(t, out.String(), "Server stopped successfully")
}

func TestRunServer_InvalidSchedule(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.Schedules[0].Cron = "not a cron"
	logger := logging.NewWithWriter(logging.DefaultConfig(), io.Discard)

	err := runServer(context.Background(), cfg, logger, io.Discard)
	assert.Error(t, err)
}

func TestRunServer_DatabaseUnavailable(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.Database.Host = "127.0.0.1"
	cfg.Database.Port = closedPort(t)
	cfg.Database.Database = "portprobe"
	cfg.Database.Username = "portprobe"
	logger := logging.NewWithWriter(logging.DefaultConfig(), io.Discard)

	err := runServer(context.Background(), cfg, logger, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database connection failed")
}
