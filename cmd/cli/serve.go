package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/portprobe/internal/api"
	"github.com/anstrom/portprobe/internal/config"
	"github.com/anstrom/portprobe/internal/db"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/metrics"
	"github.com/anstrom/portprobe/internal/probe"
	"github.com/anstrom/portprobe/internal/scheduler"
	"github.com/anstrom/portprobe/internal/workers"
)

const (
	databaseTimeout       = 10 * time.Second
	serverShutdownTimeout = 45 * time.Second
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and probe scheduler",
		Long: `Start the REST API server in the foreground. Configured schedules run on
their cron expressions, reports are stored when a database is configured and
Prometheus metrics are served on /metrics. SIGINT or SIGTERM shuts everything
down gracefully.`,
		Example: `  portprobe serve
  portprobe serve --config /etc/portprobe/config.yaml
  portprobe serve --listen 0.0.0.0 --port 9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd, map[string]string{
				"api.listen_addr": "listen",
				"api.port":        "port",
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, a.log(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().String("listen", "", "address to listen on (default from config)")
	cmd.Flags().Int("port", 0, "port to listen on (default from config)")
	return cmd
}

// services are the long-running parts of the server process.
type services struct {
	limiter   *probe.Limiter
	pool      *workers.Pool
	scheduler *scheduler.Scheduler
	database  *db.DB
	server    *api.Server
}

// runServer wires the server process together and blocks until ctx is done
// or the listener fails.
func runServer(ctx context.Context, cfg *config.Config, logger *logging.Logger, out io.Writer) error {
	svc, err := setupServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.close(logger)

	fmt.Fprintf(out, "Starting portprobe API server %s\n", getVersion())
	fmt.Fprintf(out, "Listening on %s\n", cfg.GetAPIAddress())
	fmt.Fprintf(out, "Health check: http://%s/api/v1/health\n", cfg.GetAPIAddress())
	if cfg.API.EnableDocs {
		fmt.Fprintf(out, "API documentation: http://%s/swagger/\n", cfg.GetAPIAddress())
	}

	logger.Info("Starting portprobe API server",
		"version", version,
		"commit", commit,
		"build_time", buildTime,
		"address", cfg.GetAPIAddress(),
		"database", svc.database != nil,
		"schedules", len(cfg.Schedules))

	return waitForShutdown(ctx, svc.server, logger, out)
}

// setupServices builds the engine, limiter, worker pool, scheduler, optional
// database and API server. On error everything already started is stopped.
func setupServices(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*services, error) {
	prom := metrics.GetGlobalMetrics()

	engine, err := newEngine(cfg, logger.WithComponent("probe"), prom)
	if err != nil {
		return nil, err
	}

	svc := &services{limiter: probe.NewLimiter(cfg.Probe.MaxConcurrentScans)}
	ready := false
	defer func() {
		if !ready {
			svc.close(logger)
		}
	}()

	serverOpts := []api.Option{
		api.WithLimiter(svc.limiter),
		api.WithMetrics(prom),
		api.WithLogger(logger),
	}
	schedOpts := []scheduler.Option{
		scheduler.WithLimiter(svc.limiter),
		scheduler.WithLogger(logger.WithComponent("scheduler")),
	}

	if cfg.DatabaseEnabled() {
		logger.InfoDatabase("Connecting to database...")
		dbCtx, cancel := context.WithTimeout(ctx, databaseTimeout)
		svc.database, err = db.ConnectAndMigrate(dbCtx, &cfg.Database)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}

		repo := db.NewReportRepository(svc.database)
		serverOpts = append(serverOpts, api.WithStore(repo), api.WithDatabase(svc.database))
		schedOpts = append(schedOpts, scheduler.WithStore(repo))
	} else {
		logger.Warn("No database configured; reports will not be stored")
	}

	poolConfig := workers.DefaultConfig()
	poolConfig.Size = cfg.Probe.MaxConcurrentScans
	svc.pool = workers.New(poolConfig, workers.WithRecorder(prom))
	svc.pool.Start()
	go logJobResults(svc.pool.Results(), logger.WithComponent("workers"))

	svc.scheduler = scheduler.NewScheduler(engine, svc.pool, schedOpts...)
	if err := svc.scheduler.Load(cfg.Schedules); err != nil {
		return nil, err
	}
	if err := svc.scheduler.Start(); err != nil {
		return nil, err
	}
	serverOpts = append(serverOpts, api.WithScheduler(svc.scheduler))

	svc.server, err = api.New(cfg, engine, serverOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create API server: %w", err)
	}
	ready = true
	return svc, nil
}

// close stops the scheduler before the pool it submits to, then releases
// the limiter and database.
func (s *services) close(logger *logging.Logger) {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.pool != nil {
		if err := s.pool.Shutdown(); err != nil {
			logger.Error("Worker pool shutdown error", "error", err)
		}
	}
	if s.limiter != nil {
		_ = s.limiter.Close()
	}
	if s.database != nil {
		if err := s.database.Close(); err != nil {
			logger.Error("Failed to close database connection", "error", err)
		}
	}
}

func logJobResults(results <-chan workers.Result, logger *logging.Logger) {
	for r := range results {
		if r.Error != nil {
			logger.Warn("Scheduled probe failed",
				"job_id", r.JobID,
				"retries", r.Retries,
				"duration", r.Duration,
				"error", r.Error)
			continue
		}
		logger.Debug("Scheduled probe finished", "job_id", r.JobID, "duration", r.Duration)
	}
}

// waitForShutdown runs the server until ctx is cancelled by a signal, then
// shuts it down gracefully.
func waitForShutdown(ctx context.Context, apiServer *api.Server, logger *logging.Logger, out io.Writer) error {
	serverCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- apiServer.Start(serverCtx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
		fmt.Fprintln(out, "\nShutting down gracefully...")

	case err := <-serverErrChan:
		if err != nil {
			logger.Error("API server error", "error", err)
			return fmt.Errorf("API server error: %w", err)
		}
		return nil
	}

	// Cancelling serverCtx makes Start stop the server and return.
	cancel()

	select {
	case err := <-serverErrChan:
		if err != nil {
			logger.Error("Server shutdown error", "error", err)
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		fmt.Fprintln(out, "Server stopped successfully")

	case <-time.After(serverShutdownTimeout):
		logger.Warn("Shutdown timeout exceeded, forcing stop")
		fmt.Fprintln(out, "Shutdown timeout exceeded, server may not have stopped cleanly")
		return fmt.Errorf("shutdown timeout exceeded")
	}

	return nil
}
