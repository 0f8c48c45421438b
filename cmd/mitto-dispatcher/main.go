// mitto-dispatcher is the HTTP control plane: it validates dispatch
// requests, launches cloud-batch orchestrator jobs, and reconciles their
// lifecycles back onto job_executions rows.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mitto-dev/mitto/internal/cloudjobs"
	"github.com/mitto-dev/mitto/internal/common"
	"github.com/mitto-dev/mitto/internal/dispatcher"
	"github.com/mitto-dev/mitto/internal/models"
	"github.com/mitto-dev/mitto/internal/monitor"
	"github.com/mitto-dev/mitto/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "Configuration file path (TOML)")
	showVersion := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("mitto-dispatcher version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	if *configPath == "" {
		if _, err := os.Stat("mitto-dispatcher.toml"); err == nil {
			*configPath = "mitto-dispatcher.toml"
		}
	}
	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	logger := common.InitLogger(cfg)
	common.PrintBanner("Mitto Dispatcher")

	db, err := postgres.Connect(cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("Database connection failed")
		os.Exit(1)
	}
	defer db.Close()

	executions := postgres.NewExecutionRepo(db, logger)

	signer, err := dispatcher.NewSigner(cfg.SignedURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Signed URL signer setup failed")
		os.Exit(1)
	}

	jobs := cloudjobs.NewRESTClient(cfg.CloudJobs, logger)
	registry := monitor.NewRegistry(jobs, executions,
		time.Duration(cfg.Monitor.IntervalSeconds)*time.Second,
		time.Duration(cfg.Monitor.TimeoutSeconds)*time.Second,
		logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resumeMonitors(ctx, executions, registry, logger)

	handlers := dispatcher.NewHandlers(executions, jobs, signer, registry, cfg.CloudJobs.JobName, ctx, logger)
	srv := dispatcher.NewServer(cfg, handlers, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Interrupt received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("Server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}
	registry.Stop()
	logger.Info().Msg("Dispatcher stopped")
}

// resumeMonitors restarts lifecycle monitors for executions that were still
// running when the previous dispatcher instance stopped.
func resumeMonitors(ctx context.Context, executions *postgres.ExecutionRepo, registry *monitor.Registry, logger arbor.ILogger) {
	rows, err := executions.List(ctx, models.ExecutionStatusRunning, 0, 200)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to list running executions for monitor resume")
		return
	}
	for _, row := range rows {
		name := executionNameOf(row.Metadata)
		if name == "" {
			logger.Warn().Str("execution_id", row.ExecutionID).Msg("Running execution has no job name, skipping monitor resume")
			continue
		}
		registry.Watch(ctx, row.ExecutionID, name)
	}
	if len(rows) > 0 {
		logger.Info().Int("resumed", registry.Active()).Msg("Execution monitors resumed")
	}
}

func executionNameOf(metadata map[string]any) string {
	batch, _ := metadata["batch"].(map[string]any)
	name, _ := batch["job_name"].(string)
	return name
}
