// mitto is the form-submission runtime. Without a subcommand it runs the
// orchestrator: fetch candidates, drive the worker pool, persist outcomes.
// The "worker" subcommand is the subprocess side, spawned by the
// orchestrator itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/mitto-dev/mitto/internal/common"
	"github.com/mitto-dev/mitto/internal/controller"
	"github.com/mitto-dev/mitto/internal/orchestrator"
	"github.com/mitto-dev/mitto/internal/storage/postgres"
	"github.com/mitto-dev/mitto/internal/worker"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "worker" {
		os.Exit(runWorker(os.Args[2:]))
	}
	os.Exit(runOrchestrator())
}

func runOrchestrator() int {
	configPath := flag.String("config", "", "Configuration file path (TOML)")
	showVersion := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("mitto version %s\n", common.GetFullVersion())
		return 0
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Failed to load configuration")
		return 1
	}
	logger := common.InitLogger(cfg)
	common.PrintBanner("Mitto")

	logger.Info().
		Str("environment", cfg.Environment).
		Int("workers", cfg.Orchestrator.Workers).
		Int64("targeting_id", cfg.Orchestrator.TargetingID).
		Bool("test_mode", cfg.Orchestrator.TestMode).
		Msg("Orchestrator configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := controller.LoadClientConfig(ctx, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load client config")
		return 1
	}

	db, err := postgres.Connect(cfg.Database)
	if err != nil {
		logger.Error().Err(err).Msg("Database connection failed")
		return 1
	}
	defer db.Close()

	submissions := postgres.NewSubmissionRepo(db, cfg.Tables.SubmissionsTable, logger)
	companies := postgres.NewCompanyRepo(db, cfg.Tables.CompanyTable, cfg.Tables.SubmissionsTable, logger)

	orch, err := orchestrator.New(cfg.Orchestrator, *configPath, submissions, companies, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Orchestrator wiring failed")
		return 1
	}
	if err := orch.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Orchestrator startup failed")
		return 1
	}
	defer func() {
		if err := orch.Shutdown(context.Background(), cfg.Orchestrator.ShutdownTimeout); err != nil {
			logger.Error().Err(err).Msg("Orchestrator shutdown failed")
		}
	}()

	runner, err := controller.NewRunner(client, companies, submissions, orch, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Campaign validation failed")
		return 1
	}

	totals, err := runner.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Run aborted")
		return 1
	}
	logger.Info().
		Str("stop_reason", totals.StopReason).
		Int("fetched", totals.Fetched).
		Int("dispatched", totals.Dispatched).
		Int("succeeded", totals.Succeeded).
		Int("failed", totals.Failed).
		Int("prohibited", totals.Prohibited).
		Int("skipped", totals.Skipped).
		Str("elapsed", orch.Elapsed().String()).
		Msg("Run complete")
	return 0
}

func runWorker(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	workerID := fs.Int("worker-id", -1, "Worker id assigned by the orchestrator")
	configPath := fs.String("config", "", "Configuration file path (TOML)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *workerID < 0 {
		if v := os.Getenv("FORM_SENDER_WORKER_ID"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*workerID = n
			}
		}
	}
	if *workerID < 0 {
		fmt.Fprintln(os.Stderr, "worker: --worker-id is required")
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker %d: config: %v\n", *workerID, err)
		return 1
	}
	// Stdout is the result channel; worker logs must stay off it.
	cfg.Logging.Output = []string{"file"}
	logger := common.InitLogger(cfg)

	w := worker.New(*workerID, cfg, logger)
	if err := w.Run(context.Background()); err != nil {
		logger.Error().Err(err).Int("worker_id", *workerID).Msg("Worker exited with error")
		return 1
	}
	return 0
}

func loadConfig(path string) (*common.Config, error) {
	if path == "" {
		if _, err := os.Stat("mitto.toml"); err == nil {
			path = "mitto.toml"
		}
	}
	return common.LoadConfig(path)
}
