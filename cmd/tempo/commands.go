package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/tempo/internal/app"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/models"
	"github.com/ternarybob/tempo/internal/queue"
	"github.com/ternarybob/tempo/internal/server"
	"github.com/ternarybob/tempo/internal/workers"
)

func openApp(ctx context.Context, opts ...app.Option) (*app.App, error) {
	application, err := app.New(ctx, config, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	return application, nil
}

// printJSON writes a command result to stdout
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runMigrate(ctx context.Context) error {
	application, err := openApp(ctx, app.WithoutQueues())
	if err != nil {
		return err
	}
	defer application.Close()

	if err := application.StorageManager.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info().Str("storage", config.Storage.Type).Msg("Schema is up to date")
	return nil
}

func runSeedMetros(ctx context.Context, args []string) error {
	path := config.Metros.SeedFile
	if len(args) > 0 {
		path = args[0]
	}

	application, err := openApp(ctx, app.WithoutQueues())
	if err != nil {
		return err
	}
	defer application.Close()

	n, err := application.MetroService.Seed(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to seed metros from %s: %w", path, err)
	}
	fmt.Printf("Seeded %d metros from %s\n", n, path)
	return nil
}

func runDiscover(ctx context.Context) error {
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	stats, err := application.Discover(ctx)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runRecover(ctx context.Context) error {
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	stats, err := application.Orchestrator.RecoverRecent(ctx)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runRetrieve(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("retrieve requires at least one task id")
	}

	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	stats, err := application.Orchestrator.RetrieveKnown(ctx, args)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runFetch(ctx context.Context) error {
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	if n, err := queue.Recover(ctx, application.Queues.URLs); err != nil {
		logger.Warn().Err(err).Msg("Failed to recover in-flight URL packages")
	} else if n > 0 {
		logger.Info().Int("requeued", n).Msg("Recovered in-flight URL packages")
	}

	worker, closeBrowser, err := application.FetchWorker()
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer closeBrowser()

	return runStage(ctx, application, "fetch", config.Fetch.Concurrency, application.QueueIdleSleep(), worker.Step)
}

func runParse(ctx context.Context) error {
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	if n, err := queue.Recover(ctx, application.Queues.Blobs); err != nil {
		logger.Warn().Err(err).Msg("Failed to recover in-flight blob packages")
	} else if n > 0 {
		logger.Info().Int("requeued", n).Msg("Recovered in-flight blob packages")
	}

	worker, err := application.ParseWorker()
	if err != nil {
		return err
	}
	err = runStage(ctx, application, "parse", config.Parse.Concurrency, application.QueueIdleSleep(), worker.Step)

	s := worker.Stats()
	logger.Info().
		Int64("processed", s.Processed).
		Int64("inserted", s.Inserted).
		Int64("duplicates", s.Duplicates).
		Int64("skipped", s.Skipped).
		Int64("failed", s.Failed).
		Msg("Parse worker finished")
	return err
}

func runNormalize(ctx context.Context) error {
	application, err := openApp(ctx, app.WithoutQueues())
	if err != nil {
		return err
	}
	defer application.Close()

	return runStage(ctx, application, "normalize", config.Normalize.Concurrency, application.BatchIdleSleep(), application.NormalizeStep())
}

func runEnrich(ctx context.Context) error {
	application, err := openApp(ctx, app.WithoutQueues())
	if err != nil {
		return err
	}
	defer application.Close()

	step, err := application.EnrichStep()
	if err != nil {
		return err
	}
	return runStage(ctx, application, "enrich", 1, application.BatchIdleSleep(), step)
}

// runStage drains once with -once, otherwise polls until the signal context is cancelled
func runStage(ctx context.Context, application *app.App, name string, concurrency int, idle time.Duration, step workers.Step) error {
	if *once {
		n, err := workers.Drain(ctx, step)
		logger.Info().Str("worker", name).Int("steps", n).Msg("Drained available work")
		return err
	}

	stopServer := startServer(application)
	defer stopServer()

	workers.NewLoop(name, concurrency, idle, step, logger).Run(ctx)
	return nil
}

func runSchedule(ctx context.Context) error {
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	if err := application.RegisterJobs(); err != nil {
		return fmt.Errorf("failed to register jobs: %w", err)
	}
	if err := application.SchedulerService.Start(); err != nil {
		return err
	}

	stopServer := startServer(application)
	defer stopServer()

	logger.Info().Msg("Scheduler running - Press Ctrl+C to stop")
	<-ctx.Done()
	logger.Info().Msg("Interrupt signal received")

	application.SchedulerService.Stop()
	return nil
}

func runRequeue(ctx context.Context, args []string) error {
	status := models.StatusError
	if len(args) > 0 {
		status = models.NormalizationStatus(strings.ToLower(args[0]))
	}

	application, err := openApp(ctx, app.WithoutQueues())
	if err != nil {
		return err
	}
	defer application.Close()

	n, err := application.Normalizer.RequeueErrors(ctx, status)
	if err != nil {
		return err
	}
	fmt.Printf("Requeued %d raw records with status %s\n", n, status)
	return nil
}

func runUsage(ctx context.Context) error {
	application, err := openApp(ctx, app.WithoutQueues())
	if err != nil {
		return err
	}
	defer application.Close()

	stats, err := application.VenueResolver.UsageStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read usage: %w", err)
	}
	return printJSON(stats)
}

// startServer starts the status server when enabled and returns its shutdown func
func startServer(application *app.App) func() {
	if !config.Server.Enabled {
		return func() {}
	}

	srv := server.New(application)
	var wg sync.WaitGroup
	wg.Add(1)
	common.SafeGo(logger, "status-server", func() {
		defer wg.Done()
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("Status server failed")
		}
	})

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Status server shutdown failed")
		}
		wg.Wait()
	}
}
