package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tacit.fyi/brandpulse/internal/aggregate"
	"tacit.fyi/brandpulse/internal/cli"
	"tacit.fyi/brandpulse/internal/queue"
)

// runDaemon loops recover → process → aggregate on a fixed interval until
// interrupted.
func runDaemon(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	interval := fs.Duration("interval", time.Minute, "Delay between pipeline ticks")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	boot, code := newBootstrap(envLoader)
	if code != 0 {
		return code
	}
	defer boot.Close()

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	q := queue.New(boot.pool, boot.logger)
	runner := buildRunner(boot, q)
	scheduler, err := buildScheduler(boot)
	if err != nil {
		boot.logger.Error().Err(err).Msg("failed to build aggregation scheduler")
		fmt.Fprintf(os.Stderr, "Daemon setup failed: %v\n", err)
		return 1
	}

	runOpts := queue.RunOptions{
		LookbackWindow: time.Duration(boot.cfg.ClaimLookbackHours) * time.Hour,
		BatchSize:      boot.cfg.ClaimBatchSize,
		MaxBatches:     boot.cfg.MaxBatchesPerRun,
		LockTTL:        time.Duration(boot.cfg.RunLockTTLMinutes) * time.Minute,
	}
	staleAfter := time.Duration(boot.cfg.StaleClaimMinutes) * time.Minute

	boot.logger.Info().Dur("interval", *interval).Msg("brandpulse daemon started")

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		pipelineTick(ctx, boot, q, runner, scheduler, runOpts, staleAfter)

		select {
		case <-ctx.Done():
			boot.logger.Info().Msg("brandpulse daemon stopping")
			return 0
		case <-ticker.C:
		}
	}
}

// pipelineTick runs one full pass. Stage failures are logged and do not stop
// the daemon; a later tick retries.
func pipelineTick(
	ctx context.Context,
	boot *bootstrap,
	q *queue.Queue,
	runner *queue.Runner,
	scheduler *aggregate.Scheduler,
	runOpts queue.RunOptions,
	staleAfter time.Duration,
) {
	if recovered, err := q.RecoverStuckProcessing(ctx, staleAfter); err != nil {
		if ctx.Err() != nil {
			return
		}
		boot.logger.Error().Err(err).Msg("stale claim recovery failed")
	} else if recovered > 0 {
		boot.logger.Info().Int64("recovered", recovered).Msg("recovered stuck claims")
	}

	if result, err := runner.Run(ctx, runOpts); err != nil {
		if ctx.Err() != nil {
			return
		}
		boot.logger.Error().Err(err).Msg("processing run failed")
	} else if result.Claimed > 0 {
		boot.logger.Info().
			Int("claimed", result.Claimed).
			Int("done", result.Done).
			Int("failed", result.Failed).
			Int("skipped", result.Skipped).
			Msg("processing run complete")
	}

	if result, err := scheduler.Tick(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		boot.logger.Error().Err(err).Msg("aggregation tick failed")
	} else if result.Processed > 0 {
		boot.logger.Info().
			Int("processed", result.Processed).
			Int("inserted", result.Inserted).
			Int("failed", result.Failed).
			Msg("aggregation tick complete")
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
