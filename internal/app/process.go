package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"tacit.fyi/brandpulse/internal/cli"
	"tacit.fyi/brandpulse/internal/processor"
	"tacit.fyi/brandpulse/internal/queue"
	"tacit.fyi/brandpulse/internal/vocab"
)

func runProcess(args []string) int {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 15*time.Minute, "Command timeout")
	batchSize := fs.Int("batch-size", 0, "Items per claimed batch (default from config)")
	maxBatches := fs.Int("max-batches", 0, "Batch budget for this run (default from config)")
	skipRecover := fs.Bool("skip-recover", false, "Skip the stale-claim recovery pass")

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

	runCtx, runCancel := context.WithTimeout(ctx, *timeout)
	defer runCancel()

	q := queue.New(boot.pool, boot.logger)

	if !*skipRecover {
		staleAfter := time.Duration(boot.cfg.StaleClaimMinutes) * time.Minute
		if _, err := q.RecoverStuckProcessing(runCtx, staleAfter); err != nil {
			boot.logger.Error().Err(err).Msg("stale claim recovery failed")
			fmt.Fprintf(os.Stderr, "Recovery failed: %v\n", err)
			return 1
		}
	}

	runner := buildRunner(boot, q)

	opts := queue.RunOptions{
		LookbackWindow: time.Duration(boot.cfg.ClaimLookbackHours) * time.Hour,
		BatchSize:      boot.cfg.ClaimBatchSize,
		MaxBatches:     boot.cfg.MaxBatchesPerRun,
		LockTTL:        time.Duration(boot.cfg.RunLockTTLMinutes) * time.Minute,
	}
	if *batchSize > 0 {
		opts.BatchSize = *batchSize
	}
	if *maxBatches > 0 {
		opts.MaxBatches = *maxBatches
	}

	result, err := runner.Run(runCtx, opts)
	if err != nil {
		boot.logger.Error().Err(err).Msg("processing run failed")
		fmt.Fprintf(os.Stderr, "Processing failed: %v\n", err)
		return 1
	}

	boot.logger.Info().
		Bool("lock_held", result.LockHeld).
		Int("batches", result.Batches).
		Int("claimed", result.Claimed).
		Int("done", result.Done).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Int("reverted", result.Reverted).
		Msg("processing run complete")

	fmt.Printf("processed %d items (%d done, %d failed, %d skipped) in %d batches\n",
		result.Claimed, result.Done, result.Failed, result.Skipped, result.Batches)
	return 0
}

// buildRunner assembles the claim → summarize → canonicalize chain.
func buildRunner(boot *bootstrap, q *queue.Queue) *queue.Runner {
	client := boot.aiClient()
	vocabStore := vocab.NewCachedStore(vocab.NewStore(boot.pool))
	canonicalizer := vocab.NewCanonicalizer(vocabStore, client, client, boot.logger)

	proc := processor.New(
		processor.NewStore(boot.pool),
		client,
		canonicalizer,
		boot.logger,
		processor.Options{
			Retries:          boot.cfg.SummarizeRetries,
			CanonConcurrency: boot.cfg.CanonicalizeConcurrency,
		},
	)

	return queue.NewRunner(q, proc, queue.NewLocker(boot.pool), boot.logger)
}
