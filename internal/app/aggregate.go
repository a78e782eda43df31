package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"tacit.fyi/brandpulse/internal/aggregate"
	"tacit.fyi/brandpulse/internal/cli"
	"tacit.fyi/brandpulse/internal/rules"
)

func runAggregate(args []string) int {
	fs := flag.NewFlagSet("aggregate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")

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

	tickCtx, tickCancel := context.WithTimeout(ctx, *timeout)
	defer tickCancel()

	scheduler, err := buildScheduler(boot)
	if err != nil {
		boot.logger.Error().Err(err).Msg("failed to build aggregation scheduler")
		fmt.Fprintf(os.Stderr, "Aggregation setup failed: %v\n", err)
		return 1
	}

	result, err := scheduler.Tick(tickCtx)
	if err != nil {
		boot.logger.Error().Err(err).Msg("aggregation tick failed")
		fmt.Fprintf(os.Stderr, "Aggregation failed: %v\n", err)
		return 1
	}

	boot.logger.Info().
		Int("groups", result.Groups).
		Int("processed", result.Processed).
		Int("skipped", result.Skipped).
		Int("contended", result.Contended).
		Int("inserted", result.Inserted).
		Int("failed", result.Failed).
		Msg("aggregation tick complete")

	fmt.Printf("aggregated %d/%d groups, %d signals inserted\n", result.Processed, result.Groups, result.Inserted)
	return 0
}

// buildScheduler assembles the rules engine and group aggregation chain.
func buildScheduler(boot *bootstrap) (*aggregate.Scheduler, error) {
	rulesCfg, err := rules.LoadConfig(boot.cfg.RulesConfigPath)
	if err != nil {
		return nil, err
	}

	gate := rules.NewGate(rules.NewThrottleStore(boot.pool), rulesCfg, boot.logger)
	engine := rules.NewEngine(rules.DefaultTracks(rulesCfg), gate, rulesCfg, boot.logger)

	store := aggregate.NewStore(boot.pool)
	aggregator := aggregate.NewAggregator(store, engine, boot.aiClient(), boot.logger, aggregate.Options{
		PeriodType: boot.cfg.PeriodType,
		LockTTL:    time.Duration(boot.cfg.GroupLockTTLMinutes) * time.Minute,
	})

	return aggregate.NewScheduler(store, aggregator, boot.logger), nil
}
