package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"tacit.fyi/brandpulse/internal/cli"
	"tacit.fyi/brandpulse/internal/queue"
)

func runRecover(args []string) int {
	fs := flag.NewFlagSet("recover", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	staleMinutes := fs.Int("stale-minutes", 0, "Claim age before recovery (default from config)")

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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	staleAfter := time.Duration(boot.cfg.StaleClaimMinutes) * time.Minute
	if *staleMinutes > 0 {
		staleAfter = time.Duration(*staleMinutes) * time.Minute
	}

	recovered, err := queue.New(boot.pool, boot.logger).RecoverStuckProcessing(ctx, staleAfter)
	if err != nil {
		boot.logger.Error().Err(err).Msg("claim recovery failed")
		fmt.Fprintf(os.Stderr, "Recovery failed: %v\n", err)
		return 1
	}

	fmt.Printf("recovered %d stuck items\n", recovered)
	return 0
}
