package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"tacit.fyi/brandpulse/internal/cli"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Second, "Command timeout")

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

	var one int
	if err := boot.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		boot.logger.Error().Err(err).Msg("health check query failed")
		fmt.Fprintf(os.Stderr, "Database check failed: %v\n", err)
		return 1
	}

	fmt.Println("ok")
	return 0
}
