package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"tacit.fyi/brandpulse/internal/cli"
	"tacit.fyi/brandpulse/internal/httpapi"
	"tacit.fyi/brandpulse/internal/queue"
	"tacit.fyi/brandpulse/internal/views"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "0.0.0.0", "Listen address")
	port := fs.Int("port", 0, "Listen port (default from config)")

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

	viewCache := views.NewCache(
		views.NewSnapshotStore(boot.pool),
		views.NewGenerator(boot.pool),
		time.Duration(boot.cfg.ViewTTLMinutes)*time.Minute,
		boot.logger,
	)

	listenPort := boot.cfg.HTTPPort
	if *port > 0 {
		listenPort = *port
	}

	srv := httpapi.NewServer(boot.pool, viewCache, queue.New(boot.pool, boot.logger), boot.logger, httpapi.Options{
		Host: *host,
		Port: listenPort,
	})

	if err := srv.Start(ctx); err != nil {
		boot.logger.Error().Err(err).Msg("server exited with error")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}
	return 0
}
