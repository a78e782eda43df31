package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"tacit.fyi/brandpulse/internal/ai"
	"tacit.fyi/brandpulse/internal/cli"
	"tacit.fyi/brandpulse/internal/config"
	"tacit.fyi/brandpulse/internal/db"
	"tacit.fyi/brandpulse/internal/logging"
)

// bootstrap is the shared startup state every command needs: loaded config, a
// logger, and a connected pool.
type bootstrap struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *db.Pool
}

// newBootstrap loads env + config, builds the logger, and connects the pool.
// On failure it prints to stderr and returns a non-zero exit code.
func newBootstrap(envLoader *cli.EnvLoader) (*bootstrap, int) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, 1
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	pool, err := db.NewPool(dbCtx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return nil, 1
	}

	return &bootstrap{cfg: cfg, logger: logger, pool: pool}, 0
}

func (b *bootstrap) Close() {
	if b != nil && b.pool != nil {
		b.pool.Close()
	}
}

func (b *bootstrap) aiClient() *ai.Client {
	return ai.NewClient(ai.ClientOptions{
		SummarizerEndpoint: b.cfg.SummarizerEndpoint,
		EmbeddingEndpoint:  b.cfg.EmbeddingEndpoint,
		EmbeddingModel:     b.cfg.EmbeddingModel,
		ArbiterEndpoint:    b.cfg.ArbiterEndpoint,
		NarratorEndpoint:   b.cfg.NarratorEndpoint,
	})
}
