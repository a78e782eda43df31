package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"tacit.fyi/brandpulse/internal/cli"
	"tacit.fyi/brandpulse/internal/vocab"
)

// runVocab prints the canonical vocabulary for inspection.
func runVocab(args []string) int {
	fs := flag.NewFlagSet("vocab", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	kindFlag := fs.String("kind", "all", "Which vocabulary to list: tag, theme, or all")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	var kinds []vocab.Kind
	switch *kindFlag {
	case "tag":
		kinds = []vocab.Kind{vocab.KindTag}
	case "theme":
		kinds = []vocab.Kind{vocab.KindTheme}
	case "all":
		kinds = []vocab.Kind{vocab.KindTag, vocab.KindTheme}
	default:
		fmt.Fprintf(os.Stderr, "invalid kind: %s\n", *kindFlag)
		return 2
	}

	boot, code := newBootstrap(envLoader)
	if code != 0 {
		return code
	}
	defer boot.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store := vocab.NewStore(boot.pool)
	for _, kind := range kinds {
		entries, err := store.List(ctx, kind)
		if err != nil {
			boot.logger.Error().Err(err).Str("kind", string(kind)).Msg("vocabulary list failed")
			fmt.Fprintf(os.Stderr, "Listing %ss failed: %v\n", kind, err)
			return 1
		}

		fmt.Printf("%ss (%d):\n", kind, len(entries))
		for _, entry := range entries {
			fmt.Printf("  %6d  %-30s  %s\n", entry.ID, entry.Slug, entry.Name)
		}
		fmt.Println()
	}
	return 0
}
