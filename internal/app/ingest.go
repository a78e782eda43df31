package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"tacit.fyi/brandpulse/internal/cli"
	"tacit.fyi/brandpulse/internal/db"
	"tacit.fyi/brandpulse/internal/fetch"
	payloadschema "tacit.fyi/brandpulse/schema"
)

// runIngest validates one raw payload and enqueues it for a company.
func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	company := fs.String("company", "", "Company slug the item belongs to")
	sourceType := fs.String("source-type", db.SourceTypeReview, "Source type: review, social, or owned")
	origin := fs.String("origin", db.OriginUserGenerated, "Origin: user_generated or company_generated")
	payload := fs.String("payload", "", "Raw item payload as inline JSON")
	payloadFile := fs.String("payload-file", "", "Path to a file holding the payload JSON")
	fetchBody := fs.Bool("fetch", false, "Fetch the payload URL to fill a missing body_text")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if strings.TrimSpace(*company) == "" {
		fmt.Fprintln(os.Stderr, "ingest requires -company")
		return 2
	}
	if !validSourceType(*sourceType) {
		fmt.Fprintf(os.Stderr, "invalid source type: %s\n", *sourceType)
		return 2
	}
	if *origin != db.OriginUserGenerated && *origin != db.OriginCompanyGenerated {
		fmt.Fprintf(os.Stderr, "invalid origin: %s\n", *origin)
		return 2
	}

	raw, err := readPayload(*payload, *payloadFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read payload: %v\n", err)
		return 2
	}

	boot, code := newBootstrap(envLoader)
	if code != 0 {
		return code
	}
	defer boot.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *fetchBody {
		filled, err := fillBodyFromURL(ctx, raw)
		if err != nil {
			boot.logger.Warn().Err(err).Msg("body fetch failed, ingesting payload as-is")
		} else {
			raw = filled
		}
	}

	content, err := payloadschema.ValidateRawContent(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Payload rejected: %v\n", err)
		return 2
	}

	var companyID int64
	err = boot.pool.QueryRow(ctx,
		`SELECT company_id FROM pulse.companies WHERE slug = $1`,
		strings.TrimSpace(*company),
	).Scan(&companyID)
	if db.IsNoRows(err) {
		fmt.Fprintf(os.Stderr, "Unknown company: %s\n", *company)
		return 1
	}
	if err != nil {
		boot.logger.Error().Err(err).Msg("company lookup failed")
		fmt.Fprintf(os.Stderr, "Company lookup failed: %v\n", err)
		return 1
	}

	var rawItemID int64
	err = boot.pool.QueryRow(ctx, `
		INSERT INTO pulse.raw_items (company_id, source_type, origin, status, posted_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING raw_item_id`,
		companyID, *sourceType, *origin, db.RawItemStatusNew, content.ParsePostedAt(), raw,
	).Scan(&rawItemID)
	if err != nil {
		boot.logger.Error().Err(err).Msg("raw item insert failed")
		fmt.Fprintf(os.Stderr, "Insert failed: %v\n", err)
		return 1
	}

	boot.logger.Info().
		Int64("raw_item_id", rawItemID).
		Int64("company_id", companyID).
		Str("source_type", *sourceType).
		Msg("raw item ingested")

	fmt.Printf("ingested raw item %d for company %s\n", rawItemID, *company)
	return 0
}

func validSourceType(st string) bool {
	switch st {
	case db.SourceTypeReview, db.SourceTypeSocial, db.SourceTypeOwned:
		return true
	}
	return false
}

// fillBodyFromURL fetches the payload's URL and sets body_text when the
// payload carries a URL but no body. Anything else passes through untouched.
func fillBodyFromURL(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var content payloadschema.RawContent
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if content.URL == nil || strings.TrimSpace(*content.URL) == "" {
		return raw, nil
	}
	if content.BodyText != nil && strings.TrimSpace(*content.BodyText) != "" {
		return raw, nil
	}

	text, err := fetch.NewHTTPFetcher(fetch.Options{}).FetchContent(ctx, *content.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", *content.URL, err)
	}

	content.BodyText = &text
	filled, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("re-encode payload: %w", err)
	}
	return filled, nil
}

func readPayload(inline, file string) (json.RawMessage, error) {
	switch {
	case inline != "" && file != "":
		return nil, fmt.Errorf("use either -payload or -payload-file, not both")
	case inline != "":
		return json.RawMessage(inline), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		return json.RawMessage(data), nil
	default:
		return nil, fmt.Errorf("one of -payload or -payload-file is required")
	}
}
