package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"BP_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"BP_DB_MAX_CONNS" default:"8"`

	HTTPPort int `envconfig:"BP_HTTP_PORT" default:"8070"`

	ClaimBatchSize     int `envconfig:"BP_CLAIM_BATCH_SIZE" default:"25"`
	ClaimLookbackHours int `envconfig:"BP_CLAIM_LOOKBACK_HOURS" default:"72"`
	StaleClaimMinutes  int `envconfig:"BP_STALE_CLAIM_MINUTES" default:"30"`
	MaxBatchesPerRun   int `envconfig:"BP_MAX_BATCHES_PER_RUN" default:"20"`
	RunLockTTLMinutes  int `envconfig:"BP_RUN_LOCK_TTL_MINUTES" default:"10"`

	SummarizeRetries        int `envconfig:"BP_SUMMARIZE_RETRIES" default:"3"`
	CanonicalizeConcurrency int `envconfig:"BP_CANONICALIZE_CONCURRENCY" default:"4"`

	GroupLockTTLMinutes int    `envconfig:"BP_GROUP_LOCK_TTL_MINUTES" default:"15"`
	PeriodType          string `envconfig:"BP_PERIOD_TYPE" default:"daily"`

	ViewTTLMinutes int `envconfig:"BP_VIEW_TTL_MINUTES" default:"30"`

	RulesConfigPath string `envconfig:"BP_RULES_CONFIG" default:""`

	SummarizerEndpoint string `envconfig:"BP_SUMMARIZER_ENDPOINT" default:"http://127.0.0.1:8851/summarize"`
	EmbeddingEndpoint  string `envconfig:"BP_EMBEDDING_ENDPOINT" default:"http://127.0.0.1:8844/embed"`
	EmbeddingModel     string `envconfig:"BP_EMBEDDING_MODEL" default:"Qwen3-Embedding-8B"`
	ArbiterEndpoint    string `envconfig:"BP_ARBITER_ENDPOINT" default:"http://127.0.0.1:8851/judge"`
	NarratorEndpoint   string `envconfig:"BP_NARRATOR_ENDPOINT" default:"http://127.0.0.1:8851/narrate"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("BP_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("BP_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("BP_DB_MIN_CONNS (%d) cannot exceed BP_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.ClaimBatchSize < 1 {
		return fmt.Errorf("BP_CLAIM_BATCH_SIZE must be >= 1")
	}
	if c.ClaimLookbackHours < 1 {
		return fmt.Errorf("BP_CLAIM_LOOKBACK_HOURS must be >= 1")
	}
	if c.StaleClaimMinutes < 1 {
		return fmt.Errorf("BP_STALE_CLAIM_MINUTES must be >= 1")
	}
	if c.MaxBatchesPerRun < 1 {
		return fmt.Errorf("BP_MAX_BATCHES_PER_RUN must be >= 1")
	}
	if c.GroupLockTTLMinutes < 1 {
		return fmt.Errorf("BP_GROUP_LOCK_TTL_MINUTES must be >= 1")
	}
	if c.ViewTTLMinutes < 1 {
		return fmt.Errorf("BP_VIEW_TTL_MINUTES must be >= 1")
	}
	switch strings.ToLower(strings.TrimSpace(c.PeriodType)) {
	case "daily", "weekly":
	default:
		return fmt.Errorf("BP_PERIOD_TYPE must be daily or weekly, got %q", c.PeriodType)
	}
	return nil
}
