package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed raw_item.schema.json
var rawItemSchemaJSON string

// RawContent is the validated shape of a scraped raw item payload.
type RawContent struct {
	PayloadVersion string         `json:"payload_version"`
	Source         string         `json:"source"`
	SourceItemID   string         `json:"source_item_id"`
	Title          string         `json:"title"`
	BodyText       *string        `json:"body_text,omitempty"`
	URL            *string        `json:"url,omitempty"`
	Rating         *float64       `json:"rating,omitempty"`
	Author         *string        `json:"author,omitempty"`
	Language       *string        `json:"language,omitempty"`
	PostedAt       *string        `json:"posted_at,omitempty"`
	SourceMetadata map[string]any `json:"source_metadata,omitempty"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateRawContent checks a raw item payload against the v1 schema and
// returns the decoded content. Empty or malformed payloads are permanent
// failures for the caller, never retried.
func ValidateRawContent(payload json.RawMessage) (*RawContent, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var content RawContent
	if err := json.Unmarshal(normalized, &content); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&content); err != nil {
		return nil, err
	}

	return &content, nil
}

// Text returns the material to summarize: title plus body when present.
func (c *RawContent) Text() string {
	title := strings.TrimSpace(c.Title)
	var body string
	if c.BodyText != nil {
		body = strings.TrimSpace(*c.BodyText)
	}
	switch {
	case title == "" && body == "":
		return ""
	case body == "":
		return title
	case title == "":
		return body
	default:
		return title + "\n\n" + body
	}
}

// ParsePostedAt returns the payload's posted_at timestamp in UTC when present
// and well-formed.
func (c *RawContent) ParsePostedAt() *time.Time {
	if c == nil || c.PostedAt == nil {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(*c.PostedAt))
	if err != nil {
		return nil
	}
	utc := ts.UTC()
	return &utc
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("raw_item.schema.json", strings.NewReader(rawItemSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("raw_item.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(payload json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := ensureEOF(decoder); err != nil {
		return nil, err
	}
	return value, nil
}

func ensureEOF(decoder *json.Decoder) error {
	if _, err := decoder.Token(); err != io.EOF {
		if err == nil {
			return fmt.Errorf("payload has trailing JSON content")
		}
		return err
	}
	return nil
}

func validateSemantics(content *RawContent) error {
	if content == nil {
		return fmt.Errorf("payload is nil")
	}
	if strings.TrimSpace(content.Title) == "" && (content.BodyText == nil || strings.TrimSpace(*content.BodyText) == "") {
		return fmt.Errorf("payload has neither title nor body_text")
	}
	if content.URL != nil && strings.TrimSpace(*content.URL) != "" {
		parsed, err := url.Parse(strings.TrimSpace(*content.URL))
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("payload url %q is not an absolute URL", *content.URL)
		}
	}
	if content.PostedAt != nil && strings.TrimSpace(*content.PostedAt) != "" {
		if _, err := time.Parse(time.RFC3339, strings.TrimSpace(*content.PostedAt)); err != nil {
			return fmt.Errorf("payload posted_at %q is not RFC3339: %w", *content.PostedAt, err)
		}
	}
	return nil
}
