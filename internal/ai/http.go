package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	DefaultRequestTimeout = 45 * time.Second
	DefaultEmbeddingModel = "Qwen3-Embedding-8B"
)

// ClientOptions configures the HTTP capability clients.
type ClientOptions struct {
	SummarizerEndpoint string
	EmbeddingEndpoint  string
	EmbeddingModel     string
	ArbiterEndpoint    string
	NarratorEndpoint   string
	RequestTimeout     time.Duration
	HTTPClient         *http.Client
}

// Client implements Summarizer, Embedder, Arbitrator and Narrator against
// plain JSON-over-HTTP sidecar services.
type Client struct {
	opts ClientOptions
}

func NewClient(opts ClientOptions) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if strings.TrimSpace(opts.EmbeddingModel) == "" {
		opts.EmbeddingModel = DefaultEmbeddingModel
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Client{opts: opts}
}

type summarizeRequest struct {
	Items []SummarizeItem `json:"items"`
}

type summarizeResponse struct {
	Summaries map[string]ItemSummary `json:"summaries"`
}

func (c *Client) Summarize(ctx context.Context, items []SummarizeItem) (map[int64]ItemSummary, error) {
	if len(items) == 0 {
		return map[int64]ItemSummary{}, nil
	}

	var parsed summarizeResponse
	if err := c.postJSON(ctx, c.opts.SummarizerEndpoint, summarizeRequest{Items: items}, &parsed); err != nil {
		return nil, fmt.Errorf("summarize request: %w", err)
	}

	out := make(map[int64]ItemSummary, len(parsed.Summaries))
	for key, summary := range parsed.Summaries {
		var id int64
		if _, err := fmt.Sscanf(key, "%d", &id); err != nil {
			continue
		}
		out[id] = summary
	}
	return out, nil
}

type embedRequest struct {
	Texts     []string `json:"texts,omitempty"`
	Input     []string `json:"input,omitempty"`
	Model     string   `json:"model,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Data       []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	payload := embedRequest{Texts: []string{text}, Model: c.opts.EmbeddingModel}

	// OpenAI-compatible endpoints want the `input` field instead.
	if parsed, err := url.Parse(c.opts.EmbeddingEndpoint); err == nil && strings.HasSuffix(parsed.Path, "/v1/embeddings") {
		payload = embedRequest{Input: []string{text}, Model: c.opts.EmbeddingModel}
	}

	var parsed embedResponse
	if err := c.postJSON(ctx, c.opts.EmbeddingEndpoint, payload, &parsed); err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}

	vectors := parsed.Embeddings
	if len(vectors) == 0 && len(parsed.Data) > 0 {
		sort.Slice(parsed.Data, func(i, j int) bool {
			return parsed.Data[i].Index < parsed.Data[j].Index
		})
		vectors = make([][]float64, 0, len(parsed.Data))
		for _, row := range parsed.Data {
			vectors = append(vectors, row.Embedding)
		}
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedding response missing vectors")
	}
	return vectors[0], nil
}

type judgeRequest struct {
	Label      string      `json:"label"`
	Reason     string      `json:"reason"`
	Candidates []Candidate `json:"candidates"`
}

func (c *Client) Judge(ctx context.Context, rawLabel, reason string, candidates []Candidate) (Judgment, error) {
	var parsed Judgment
	req := judgeRequest{Label: rawLabel, Reason: reason, Candidates: candidates}
	if err := c.postJSON(ctx, c.opts.ArbiterEndpoint, req, &parsed); err != nil {
		return Judgment{}, fmt.Errorf("judge request: %w", err)
	}
	if parsed.Decision != DecisionMatch && parsed.Decision != DecisionNoMatch {
		return Judgment{}, fmt.Errorf("judge response has unknown decision %q", parsed.Decision)
	}
	return parsed, nil
}

type narrateResponse struct {
	Blurbs []Blurb `json:"blurbs"`
}

func (c *Client) GeneratePulses(ctx context.Context, nc NarrationContext) ([]Blurb, error) {
	if len(nc.Points) == 0 {
		return nil, nil
	}

	var parsed narrateResponse
	if err := c.postJSON(ctx, c.opts.NarratorEndpoint, nc, &parsed); err != nil {
		return nil, fmt.Errorf("narrate request: %w", err)
	}
	return parsed.Blurbs, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if strings.TrimSpace(endpoint) == "" {
		return fmt.Errorf("endpoint is not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("service status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
