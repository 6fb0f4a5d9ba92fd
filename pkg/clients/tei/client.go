package tei

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"dragnet/pkg/clients"
	"dragnet/pkg/logging"
)

// Client talks to a text-embeddings-inference server. The same contract
// serves both the crawl pipeline (embedding page bodies) and the query
// path (embedding search strings).
type Client struct {
	baseURL    string
	dim        int
	httpClient *http.Client
	executor   failsafe.Executor[*http.Response]
	logger     logging.Logger
}

// Config represents the configuration for the embedder client
type Config struct {
	BaseURL string

	// Dim is the expected embedding width. Vectors of any other width are
	// rejected. Zero disables the check.
	Dim int

	Timeout time.Duration
	Logger  logging.Logger

	// ExecutorConfig tunes retries. Nil means a single attempt, which is
	// what the crawl hop wants; the query path passes
	// clients.DefaultHTTPExecutorConfig().
	ExecutorConfig *clients.HTTPExecutorConfig
}

// NewClient creates a new embedder client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	execCfg := clients.HTTPExecutorConfig{MaxRetries: 0}
	if config.ExecutorConfig != nil {
		execCfg = *config.ExecutorConfig
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		dim:     config.Dim,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: clients.DefaultTransport(),
		},
		executor: clients.NewHTTPExecutor(execCfg),
		logger:   config.Logger,
	}
}

// embedRequest mirrors the TEI /embed body. Truncation keeps oversized
// page bodies from erroring, normalization makes cosine scores comparable.
type embedRequest struct {
	Inputs    []string `json:"inputs"`
	Truncate  bool     `json:"truncate"`
	Normalize bool     `json:"normalize"`
}

// Embed returns the embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	jsonBody, err := json.Marshal(embedRequest{
		Inputs:    []string{text},
		Truncate:  true,
		Normalize: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/embed"

	// Build a fresh request per attempt so the body reader is never reused.
	resp, err := clients.ExecuteHTTP(ctx, c.executor, func() (*http.Response, error) {
		req, reqErr := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
		if reqErr != nil {
			return nil, reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call embedder: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedder error (%d): %s", resp.StatusCode, string(body))
	}

	var rows [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}
	if c.dim > 0 && len(rows[0]) != c.dim {
		return nil, fmt.Errorf("embedder returned %d dimensions, expected %d", len(rows[0]), c.dim)
	}

	return rows[0], nil
}
