package trawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dragnet/pkg/api/trawler"
	"dragnet/pkg/clients"
	"dragnet/pkg/logging"
)

// Outcome classifies a dispatch result for the at-least-once loop: a 2xx
// crawl is settled, a 4xx message is poison and must not be requeued,
// anything else deserves redelivery.
type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomeReject
	OutcomeRequeue
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeReject:
		return "reject"
	case OutcomeRequeue:
		return "requeue"
	default:
		return "unknown"
	}
}

// Client dispatches crawl requests to the crawler service
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
}

// Config represents the configuration for the crawler client
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  logging.Logger
}

// NewClient creates a new crawler client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		// A crawl holds the request open for the full fetch+index pipeline.
		config.Timeout = 2 * time.Minute
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: clients.DefaultTransport(),
		},
		logger: config.Logger,
	}
}

// Crawl asks the crawler to process one URL. The response is non-nil only
// when the crawler answered 2xx with a decodable body.
func (c *Client) Crawl(ctx context.Context, rawURL string) (Outcome, *trawler.CrawlResponse, error) {
	jsonBody, err := json.Marshal(trawler.CrawlRequest{URL: rawURL})
	if err != nil {
		return OutcomeReject, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/v1/crawl"

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return OutcomeReject, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return OutcomeRequeue, nil, fmt.Errorf("failed to call crawler: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var crawlResp trawler.CrawlResponse
		if err := json.NewDecoder(resp.Body).Decode(&crawlResp); err != nil {
			// The crawl settled; a garbled body is not a redelivery reason.
			return OutcomeDone, nil, nil
		}
		return OutcomeDone, &crawlResp, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		body, _ := io.ReadAll(resp.Body)
		return OutcomeReject, nil, fmt.Errorf("crawler rejected request (%d): %s", resp.StatusCode, string(body))

	default:
		body, _ := io.ReadAll(resp.Body)
		return OutcomeRequeue, nil, fmt.Errorf("crawler error (%d): %s", resp.StatusCode, string(body))
	}
}
