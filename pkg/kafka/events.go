package kafka

import (
	"time"

	"github.com/google/uuid"
)

// CrawlEventsTopic is the topic every crawl attempt is recorded on.
const CrawlEventsTopic = "crawl_events"

// Crawl event statuses
const (
	CrawlStatusCrawled = "crawled"
	CrawlStatusSkipped = "skipped"
	CrawlStatusFailed  = "failed"
)

// CrawlEvent represents a single crawl attempt outcome
type CrawlEvent struct {
	EventID       string    `json:"event_id"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
	URL           string    `json:"url"`
	Domain        string    `json:"domain"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	ContentLength int       `json:"content_length,omitempty"`
	BodyLength    int       `json:"body_length,omitempty"`
	Edges         int       `json:"edges,omitempty"`
	Error         string    `json:"error,omitempty"`
	SchemaVersion string    `json:"schema_version"`
}

// NewCrawlEvent creates a crawl event with identity and timing filled in
func NewCrawlEvent(source, url, domain, status string) *CrawlEvent {
	return &CrawlEvent{
		EventID:       uuid.New().String(),
		Timestamp:     time.Now().UTC(),
		Source:        source,
		URL:           url,
		Domain:        domain,
		Status:        status,
		SchemaVersion: "1.0",
	}
}
