package trawler

// Crawl outcome statuses. Accepted means the page was fetched and indexed;
// Skipped means a policy gate (robots, recency, content type) decided the
// visit was not needed.
const (
	StatusAccepted = "accepted"
	StatusSkipped  = "skipped"
)

// Skip reasons reported alongside StatusSkipped.
const (
	ReasonRobots      = "robots"
	ReasonRecent      = "recent"
	ReasonContentType = "content-type"
)

// CrawlRequest asks the crawler to fetch and index a single URL.
type CrawlRequest struct {
	URL string `json:"url"`
}

// CrawlResponse reports the outcome of one crawl request.
type CrawlResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}
