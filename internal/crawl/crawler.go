package crawl

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	bosunapi "dragnet/pkg/api/bosun"
	"dragnet/pkg/api/trawler"
	"dragnet/pkg/clients"
	"dragnet/pkg/kafka"
	"dragnet/pkg/logging"
	"dragnet/pkg/version"
)

const (
	// recencyWindow is how long a successful visit suppresses re-crawls.
	recencyWindow = time.Hour

	// maxContentBytes caps how much of a page is read. Past this the
	// document is truncated, not rejected.
	maxContentBytes = 10 << 20

	defaultFetchTimeout   = 30 * time.Second
	defaultCooldownSecond = 5
)

// ErrBadURL marks input the caller should not retry: unparsable, relative,
// or hostless URLs.
var ErrBadURL = errors.New("url must be absolute with a host")

// PageStore is the document-store slice the pipeline writes visits to.
type PageStore interface {
	SeenSince(ctx context.Context, url string, since time.Time) (bool, error)
	Upsert(ctx context.Context, url, sum string, now time.Time) (string, error)
	Touch(ctx context.Context, url, sum string, now time.Time) error
}

// VectorStore receives one embedding per indexed page.
type VectorStore interface {
	Upsert(ctx context.Context, id string, embedding []float32, url, title string) error
}

// Embedder turns body text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Publisher hands extracted links to the frontier. Implementations attempt
// the whole batch and report an aggregate error.
type Publisher interface {
	Publish(ctx context.Context, payloads []bosunapi.URLPayload) error
}

// Politeness gates crawls on robots.txt and manages per-host cooldowns.
type Politeness interface {
	Allowed(ctx context.Context, u *url.URL) (bool, error)
	Cooldown(ctx context.Context, host string, seconds int) error
}

// EventSink records crawl outcomes on the audit stream.
type EventSink interface {
	PublishCrawlEvent(event *kafka.CrawlEvent) error
}

// Result is the terminal outcome of a crawl that did not error.
type Result struct {
	Status string
	Reason string

	// Crawl accounting; zero on skips.
	ContentLength int
	BodyLength    int
	Edges         int
}

// Service runs the fetch-extract-persist-index-fanout pipeline for one URL
// at a time.
type Service struct {
	pages      PageStore
	vectors    VectorStore
	embedder   Embedder
	publisher  Publisher
	politeness Politeness
	events     EventSink
	metrics    *Metrics

	httpClient      *http.Client
	userAgent       string
	cooldownSeconds int
	logger          logging.Logger
}

// Config wires the pipeline's collaborators.
type Config struct {
	Pages      PageStore
	Vectors    VectorStore
	Embedder   Embedder
	Publisher  Publisher
	Politeness Politeness

	// Events is optional; nil disables the audit stream.
	Events EventSink

	// Metrics is optional; nil disables collection.
	Metrics *Metrics

	// HTTPClient fetches target pages. Defaults to a pooled client with a
	// 30 second timeout.
	HTTPClient *http.Client

	// UserAgent presented to crawl targets. Defaults to the service's
	// product token.
	UserAgent string

	// CooldownSeconds is the pause a host earns after being contacted.
	CooldownSeconds int

	Logger logging.Logger
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Pages == nil {
		return nil, errors.New("page store is required")
	}
	if cfg.Vectors == nil {
		return nil, errors.New("vector store is required")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if cfg.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if cfg.Politeness == nil {
		return nil, errors.New("politeness service is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{
			Timeout:   defaultFetchTimeout,
			Transport: clients.DefaultTransport(),
		}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = version.UserAgent()
	}
	if cfg.CooldownSeconds <= 0 {
		cfg.CooldownSeconds = defaultCooldownSecond
	}
	return &Service{
		pages:           cfg.Pages,
		vectors:         cfg.Vectors,
		embedder:        cfg.Embedder,
		publisher:       cfg.Publisher,
		politeness:      cfg.Politeness,
		events:          cfg.Events,
		metrics:         cfg.Metrics,
		httpClient:      cfg.HTTPClient,
		userAgent:       cfg.UserAgent,
		cooldownSeconds: cfg.CooldownSeconds,
		logger:          cfg.Logger,
	}, nil
}

// Crawl runs one end-to-end crawl. The cooldown rule: while no traffic has
// reached the target host the cooldown is cleared; once the GET has gone out
// it is set for the configured window regardless of how the crawl ends.
func (s *Service) Crawl(ctx context.Context, rawURL string) (result *Result, err error) {
	start := time.Now()
	defer func() {
		switch {
		case err != nil:
			s.metrics.observeCrawl(kafka.CrawlStatusFailed, "", time.Since(start))
		case result.Status == trawler.StatusSkipped:
			s.metrics.observeCrawl(kafka.CrawlStatusSkipped, result.Reason, time.Since(start))
		default:
			s.metrics.observeCrawl(kafka.CrawlStatusCrawled, "", time.Since(start))
		}
	}()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, ErrBadURL
	}
	host := u.Host
	log := s.logger.WithFields(logging.Fields{"url": u.String(), "domain": host})

	allowed, err := s.politeness.Allowed(ctx, u)
	if err != nil {
		s.clearCooldown(ctx, host)
		err = fmt.Errorf("robots check failed: %w", err)
		s.emitEvent(u.String(), host, kafka.CrawlStatusFailed, "", nil, err)
		return nil, err
	}
	if !allowed {
		log.Info("Robots disallow")
		s.clearCooldown(ctx, host)
		s.emitEvent(u.String(), host, kafka.CrawlStatusSkipped, trawler.ReasonRobots, nil, nil)
		return &Result{Status: trawler.StatusSkipped, Reason: trawler.ReasonRobots}, nil
	}

	seen, err := s.pages.SeenSince(ctx, u.String(), time.Now().UTC().Add(-recencyWindow))
	if err != nil {
		s.clearCooldown(ctx, host)
		err = fmt.Errorf("recency check failed: %w", err)
		s.emitEvent(u.String(), host, kafka.CrawlStatusFailed, "", nil, err)
		return nil, err
	}
	if seen {
		log.Info("Crawled recently")
		s.clearCooldown(ctx, host)
		s.emitEvent(u.String(), host, kafka.CrawlStatusSkipped, trawler.ReasonRecent, nil, nil)
		return &Result{Status: trawler.StatusSkipped, Reason: trawler.ReasonRecent}, nil
	}

	result, err = s.process(ctx, u)
	// The GET has gone out; the host saw traffic whatever happened next.
	s.setCooldown(ctx, host)
	if err != nil {
		s.emitEvent(u.String(), host, kafka.CrawlStatusFailed, "", nil, err)
		return nil, err
	}
	if result.Status == trawler.StatusSkipped {
		s.emitEvent(u.String(), host, kafka.CrawlStatusSkipped, result.Reason, result, nil)
	} else {
		s.emitEvent(u.String(), host, kafka.CrawlStatusCrawled, "", result, nil)
	}
	return result, nil
}

func (s *Service) process(ctx context.Context, u *url.URL) (*Result, error) {
	log := s.logger.WithFields(logging.Fields{"url": u.String(), "domain": u.Host})

	content, contentType, err := s.fetch(ctx, u)
	if err != nil {
		return nil, err
	}

	if contentType != "" && !strings.Contains(contentType, "text/html") {
		log.WithField("content_type", contentType).Info("Skipping non-HTML content")
		return &Result{Status: trawler.StatusSkipped, Reason: trawler.ReasonContentType}, nil
	}

	doc, err := ParseDocument(content, u)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	sum := fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
	now := time.Now().UTC()

	if doc.Body == "" {
		// The visit is still recorded so the recency gate holds; there is
		// just nothing to embed.
		if err := s.pages.Touch(ctx, u.String(), sum, now); err != nil {
			return nil, err
		}
	} else {
		id, err := s.pages.Upsert(ctx, u.String(), sum, now)
		if err != nil {
			return nil, err
		}
		s.index(ctx, id, u.String(), doc)
	}

	if err := s.fanOut(ctx, doc.Links); err != nil {
		return nil, err
	}

	log.WithFields(logging.Fields{
		"content_length": len(content),
		"body_length":    len(doc.Body),
		"edges":          len(doc.Links),
	}).Info("Crawled")

	return &Result{
		Status:        trawler.StatusAccepted,
		ContentLength: len(content),
		BodyLength:    len(doc.Body),
		Edges:         len(doc.Links),
	}, nil
}

func (s *Service) fetch(ctx context.Context, u *url.URL) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", "", fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxContentBytes))
	if err != nil {
		return "", "", fmt.Errorf("failed to read response body: %w", err)
	}
	return string(body), resp.Header.Get("Content-Type"), nil
}

// index embeds the body and upserts the vector point. Both failures are
// non-fatal: the page record is already durable and the next visit
// converges.
func (s *Service) index(ctx context.Context, id, pageURL string, doc *Document) {
	embedding, err := s.embedder.Embed(ctx, doc.Body)
	if err != nil {
		s.logger.WithError(err).WithField("url", pageURL).Error("Failed to embed page body")
		return
	}
	if err := s.vectors.Upsert(ctx, id, embedding, pageURL, doc.Title); err != nil {
		s.logger.WithError(err).WithField("url", pageURL).Warn("Failed to upsert vector point")
	}
}

// fanOut publishes every link that has a host to its domain queue. The
// host test is the canonical filter: mailto and friends drop out here.
func (s *Service) fanOut(ctx context.Context, links []*url.URL) error {
	payloads := make([]bosunapi.URLPayload, 0, len(links))
	for _, link := range links {
		if link.Host == "" {
			continue
		}
		payloads = append(payloads, bosunapi.URLPayload{Queue: link.Host, Message: link.String()})
	}
	if len(payloads) == 0 {
		return nil
	}
	if err := s.publisher.Publish(ctx, payloads); err != nil {
		return fmt.Errorf("link publishing failed: %w", err)
	}
	for _, p := range payloads {
		s.metrics.incLink(p.Queue)
	}
	return nil
}

// Cooldown management never changes a crawl's outcome; failures only log.
func (s *Service) clearCooldown(ctx context.Context, host string) {
	if err := s.politeness.Cooldown(ctx, host, 0); err != nil {
		s.logger.WithError(err).WithField("domain", host).Error("Failed to clear cooldown")
	}
}

func (s *Service) setCooldown(ctx context.Context, host string) {
	if err := s.politeness.Cooldown(ctx, host, s.cooldownSeconds); err != nil {
		s.logger.WithError(err).WithField("domain", host).Error("Failed to set cooldown")
	}
}

// emitEvent records the outcome on the audit stream. Parse failures are not
// recorded; there is no host to attribute them to.
func (s *Service) emitEvent(pageURL, host, status, reason string, result *Result, cause error) {
	if s.events == nil {
		return
	}
	event := kafka.NewCrawlEvent("trawler", pageURL, host, status)
	event.Reason = reason
	if result != nil {
		event.ContentLength = result.ContentLength
		event.BodyLength = result.BodyLength
		event.Edges = result.Edges
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	if err := s.events.PublishCrawlEvent(event); err != nil {
		s.logger.WithError(err).Debug("Failed to publish crawl event")
	}
}
