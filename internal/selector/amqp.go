package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"

	"dragnet/internal/politeness"
	trawlerapi "dragnet/pkg/api/trawler"
	"dragnet/pkg/clients"
	trawlerclient "dragnet/pkg/clients/trawler"
	"dragnet/pkg/logging"
	"dragnet/pkg/redis"
)

const (
	// pollInterval paces the management API sweep that backs up the
	// cooldown-expiry wakeups.
	pollInterval = 5 * time.Second

	// wakeBuffer bounds pending cooldown-expiry wakeups. Overflow is
	// dropped; the next poll reaches the same queues.
	wakeBuffer = 64

	defaultCooldownSeconds = 5
)

// QueueInfo is one row of the management API's queue listing.
type QueueInfo struct {
	Name     string `json:"name"`
	Messages int    `json:"messages"`
}

// QueueLister enumerates broker queues with their pending-message counts.
type QueueLister interface {
	Queues(ctx context.Context) ([]QueueInfo, error)
}

// Broker is the slice of the AMQP channel the runner pulls messages from.
// *amqp.Channel satisfies it.
type Broker interface {
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
}

// ManagementClient lists queues through the RabbitMQ management API.
type ManagementClient struct {
	baseURL    string
	user       string
	password   string
	httpClient *http.Client
	logger     logging.Logger
}

// ManagementConfig represents the configuration for the management client
type ManagementConfig struct {
	BaseURL  string
	User     string
	Password string
	Timeout  time.Duration
	Logger   logging.Logger
}

// NewManagementClient creates a new management API client
func NewManagementClient(cfg ManagementConfig) *ManagementClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &ManagementClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		user:     cfg.User,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: clients.DefaultTransport(),
		},
		logger: cfg.Logger,
	}
}

// Queues returns every queue the broker knows with its message count.
func (c *ManagementClient) Queues(ctx context.Context) ([]QueueInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/queues", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.user, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call management api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("management api error (%d): %s", resp.StatusCode, string(body))
	}

	var queues []QueueInfo
	if err := json.NewDecoder(resp.Body).Decode(&queues); err != nil {
		return nil, fmt.Errorf("failed to decode queue listing: %w", err)
	}
	return queues, nil
}

// AMQPRunner drains per-domain broker queues. Two wakeup paths feed it: an
// expired `c:<host>` cooldown key targets that host's queue directly, and a
// periodic management API poll picks one eligible queue uniformly at random
// so hosts never starve when notifications are lost. Every pulled message is
// settled per the crawl outcome and followed by a fresh domain cooldown.
type AMQPRunner struct {
	broker          Broker
	lister          QueueLister
	crawler         Crawler
	kv              goredis.UniversalClient
	cooldownSeconds int
	sem             *semaphore.Weighted
	concurrent      int64
	logger          logging.Logger
	metrics         *Metrics
	wake            chan string
}

// AMQPConfig wires the AMQP-mode dispatch loop.
type AMQPConfig struct {
	Broker  Broker
	Lister  QueueLister
	Crawler Crawler
	KV      goredis.UniversalClient

	// CooldownSeconds is the per-domain pause started after a dispatch.
	// Defaults to 5.
	CooldownSeconds int

	// Concurrent caps in-flight crawls. Defaults to 1.
	Concurrent int

	Logger  logging.Logger
	Metrics *Metrics
}

func NewAMQPRunner(cfg AMQPConfig) *AMQPRunner {
	if cfg.CooldownSeconds <= 0 {
		cfg.CooldownSeconds = defaultCooldownSeconds
	}
	if cfg.Concurrent <= 0 {
		cfg.Concurrent = 1
	}
	return &AMQPRunner{
		broker:          cfg.Broker,
		lister:          cfg.Lister,
		crawler:         cfg.Crawler,
		kv:              cfg.KV,
		cooldownSeconds: cfg.CooldownSeconds,
		sem:             semaphore.NewWeighted(int64(cfg.Concurrent)),
		concurrent:      int64(cfg.Concurrent),
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		wake:            make(chan string, wakeBuffer),
	}
}

// Run consumes queues until ctx is cancelled. It returns after in-flight
// crawls settle.
func (r *AMQPRunner) Run(ctx context.Context) {
	defer r.waitInFlight()

	go r.watchCooldowns(ctx)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case domain := <-r.wake:
			r.spawn(ctx, domain)
		case <-ticker.C:
			if domain, ok := r.pollOnce(ctx); ok {
				r.spawn(ctx, domain)
			}
		}
	}
}

// watchCooldowns turns expired cooldown keys into wakeups for their hosts,
// resubscribing whenever the notification stream drops.
func (r *AMQPRunner) watchCooldowns(ctx context.Context) {
	for {
		err := redis.SubscribeExpired(ctx, r.kv, politeness.CooldownKey("*"), func(key string) {
			domain, ok := politeness.HostFromCooldownKey(key)
			if !ok {
				return
			}
			select {
			case r.wake <- domain:
			default:
				// Poll sweep picks the queue up instead.
			}
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.logger.WithError(err).Error("Cooldown subscription dropped")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// pollOnce lists queue depths and picks one eligible domain uniformly at
// random. ok is false when nothing is dispatchable.
func (r *AMQPRunner) pollOnce(ctx context.Context) (string, bool) {
	queues, err := r.lister.Queues(ctx)
	if err != nil {
		r.logger.WithError(err).Error("Failed to list broker queues")
		return "", false
	}

	names := make([]string, 0, len(queues))
	for _, q := range queues {
		if q.Messages > 0 {
			names = append(names, q.Name)
		}
	}
	if len(names) == 0 {
		return "", false
	}

	cooling, err := politeness.CoolingSet(ctx, r.kv, names)
	if err != nil {
		r.logger.WithError(err).Error("Failed to read cooldowns")
		return "", false
	}

	eligible := names[:0]
	for _, name := range names {
		if !cooling[name] {
			eligible = append(eligible, name)
		}
	}
	if len(eligible) == 0 {
		return "", false
	}
	return eligible[rand.Intn(len(eligible))], true
}

// spawn dispatches one message from the domain's queue under the
// concurrency cap.
func (r *AMQPRunner) spawn(ctx context.Context, domain string) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return
	}
	go func() {
		defer r.sem.Release(1)
		r.consume(ctx, domain)
	}()
}

// consume pulls one message off the domain's queue, dispatches it, settles
// it per the outcome and starts the domain cooldown. An empty queue starts
// no cooldown: an expired marker must not re-arm itself forever.
func (r *AMQPRunner) consume(ctx context.Context, domain string) {
	msg, ok, err := r.broker.Get(domain, false)
	if err != nil {
		r.logger.WithError(err).WithField("domain", domain).Error("Failed to get message")
		return
	}
	if !ok {
		r.logger.WithField("domain", domain).Debug("Queue empty")
		return
	}

	r.metrics.incInFlight("amqp")
	defer r.metrics.decInFlight("amqp")

	url := string(msg.Body)
	start := time.Now()
	outcome, resp, err := r.crawler.Crawl(ctx, url)
	r.metrics.observeDispatch(outcome.String(), time.Since(start))

	log := r.logger.WithFields(logging.Fields{"domain": domain, "url": url})

	var settle error
	switch outcome {
	case trawlerclient.OutcomeDone:
		if resp != nil && resp.Status == trawlerapi.StatusSkipped {
			log.WithField("reason", resp.Reason).Debug("Crawl skipped")
		} else {
			log.Info("Crawl dispatched")
		}
		settle = msg.Ack(false)
	case trawlerclient.OutcomeReject:
		log.WithError(err).Warn("Crawl rejected, dropping message")
		settle = msg.Reject(false)
	case trawlerclient.OutcomeRequeue:
		log.WithError(err).Error("Crawl failed, requeueing message")
		settle = msg.Nack(false, true)
	}
	if settle != nil {
		log.WithError(settle).Error("Failed to settle message")
	}

	if err := politeness.SetCooldown(ctx, r.kv, domain, r.cooldownSeconds); err != nil {
		log.WithError(err).Error("Failed to start cooldown")
	}
}

// waitInFlight blocks until every dispatch goroutine has released its slot.
func (r *AMQPRunner) waitInFlight() {
	_ = r.sem.Acquire(context.Background(), r.concurrent)
}
