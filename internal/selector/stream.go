package selector

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	bosunapi "dragnet/pkg/api/bosun"
	trawlerapi "dragnet/pkg/api/trawler"
	trawlerclient "dragnet/pkg/clients/trawler"
	"dragnet/pkg/logging"
)

// Stream is the frontier subscribe stream consumed in stream mode.
// Deliveries closes when the connection drops; Run reconnects.
type Stream interface {
	Connect(ctx context.Context) error
	Deliveries() <-chan bosunapi.URLPayload
	Close() error
}

// Frontier takes back URLs whose dispatch must be retried.
type Frontier interface {
	Publish(ctx context.Context, payloads []bosunapi.URLPayload) error
}

// StreamRunner consumes the frontier's subscribe stream and dispatches each
// frame to the crawler, capped by a weighted semaphore. Failed dispatches
// are republished to the frontier; the frontier's own selection loop already
// paced the frames, so the runner adds no politeness of its own.
type StreamRunner struct {
	stream     Stream
	frontier   Frontier
	crawler    Crawler
	sem        *semaphore.Weighted
	concurrent int64
	reconnect  time.Duration
	logger     logging.Logger
	metrics    *Metrics
}

// StreamConfig wires the stream-mode dispatch loop.
type StreamConfig struct {
	Stream   Stream
	Frontier Frontier
	Crawler  Crawler

	// Concurrent caps in-flight crawls. Defaults to 1.
	Concurrent int

	// ReconnectDelay paces resubscribe attempts. Defaults to 5s.
	ReconnectDelay time.Duration

	Logger  logging.Logger
	Metrics *Metrics
}

func NewStreamRunner(cfg StreamConfig) *StreamRunner {
	if cfg.Concurrent <= 0 {
		cfg.Concurrent = 1
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = reconnectDelay
	}
	return &StreamRunner{
		stream:     cfg.Stream,
		frontier:   cfg.Frontier,
		crawler:    cfg.Crawler,
		sem:        semaphore.NewWeighted(int64(cfg.Concurrent)),
		concurrent: int64(cfg.Concurrent),
		reconnect:  cfg.ReconnectDelay,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// Run subscribes and dispatches until ctx is cancelled, reconnecting
// whenever the stream drops. It returns after in-flight crawls settle.
func (r *StreamRunner) Run(ctx context.Context) {
	defer r.waitInFlight()

	for {
		if err := r.stream.Connect(ctx); err != nil {
			r.logger.WithError(err).Error("Failed to subscribe to frontier")
			if !r.pause(ctx) {
				return
			}
			continue
		}

		r.drain(ctx)
		_ = r.stream.Close()

		if !r.pause(ctx) {
			return
		}
		r.logger.Info("Reconnecting to frontier stream")
	}
}

// drain dispatches frames until the stream closes or ctx is cancelled.
func (r *StreamRunner) drain(ctx context.Context) {
	deliveries := r.stream.Deliveries()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-deliveries:
			if !ok {
				r.logger.Warn("Frontier stream closed")
				return
			}
			if err := r.sem.Acquire(ctx, 1); err != nil {
				// Shutdown hit between pop and dispatch; the frame is
				// already off its queue, so put it back.
				r.republish(payload)
				return
			}
			go func(p bosunapi.URLPayload) {
				defer r.sem.Release(1)
				r.dispatch(ctx, p)
			}(payload)
		}
	}
}

func (r *StreamRunner) dispatch(ctx context.Context, payload bosunapi.URLPayload) {
	r.metrics.incInFlight("stream")
	defer r.metrics.decInFlight("stream")

	start := time.Now()
	outcome, resp, err := r.crawler.Crawl(ctx, payload.Message)
	r.metrics.observeDispatch(outcome.String(), time.Since(start))

	log := r.logger.WithFields(logging.Fields{
		"domain": payload.Queue,
		"url":    payload.Message,
	})

	switch outcome {
	case trawlerclient.OutcomeDone:
		if resp != nil && resp.Status == trawlerapi.StatusSkipped {
			log.WithField("reason", resp.Reason).Debug("Crawl skipped")
		} else {
			log.Info("Crawl dispatched")
		}
	case trawlerclient.OutcomeReject:
		log.WithError(err).Warn("Crawl rejected, dropping URL")
	case trawlerclient.OutcomeRequeue:
		log.WithError(err).Error("Crawl failed, republishing URL")
		r.republish(payload)
	}
}

// republish returns a frame to the frontier. It runs on its own context:
// requeues triggered by a cancelled crawl still have to go out.
func (r *StreamRunner) republish(payload bosunapi.URLPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), requeueTimeout)
	defer cancel()

	if err := r.frontier.Publish(ctx, []bosunapi.URLPayload{payload}); err != nil {
		r.logger.WithError(err).WithField("url", payload.Message).Error("Failed to republish URL, dropping it")
	}
}

// pause sleeps the reconnect delay. Returns false when ctx ended first.
func (r *StreamRunner) pause(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(r.reconnect):
		return true
	}
}

// waitInFlight blocks until every dispatch goroutine has released its slot.
func (r *StreamRunner) waitInFlight() {
	_ = r.sem.Acquire(context.Background(), r.concurrent)
}
