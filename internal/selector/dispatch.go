// Package selector drains the crawl frontier and dispatches URLs to the
// crawler, one politeness-capped message at a time. Two deployments share
// the same outcome rules: stream mode consumes the frontier service's
// subscribe stream, AMQP mode pulls per-domain broker queues directly. A
// settled crawl is acknowledged, a rejected one is dropped as poison, and
// a failed one goes back to its queue for redelivery.
package selector

import (
	"context"
	"time"

	trawlerapi "dragnet/pkg/api/trawler"
	trawlerclient "dragnet/pkg/clients/trawler"
)

const (
	// reconnectDelay paces reconnect attempts after the stream or the
	// cooldown subscription drops.
	reconnectDelay = 5 * time.Second

	// requeueTimeout bounds the republish of a failed dispatch. Requeues
	// run on their own context so a shutdown or a dead request context
	// cannot turn a retryable URL into a lost one.
	requeueTimeout = 10 * time.Second
)

// Crawler dispatches one URL to the crawler service and classifies the
// result for the at-least-once loop.
type Crawler interface {
	Crawl(ctx context.Context, url string) (trawlerclient.Outcome, *trawlerapi.CrawlResponse, error)
}
