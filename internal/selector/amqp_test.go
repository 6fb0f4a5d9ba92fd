package selector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"

	"dragnet/internal/politeness"
	trawlerclient "dragnet/pkg/clients/trawler"
	"dragnet/pkg/logging"
)

// fakeAcknowledger records settlements for deliveries handed out by the
// fake broker.
type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	rejects int
	requeue bool
	settled chan string
}

func newFakeAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{settled: make(chan string, 16)}
}

func (a *fakeAcknowledger) Ack(uint64, bool) error {
	a.mu.Lock()
	a.acks++
	a.mu.Unlock()
	a.settled <- "ack"
	return nil
}

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	a.nacks++
	a.requeue = requeue
	a.mu.Unlock()
	a.settled <- "nack"
	return nil
}

func (a *fakeAcknowledger) Reject(uint64, bool) error {
	a.mu.Lock()
	a.rejects++
	a.mu.Unlock()
	a.settled <- "reject"
	return nil
}

type fakeBroker struct {
	mu     sync.Mutex
	queues map[string][]string
	acker  *fakeAcknowledger
}

func newFakeBroker(acker *fakeAcknowledger) *fakeBroker {
	return &fakeBroker{queues: map[string][]string{}, acker: acker}
}

func (b *fakeBroker) add(queue string, urls ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[queue] = append(b.queues[queue], urls...)
}

func (b *fakeBroker) Get(queue string, _ bool) (amqp.Delivery, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	urls := b.queues[queue]
	if len(urls) == 0 {
		return amqp.Delivery{}, false, nil
	}
	b.queues[queue] = urls[1:]
	return amqp.Delivery{Acknowledger: b.acker, DeliveryTag: 1, Body: []byte(urls[0])}, true, nil
}

type fakeLister struct {
	queues []QueueInfo
	err    error
}

func (l *fakeLister) Queues(context.Context) ([]QueueInfo, error) {
	return l.queues, l.err
}

type amqpFixture struct {
	runner  *AMQPRunner
	broker  *fakeBroker
	acker   *fakeAcknowledger
	crawler *fakeCrawler
	lister  *fakeLister
	redis   *miniredis.Miniredis
}

func newAMQPFixture(t *testing.T) *amqpFixture {
	t.Helper()
	m := miniredis.RunT(t)
	kv := goredis.NewClient(&goredis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = kv.Close() })

	acker := newFakeAcknowledger()
	broker := newFakeBroker(acker)
	crawler := newFakeCrawler()
	lister := &fakeLister{}

	runner := NewAMQPRunner(AMQPConfig{
		Broker:          broker,
		Lister:          lister,
		Crawler:         crawler,
		KV:              kv,
		CooldownSeconds: 3,
		Logger:          logging.NewLogger(),
	})
	return &amqpFixture{
		runner:  runner,
		broker:  broker,
		acker:   acker,
		crawler: crawler,
		lister:  lister,
		redis:   m,
	}
}

func (f *amqpFixture) awaitSettle(t *testing.T) string {
	t.Helper()
	select {
	case kind := <-f.acker.settled:
		return kind
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a settlement")
		return ""
	}
}

func TestConsumeAcksSettledCrawl(t *testing.T) {
	f := newAMQPFixture(t)
	f.broker.add("a.test", "https://a.test/1")

	f.runner.consume(context.Background(), "a.test")

	if f.acker.acks != 1 || f.acker.nacks != 0 || f.acker.rejects != 0 {
		t.Fatalf("expected a single ack, got %+v", f.acker)
	}
	if !f.redis.Exists(politeness.CooldownKey("a.test")) {
		t.Fatal("expected a cooldown after the dispatch")
	}
	if ttl := f.redis.TTL(politeness.CooldownKey("a.test")); ttl != 3*time.Second {
		t.Fatalf("expected a 3s cooldown, got %v", ttl)
	}
}

func TestConsumeRequeuesFailedCrawl(t *testing.T) {
	f := newAMQPFixture(t)
	f.broker.add("a.test", "https://a.test/down")
	f.crawler.outcomes["https://a.test/down"] = trawlerclient.OutcomeRequeue

	f.runner.consume(context.Background(), "a.test")

	if f.acker.nacks != 1 || !f.acker.requeue {
		t.Fatalf("expected a nack with requeue, got %+v", f.acker)
	}
	if !f.redis.Exists(politeness.CooldownKey("a.test")) {
		t.Fatal("expected a cooldown even after a failed dispatch")
	}
}

func TestConsumeRejectsPoisonMessage(t *testing.T) {
	f := newAMQPFixture(t)
	f.broker.add("a.test", "https://a.test/poison")
	f.crawler.outcomes["https://a.test/poison"] = trawlerclient.OutcomeReject

	f.runner.consume(context.Background(), "a.test")

	if f.acker.rejects != 1 || f.acker.nacks != 0 {
		t.Fatalf("expected a reject, got %+v", f.acker)
	}
}

func TestConsumeSkipsEmptyQueue(t *testing.T) {
	f := newAMQPFixture(t)

	f.runner.consume(context.Background(), "a.test")

	if f.acker.acks != 0 || f.acker.nacks != 0 || f.acker.rejects != 0 {
		t.Fatalf("expected no settlement, got %+v", f.acker)
	}
	// An empty pull must not re-arm the cooldown cycle.
	if f.redis.Exists(politeness.CooldownKey("a.test")) {
		t.Fatal("expected no cooldown for an empty queue")
	}
}

func TestPollPicksEligibleDomain(t *testing.T) {
	f := newAMQPFixture(t)
	f.lister.queues = []QueueInfo{
		{Name: "a.test", Messages: 2},
		{Name: "b.test", Messages: 0},
		{Name: "c.test", Messages: 1},
	}
	f.redis.Set(politeness.CooldownKey("c.test"), "1")
	f.redis.SetTTL(politeness.CooldownKey("c.test"), time.Minute)

	domain, ok := f.runner.pollOnce(context.Background())
	if !ok || domain != "a.test" {
		t.Fatalf("expected a.test, got %q (ok=%v)", domain, ok)
	}
}

func TestPollReportsNothingEligible(t *testing.T) {
	f := newAMQPFixture(t)
	f.lister.queues = []QueueInfo{{Name: "a.test", Messages: 1}}
	f.redis.Set(politeness.CooldownKey("a.test"), "1")
	f.redis.SetTTL(politeness.CooldownKey("a.test"), time.Minute)

	if domain, ok := f.runner.pollOnce(context.Background()); ok {
		t.Fatalf("expected no eligible domain, got %q", domain)
	}
}

func TestRunConsumesOnCooldownExpiry(t *testing.T) {
	f := newAMQPFixture(t)
	f.broker.add("a.test", "https://a.test/1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.runner.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("runner did not stop")
		}
	})

	// The notification subscriber registers asynchronously; keep emitting
	// the synthetic expiry until it lands.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case kind := <-f.acker.settled:
			if kind != "ack" {
				t.Fatalf("expected an ack, got %q", kind)
			}
			return
		case <-tick.C:
			f.redis.Publish("__keyspace@0__:"+politeness.CooldownKey("a.test"), "expired")
		case <-deadline:
			t.Fatal("timed out waiting for the wakeup dispatch")
		}
	}
}

func TestManagementClientListsQueues(t *testing.T) {
	var gotPath, gotUser, gotPass string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		_ = json.NewEncoder(w).Encode([]QueueInfo{
			{Name: "a.test", Messages: 4},
			{Name: "b.test", Messages: 0},
		})
	}))
	defer server.Close()

	client := NewManagementClient(ManagementConfig{
		BaseURL:  server.URL,
		User:     "guest",
		Password: "guest",
		Logger:   logging.NewLogger(),
	})

	queues, err := client.Queues(context.Background())
	if err != nil {
		t.Fatalf("list queues: %v", err)
	}
	if gotPath != "/api/queues" {
		t.Fatalf("expected /api/queues, got %q", gotPath)
	}
	if gotUser != "guest" || gotPass != "guest" {
		t.Fatal("expected basic auth credentials on the request")
	}
	if len(queues) != 2 || queues[0].Name != "a.test" || queues[0].Messages != 4 {
		t.Fatalf("unexpected queue listing %+v", queues)
	}
}

func TestManagementClientReportsAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewManagementClient(ManagementConfig{BaseURL: server.URL, Logger: logging.NewLogger()})
	if _, err := client.Queues(context.Background()); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}
