package frontier

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	bosunapi "dragnet/pkg/api/bosun"
	"dragnet/internal/politeness"
	"dragnet/pkg/logging"
)

func newTestSelector(t *testing.T, cooldownSeconds int) (*Selector, *QueueSet, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	kv := redis.NewClient(&redis.Options{Addr: m.Addr()})
	queues := NewQueueSet()
	selector := NewSelector(SelectorConfig{
		Queues:          queues,
		KV:              kv,
		CooldownSeconds: cooldownSeconds,
		Logger:          logging.NewLogger(),
	})
	return selector, queues, m
}

func runSelector(t *testing.T, s *Selector) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)
}

func awaitDelivery(t *testing.T, s *Selector) bosunapi.URLPayload {
	t.Helper()
	select {
	case payload := <-s.Deliveries():
		return payload
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a delivery")
		return bosunapi.URLPayload{}
	}
}

func expectNoDelivery(t *testing.T, s *Selector, within time.Duration) {
	t.Helper()
	select {
	case payload := <-s.Deliveries():
		t.Fatalf("unexpected delivery %+v", payload)
	case <-time.After(within):
	}
}

func TestSelectorDeliversAndStartsCooldown(t *testing.T) {
	selector, queues, m := newTestSelector(t, 7)
	runSelector(t, selector)

	queues.Add("a.test", "https://a.test/1")
	selector.Notify()

	payload := awaitDelivery(t, selector)
	if payload.Queue != "a.test" || payload.Message != "https://a.test/1" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	if !m.Exists(politeness.CooldownKey("a.test")) {
		t.Fatal("expected cooldown marker after dispatch")
	}
	if ttl := m.TTL(politeness.CooldownKey("a.test")); ttl != 7*time.Second {
		t.Fatalf("expected 7s cooldown ttl, got %v", ttl)
	}
}

func TestSelectorSkipsCoolingDomains(t *testing.T) {
	selector, queues, m := newTestSelector(t, 5)
	m.Set(politeness.CooldownKey("a.test"), "1")
	m.SetTTL(politeness.CooldownKey("a.test"), time.Minute)
	runSelector(t, selector)

	queues.Add("a.test", "https://a.test/1")
	queues.Add("b.test", "https://b.test/1")
	selector.Notify()

	payload := awaitDelivery(t, selector)
	if payload.Queue != "b.test" {
		t.Fatalf("expected the non-cooling domain, got %+v", payload)
	}

	// a.test stays parked while its marker lives.
	expectNoDelivery(t, selector, 150*time.Millisecond)

	// Marker gone: the next tick releases the parked URL.
	m.Del(politeness.CooldownKey("a.test"))
	payload = awaitDelivery(t, selector)
	if payload.Queue != "a.test" {
		t.Fatalf("expected a.test after its cooldown cleared, got %+v", payload)
	}
}

func TestSelectorRequeueRedelivers(t *testing.T) {
	selector, queues, m := newTestSelector(t, 5)
	runSelector(t, selector)

	queues.Add("a.test", "https://a.test/1")
	selector.Notify()

	payload := awaitDelivery(t, selector)

	// Simulate a failed handoff: the payload goes back to the tail and,
	// once the cooldown is gone, comes out again.
	selector.Requeue(payload)
	m.Del(politeness.CooldownKey("a.test"))

	again := awaitDelivery(t, selector)
	if again != payload {
		t.Fatalf("expected the same payload again, got %+v", again)
	}
}

func TestSelectorKeepsDrainingMultipleDomains(t *testing.T) {
	selector, queues, _ := newTestSelector(t, 5)
	runSelector(t, selector)

	queues.Add("a.test", "https://a.test/1")
	queues.Add("b.test", "https://b.test/1")
	queues.Add("c.test", "https://c.test/1")
	selector.Notify()

	// Distinct domains have independent cooldowns, so one notify is enough
	// to drain all three.
	got := map[string]string{}
	for i := 0; i < 3; i++ {
		payload := awaitDelivery(t, selector)
		got[payload.Queue] = payload.Message
	}
	if len(got) != 3 {
		t.Fatalf("expected one delivery per domain, got %v", got)
	}
}
