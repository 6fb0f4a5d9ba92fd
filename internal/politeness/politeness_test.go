package politeness

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"dragnet/pkg/logging"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	kv := redis.NewClient(&redis.Options{Addr: m.Addr()})
	svc := NewService(Config{
		KV:        kv,
		UserAgent: "dragnet/0.0.0-test",
		Logger:    logging.NewLogger(),
	})
	return svc, m
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse %q: %v", raw, err)
	}
	return u
}

func TestAllowedFetchesCachesAndEvaluates(t *testing.T) {
	var fetches int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			t.Errorf("expected /robots.txt, got %s", r.URL.Path)
		}
		atomic.AddInt32(&fetches, 1)
		w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	}))
	defer ts.Close()

	svc, m := newTestService(t)
	ctx := context.Background()

	allowed, err := svc.Allowed(ctx, mustParse(t, ts.URL+"/public/page"))
	if err != nil {
		t.Fatalf("Allowed failed: %v", err)
	}
	if !allowed {
		t.Fatal("expected /public/page to be allowed")
	}

	allowed, err = svc.Allowed(ctx, mustParse(t, ts.URL+"/private/page"))
	if err != nil {
		t.Fatalf("Allowed failed: %v", err)
	}
	if allowed {
		t.Fatal("expected /private/page to be disallowed")
	}

	if got := atomic.LoadInt32(&fetches); got != 1 {
		t.Fatalf("expected one robots fetch, got %d", got)
	}

	host := mustParse(t, ts.URL).Host
	if ttl := m.TTL(RobotsKey(host)); ttl != 30*24*time.Hour {
		t.Fatalf("expected 30 day ttl on robots cache, got %v", ttl)
	}
}

func TestAllowedUsesCachedContent(t *testing.T) {
	svc, m := newTestService(t)
	m.Set(RobotsKey("example.com"), "User-agent: *\nDisallow: /\n")

	allowed, err := svc.Allowed(context.Background(), mustParse(t, "http://example.com/anything"))
	if err != nil {
		t.Fatalf("Allowed failed: %v", err)
	}
	if allowed {
		t.Fatal("expected cached disallow-all to deny the url")
	}
}

func TestAllowedAgentGroupPreferredOverWildcard(t *testing.T) {
	svc, m := newTestService(t)
	m.Set(RobotsKey("example.com"), "User-agent: *\nDisallow:\n\nUser-agent: dragnet\nDisallow: /drafts\n")

	ctx := context.Background()
	allowed, err := svc.Allowed(ctx, mustParse(t, "http://example.com/drafts/x"))
	if err != nil {
		t.Fatalf("Allowed failed: %v", err)
	}
	if allowed {
		t.Fatal("expected the dragnet group to deny /drafts")
	}

	allowed, err = svc.Allowed(ctx, mustParse(t, "http://example.com/published"))
	if err != nil {
		t.Fatalf("Allowed failed: %v", err)
	}
	if !allowed {
		t.Fatal("expected /published to be allowed")
	}
}

func TestAllowedNotFoundCachesEmptyAllowAll(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	svc, m := newTestService(t)

	allowed, err := svc.Allowed(context.Background(), mustParse(t, ts.URL+"/page"))
	if err != nil {
		t.Fatalf("Allowed failed: %v", err)
	}
	if !allowed {
		t.Fatal("expected allow-all when robots.txt is missing")
	}

	host := mustParse(t, ts.URL).Host
	cached, err := m.Get(RobotsKey(host))
	if err != nil {
		t.Fatalf("expected cached entry: %v", err)
	}
	if cached != "" {
		t.Fatalf("expected empty cached content, got %q", cached)
	}
}

func TestAllowedFetchFailureSurfacesError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close() // connection refused

	svc, m := newTestService(t)

	if _, err := svc.Allowed(context.Background(), mustParse(t, ts.URL+"/page")); err == nil {
		t.Fatal("expected transport error to surface")
	}

	host := mustParse(t, ts.URL).Host
	if m.Exists(RobotsKey(host)) {
		t.Fatal("expected nothing cached after a failed fetch")
	}
}

func TestAllowedRequiresHost(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Allowed(context.Background(), mustParse(t, "/relative/path")); err == nil {
		t.Fatal("expected error for url without host")
	}
}

func TestCooldownSetAndClear(t *testing.T) {
	svc, m := newTestService(t)
	ctx := context.Background()

	if err := svc.Cooldown(ctx, "example.com:8080", 5); err != nil {
		t.Fatalf("Cooldown failed: %v", err)
	}
	if !m.Exists(CooldownKey("example.com:8080")) {
		t.Fatal("expected cooldown marker to exist")
	}
	if ttl := m.TTL(CooldownKey("example.com:8080")); ttl != 5*time.Second {
		t.Fatalf("expected 5s ttl, got %v", ttl)
	}

	if err := svc.Cooldown(ctx, "example.com:8080", 0); err != nil {
		t.Fatalf("Cooldown clear failed: %v", err)
	}
	if m.Exists(CooldownKey("example.com:8080")) {
		t.Fatal("expected cooldown marker to be cleared")
	}
}

func TestCoolingSet(t *testing.T) {
	m := miniredis.RunT(t)
	kv := redis.NewClient(&redis.Options{Addr: m.Addr()})
	m.Set(CooldownKey("a.com"), "1")

	cooling, err := CoolingSet(context.Background(), kv, []string{"a.com", "b.com"})
	if err != nil {
		t.Fatalf("CoolingSet failed: %v", err)
	}
	if !cooling["a.com"] {
		t.Fatal("expected a.com to be cooling")
	}
	if cooling["b.com"] {
		t.Fatal("expected b.com to be eligible")
	}

	empty, err := CoolingSet(context.Background(), kv, nil)
	if err != nil {
		t.Fatalf("CoolingSet on empty input failed: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty result, got %v", empty)
	}
}
