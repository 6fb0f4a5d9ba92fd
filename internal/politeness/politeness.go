package politeness

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/temoto/robotstxt"

	"dragnet/pkg/clients"
	"dragnet/pkg/logging"
)

const (
	// robotsTTL is how long cached robots.txt content stays valid.
	robotsTTL = 30 * 24 * time.Hour

	// maxRobotsBody caps how much of a robots.txt response is read.
	maxRobotsBody = 512 * 1024
)

// RobotsKey returns the cache key for a host's robots.txt content.
func RobotsKey(host string) string { return "r:" + host }

// CooldownKey returns the cooldown marker key for a host.
func CooldownKey(host string) string { return "c:" + host }

// HostFromCooldownKey extracts the host from a cooldown marker key. ok is
// false for keys outside the cooldown namespace.
func HostFromCooldownKey(key string) (host string, ok bool) {
	return strings.CutPrefix(key, "c:")
}

// Service answers robots-exclusion questions and manages per-domain
// cooldown markers. Both live in redis so every replica sees the same
// politeness state. The politeness unit is url.Host, port included, so
// distinct ports are paced independently.
type Service struct {
	kv         redis.UniversalClient
	httpClient *http.Client
	userAgent  string
	logger     logging.Logger
}

// Config represents the configuration for the politeness service
type Config struct {
	KV        redis.UniversalClient
	UserAgent string
	Timeout   time.Duration
	Logger    logging.Logger
}

// NewService creates a politeness service
func NewService(config Config) *Service {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	return &Service{
		kv: config.KV,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: clients.DefaultTransport(),
		},
		userAgent: config.UserAgent,
		logger:    config.Logger,
	}
}

// Allowed reports whether the configured user agent may fetch the URL.
// Robots content is cached per host for 30 days; a missing or non-2xx
// robots.txt caches as empty content, which allows everything. Transport
// failures (robots fetch or redis) surface as errors so the caller can
// treat the visit as retryable.
func (s *Service) Allowed(ctx context.Context, u *url.URL) (bool, error) {
	host := u.Host
	if host == "" {
		return false, fmt.Errorf("url %q has no host", u.String())
	}

	content, err := s.kv.Get(ctx, RobotsKey(host)).Result()
	if err == redis.Nil {
		content, err = s.fetchRobots(ctx, u)
		if err != nil {
			return false, err
		}
		if err := s.kv.Set(ctx, RobotsKey(host), content, robotsTTL).Err(); err != nil {
			return false, fmt.Errorf("failed to cache robots.txt for %s: %w", host, err)
		}
		s.logger.WithField("host", host).Debug("Cached robots.txt")
	} else if err != nil {
		return false, fmt.Errorf("failed to read robots cache for %s: %w", host, err)
	}

	data, err := robotstxt.FromBytes([]byte(content))
	if err != nil {
		// Garbage robots.txt denies nothing.
		return true, nil
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	return data.FindGroup(s.userAgent).Test(path), nil
}

// fetchRobots retrieves robots.txt over the page URL's own scheme.
func (s *Service) fetchRobots(ctx context.Context, u *url.URL) (string, error) {
	robotsURL := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}

	req, err := http.NewRequestWithContext(ctx, "GET", robotsURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create robots request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch robots.txt for %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// No usable robots.txt for this host.
		return "", nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBody))
	if err != nil {
		return "", fmt.Errorf("failed to read robots.txt for %s: %w", u.Host, err)
	}

	return string(body), nil
}

// Cooldown marks the host ineligible for selection for the given number of
// seconds. Zero or negative seconds clears the marker immediately, so a
// skipped or failed visit does not keep a domain paused for work that never
// happened.
func (s *Service) Cooldown(ctx context.Context, host string, seconds int) error {
	return SetCooldown(ctx, s.kv, host, seconds)
}

// SetCooldown writes (or clears) a host's cooldown marker. The selection
// loop calls this directly after every dispatch; the crawler goes through
// Service.Cooldown.
func SetCooldown(ctx context.Context, kv redis.UniversalClient, host string, seconds int) error {
	if host == "" {
		return fmt.Errorf("cooldown host is empty")
	}

	if seconds <= 0 {
		if err := kv.Del(ctx, CooldownKey(host)).Err(); err != nil {
			return fmt.Errorf("failed to clear cooldown for %s: %w", host, err)
		}
		return nil
	}

	if err := kv.Set(ctx, CooldownKey(host), "1", time.Duration(seconds)*time.Second).Err(); err != nil {
		return fmt.Errorf("failed to set cooldown for %s: %w", host, err)
	}
	return nil
}

// CoolingSet reports which of the given hosts currently hold a cooldown
// marker, in a single round trip. Selection loops call this on every tick.
func CoolingSet(ctx context.Context, kv redis.UniversalClient, hosts []string) (map[string]bool, error) {
	if len(hosts) == 0 {
		return map[string]bool{}, nil
	}

	keys := make([]string, len(hosts))
	for i, h := range hosts {
		keys[i] = CooldownKey(h)
	}

	vals, err := kv.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cooldowns: %w", err)
	}

	cooling := make(map[string]bool, len(hosts))
	for i, v := range vals {
		if v != nil {
			cooling[hosts[i]] = true
		}
	}
	return cooling, nil
}
