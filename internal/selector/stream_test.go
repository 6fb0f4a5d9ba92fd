package selector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	bosunapi "dragnet/pkg/api/bosun"
	trawlerapi "dragnet/pkg/api/trawler"
	trawlerclient "dragnet/pkg/clients/trawler"
	"dragnet/pkg/logging"
)

// fakeStream replays scripted frames. Connect hands out a fresh empty
// channel on every reconnect after the scripted one is consumed.
type fakeStream struct {
	mu       sync.Mutex
	connects int
	first    chan bosunapi.URLPayload
	current  chan bosunapi.URLPayload
}

func newFakeStream(frames ...bosunapi.URLPayload) *fakeStream {
	ch := make(chan bosunapi.URLPayload, len(frames)+1)
	for _, f := range frames {
		ch <- f
	}
	return &fakeStream{first: ch, current: ch}
}

func (s *fakeStream) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.connects > 1 {
		s.current = make(chan bosunapi.URLPayload)
	}
	return nil
}

func (s *fakeStream) Deliveries() <-chan bosunapi.URLPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *fakeStream) Close() error { return nil }

func (s *fakeStream) connectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// fakeCrawler maps URLs to outcomes and signals each settled call. URLs
// listed in hold block until release is closed.
type fakeCrawler struct {
	mu       sync.Mutex
	outcomes map[string]trawlerclient.Outcome
	calls    []string

	started chan string
	release chan struct{}
	hold    map[string]bool
}

func newFakeCrawler() *fakeCrawler {
	return &fakeCrawler{
		outcomes: map[string]trawlerclient.Outcome{},
		started:  make(chan string, 16),
		release:  make(chan struct{}),
		hold:     map[string]bool{},
	}
}

func (c *fakeCrawler) Crawl(_ context.Context, url string) (trawlerclient.Outcome, *trawlerapi.CrawlResponse, error) {
	c.mu.Lock()
	c.calls = append(c.calls, url)
	outcome, ok := c.outcomes[url]
	held := c.hold[url]
	c.mu.Unlock()

	c.started <- url
	if held {
		<-c.release
	}
	if !ok {
		outcome = trawlerclient.OutcomeDone
	}

	switch outcome {
	case trawlerclient.OutcomeDone:
		return outcome, &trawlerapi.CrawlResponse{Status: trawlerapi.StatusAccepted}, nil
	case trawlerclient.OutcomeReject:
		return outcome, nil, errors.New("crawler rejected request (400)")
	default:
		return outcome, nil, errors.New("crawler error (500)")
	}
}

type fakeFrontier struct {
	mu        sync.Mutex
	published []bosunapi.URLPayload
	signal    chan bosunapi.URLPayload
}

func newFakeFrontier() *fakeFrontier {
	return &fakeFrontier{signal: make(chan bosunapi.URLPayload, 16)}
}

func (f *fakeFrontier) Publish(_ context.Context, payloads []bosunapi.URLPayload) error {
	f.mu.Lock()
	f.published = append(f.published, payloads...)
	f.mu.Unlock()
	for _, p := range payloads {
		f.signal <- p
	}
	return nil
}

func (f *fakeFrontier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func runStream(t *testing.T, r *StreamRunner) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
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
	return cancel
}

func awaitStart(t *testing.T, c *fakeCrawler) string {
	t.Helper()
	select {
	case url := <-c.started:
		return url
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a dispatch")
		return ""
	}
}

func TestStreamDispatchesFrames(t *testing.T) {
	stream := newFakeStream(
		bosunapi.URLPayload{Queue: "a.test", Message: "https://a.test/1"},
		bosunapi.URLPayload{Queue: "b.test", Message: "https://b.test/1"},
	)
	crawler := newFakeCrawler()
	frontier := newFakeFrontier()
	runner := NewStreamRunner(StreamConfig{
		Stream:   stream,
		Frontier: frontier,
		Crawler:  crawler,
		Logger:   logging.NewLogger(),
	})
	runStream(t, runner)

	got := map[string]bool{}
	got[awaitStart(t, crawler)] = true
	got[awaitStart(t, crawler)] = true
	if !got["https://a.test/1"] || !got["https://b.test/1"] {
		t.Fatalf("unexpected dispatches %v", got)
	}
	if frontier.count() != 0 {
		t.Fatalf("expected no republishes, got %d", frontier.count())
	}
}

func TestStreamRepublishesFailedDispatch(t *testing.T) {
	payload := bosunapi.URLPayload{Queue: "a.test", Message: "https://a.test/down"}
	stream := newFakeStream(payload)
	crawler := newFakeCrawler()
	crawler.outcomes[payload.Message] = trawlerclient.OutcomeRequeue
	frontier := newFakeFrontier()
	runner := NewStreamRunner(StreamConfig{
		Stream:   stream,
		Frontier: frontier,
		Crawler:  crawler,
		Logger:   logging.NewLogger(),
	})
	runStream(t, runner)

	select {
	case got := <-frontier.signal:
		if got != payload {
			t.Fatalf("republished %+v, want %+v", got, payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the republish")
	}
}

func TestStreamDropsRejectedDispatch(t *testing.T) {
	poison := bosunapi.URLPayload{Queue: "a.test", Message: "https://a.test/poison"}
	retried := bosunapi.URLPayload{Queue: "a.test", Message: "https://a.test/retried"}
	stream := newFakeStream(poison, retried)
	crawler := newFakeCrawler()
	crawler.outcomes[poison.Message] = trawlerclient.OutcomeReject
	crawler.outcomes[retried.Message] = trawlerclient.OutcomeRequeue
	frontier := newFakeFrontier()
	runner := NewStreamRunner(StreamConfig{
		Stream:   stream,
		Frontier: frontier,
		Crawler:  crawler,
		Logger:   logging.NewLogger(),
	})
	runStream(t, runner)

	// Dispatches are serialized (cap 1), so once the second frame's
	// republish lands, the poison frame has fully settled.
	select {
	case got := <-frontier.signal:
		if got != retried {
			t.Fatalf("republished %+v, want %+v", got, retried)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the republish")
	}
	if frontier.count() != 1 {
		t.Fatalf("expected the poison URL to be dropped, got %d republishes", frontier.count())
	}
}

func TestStreamCapsInFlightCrawls(t *testing.T) {
	first := bosunapi.URLPayload{Queue: "a.test", Message: "https://a.test/slow"}
	second := bosunapi.URLPayload{Queue: "b.test", Message: "https://b.test/fast"}
	stream := newFakeStream(first, second)
	crawler := newFakeCrawler()
	crawler.hold[first.Message] = true
	runner := NewStreamRunner(StreamConfig{
		Stream:     stream,
		Frontier:   newFakeFrontier(),
		Crawler:    crawler,
		Concurrent: 1,
		Logger:     logging.NewLogger(),
	})
	runStream(t, runner)

	if url := awaitStart(t, crawler); url != first.Message {
		t.Fatalf("expected the first frame to dispatch first, got %q", url)
	}

	select {
	case url := <-crawler.started:
		t.Fatalf("second dispatch %q started before the first released its slot", url)
	case <-time.After(100 * time.Millisecond):
	}

	close(crawler.release)
	if url := awaitStart(t, crawler); url != second.Message {
		t.Fatalf("expected the second frame after release, got %q", url)
	}
}

func TestStreamReconnectsAfterStreamDrop(t *testing.T) {
	stream := newFakeStream()
	close(stream.first)
	runner := NewStreamRunner(StreamConfig{
		Stream:         stream,
		Frontier:       newFakeFrontier(),
		Crawler:        newFakeCrawler(),
		ReconnectDelay: 10 * time.Millisecond,
		Logger:         logging.NewLogger(),
	})
	runStream(t, runner)

	deadline := time.After(5 * time.Second)
	for stream.connectCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("runner never reconnected")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
