package trawler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"dragnet/pkg/api/trawler"
	"dragnet/pkg/logging"
)

func newTestClient(url string) *Client {
	return NewClient(Config{BaseURL: url, Logger: logging.NewLogger()})
}

func TestCrawlAcceptedIsDone(t *testing.T) {
	var got trawler.CrawlRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/crawl" {
			t.Errorf("expected /v1/crawl, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(trawler.CrawlResponse{Status: trawler.StatusAccepted})
	}))
	defer ts.Close()

	outcome, resp, err := newTestClient(ts.URL).Crawl(context.Background(), "https://example.com/")
	if err != nil {
		t.Fatalf("Crawl failed: %v", err)
	}
	if outcome != OutcomeDone {
		t.Fatalf("expected done, got %s", outcome)
	}
	if resp == nil || resp.Status != trawler.StatusAccepted {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if got.URL != "https://example.com/" {
		t.Fatalf("unexpected request url: %q", got.URL)
	}
}

func TestCrawlSkipIsDone(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(trawler.CrawlResponse{
			Status: trawler.StatusSkipped,
			Reason: trawler.ReasonRobots,
		})
	}))
	defer ts.Close()

	outcome, resp, err := newTestClient(ts.URL).Crawl(context.Background(), "https://example.com/admin")
	if err != nil {
		t.Fatalf("Crawl failed: %v", err)
	}
	if outcome != OutcomeDone {
		t.Fatalf("expected done, got %s", outcome)
	}
	if resp == nil || resp.Reason != trawler.ReasonRobots {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCrawlBadRequestIsReject(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "invalid url"}`, http.StatusBadRequest)
	}))
	defer ts.Close()

	outcome, _, err := newTestClient(ts.URL).Crawl(context.Background(), "not a url")
	if outcome != OutcomeReject {
		t.Fatalf("expected reject, got %s", outcome)
	}
	if err == nil {
		t.Fatal("expected error describing the rejection")
	}
}

func TestCrawlServerErrorIsRequeue(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "fetch timeout"}`, http.StatusInternalServerError)
	}))
	defer ts.Close()

	outcome, _, err := newTestClient(ts.URL).Crawl(context.Background(), "https://example.com/")
	if outcome != OutcomeRequeue {
		t.Fatalf("expected requeue, got %s", outcome)
	}
	if err == nil {
		t.Fatal("expected error describing the failure")
	}
}

func TestCrawlTransportErrorIsRequeue(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close() // connection refused

	outcome, _, err := newTestClient(ts.URL).Crawl(context.Background(), "https://example.com/")
	if outcome != OutcomeRequeue {
		t.Fatalf("expected requeue, got %s", outcome)
	}
	if err == nil {
		t.Fatal("expected transport error")
	}
}
