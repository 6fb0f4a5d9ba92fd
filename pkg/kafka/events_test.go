package kafka

import (
	"encoding/json"
	"testing"
)

func TestNewCrawlEvent(t *testing.T) {
	ev := NewCrawlEvent("trawler", "https://example.com/a", "example.com", CrawlStatusCrawled)
	if ev.EventID == "" {
		t.Fatalf("expected event id")
	}
	if ev.Timestamp.IsZero() {
		t.Fatalf("expected timestamp")
	}
	if ev.SchemaVersion != "1.0" {
		t.Fatalf("expected schema version 1.0, got %q", ev.SchemaVersion)
	}
	if ev.Status != "crawled" {
		t.Fatalf("expected crawled status, got %q", ev.Status)
	}
}

func TestCrawlEventOmitsEmptyFields(t *testing.T) {
	ev := NewCrawlEvent("trawler", "https://example.com/a", "example.com", CrawlStatusSkipped)
	ev.Reason = "robots"

	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := decoded["error"]; present {
		t.Fatalf("expected empty error to be omitted")
	}
	if decoded["reason"] != "robots" {
		t.Fatalf("expected reason robots, got %v", decoded["reason"])
	}
}
