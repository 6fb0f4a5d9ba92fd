package bosun

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"dragnet/pkg/api/bosun"
	"dragnet/pkg/logging"
)

func TestPublishSendsBatch(t *testing.T) {
	var got bosun.PublishRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/publish" {
			t.Errorf("expected /v1/publish, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(bosun.PublishResponse{Accepted: len(got.Payloads)})
	}))
	defer ts.Close()

	client := NewClient(Config{BaseURL: ts.URL, Logger: logging.NewLogger()})

	payloads := []bosun.URLPayload{
		{Queue: "example.com", Message: "https://example.com/a"},
		{Queue: "other.org", Message: "https://other.org/b"},
	}
	if err := client.Publish(context.Background(), payloads); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(got.Payloads) != 2 {
		t.Fatalf("expected 2 payloads, got %d", len(got.Payloads))
	}
	if got.Payloads[0].Queue != "example.com" || got.Payloads[1].Message != "https://other.org/b" {
		t.Fatalf("unexpected payloads: %+v", got.Payloads)
	}
}

func TestPublishErrorsOnServerFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue store down", http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(Config{BaseURL: ts.URL, Logger: logging.NewLogger()})

	err := client.Publish(context.Background(), []bosun.URLPayload{{Queue: "a", Message: "b"}})
	if err == nil {
		t.Fatal("expected error from 500")
	}
}

func TestSubscribeReceivesFramesUntilClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	frames := []bosun.URLPayload{
		{Queue: "example.com", Message: "https://example.com/1"},
		{Queue: "example.com", Message: "https://example.com/2"},
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/subscribe" {
			t.Errorf("expected /v1/subscribe, got %s", r.URL.Path)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		for _, f := range frames {
			if err := conn.WriteJSON(f); err != nil {
				t.Errorf("write failed: %v", err)
			}
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}))
	defer ts.Close()

	client := NewClient(Config{BaseURL: ts.URL, Logger: logging.NewLogger()})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	var received []bosun.URLPayload
	deadline := time.After(2 * time.Second)
	deliveries := client.Deliveries()
	for {
		select {
		case p, ok := <-deliveries:
			if !ok {
				if len(received) != 2 {
					t.Fatalf("expected 2 frames before close, got %d", len(received))
				}
				if received[0].Message != "https://example.com/1" || received[1].Message != "https://example.com/2" {
					t.Fatalf("unexpected frames: %+v", received)
				}
				return
			}
			received = append(received, p)
		case <-deadline:
			t.Fatalf("timed out waiting for frames, got %d", len(received))
		}
	}
}

func TestConnectTwiceFails(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}))
	defer ts.Close()

	client := NewClient(Config{BaseURL: ts.URL, Logger: logging.NewLogger()})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("expected second Connect to fail while connected")
	}
	if !client.IsConnected() {
		t.Fatal("expected client to remain connected")
	}
}
