package bosun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dragnet/pkg/api/bosun"
	"dragnet/pkg/clients"
	"dragnet/pkg/logging"
)

// Client talks to the frontier service: HTTP publish for discovered URLs
// and the WebSocket subscribe stream for selected ones.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger

	mutex      sync.RWMutex
	conn       *websocket.Conn
	deliveries chan bosun.URLPayload
	stopChan   chan struct{}
	connected  bool
}

// Config represents the configuration for the frontier client
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  logging.Logger
}

// NewClient creates a new frontier client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: clients.DefaultTransport(),
		},
		logger: config.Logger,
	}
}

// Publish appends URLs to their per-domain queues. A single attempt: the
// caller decides whether a failed batch fails the crawl.
func (c *Client) Publish(ctx context.Context, payloads []bosun.URLPayload) error {
	jsonBody, err := json.Marshal(bosun.PublishRequest{Payloads: payloads})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/v1/publish"

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call frontier: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("frontier error (%d): %s", resp.StatusCode, string(body))
	}

	return nil
}

// Connect dials the frontier subscribe stream. Frames arrive on Deliveries
// until the connection drops; reconnecting is the caller's loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.connected {
		return fmt.Errorf("client is already connected")
	}

	wsURL, err := c.buildWebSocketURL("/v1/subscribe")
	if err != nil {
		return err
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 30 * time.Second

	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect to WebSocket (status: %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	c.conn = conn
	c.connected = true
	c.deliveries = make(chan bosun.URLPayload, 16)
	c.stopChan = make(chan struct{})

	done := make(chan struct{})
	go c.readPump(conn, c.deliveries, c.stopChan, done)
	go c.writePump(conn, c.stopChan, done)

	c.logger.WithField("url", wsURL).Info("Subscribed to frontier stream")
	return nil
}

// buildWebSocketURL converts the HTTP base URL into its ws/wss equivalent.
func (c *Client) buildWebSocketURL(endpoint string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid frontier base URL %q: %w", c.baseURL, err)
	}

	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}

	wsURL := &url.URL{
		Scheme: scheme,
		Host:   u.Host,
		Path:   endpoint,
	}

	return wsURL.String(), nil
}

// Deliveries returns the channel of frames pushed by the frontier. The
// channel closes when the connection drops.
func (c *Client) Deliveries() <-chan bosun.URLPayload {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.deliveries
}

// IsConnected returns whether the subscribe stream is up
func (c *Client) IsConnected() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.connected
}

// Close closes the subscribe stream
func (c *Client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.connected {
		return nil
	}

	close(c.stopChan)
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
	c.connected = false

	c.logger.Info("Disconnected from frontier stream")
	return nil
}

// readPump reads frames off the connection. It owns the deliveries channel:
// the channel closes exactly when this pump exits.
func (c *Client) readPump(conn *websocket.Conn, deliveries chan<- bosun.URLPayload, stop <-chan struct{}, done chan<- struct{}) {
	defer func() {
		c.mutex.Lock()
		c.connected = false
		c.mutex.Unlock()

		conn.Close()
		close(deliveries)
		close(done)
	}()

	conn.SetReadLimit(64 * 1024)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var payload bosun.URLPayload
		if err := conn.ReadJSON(&payload); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Error("Frontier stream read error")
			}
			return
		}

		// A frame is a popped queue entry; dropping it here would lose the
		// URL. A slow consumer back-pressures the stream instead.
		select {
		case deliveries <- payload:
		case <-stop:
			return
		}
	}
}

// writePump keeps the connection alive with pings
func (c *Client) writePump(conn *websocket.Conn, stop <-chan struct{}, done <-chan struct{}) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.WithError(err).Error("Failed to send ping")
				return
			}
		}
	}
}
