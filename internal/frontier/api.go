package frontier

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	bosunapi "dragnet/pkg/api/bosun"
	"dragnet/pkg/api/common"
	"dragnet/pkg/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Subscribers are internal services, not browsers.
		return true
	},
}

// API exposes the frontier over HTTP: publish appends URLs to their domain
// queues, subscribe streams selected URLs over a WebSocket.
type API struct {
	queues   *QueueSet
	selector *Selector
	logger   logging.Logger
	metrics  *Metrics
}

func NewAPI(queues *QueueSet, selector *Selector, logger logging.Logger, metrics *Metrics) (*API, error) {
	if queues == nil || selector == nil {
		return nil, errors.New("queue set and selector are required")
	}
	return &API{queues: queues, selector: selector, logger: logger, metrics: metrics}, nil
}

func (a *API) RegisterRoutes(router *gin.Engine) {
	router.POST("/v1/publish", a.handlePublish)
	router.GET("/v1/subscribe", a.handleSubscribe)
}

// handlePublish appends each payload to its domain queue. The endpoint
// never rejects and never deduplicates; payloads without a queue or message
// are dropped, everything else is accepted in order.
func (a *API) handlePublish(c *gin.Context) {
	var req bosunapi.PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "invalid request body"})
		return
	}

	accepted := 0
	for _, payload := range req.Payloads {
		if payload.Queue == "" || payload.Message == "" {
			a.logger.WithFields(logging.Fields{
				"queue":   payload.Queue,
				"message": payload.Message,
			}).Debug("Dropping incomplete payload")
			continue
		}
		a.queues.Add(payload.Queue, payload.Message)
		a.selector.Notify()
		accepted++
	}

	a.metrics.addMessages("published", accepted)
	a.metrics.observeQueues(a.queues)
	c.JSON(http.StatusOK, bosunapi.PublishResponse{Accepted: accepted})
}

// handleSubscribe upgrades to a WebSocket and forwards selected URLs, one
// JSON frame per URL. A frame the subscriber never received goes back to the
// tail of its domain queue, so a dropped connection loses nothing.
func (a *API) handleSubscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.WithError(err).Error("Failed to upgrade subscribe connection")
		return
	}

	sub := &subscriber{
		conn:     conn,
		selector: a.selector,
		logger:   a.logger.WithField("remote", conn.RemoteAddr().String()),
		metrics:  a.metrics,
		gone:     make(chan struct{}),
	}
	sub.logger.Info("Subscriber connected")

	go sub.readPump()
	sub.writePump()
}

// subscriber is one live subscribe stream.
type subscriber struct {
	conn     *websocket.Conn
	selector *Selector
	logger   logging.Entry
	metrics  *Metrics

	// gone closes when the read pump sees the connection die, which is how
	// the write pump learns about a subscriber that went away between
	// deliveries.
	gone chan struct{}
}

// readPump discards inbound frames; the stream is one-way. It exists to
// process control frames and to notice the peer disappearing.
func (s *subscriber) readPump() {
	defer close(s.gone)

	s.conn.SetReadLimit(1024)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.WithError(err).Debug("Subscriber read error")
			}
			return
		}
	}
}

// writePump forwards deliveries until the subscriber goes away. On any
// write failure the in-hand payload is requeued before the pump exits.
func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
		s.logger.Info("Subscriber disconnected")
	}()

	for {
		select {
		case <-s.gone:
			return

		case payload := <-s.selector.Deliveries():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(payload); err != nil {
				s.logger.WithError(err).WithField("url", payload.Message).Warn("Delivery failed, requeueing")
				s.selector.Requeue(payload)
				return
			}
			s.metrics.incMessage("delivered")

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
