// Package relay implements the hub publish/subscribe relay.
//
// Each node connects to the relay with a WebSocket connection, subscribes to
// topics, then publishes messages which the relay forwards to every
// subscriber of the topic, including the publisher. The relay stamps each
// forwarded message with the ID the publisher connected with.
package relay

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/andydunstall/setdb/pkg/log"
	"github.com/andydunstall/setdb/pkg/pubsub"
)

type Relay struct {
	// conns contains all connected channels.
	conns map[*conn]struct{}
	// topics contains the subscribed connections for each topic.
	topics map[string]map[*conn]struct{}
	mu     sync.Mutex

	closed bool

	upgrader websocket.Upgrader

	sendQueueSize int

	metrics *Metrics
	logger  log.Logger
}

func NewRelay(sendQueueSize int, logger log.Logger) *Relay {
	return &Relay{
		conns:         make(map[*conn]struct{}),
		topics:        make(map[string]map[*conn]struct{}),
		sendQueueSize: sendQueueSize,
		metrics:       NewMetrics(),
		logger:        logger.WithSubsystem("hub.relay"),
	}
}

// Topics returns the number of subscribed connections for each topic.
func (r *Relay) Topics() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics := make(map[string]int, len(r.topics))
	for topic, conns := range r.topics {
		topics[topic] = len(conns)
	}
	return topics
}

// Close closes all connections and rejects new connections.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for conn := range r.conns {
		conn.Close()
	}
}

func (r *Relay) Metrics() *Metrics {
	return r.metrics
}

// Handler upgrades the request to a WebSocket connection and serves the
// connection until it closes.
//
// The channel ID is given by the 'id' query parameter.
func (r *Relay) Handler(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing id"})
		return
	}

	wsConn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader writes the error response.
		r.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	conn := newConn(id, wsConn, r.sendQueueSize, r.logger)
	if !r.addConn(conn) {
		conn.Close()
		return
	}
	r.metrics.Connections.Inc()

	r.logger.Debug(
		"channel connected",
		zap.String("channel-id", id),
		zap.String("addr", wsConn.RemoteAddr().String()),
	)

	r.serve(conn)

	r.removeConn(conn)
	conn.Close()
	r.metrics.Connections.Dec()

	r.logger.Debug("channel disconnected", zap.String("channel-id", id))
}

func (r *Relay) serve(conn *conn) {
	for {
		mt, b, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			r.logger.Warn(
				"unexpected message type",
				zap.String("channel-id", conn.id),
				zap.Int("type", mt),
			)
			return
		}

		e, err := pubsub.DecodeEnvelope(b)
		if err != nil {
			r.logger.Warn(
				"failed to decode envelope",
				zap.String("channel-id", conn.id),
				zap.Error(err),
			)
			return
		}

		switch e.Type {
		case pubsub.EnvelopeTypeSubscribe:
			r.subscribe(conn, e.Topic)
		case pubsub.EnvelopeTypeUnsubscribe:
			r.unsubscribe(conn, e.Topic)
		case pubsub.EnvelopeTypePublish:
			r.publish(conn, e.Topic, e.Data)
		default:
			r.logger.Warn(
				"unexpected envelope type",
				zap.String("channel-id", conn.id),
				zap.String("type", e.Type.String()),
			)
		}
	}
}

func (r *Relay) subscribe(c *conn, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.topics[topic]
	if !ok {
		conns = make(map[*conn]struct{})
		r.topics[topic] = conns
	}
	if _, ok := conns[c]; ok {
		return
	}
	conns[c] = struct{}{}
	c.topics[topic] = struct{}{}
	r.metrics.Subscriptions.Inc()
}

func (r *Relay) unsubscribe(conn *conn, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unsubscribeLocked(conn, topic)
}

func (r *Relay) unsubscribeLocked(conn *conn, topic string) {
	conns, ok := r.topics[topic]
	if !ok {
		return
	}
	if _, ok := conns[conn]; !ok {
		return
	}
	delete(conns, conn)
	delete(conn.topics, topic)
	if len(conns) == 0 {
		delete(r.topics, topic)
	}
	r.metrics.Subscriptions.Dec()
}

func (r *Relay) publish(from *conn, topic string, data []byte) {
	r.metrics.MessagesPublished.Inc()

	b, err := pubsub.EncodeEnvelope(&pubsub.Envelope{
		Type:  pubsub.EnvelopeTypeMessage,
		Topic: topic,
		From:  from.id,
		Data:  data,
	})
	if err != nil {
		r.logger.Error("failed to encode envelope", zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for conn := range r.topics[topic] {
		if !conn.Send(b) {
			r.logger.Warn(
				"slow consumer; closing connection",
				zap.String("channel-id", conn.id),
			)
			r.metrics.SlowConsumers.Inc()
			// Closing the connection causes its handler to remove it.
			conn.Close()
			continue
		}
		r.metrics.MessagesDelivered.Inc()
	}
}

func (r *Relay) addConn(conn *conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	r.conns[conn] = struct{}{}
	return true
}

func (r *Relay) removeConn(conn *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, conn)

	for topic := range conn.topics {
		r.unsubscribeLocked(conn, topic)
	}
}
