package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/andydunstall/setdb/pkg/log"
)

const (
	writeTimeout = time.Second * 10
)

// conn is a connected channel.
//
// Outbound messages are queued and written by a separate goroutine, so a
// slow connection never blocks publishers.
type conn struct {
	id string
	ws *websocket.Conn

	// topics contains the topics the connection is subscribed to. Protected
	// by the relay mutex.
	topics map[string]struct{}

	sendCh  chan []byte
	closeCh chan struct{}
	once    sync.Once

	logger log.Logger
}

func newConn(id string, ws *websocket.Conn, sendQueueSize int, logger log.Logger) *conn {
	c := &conn{
		id:      id,
		ws:      ws,
		topics:  make(map[string]struct{}),
		sendCh:  make(chan []byte, sendQueueSize),
		closeCh: make(chan struct{}),
		logger:  logger,
	}
	go c.writeLoop()
	return c
}

// Send queues the message to write to the connection. Returns false if the
// queue is full.
func (c *conn) Send(b []byte) bool {
	select {
	case c.sendCh <- b:
		return true
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

func (c *conn) Close() {
	c.once.Do(func() {
		close(c.closeCh)
		c.ws.Close()
	})
}

func (c *conn) writeLoop() {
	for {
		select {
		case b := <-c.sendCh:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
				c.logger.Debug(
					"failed to write message",
					zap.String("channel-id", c.id),
					zap.Error(err),
				)
				c.Close()
				return
			}
		case <-c.closeCh:
			return
		}
	}
}
