package pubsub

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/andydunstall/setdb/pkg/backoff"
	"github.com/andydunstall/setdb/pkg/log"
)

const (
	minReconnectBackoff = time.Millisecond * 100
	maxReconnectBackoff = time.Second * 15
)

type dialOptions struct {
	id          string
	timeout     time.Duration
	onReconnect func()
	logger      log.Logger
}

type DialOption interface {
	apply(*dialOptions)
}

type idOption string

func (o idOption) apply(opts *dialOptions) {
	opts.id = string(o)
}

// WithID configures the channel ID attached to published messages. Defaults
// to a random UUID.
func WithID(id string) DialOption {
	return idOption(id)
}

type timeoutOption time.Duration

func (o timeoutOption) apply(opts *dialOptions) {
	opts.timeout = time.Duration(o)
}

// WithTimeout configures the websocket handshake timeout.
func WithTimeout(timeout time.Duration) DialOption {
	return timeoutOption(timeout)
}

type reconnectOption func()

func (o reconnectOption) apply(opts *dialOptions) {
	opts.onReconnect = o
}

// WithOnReconnect configures a function called each time the channel
// reconnects and resubscribes to its topics. Messages published while
// disconnected are lost, so this can be used to resync with peers.
//
// The function is called from its own goroutine.
func WithOnReconnect(f func()) DialOption {
	return reconnectOption(f)
}

type loggerOption struct {
	Logger log.Logger
}

func (o loggerOption) apply(opts *dialOptions) {
	opts.logger = o.Logger
}

func WithLogger(logger log.Logger) DialOption {
	return loggerOption{Logger: logger}
}

// WebsocketChannel is a channel connected to a hub using a WebSocket
// connection.
//
// If the connection drops, the channel reconnects with backoff and
// resubscribes to its topics. Messages published while disconnected fail
// with ErrNotConnected.
type WebsocketChannel struct {
	url *url.URL
	id  string

	dialer *websocket.Dialer

	// subs contains the subscriptions for each topic.
	subs   map[string]map[*websocketSubscription]struct{}
	subsMu sync.Mutex

	// conn is the connection to the hub, or nil if disconnected.
	conn   *websocket.Conn
	connMu sync.Mutex

	// writeMu serialises writes since gorilla/websocket connections support
	// only one concurrent writer.
	writeMu sync.Mutex

	onReconnect func()

	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup

	logger log.Logger
}

// Dial connects to the hub pub/sub endpoint at the given URL, such as
// 'ws://localhost:8000/v1/pubsub'.
func Dial(ctx context.Context, hubURL string, opts ...DialOption) (*WebsocketChannel, error) {
	options := dialOptions{
		id:      uuid.New().String(),
		timeout: time.Second * 15,
		logger:  log.NewNopLogger(),
	}
	for _, o := range opts {
		o.apply(&options)
	}

	u, err := url.Parse(hubURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	query := u.Query()
	query.Set("id", options.id)
	u.RawQuery = query.Encode()

	runCtx, cancel := context.WithCancel(context.Background())
	c := &WebsocketChannel{
		url: u,
		id:  options.id,
		dialer: &websocket.Dialer{
			HandshakeTimeout: options.timeout,
		},
		subs:        make(map[string]map[*websocketSubscription]struct{}),
		onReconnect: options.onReconnect,
		ctx:         runCtx,
		cancel:      cancel,
		logger: options.logger.WithSubsystem("pubsub").With(
			zap.String("channel-id", options.id),
		),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	c.conn = conn

	c.logger.Info("connected to hub", zap.String("url", c.url.Redacted()))

	c.wg.Add(1)
	go c.run(conn)

	return c, nil
}

func (c *WebsocketChannel) ID() string {
	return c.id
}

func (c *WebsocketChannel) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.write(&Envelope{
		Type:  EnvelopeTypePublish,
		Topic: topic,
		Data:  data,
	})
}

func (c *WebsocketChannel) Subscribe(
	ctx context.Context,
	topic string,
	handler Handler,
) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.ctx.Err() != nil {
		return nil, ErrClosed
	}

	sub := &websocketSubscription{
		channel: c,
		topic:   topic,
		handler: handler,
	}

	c.subsMu.Lock()
	subs, ok := c.subs[topic]
	if !ok {
		subs = make(map[*websocketSubscription]struct{})
		c.subs[topic] = subs
	}
	subs[sub] = struct{}{}
	first := !ok
	c.subsMu.Unlock()

	if first {
		err := c.write(&Envelope{
			Type:  EnvelopeTypeSubscribe,
			Topic: topic,
		})
		// If disconnected the topic is subscribed once reconnected.
		if err != nil && err != ErrNotConnected {
			c.removeSubscription(sub)
			return nil, fmt.Errorf("subscribe: %w", err)
		}
	}

	return sub, nil
}

func (c *WebsocketChannel) Unsubscribe(s Subscription) error {
	sub, ok := s.(*websocketSubscription)
	if !ok || sub.channel != c {
		return ErrUnknownSubscription
	}

	removed, last := c.removeSubscription(sub)
	if !removed {
		return ErrUnknownSubscription
	}
	if last {
		// If disconnected the hub has already dropped the subscription.
		err := c.write(&Envelope{
			Type:  EnvelopeTypeUnsubscribe,
			Topic: sub.topic,
		})
		if err != nil && err != ErrNotConnected && err != ErrClosed {
			return fmt.Errorf("unsubscribe: %w", err)
		}
	}
	return nil
}

// Close closes the connection to the hub and stops reconnecting.
func (c *WebsocketChannel) Close() error {
	c.cancel()

	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	c.wg.Wait()

	return err
}

func (c *WebsocketChannel) run(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		err := c.read(conn)
		if c.ctx.Err() != nil {
			return
		}

		c.logger.Warn("disconnected from hub", zap.Error(err))

		c.connMu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.connMu.Unlock()
		conn.Close()

		conn = c.reconnect()
		if conn == nil {
			return
		}
	}
}

func (c *WebsocketChannel) read(conn *websocket.Conn) error {
	for {
		mt, b, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.BinaryMessage {
			return fmt.Errorf("unexpected message type: %d", mt)
		}

		e, err := DecodeEnvelope(b)
		if err != nil {
			c.logger.Warn("failed to decode envelope", zap.Error(err))
			continue
		}
		if e.Type != EnvelopeTypeMessage {
			c.logger.Warn(
				"unexpected envelope type",
				zap.String("type", e.Type.String()),
			)
			continue
		}

		for _, sub := range c.subscriptions(e.Topic) {
			sub.handler(e.Data, e.From)
		}
	}
}

// reconnect dials the hub until it connects or the channel is closed. Once
// reconnected it resubscribes to each topic.
func (c *WebsocketChannel) reconnect() *websocket.Conn {
	retry := backoff.New(0, minReconnectBackoff, maxReconnectBackoff)
	for {
		if !retry.Wait(c.ctx) {
			return nil
		}

		conn, err := c.dial(c.ctx)
		if err != nil {
			c.logger.Warn(
				"failed to reconnect to hub",
				zap.Int("attempts", retry.Attempts()),
				zap.Error(err),
			)
			continue
		}

		c.connMu.Lock()
		if c.ctx.Err() != nil {
			c.connMu.Unlock()
			conn.Close()
			return nil
		}
		c.conn = conn
		c.connMu.Unlock()

		if err := c.resubscribe(); err != nil {
			c.logger.Warn("failed to resubscribe", zap.Error(err))
			// The read loop will see the broken connection and reconnect.
		}

		c.logger.Info("reconnected to hub")

		if c.onReconnect != nil {
			go c.onReconnect()
		}
		return conn
	}
}

func (c *WebsocketChannel) resubscribe() error {
	c.subsMu.Lock()
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.subsMu.Unlock()

	for _, topic := range topics {
		err := c.write(&Envelope{
			Type:  EnvelopeTypeSubscribe,
			Topic: topic,
		})
		if err != nil {
			return fmt.Errorf("subscribe: %s: %w", topic, err)
		}
	}
	return nil
}

func (c *WebsocketChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.url.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, fmt.Errorf("dial: %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

func (c *WebsocketChannel) write(e *Envelope) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}

	b, err := EncodeEnvelope(e)
	if err != nil {
		return err
	}

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return conn.WriteMessage(websocket.BinaryMessage, b)
}

func (c *WebsocketChannel) subscriptions(topic string) []*websocketSubscription {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	subs := make([]*websocketSubscription, 0, len(c.subs[topic]))
	for sub := range c.subs[topic] {
		subs = append(subs, sub)
	}
	return subs
}

// removeSubscription removes the subscription. Returns whether the
// subscription was found and whether it was the last subscription for its
// topic.
func (c *WebsocketChannel) removeSubscription(sub *websocketSubscription) (bool, bool) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	subs, ok := c.subs[sub.topic]
	if !ok {
		return false, false
	}
	if _, ok := subs[sub]; !ok {
		return false, false
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(c.subs, sub.topic)
		return true, true
	}
	return true, false
}

type websocketSubscription struct {
	channel *WebsocketChannel
	topic   string
	handler Handler
}

func (s *websocketSubscription) Topic() string {
	return s.topic
}

var _ Subscription = &websocketSubscription{}
