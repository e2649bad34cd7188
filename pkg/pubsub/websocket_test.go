package pubsub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHub relays published messages to subscribed connections.
type fakeHub struct {
	upgrader websocket.Upgrader

	conns map[*websocket.Conn]map[string]struct{}
	ids   map[*websocket.Conn]string
	mu    sync.Mutex
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		conns: make(map[*websocket.Conn]map[string]struct{}),
		ids:   make(map[*websocket.Conn]string),
	}
}

func (h *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	h.mu.Lock()
	h.conns[conn] = make(map[string]struct{})
	h.ids[conn] = r.URL.Query().Get("id")
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		delete(h.ids, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return
		}
		e, err := DecodeEnvelope(b)
		if err != nil {
			return
		}

		h.mu.Lock()
		switch e.Type {
		case EnvelopeTypeSubscribe:
			h.conns[conn][e.Topic] = struct{}{}
		case EnvelopeTypeUnsubscribe:
			delete(h.conns[conn], e.Topic)
		case EnvelopeTypePublish:
			msg, _ := EncodeEnvelope(&Envelope{
				Type:  EnvelopeTypeMessage,
				Topic: e.Topic,
				From:  h.ids[conn],
				Data:  e.Data,
			})
			for c, topics := range h.conns {
				if _, ok := topics[e.Topic]; ok {
					_ = c.WriteMessage(websocket.BinaryMessage, msg)
				}
			}
		}
		h.mu.Unlock()
	}
}

func (h *fakeHub) subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, topics := range h.conns {
		if _, ok := topics[topic]; ok {
			n++
		}
	}
	return n
}

// drop closes all connections.
func (h *fakeHub) drop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.conns {
		c.Close()
	}
}

func hubURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/pubsub"
}

func TestWebsocketChannel(t *testing.T) {
	t.Run("publish", func(t *testing.T) {
		hub := newFakeHub()
		server := httptest.NewServer(hub)
		defer server.Close()

		a, err := Dial(context.TODO(), hubURL(server), WithID("a"))
		require.NoError(t, err)
		defer a.Close()
		b, err := Dial(context.TODO(), hubURL(server), WithID("b"))
		require.NoError(t, err)
		defer b.Close()

		assert.Equal(t, "a", a.ID())

		var r recorder
		_, err = b.Subscribe(context.TODO(), "my-topic", r.handle)
		require.NoError(t, err)
		assert.Eventually(t, func() bool {
			return hub.subscribers("my-topic") == 1
		}, time.Second, time.Millisecond*10)

		require.NoError(t, a.Publish(context.TODO(), "my-topic", []byte("1")))
		require.NoError(t, a.Publish(context.TODO(), "my-topic", []byte("2")))

		assert.Eventually(t, func() bool {
			return assert.ObjectsAreEqual([]received{
				{Data: "1", From: "a"},
				{Data: "2", From: "a"},
			}, r.received())
		}, time.Second, time.Millisecond*10)
	})

	t.Run("default id", func(t *testing.T) {
		hub := newFakeHub()
		server := httptest.NewServer(hub)
		defer server.Close()

		a, err := Dial(context.TODO(), hubURL(server))
		require.NoError(t, err)
		defer a.Close()
		b, err := Dial(context.TODO(), hubURL(server))
		require.NoError(t, err)
		defer b.Close()

		assert.NotEmpty(t, a.ID())
		assert.NotEqual(t, a.ID(), b.ID())
	})

	t.Run("unsubscribe", func(t *testing.T) {
		hub := newFakeHub()
		server := httptest.NewServer(hub)
		defer server.Close()

		a, err := Dial(context.TODO(), hubURL(server), WithID("a"))
		require.NoError(t, err)
		defer a.Close()

		sub1, err := a.Subscribe(context.TODO(), "my-topic", func(_ []byte, _ string) {})
		require.NoError(t, err)
		sub2, err := a.Subscribe(context.TODO(), "my-topic", func(_ []byte, _ string) {})
		require.NoError(t, err)
		assert.Eventually(t, func() bool {
			return hub.subscribers("my-topic") == 1
		}, time.Second, time.Millisecond*10)

		// The topic stays subscribed until the last subscription is removed.
		require.NoError(t, a.Unsubscribe(sub1))
		require.NoError(t, a.Unsubscribe(sub2))
		assert.Eventually(t, func() bool {
			return hub.subscribers("my-topic") == 0
		}, time.Second, time.Millisecond*10)

		assert.ErrorIs(t, a.Unsubscribe(sub1), ErrUnknownSubscription)
	})

	t.Run("reconnect", func(t *testing.T) {
		hub := newFakeHub()
		server := httptest.NewServer(hub)
		defer server.Close()

		a, err := Dial(context.TODO(), hubURL(server), WithID("a"))
		require.NoError(t, err)
		defer a.Close()
		reconnectedCh := make(chan struct{}, 1)
		b, err := Dial(
			context.TODO(),
			hubURL(server),
			WithID("b"),
			WithOnReconnect(func() {
				select {
				case reconnectedCh <- struct{}{}:
				default:
				}
			}),
		)
		require.NoError(t, err)
		defer b.Close()

		var r recorder
		_, err = b.Subscribe(context.TODO(), "my-topic", r.handle)
		require.NoError(t, err)
		assert.Eventually(t, func() bool {
			return hub.subscribers("my-topic") == 1
		}, time.Second, time.Millisecond*10)

		hub.drop()

		select {
		case <-reconnectedCh:
		case <-time.After(time.Second * 5):
			t.Fatal("not reconnected")
		}

		// Wait for b to reconnect and resubscribe.
		assert.Eventually(t, func() bool {
			return hub.subscribers("my-topic") == 1
		}, time.Second*5, time.Millisecond*10)

		assert.Eventually(t, func() bool {
			// a may not have reconnected yet.
			_ = a.Publish(context.TODO(), "my-topic", []byte("1"))
			return len(r.received()) > 0
		}, time.Second*5, time.Millisecond*100)
	})

	t.Run("closed", func(t *testing.T) {
		hub := newFakeHub()
		server := httptest.NewServer(hub)
		defer server.Close()

		a, err := Dial(context.TODO(), hubURL(server), WithID("a"))
		require.NoError(t, err)
		require.NoError(t, a.Close())

		assert.ErrorIs(t, a.Publish(context.TODO(), "my-topic", []byte("1")), ErrClosed)
		_, err = a.Subscribe(context.TODO(), "my-topic", func(_ []byte, _ string) {})
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("dial failure", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		defer server.Close()

		_, err := Dial(context.TODO(), hubURL(server))
		assert.Error(t, err)
	})
}
