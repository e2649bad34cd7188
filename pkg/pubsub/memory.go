package pubsub

import (
	"context"
	"sync"
)

type message struct {
	data []byte
	from string
}

// Bus is an in-process publish/subscribe bus.
//
// Peers connect to the bus to get a channel handle. Multiple engines may
// share one handle, in which case they have the same sender ID.
type Bus struct {
	topics map[string]map[*memorySubscription]struct{}

	mu sync.Mutex
}

func NewBus() *Bus {
	return &Bus{
		topics: make(map[string]map[*memorySubscription]struct{}),
	}
}

// Connect returns a channel handle on the bus with the given sender ID.
func (b *Bus) Connect(id string) *MemoryChannel {
	return &MemoryChannel{
		bus: b,
		id:  id,
	}
}

// Subscribers returns the number of subscriptions to the given topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.topics[topic])
}

func (b *Bus) publish(topic string, m message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.topics[topic] {
		sub.enqueue(m)
	}
}

func (b *Bus) subscribe(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[sub.topic]
	if !ok {
		subs = make(map[*memorySubscription]struct{})
		b.topics[sub.topic] = subs
	}
	subs[sub] = struct{}{}
}

func (b *Bus) unsubscribe(sub *memorySubscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[sub.topic]
	if !ok {
		return false
	}
	if _, ok := subs[sub]; !ok {
		return false
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
	}
	return true
}

// MemoryChannel is a handle to a Bus.
type MemoryChannel struct {
	bus *Bus
	id  string
}

func (c *MemoryChannel) ID() string {
	return c.id
}

// Publish delivers the message to every subscriber of the topic, including
// subscribers using this handle.
func (c *MemoryChannel) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.bus.publish(topic, message{
		data: append([]byte(nil), data...),
		from: c.id,
	})
	return nil
}

func (c *MemoryChannel) Subscribe(
	ctx context.Context,
	topic string,
	handler Handler,
) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := newMemorySubscription(c, topic, handler)
	c.bus.subscribe(sub)
	return sub, nil
}

func (c *MemoryChannel) Unsubscribe(s Subscription) error {
	sub, ok := s.(*memorySubscription)
	if !ok || sub.channel != c {
		return ErrUnknownSubscription
	}
	if !c.bus.unsubscribe(sub) {
		return ErrUnknownSubscription
	}
	sub.close()
	return nil
}

// memorySubscription delivers messages to the handler from its own
// goroutine, so publishers never block on slow handlers.
type memorySubscription struct {
	channel *MemoryChannel
	topic   string
	handler Handler

	queue []message
	mu    sync.Mutex

	notifyCh chan struct{}
	closeCh  chan struct{}
	once     sync.Once
}

func newMemorySubscription(
	channel *MemoryChannel,
	topic string,
	handler Handler,
) *memorySubscription {
	sub := &memorySubscription{
		channel:  channel,
		topic:    topic,
		handler:  handler,
		notifyCh: make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
	}
	go sub.deliver()
	return sub
}

func (s *memorySubscription) Topic() string {
	return s.topic
}

func (s *memorySubscription) enqueue(m message) {
	s.mu.Lock()
	s.queue = append(s.queue, m)
	s.mu.Unlock()

	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

func (s *memorySubscription) deliver() {
	for {
		select {
		case <-s.notifyCh:
		case <-s.closeCh:
			return
		}

		s.mu.Lock()
		queue := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, m := range queue {
			select {
			case <-s.closeCh:
				return
			default:
			}
			s.handler(m.data, m.from)
		}
	}
}

func (s *memorySubscription) close() {
	s.once.Do(func() {
		close(s.closeCh)
	})
}

var _ Subscription = &memorySubscription{}
