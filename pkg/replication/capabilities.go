package replication

import (
	"context"

	"github.com/andydunstall/setdb/pkg/pubsub"
)

// ContentStore stores snapshots by content address.
//
// Implementations are in the blob package.
type ContentStore interface {
	// Put stores the given bytes and returns their content address.
	Put(ctx context.Context, b []byte) (string, error)
	// Get returns the bytes with the given content address.
	Get(ctx context.Context, hash string) ([]byte, error)
}

// Channel is a publish/subscribe channel used to gossip with peers.
//
// Implementations are in the pubsub package.
type Channel interface {
	// ID returns the sender ID attached to messages published with this
	// channel.
	ID() string
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(ctx context.Context, topic string, handler pubsub.Handler) (pubsub.Subscription, error)
	Unsubscribe(sub pubsub.Subscription) error
}
