// Package pubsub contains publish/subscribe channels used to gossip between
// SetDB peers.
//
// Each channel handle has an ID which is attached as the sender of every
// message it publishes, so subscribers can identify (and ignore) their own
// messages.
package pubsub

import (
	"errors"
)

var (
	// ErrNotConnected is returned when publishing to a channel that is
	// disconnected from the hub.
	ErrNotConnected = errors.New("not connected")

	// ErrClosed is returned when using a closed channel.
	ErrClosed = errors.New("closed")

	// ErrUnknownSubscription is returned when unsubscribing a subscription
	// not created by the channel.
	ErrUnknownSubscription = errors.New("unknown subscription")
)

// Handler handles messages received on a subscribed topic, where from is the
// ID of the channel that published the message.
//
// Handlers for a subscription are called sequentially in the order the
// messages were published.
type Handler func(data []byte, from string)

// Subscription is a handle to a subscribed topic, used to unsubscribe.
type Subscription interface {
	Topic() string
}
