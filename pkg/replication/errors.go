package replication

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when writing to a closed engine.
	ErrClosed = errors.New("engine closed")
)

// TransportError indicates publishing or subscribing to the gossip topic
// failed.
type TransportError struct {
	// Op is either 'publish' or 'subscribe'.
	Op    string
	Topic string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %s: %s", e.Op, e.Topic, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ContentStoreError indicates fetching or uploading a snapshot failed.
type ContentStoreError struct {
	// Op is either 'get' or 'put'.
	Op string
	// Hash is the requested content address. Empty for 'put'.
	Hash string
	Err  error
}

func (e *ContentStoreError) Error() string {
	if e.Hash == "" {
		return fmt.Sprintf("content store: %s: %s", e.Op, e.Err)
	}
	return fmt.Sprintf("content store: %s: %s: %s", e.Op, e.Hash, e.Err)
}

func (e *ContentStoreError) Unwrap() error {
	return e.Err
}
