package replication

// Watcher is used to receive notifications of engine lifecycle events.
//
// The implementations of Watcher must not block. Watcher is called from the
// engine goroutine so must not call back to the Engine.
type Watcher interface {
	// OnReady notifies that the engine loaded its seed snapshot (if any) and
	// subscribed to the gossip topic.
	//
	// OnReady is always called after New returns.
	OnReady()

	// OnSync notifies that the set changed and the snapshot with the given
	// hash was uploaded and announced.
	OnSync(hash string)

	// OnError notifies of a failure. Errors are never fatal and the engine
	// continues running.
	//
	// The error is one of *TransportError, *ContentStoreError or
	// *snapshot.DecodeError.
	OnError(err error)
}

type nopWatcher struct {
}

func (w *nopWatcher) OnReady() {}

func (w *nopWatcher) OnSync(_ string) {}

func (w *nopWatcher) OnError(_ error) {}

var _ Watcher = &nopWatcher{}
