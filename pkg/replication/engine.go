package replication

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/andydunstall/setdb/pkg/blob"
	"github.com/andydunstall/setdb/pkg/log"
	"github.com/andydunstall/setdb/pkg/pubsub"
	"github.com/andydunstall/setdb/pkg/record"
	"github.com/andydunstall/setdb/pkg/snapshot"
	"github.com/andydunstall/setdb/pkg/store"
)

type State int32

const (
	// StateInitializing is the state before the engine subscribes to the
	// gossip topic.
	StateInitializing State = iota
	// StateLoading is the state while the seed snapshot is being fetched.
	StateLoading
	// StateReady is the state once the engine has subscribed to the gossip
	// topic.
	StateReady
	// StateClosed is the state after the engine is closed.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Engine replicates a grow-only set of records with peers on a gossip topic.
//
// All engine state is owned by a single goroutine. Local writes, inbound
// messages and I/O completions are posted to that goroutine and processed in
// order, so the store never needs locking.
type Engine struct {
	topic   string
	blobs   ContentStore
	channel Channel

	store *store.Store
	codec *snapshot.Codec

	// dbHash is the content address of the latest uploaded snapshot. Only
	// accessed by the engine goroutine.
	dbHash string
	// version is incremented on each mutation. An upload is only adopted if
	// no mutation happened since it started. Only accessed by the engine
	// goroutine.
	version uint64
	// committedVersion is the version dbHash was uploaded at, and
	// uploadingVersion the version of the in-flight upload, if any. When
	// version is ahead of both the last upload failed and the store must be
	// committed again.
	committedVersion uint64
	uploadingVersion uint64

	seedHash          string
	acceptOwnMessages bool

	state *atomic.Int32

	queue   chan func()
	fetches singleflight.Group

	sub   pubsub.Subscription
	subMu sync.Mutex

	startCh chan struct{}
	readyCh chan struct{}
	doneCh  chan struct{}

	ctx    context.Context
	cancel func()

	closed *atomic.Bool

	watcher Watcher
	metrics *Metrics
	logger  log.Logger
}

// New creates an engine replicating on the given topic and starts it in the
// background.
//
// The engine becomes ready asynchronously, after New returns, so callers can
// wait on Ready or Watcher.OnReady.
func New(
	topic string,
	blobs ContentStore,
	channel Channel,
	opts ...Option,
) *Engine {
	options := defaultOptions()
	for _, o := range opts {
		o.apply(&options)
	}
	if options.metrics == nil {
		options.metrics = NewMetrics()
	}
	if options.indexBy == "" {
		options.indexBy = record.DefaultIndexBy
	}
	if options.validator == nil {
		options.validator = record.AcceptAll
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		topic:             topic,
		blobs:             blobs,
		channel:           channel,
		store:             store.New(options.indexBy, options.validator),
		codec:             snapshot.NewCodec(options.indexBy),
		seedHash:          options.seedHash,
		acceptOwnMessages: options.acceptOwnMessages,
		state:             atomic.NewInt32(int32(StateInitializing)),
		queue:             make(chan func(), 64),
		startCh:           make(chan struct{}),
		readyCh:           make(chan struct{}),
		doneCh:            make(chan struct{}),
		ctx:               ctx,
		cancel:            cancel,
		closed:            atomic.NewBool(false),
		watcher:           options.watcher,
		metrics:           options.metrics,
		logger: options.logger.WithSubsystem("replication").With(
			zap.String("topic", topic),
		),
	}
	go e.run()

	// The engine goroutine waits for New to return before starting.
	defer close(e.startCh)
	return e
}

// Put adds the record to the set if it has a key, the key isn't already in
// the set and the record passes the validator.
//
// Returns whether the record was added. If added, the new snapshot is
// uploaded and announced to peers in the background.
//
// The record must be JSON serialisable. The engine stores a copy so the
// caller may modify the record after Put returns.
func (e *Engine) Put(ctx context.Context, v any) (bool, error) {
	r, err := record.Normalize(v)
	if err != nil {
		return false, err
	}

	if e.closed.Load() {
		return false, ErrClosed
	}

	resultCh := make(chan bool, 1)
	if !e.post(func() {
		resultCh <- e.admit(r)
	}) {
		return false, ErrClosed
	}

	select {
	case added := <-resultCh:
		return added, nil
	case <-e.doneCh:
		select {
		case added := <-resultCh:
			return added, nil
		default:
			return false, ErrClosed
		}
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Get returns a copy of the record with the given key.
func (e *Engine) Get(key string) (record.Record, bool) {
	var (
		r  record.Record
		ok bool
	)
	e.call(func() {
		r, ok = e.store.Get(key)
	})
	return r, ok
}

// Query returns copies of the records matching the predicate, in key order.
// A nil predicate matches all records.
func (e *Engine) Query(pred func(r record.Record) bool) []record.Record {
	var records []record.Record
	e.call(func() {
		records = e.store.Query(pred)
	})
	return records
}

// Records returns copies of all records in key order.
func (e *Engine) Records() []record.Record {
	return e.Query(nil)
}

func (e *Engine) Len() int {
	var n int
	e.call(func() {
		n = e.store.Len()
	})
	return n
}

// Hash returns the content address of the latest uploaded snapshot, or an
// empty string if the engine hasn't uploaded or loaded a snapshot.
func (e *Engine) Hash() string {
	var hash string
	e.call(func() {
		hash = e.dbHash
	})
	return hash
}

// Status returns a consistent view of the engine status.
func (e *Engine) Status() *EngineStatus {
	status := &EngineStatus{
		Topic:   e.topic,
		IndexBy: e.store.IndexBy(),
	}
	e.call(func() {
		status.Hash = e.dbHash
		status.Records = e.store.Len()
	})
	status.State = e.State().String()
	return status
}

func (e *Engine) IndexBy() string {
	return e.store.IndexBy()
}

func (e *Engine) Topic() string {
	return e.topic
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

// Ready returns a channel that is closed once the engine is ready.
func (e *Engine) Ready() <-chan struct{} {
	return e.readyCh
}

// Resync announces the latest snapshot and asks peers to announce theirs.
//
// Gossip messages are lost while the channel is disconnected, so Resync
// should be called once the channel reconnects. Does nothing unless the
// engine is ready.
func (e *Engine) Resync() {
	e.post(func() {
		if e.State() != StateReady {
			return
		}

		e.logger.Debug("resync")
		e.recommit()
		e.publish(e.syncMessages()...)
	})
}

// Close stops the engine and unsubscribes from the gossip topic.
//
// Any in-flight I/O is cancelled and its completion ignored.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		<-e.doneCh
		return nil
	}

	e.cancel()
	<-e.doneCh

	e.state.Store(int32(StateClosed))

	e.subMu.Lock()
	sub := e.sub
	e.sub = nil
	e.subMu.Unlock()

	if sub != nil {
		if err := e.channel.Unsubscribe(sub); err != nil {
			return &TransportError{Op: "unsubscribe", Topic: e.topic, Err: err}
		}
	}

	e.logger.Info("engine closed")

	return nil
}

func (e *Engine) run() {
	defer close(e.doneCh)

	select {
	case <-e.startCh:
	case <-e.ctx.Done():
		return
	}

	e.start()

	for {
		select {
		case f := <-e.queue:
			if e.ctx.Err() != nil {
				return
			}
			f()
		case <-e.ctx.Done():
			return
		}
	}
}

// post queues f to run on the engine goroutine. Returns false if the engine
// is closed.
func (e *Engine) post(f func()) bool {
	select {
	case e.queue <- f:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// call runs f on the engine goroutine and waits for it to complete. If the
// engine is closed, f runs on the caller goroutine once the engine goroutine
// exits.
func (e *Engine) call(f func()) {
	doneCh := make(chan struct{})
	if e.post(func() {
		f()
		close(doneCh)
	}) {
		select {
		case <-doneCh:
			return
		case <-e.doneCh:
		}
	} else {
		<-e.doneCh
	}

	select {
	case <-doneCh:
	default:
		f()
	}
}

// async runs f in a new goroutine and posts cont with its result to the
// engine goroutine. cont is dropped if the engine closes first.
func async[T any](
	e *Engine,
	f func(ctx context.Context) (T, error),
	cont func(v T, err error),
) {
	go func() {
		v, err := f(e.ctx)
		e.post(func() {
			cont(v, err)
		})
	}()
}

func (e *Engine) start() {
	if e.seedHash == "" {
		e.subscribe()
		return
	}

	e.state.Store(int32(StateLoading))
	e.logger.Info("loading seed snapshot", zap.String("hash", e.seedHash))

	e.fetch(e.seedHash, func(b []byte, err error) {
		if err != nil {
			e.reportError(err)
			e.subscribe()
			return
		}
		e.loadSeed(b)
		e.subscribe()
	})
}

func (e *Engine) loadSeed(b []byte) {
	snap, err := e.codec.Decode(b)
	if err != nil {
		e.reportError(err)
		return
	}

	added := e.store.MergeBatch(snap.Records())
	e.metrics.Records.Set(float64(e.store.Len()))

	if e.version == 0 {
		canonical, err := e.codec.Encode(e.store.Snapshot())
		if err == nil && bytes.Equal(canonical, b) {
			e.dbHash = e.seedHash
			e.logger.Info(
				"loaded seed snapshot",
				zap.String("hash", e.seedHash),
				zap.Int("records", e.store.Len()),
			)
			return
		}
	}

	if added {
		e.metrics.Merges.Inc()
	}
	// Either the seed isn't in canonical form or records were written while
	// loading, so upload the merged snapshot. Writes while loading have
	// already committed, so only commit again if the seed added records.
	if added || e.version == 0 {
		e.commit()
	}

	e.logger.Info(
		"merged seed snapshot",
		zap.String("hash", e.seedHash),
		zap.Int("records", e.store.Len()),
	)
}

func (e *Engine) subscribe() {
	async(e, func(ctx context.Context) (pubsub.Subscription, error) {
		sub, err := e.channel.Subscribe(ctx, e.topic, e.onMessage)
		if err != nil {
			return nil, err
		}

		e.subMu.Lock()
		defer e.subMu.Unlock()

		if e.closed.Load() {
			// Closed while subscribing so Close won't see the subscription.
			_ = e.channel.Unsubscribe(sub)
			return nil, ErrClosed
		}
		e.sub = sub
		return sub, nil
	}, func(_ pubsub.Subscription, err error) {
		if err != nil {
			e.reportError(&TransportError{
				Op:    "subscribe",
				Topic: e.topic,
				Err:   err,
			})
		}
		e.becomeReady()
	})
}

func (e *Engine) becomeReady() {
	e.state.Store(int32(StateReady))
	close(e.readyCh)

	e.logger.Info(
		"engine ready",
		zap.String("hash", e.dbHash),
		zap.Int("records", e.store.Len()),
	)

	e.watcher.OnReady()

	e.publish(e.syncMessages()...)
}

// syncMessages returns the messages to announce our snapshot, then ask peers
// to announce theirs.
func (e *Engine) syncMessages() []*message {
	var msgs []*message
	if e.dbHash != "" {
		msgs = append(msgs, newMessage(e.dbHash))
	} else if e.seedHash != "" {
		msgs = append(msgs, newMessage(e.seedHash))
	}
	return append(msgs, askMessage())
}

// onMessage handles messages from the gossip channel. It is called from the
// channel goroutine.
func (e *Engine) onMessage(data []byte, from string) {
	if !e.acceptOwnMessages && from == e.channel.ID() {
		e.metrics.OwnMessagesDropped.Inc()
		return
	}

	e.post(func() {
		e.handleMessage(data, from)
	})
}

func (e *Engine) handleMessage(data []byte, from string) {
	m, err := decodeMessage(data)
	if err != nil {
		e.reportError(err)
		return
	}

	e.metrics.MessagesInbound.WithLabelValues(string(m.Type)).Inc()

	switch m.Type {
	case messageTypeNew:
		e.handleNew(m.Data, from)
	case messageTypeAsk:
		e.handleAsk(from)
	default:
		e.logger.Debug(
			"unknown message type",
			zap.String("type", string(m.Type)),
			zap.String("from", from),
		)
	}
}

func (e *Engine) handleNew(hash string, from string) {
	if hash == e.dbHash {
		return
	}

	e.logger.Debug(
		"received snapshot",
		zap.String("hash", hash),
		zap.String("from", from),
	)

	e.fetch(hash, func(b []byte, err error) {
		if err != nil {
			e.reportError(err)
			return
		}

		snap, err := e.codec.Decode(b)
		if err != nil {
			e.reportError(err)
			return
		}

		if !e.store.MergeBatch(snap.Records()) {
			// Nothing new, though the local store may still be uncommitted.
			e.recommit()
			return
		}

		e.metrics.Merges.Inc()
		e.logger.Debug(
			"merged snapshot",
			zap.String("hash", hash),
			zap.Int("records", e.store.Len()),
		)

		e.commit()
	})
}

func (e *Engine) handleAsk(from string) {
	e.logger.Debug("received ask", zap.String("from", from))

	if e.recommit() {
		// The peer is answered once the upload completes.
		return
	}
	if e.dbHash != "" {
		e.publish(newMessage(e.dbHash))
	}
}

func (e *Engine) admit(r record.Record) bool {
	if !e.store.Admit(r) {
		return false
	}

	key, _ := record.Key(r, e.store.IndexBy())
	e.logger.Debug("record added", zap.String("key", key))

	e.commit()
	return true
}

// commit uploads the current snapshot, then adopts its hash and announces it
// to peers, unless another mutation happened while uploading.
func (e *Engine) commit() {
	e.version++
	version := e.version
	e.uploadingVersion = version

	e.metrics.Records.Set(float64(e.store.Len()))

	b, err := e.codec.Encode(e.store.Snapshot())
	if err != nil {
		// Unreachable since every stored record has a key.
		e.logger.Error("failed to encode snapshot", zap.Error(err))
		return
	}

	async(e, func(ctx context.Context) (string, error) {
		return e.blobs.Put(ctx, b)
	}, func(hash string, err error) {
		if version == e.uploadingVersion {
			e.uploadingVersion = 0
		}
		if err != nil {
			e.reportError(&ContentStoreError{Op: "put", Err: err})
			return
		}
		e.metrics.SnapshotsUploaded.Inc()

		if version != e.version {
			e.logger.Debug(
				"discarding stale snapshot",
				zap.String("hash", hash),
				zap.Uint64("version", version),
			)
			return
		}

		e.dbHash = hash
		e.committedVersion = version
		e.watcher.OnSync(hash)

		// Once ready the engine announces its latest hash anyway.
		if e.State() == StateReady {
			e.publish(newMessage(hash))
		}
	})
}

// recommit commits again if the latest version was never uploaded, such as
// after a failed upload. Returns whether a commit was started.
func (e *Engine) recommit() bool {
	if e.version == e.committedVersion || e.version == e.uploadingVersion {
		return false
	}

	e.logger.Debug(
		"recommitting snapshot",
		zap.Uint64("version", e.version),
		zap.Uint64("committed-version", e.committedVersion),
	)
	e.commit()
	return true
}

// fetch gets the snapshot with the given hash. Concurrent fetches for the
// same hash share a single request.
func (e *Engine) fetch(hash string, cont func(b []byte, err error)) {
	async(e, func(ctx context.Context) ([]byte, error) {
		v, err, _ := e.fetches.Do(hash, func() (any, error) {
			b, err := e.blobs.Get(ctx, hash)
			if err != nil {
				return nil, err
			}
			e.metrics.SnapshotsFetched.Inc()
			return b, nil
		})
		if err != nil {
			return nil, &ContentStoreError{Op: "get", Hash: hash, Err: err}
		}
		return v.([]byte), nil
	}, cont)
}

// publish publishes the messages in order from a background goroutine.
func (e *Engine) publish(msgs ...*message) {
	async(e, func(ctx context.Context) (struct{}, error) {
		for _, m := range msgs {
			if err := e.channel.Publish(ctx, e.topic, encodeMessage(m)); err != nil {
				return struct{}{}, err
			}
			e.metrics.MessagesOutbound.WithLabelValues(string(m.Type)).Inc()
		}
		return struct{}{}, nil
	}, func(_ struct{}, err error) {
		if err != nil {
			e.reportError(&TransportError{
				Op:    "publish",
				Topic: e.topic,
				Err:   err,
			})
		}
	})
}

func (e *Engine) reportError(err error) {
	kind := errorKind(err)
	e.metrics.Errors.WithLabelValues(kind).Inc()
	e.logger.Warn("replication error", zap.String("kind", kind), zap.Error(err))
	e.watcher.OnError(err)
}

func errorKind(err error) string {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return "transport"
	}
	var contentStoreErr *ContentStoreError
	if errors.As(err, &contentStoreErr) {
		if errors.Is(err, blob.ErrNotFound) {
			return "not_found"
		}
		return "content_store"
	}
	var decodeErr *snapshot.DecodeError
	if errors.As(err, &decodeErr) {
		return "decode"
	}
	return "unknown"
}
