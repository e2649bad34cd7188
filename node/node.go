// Package node runs a SetDB node.
//
// A node connects to the hub to gossip and store snapshots, then replicates
// the configured set with the other nodes on its topic.
package node

import (
	"context"
	"fmt"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/andydunstall/setdb/node/config"
	"github.com/andydunstall/setdb/pkg/blob"
	"github.com/andydunstall/setdb/pkg/log"
	"github.com/andydunstall/setdb/pkg/pubsub"
	"github.com/andydunstall/setdb/pkg/replication"
)

type Node struct {
	channel *pubsub.WebsocketChannel
	blobs   *blob.HTTPStore
	engine  *replication.Engine

	logger log.Logger
}

// New connects to the hub and starts replicating.
//
// Returns once connected to the hub. The node's engine becomes ready in the
// background.
func New(
	ctx context.Context,
	conf *config.Config,
	registry prometheus.Registerer,
	logger log.Logger,
) (*Node, error) {
	hubURL, err := url.Parse(conf.Hub.URL)
	if err != nil {
		return nil, fmt.Errorf("parse hub url: %w", err)
	}

	// The engine is created once connected, so reconnects before then are
	// ignored.
	var engineRef atomic.Pointer[replication.Engine]

	dialOpts := []pubsub.DialOption{
		pubsub.WithTimeout(conf.Hub.Timeout),
		pubsub.WithOnReconnect(func() {
			if engine := engineRef.Load(); engine != nil {
				engine.Resync()
			}
		}),
		pubsub.WithLogger(logger),
	}
	if conf.ID != "" {
		dialOpts = append(dialOpts, pubsub.WithID(conf.ID))
	}

	dialCtx, cancel := context.WithTimeout(ctx, conf.Hub.Timeout)
	defer cancel()

	channel, err := pubsub.Dial(dialCtx, conf.Hub.PubSubURL(), dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect to hub: %w", err)
	}

	logger = logger.With(zap.String("node-id", channel.ID()))

	metrics := replication.NewMetrics()
	if registry != nil {
		metrics.Register(registry)
	}

	blobs := blob.NewHTTPStore(hubURL)

	opts := conf.Replication.Options()
	opts = append(
		opts,
		replication.WithValidator(conf.Validator.Validator()),
		replication.WithWatcher(newWatcher(logger.WithSubsystem("node"))),
		replication.WithMetrics(metrics),
		replication.WithLogger(logger),
	)
	engine := replication.New(conf.Replication.Topic, blobs, channel, opts...)
	engineRef.Store(engine)

	return &Node{
		channel: channel,
		blobs:   blobs,
		engine:  engine,
		logger:  logger.WithSubsystem("node"),
	}, nil
}

// ID returns the node's channel ID.
func (n *Node) ID() string {
	return n.channel.ID()
}

func (n *Node) Engine() *replication.Engine {
	return n.engine
}

// Close stops replicating and disconnects from the hub.
func (n *Node) Close() error {
	if err := n.engine.Close(); err != nil {
		n.logger.Warn("failed to close engine", zap.Error(err))
	}
	n.blobs.Close()
	if err := n.channel.Close(); err != nil {
		return fmt.Errorf("close channel: %w", err)
	}
	return nil
}
