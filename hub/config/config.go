package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/andydunstall/setdb/pkg/log"
)

type HTTPConfig struct {
	// BindAddr is the address to bind to listen for incoming HTTP connections.
	BindAddr string `json:"bind_addr" yaml:"bind_addr"`

	AccessLog log.AccessLogConfig `json:"access_log" yaml:"access_log"`
}

func (c *HTTPConfig) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("missing bind addr")
	}
	return nil
}

type BlobsConfig struct {
	// Path is the SQLite database path to store blobs. If empty blobs are
	// stored in memory and lost when the hub restarts.
	Path string `json:"path" yaml:"path"`
}

type RelayConfig struct {
	// SendQueueSize is the maximum number of messages queued for each
	// subscriber. A subscriber that falls further behind is disconnected.
	SendQueueSize int `json:"send_queue_size" yaml:"send_queue_size"`
}

func (c *RelayConfig) Validate() error {
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("send queue size must be positive")
	}
	return nil
}

type Config struct {
	HTTP  HTTPConfig  `json:"http" yaml:"http"`
	Blobs BlobsConfig `json:"blobs" yaml:"blobs"`
	Relay RelayConfig `json:"relay" yaml:"relay"`
	Log   log.Config  `json:"log" yaml:"log"`

	// GracePeriod is the duration to gracefully shutdown the hub. During
	// the grace period, listeners and idle connections are closed, then waits
	// for active requests to complete and closes their connections.
	GracePeriod time.Duration `json:"grace_period" yaml:"grace_period"`
}

func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			BindAddr: ":8100",
		},
		Relay: RelayConfig{
			SendQueueSize: 256,
		},
		Log: log.Config{
			Level:  "info",
			Output: "stderr",
		},
		GracePeriod: time.Minute,
	}
}

func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if c.GracePeriod == 0 {
		return fmt.Errorf("missing grace period")
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.HTTP.BindAddr,
		"http.bind-addr",
		c.HTTP.BindAddr,
		`
The host/port to listen for incoming HTTP connections.

Nodes connect to '/v1/pubsub' to gossip and use '/v1/blobs' to upload and
fetch snapshots.

If the host is unspecified it defaults to all listeners, such as
'--http.bind-addr :8100' will listen on '0.0.0.0:8100'`,
	)
	c.HTTP.AccessLog.RegisterFlags(fs, "http")

	fs.StringVar(
		&c.Blobs.Path,
		"blobs.path",
		c.Blobs.Path,
		`
The SQLite database path to store snapshots.

If not set, snapshots are only stored in memory so are lost when the hub
restarts.`,
	)

	fs.IntVar(
		&c.Relay.SendQueueSize,
		"relay.send-queue-size",
		c.Relay.SendQueueSize,
		`
The maximum number of messages queued for each connected node.

A node whose queue is full is considered too slow and is disconnected. The
node will reconnect and recover any missed snapshots by gossiping.`,
	)

	fs.DurationVar(
		&c.GracePeriod,
		"grace-period",
		c.GracePeriod,
		`
Maximum duration after a shutdown signal is received (SIGTERM or
SIGINT) to gracefully shutdown the hub.`,
	)

	c.Log.RegisterFlags(fs)
}
