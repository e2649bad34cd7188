package replication

import (
	"fmt"

	"github.com/spf13/pflag"
)

type Config struct {
	// Topic is the gossip topic shared by all peers replicating the set.
	Topic string `json:"topic" yaml:"topic"`

	// SeedHash is the hash of a snapshot to load on startup.
	SeedHash string `json:"seed_hash" yaml:"seed_hash"`

	// IndexBy is the record key field.
	IndexBy string `json:"index_by" yaml:"index_by"`

	// AcceptOwnMessages processes messages published by this peer.
	AcceptOwnMessages bool `json:"accept_own_messages" yaml:"accept_own_messages"`
}

func (c *Config) Validate() error {
	if c.Topic == "" {
		return fmt.Errorf("missing topic")
	}
	if c.IndexBy == "" {
		return fmt.Errorf("missing index by")
	}
	return nil
}

// Options returns the engine options for the configuration.
func (c *Config) Options() []Option {
	return []Option{
		WithSeedHash(c.SeedHash),
		WithIndexBy(c.IndexBy),
		WithAcceptOwnMessages(c.AcceptOwnMessages),
	}
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	prefix := "replication."

	fs.StringVar(
		&c.Topic,
		prefix+"topic",
		c.Topic,
		`
The gossip topic to replicate the set on.

Every peer replicating the same set must use the same topic.`,
	)
	fs.StringVar(
		&c.SeedHash,
		prefix+"seed-hash",
		c.SeedHash,
		`
The hash of a snapshot to load on startup.

Such as the hash reported by 'setdb status replication' on another node. The
snapshot's records are merged into the set before the node starts gossiping.`,
	)
	fs.StringVar(
		&c.IndexBy,
		prefix+"index-by",
		c.IndexBy,
		`
The record field that uniquely identifies each record.

Every peer replicating the same set must use the same field.`,
	)
	fs.BoolVar(
		&c.AcceptOwnMessages,
		prefix+"accept-own-messages",
		c.AcceptOwnMessages,
		`
Whether to process gossip messages published by this peer.

This is only useful for debugging, since the peer already knows its own
state.`,
	)
}
