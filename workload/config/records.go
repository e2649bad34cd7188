package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/pflag"

	"github.com/andydunstall/setdb/pkg/log"
)

type RecordsConfig struct {
	Clients int `json:"clients" yaml:"clients"`

	// Rate is the number of records per second per client.
	Rate int `json:"rate" yaml:"rate"`

	// Keys is the number of available record keys.
	Keys int `json:"keys" yaml:"keys"`

	// RecordSize is the size of the payload field of each record.
	RecordSize int `json:"record_size" yaml:"record_size"`

	// Servers are the node admin URLs to write to. Clients write to a random
	// node on each request.
	Servers []string `json:"servers" yaml:"servers"`

	// Timeout is the request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	Log log.Config `json:"log" yaml:"log"`
}

func DefaultRecordsConfig() *RecordsConfig {
	return &RecordsConfig{
		Clients:    10,
		Rate:       10,
		Keys:       10000,
		RecordSize: 128,
		Servers:    []string{"http://localhost:8200"},
		Timeout:    time.Second * 15,
		Log: log.Config{
			Level:  "info",
			Output: "stderr",
		},
	}
}

func (c *RecordsConfig) Validate() error {
	if c.Clients <= 0 {
		return fmt.Errorf("missing clients")
	}
	if c.Rate <= 0 {
		return fmt.Errorf("missing rate")
	}
	if c.Keys <= 0 {
		return fmt.Errorf("missing keys")
	}
	if c.RecordSize < 0 {
		return fmt.Errorf("record size must not be negative")
	}
	if len(c.Servers) == 0 {
		return fmt.Errorf("missing servers")
	}
	for _, s := range c.Servers {
		if _, err := url.Parse(s); err != nil {
			return fmt.Errorf("invalid server url: %s: %w", s, err)
		}
	}
	if c.Timeout == 0 {
		return fmt.Errorf("missing timeout")
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

func (c *RecordsConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.IntVar(
		&c.Clients,
		"clients",
		c.Clients,
		`
The number of clients to run.`,
	)

	fs.IntVar(
		&c.Rate,
		"rate",
		c.Rate,
		`
The number of records per second per client to write.`,
	)

	fs.IntVar(
		&c.Keys,
		"keys",
		c.Keys,
		`
The number of available record keys.

On each write, the client selects a random key from 0 to 'keys'. Once every
key has been written, further writes are never added.`,
	)

	fs.IntVar(
		&c.RecordSize,
		"record-size",
		c.RecordSize,
		`
The size of the payload field of each record.`,
	)

	fs.StringSliceVar(
		&c.Servers,
		"servers",
		c.Servers,
		`
SetDB node admin URLs to write to.

Each write is sent to a random node, so records are written concurrently to
multiple replicas.`,
	)

	fs.DurationVar(
		&c.Timeout,
		"timeout",
		c.Timeout,
		`
Timeout for requests to the nodes.`,
	)

	c.Log.RegisterFlags(fs)
}
