package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/pflag"

	"github.com/andydunstall/setdb/pkg/log"
	"github.com/andydunstall/setdb/pkg/record"
	"github.com/andydunstall/setdb/pkg/replication"
)

type HubConfig struct {
	// URL is the hub URL, such as 'http://localhost:8100'.
	URL string `json:"url" yaml:"url"`

	// Timeout is the timeout to connect to the hub.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

func (c *HubConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("missing url")
	}
	if _, err := url.Parse(c.URL); err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if c.Timeout == 0 {
		return fmt.Errorf("missing timeout")
	}
	return nil
}

// PubSubURL returns the hub pub/sub endpoint URL.
func (c *HubConfig) PubSubURL() string {
	// The URL has already been validated.
	u, _ := url.Parse(c.URL)
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u = u.JoinPath("/v1/pubsub")
	return u.String()
}

type AdminConfig struct {
	// BindAddr is the address to bind to listen for incoming HTTP connections.
	BindAddr string `json:"bind_addr" yaml:"bind_addr"`

	AccessLog log.AccessLogConfig `json:"access_log" yaml:"access_log"`
}

func (c *AdminConfig) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("missing bind addr")
	}
	return nil
}

type ValidatorConfig struct {
	// RequiredFields contains fields every record must have.
	RequiredFields []string `json:"required_fields" yaml:"required_fields"`
}

// Validator returns the record validator for the configuration.
func (c *ValidatorConfig) Validator() record.Validator {
	if len(c.RequiredFields) == 0 {
		return record.AcceptAll
	}
	return record.RequireFields(c.RequiredFields...)
}

type Config struct {
	// ID is the node's channel ID. If empty a random ID is generated.
	ID string `json:"id" yaml:"id"`

	Hub         HubConfig          `json:"hub" yaml:"hub"`
	Admin       AdminConfig        `json:"admin" yaml:"admin"`
	Replication replication.Config `json:"replication" yaml:"replication"`
	Validator   ValidatorConfig    `json:"validator" yaml:"validator"`
	Log         log.Config         `json:"log" yaml:"log"`

	// GracePeriod is the duration to gracefully shutdown the node.
	GracePeriod time.Duration `json:"grace_period" yaml:"grace_period"`
}

func Default() *Config {
	return &Config{
		Hub: HubConfig{
			URL:     "http://localhost:8100",
			Timeout: time.Second * 15,
		},
		Admin: AdminConfig{
			BindAddr: ":8200",
		},
		Replication: replication.Config{
			Topic:   "setdb",
			IndexBy: record.DefaultIndexBy,
		},
		Log: log.Config{
			Level:  "info",
			Output: "stderr",
		},
		GracePeriod: time.Minute,
	}
}

func (c *Config) Validate() error {
	if err := c.Hub.Validate(); err != nil {
		return fmt.Errorf("hub: %w", err)
	}
	if err := c.Admin.Validate(); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	if err := c.Replication.Validate(); err != nil {
		return fmt.Errorf("replication: %w", err)
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
		&c.ID,
		"id",
		c.ID,
		`
A unique identifier for the node.

The ID is attached to every gossip message the node publishes, so the node can
ignore its own messages.

By default a random ID is generated.`,
	)

	fs.StringVar(
		&c.Hub.URL,
		"hub.url",
		c.Hub.URL,
		`
The hub URL.

The node gossips with other nodes via the hub and stores snapshots in the
hub.`,
	)
	fs.DurationVar(
		&c.Hub.Timeout,
		"hub.timeout",
		c.Hub.Timeout,
		`
Timeout to connect to the hub.`,
	)

	fs.StringVar(
		&c.Admin.BindAddr,
		"admin.bind-addr",
		c.Admin.BindAddr,
		`
The host/port to listen for incoming admin connections.

The admin server exposes APIs to read and write records, and to inspect the
node status.

If the host is unspecified it defaults to all listeners, such as
'--admin.bind-addr :8200' will listen on '0.0.0.0:8200'`,
	)
	c.Admin.AccessLog.RegisterFlags(fs, "admin")

	c.Replication.RegisterFlags(fs)

	fs.StringSliceVar(
		&c.Validator.RequiredFields,
		"validator.required-fields",
		c.Validator.RequiredFields,
		`
Fields every record must have to be added to the set.

Records missing any of the fields are rejected, both when written to this
node and when received from other nodes.`,
	)

	fs.DurationVar(
		&c.GracePeriod,
		"grace-period",
		c.GracePeriod,
		`
Maximum duration after a shutdown signal is received (SIGTERM or
SIGINT) to gracefully shutdown the node.`,
	)

	c.Log.RegisterFlags(fs)
}
