package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/pflag"
)

type ServerConfig struct {
	// URL is the node admin server URL.
	URL string `json:"url" yaml:"url"`

	// Timeout is the request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

func (c *ServerConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("missing url")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url: unsupported scheme: %s", u.Scheme)
	}
	if c.Timeout == 0 {
		return fmt.Errorf("missing timeout")
	}
	return nil
}

type Config struct {
	Server ServerConfig `json:"server" yaml:"server"`
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.Server.URL,
		"server.url",
		"http://localhost:8200",
		`
SetDB node URL. This URL should point to the node admin port.`,
	)
	fs.DurationVar(
		&c.Server.Timeout,
		"server.timeout",
		time.Second*15,
		`
Timeout for requests to the node.`,
	)
}
