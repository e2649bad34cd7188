package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		conf Config
		ok   bool
	}{
		{
			name: "ok",
			conf: Config{Server: ServerConfig{
				URL:     "http://localhost:8200",
				Timeout: time.Second,
			}},
			ok: true,
		},
		{
			name: "missing url",
			conf: Config{Server: ServerConfig{Timeout: time.Second}},
		},
		{
			name: "unsupported scheme",
			conf: Config{Server: ServerConfig{
				URL:     "ws://localhost:8200",
				Timeout: time.Second,
			}},
		},
		{
			name: "missing timeout",
			conf: Config{Server: ServerConfig{URL: "http://localhost:8200"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.conf.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestConfig_RegisterFlags(t *testing.T) {
	var conf Config
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	conf.RegisterFlags(fs)

	require.NoError(t, fs.Parse([]string{"--server.url", "http://10.0.0.1:8200"}))
	assert.Equal(t, "http://10.0.0.1:8200", conf.Server.URL)
	assert.Equal(t, time.Second*15, conf.Server.Timeout)
	assert.NoError(t, conf.Validate())
}
