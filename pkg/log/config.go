package log

import (
	"fmt"

	"github.com/spf13/pflag"
)

type Config struct {
	// Level is the minimum record level to log. Either 'debug', 'info', 'warn'
	// or 'error'.
	Level string `json:"level" yaml:"level"`

	// Subsystems enables debug logging on log records whose 'subsystem'
	// matches one of the given values (overrides `Level`).
	Subsystems []string `json:"subsystems" yaml:"subsystems"`

	// Output is the path to write logs to, or 'stderr' or 'stdout'.
	Output string `json:"output" yaml:"output"`
}

func (c *Config) Validate() error {
	if c.Level == "" {
		return fmt.Errorf("missing level")
	}
	if _, err := zapLevelFromString(c.Level); err != nil {
		return err
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.Level,
		"log.level",
		"info",
		`
Minimum log level to output.

The available levels are 'debug', 'info', 'warn' and 'error'.`,
	)
	fs.StringSliceVar(
		&c.Subsystems,
		"log.subsystems",
		nil,
		`
Each log has a 'subsystem' field where the log occured.

'--log.subsystems' enables all log levels for those given subsystems. This
can be useful to debug a particular subsystem without having to enable all
debug logs.

Such as you can enable 'replication' logs with
'--log.subsystems replication'.`,
	)
	fs.StringVar(
		&c.Output,
		"log.output",
		"stderr",
		`
Where to write logs. Either 'stderr', 'stdout' or a file path.`,
	)
}

type AccessLogConfig struct {
	// Disable logs requests at 'debug' level instead of 'info'. Requests
	// that fail with a server error are always logged at 'warn'.
	Disable bool `json:"disable" yaml:"disable"`
}

func (c *AccessLogConfig) RegisterFlags(fs *pflag.FlagSet, prefix string) {
	fs.BoolVar(
		&c.Disable,
		prefix+".access-log.disable",
		false,
		`
Whether to disable access logging.

When disabled, requests are only logged at debug level.`,
	)
}
