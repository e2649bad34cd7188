// Package config loads YAML configuration files.
//
// Configuration is usually set using command line flags, which may be
// overridden by a YAML file given with '--config.path'.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML config at the given path into conf.
//
// Unknown fields are rejected. If expandEnv is true, references to ${VAR} or
// $VAR are replaced with the corresponding environment variable, where a
// default may be given with ${VAR:default}.
func Load(path string, conf interface{}, expandEnv bool) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %s: %w", path, err)
	}

	if expandEnv {
		buf = []byte(os.Expand(string(buf), lookupEnv))
	}

	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)

	if err := dec.Decode(conf); err != nil {
		return fmt.Errorf("parse config: %s: %w", path, err)
	}

	return nil
}

func lookupEnv(s string) string {
	name, def, hasDefault := strings.Cut(s, ":")
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	if hasDefault {
		return def
	}
	return ""
}
