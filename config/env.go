// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"os"
	"strings"

	"github.com/z5labs/pullserve/config/key"
)

// Env represents a Source where its underlying values
// are extracted from environment variables.
//
// Only variables starting with the prefix and an underscore are used.
// The rest of the name is lower cased and split on double underscores
// into nested keys, so PULLSERVE_SERVER__PORT sets server.port.
type Env struct {
	prefix  string
	environ func() []string
}

// FromEnv returns a Source which will apply its config
// from the environment variables available to the
// current process.
func FromEnv(prefix string) Env {
	return Env{
		prefix:  prefix,
		environ: os.Environ,
	}
}

// Apply implements the [Source] interface.
func (src Env) Apply(store Store) error {
	prefix := strings.ToUpper(src.prefix) + "_"
	for _, pair := range src.environ() {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		name, ok := strings.CutPrefix(k, prefix)
		if !ok || name == "" {
			continue
		}

		err := store.Set(envKey(name), v)
		if err != nil {
			return err
		}
	}
	return nil
}

func envKey(name string) key.Keyer {
	parts := strings.Split(strings.ToLower(name), "__")
	if len(parts) == 1 {
		return key.Name(parts[0])
	}

	chain := make(key.Chain, len(parts))
	for i, p := range parts {
		chain[i] = key.Name(p)
	}
	return chain
}
