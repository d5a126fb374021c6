// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"github.com/spf13/viper"
)

// Viper represents a Source backed by a [viper.Viper] instance, which
// lets command line flags bound to viper override other sources.
type Viper struct {
	v *viper.Viper
}

// FromViper returns a Source which applies every setting known to v.
func FromViper(v *viper.Viper) Viper {
	return Viper{v: v}
}

// Apply implements the [Source] interface.
func (src Viper) Apply(store Store) error {
	return Map(src.v.AllSettings()).Apply(store)
}
