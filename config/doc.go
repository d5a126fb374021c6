// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package config layers key value sources into a single tree and decodes
// it into a Go struct.
//
// Sources are applied in order so later sources override earlier ones:
//
//	m, err := config.Read(
//	    config.FromYaml(config.RenderTextTemplate(config.OpenFile(os.DirFS("."), "config.yaml", config.Optional()))),
//	    config.FromEnv("PULLSERVE"),
//	)
//	if err != nil {
//	    return err
//	}
//
//	var cfg struct {
//	    Server struct {
//	        Port int `config:"port"`
//	    } `config:"server"`
//	}
//	err = m.Unmarshal(&cfg)
//
// Struct fields are matched using the "config" tag. Strings are decoded
// into [time.Duration] values and any type implementing
// [encoding.TextUnmarshaler].
package config
