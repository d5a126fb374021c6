// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package pullserve serves HTTP by letting a consumer pull requests off
// a queue and answer them whenever it is ready.
//
// The [server] package bridges a push style HTTP engine, which calls a
// handler for every request, into a pull style stream of requests. This
// package provides the application scaffolding which reads config,
// builds an [App] from it and runs that app:
//
//	err := pullserve.Run(
//	    ctx,
//	    pullserve.AppBuilderFunc[Config](build),
//	    config.FromYaml(config.OpenFile(os.DirFS("."), "config.yaml")),
//	    config.FromEnv("PULLSERVE"),
//	)
//
// [server]: https://pkg.go.dev/github.com/z5labs/pullserve/server
package pullserve
