// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/z5labs/pullserve"
	"github.com/z5labs/pullserve/config"
	"github.com/z5labs/pullserve/internal/service"
	"github.com/z5labs/pullserve/pkg/app"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "PULLSERVE"

// flagKeys maps every serve flag onto its config key.
var flagKeys = map[string]string{
	"hostname":         "server.hostname",
	"port":             "server.port",
	"queue-capacity":   "server.queue_capacity",
	"max-concurrency":  "server.max_concurrency",
	"tls-cert":         "server.tls.cert_file",
	"tls-key":          "server.tls.key_file",
	"upstream":         "upstream.url",
	"upstream-retries": "upstream.max_retries",
	"log-level":        "logging.level",
	"log-format":       "logging.format",
	"otel-exporter":    "otel.exporter",
	"otel-target":      "otel.target",
}

func newRootCmd(b pullserve.AppBuilder[service.Config]) *cobra.Command {
	root := &cobra.Command{
		Use:           "pullserve",
		Short:         "Serve HTTP requests from a pull based worker pool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(b))
	return root
}

func newServeCmd(b pullserve.AppBuilder[service.Config]) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start accepting requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srcs, err := configSources(cmd.Flags())
			if err != nil {
				return err
			}

			builder := pullserve.AppBuilderFunc[service.Config](func(ctx context.Context, cfg service.Config) (pullserve.App, error) {
				a, err := b.Build(ctx, cfg)
				if err != nil {
					return nil, err
				}
				a = app.Recover(a)
				return app.WithSignalNotifications(a, os.Interrupt, syscall.SIGTERM), nil
			})

			return pullserve.Run(cmd.Context(), builder, srcs...)
		},
	}

	flags := cmd.Flags()
	flags.StringP("config", "c", "pullserve.yaml", "yaml config file, rendered as a text/template")
	flags.String("hostname", "", "hostname to listen on")
	flags.IntP("port", "p", 8080, "port to listen on, 0 picks a free port")
	flags.Int("queue-capacity", 1, "number of requests which may wait to be processed")
	flags.Uint("max-concurrency", 0, "number of requests processed at once, 0 means unbounded")
	flags.String("tls-cert", "", "PEM encoded certificate file")
	flags.String("tls-key", "", "PEM encoded private key file")
	flags.String("upstream", "", "base url requests are forwarded to, requests are echoed when unset")
	flags.Int("upstream-retries", 3, "retries for a failed upstream request")
	flags.String("log-level", "info", "one of debug, info, warn or error")
	flags.String("log-format", "json", "one of json or text")
	flags.String("otel-exporter", "none", "one of none, stdout or otlp")
	flags.String("otel-target", "", "gRPC target of the otlp collector")

	return cmd
}

// configSources orders the sources so env vars override the config file
// and explicitly set flags override both.
func configSources(flags *pflag.FlagSet) ([]config.Source, error) {
	path, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}

	var opts []config.FileOption
	if !flags.Changed("config") {
		opts = append(opts, config.Optional())
	}

	fsys, name := dirFS(path)
	yamlSrc := config.FromYaml(config.RenderTextTemplate(config.OpenFile(fsys, name, opts...)))

	return []config.Source{
		defaults(flags),
		yamlSrc,
		config.FromEnv(envPrefix),
		config.FromViper(changedFlags(flags)),
	}, nil
}

func dirFS(path string) (fsys fs.FS, name string) {
	if path == "" {
		return os.DirFS("."), ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return os.DirFS("."), filepath.ToSlash(path)
	}
	return os.DirFS(filepath.Dir(abs)), filepath.Base(abs)
}

// defaults holds the flag defaults so they apply even when a flag is
// left unset and no other source names its key.
func defaults(flags *pflag.FlagSet) config.Source {
	v := viper.New()
	flags.VisitAll(func(f *pflag.Flag) {
		k, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		v.SetDefault(k, f.DefValue)
	})
	return config.FromViper(v)
}

func changedFlags(flags *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	flags.Visit(func(f *pflag.Flag) {
		k, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		v.Set(k, strings.TrimSpace(f.Value.String()))
	})
	return v
}
