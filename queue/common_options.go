// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package queue

import (
	"log/slog"

	"github.com/z5labs/pullserve/pkg/otelslog"
)

type commonOptions struct {
	logHandler slog.Handler
}

// Option configures either queue runtime.
type Option interface {
	SequentialOption
	PipeOption
}

type commonOptionFunc func(*commonOptions)

func (f commonOptionFunc) applySequential(so *sequentialOptions) {
	f(&so.commonOptions)
}

func (f commonOptionFunc) applyPipe(po *pipeOptions) {
	f(&po.commonOptions)
}

// LogHandler configures the underlying slog.Handler. The handler is
// wrapped so records carry the active trace and span ids.
func LogHandler(h slog.Handler) Option {
	return commonOptionFunc(func(co *commonOptions) {
		co.logHandler = otelslog.NewHandler(h)
	})
}
