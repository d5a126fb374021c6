// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build js || wasip1

package engine

import (
	"fmt"
	"runtime"
)

func detect() Engine {
	return Unavailable(fmt.Errorf("%s/%s can not accept socket connections", runtime.GOOS, runtime.GOARCH))
}
