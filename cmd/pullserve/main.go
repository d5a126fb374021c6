// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command pullserve accepts HTTP requests and answers them from a pool
// of workers which pull the requests off a bounded queue.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/z5labs/pullserve/internal/service"
)

func main() {
	cmd := newRootCmd(service.Builder{})
	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
