// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

//go:build !js && !wasip1

package engine

func detect() Engine {
	return Native()
}
