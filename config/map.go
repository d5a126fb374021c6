// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"fmt"

	"github.com/z5labs/pullserve/config/key"
)

// Store represents a general key value structure.
type Store interface {
	Set(key.Keyer, any) error
}

// Map is an ordinary map[string]any which is both a [Store] and a [Source].
type Map map[string]any

// Set implements the [Store] interface. A [key.Chain] creates nested maps
// as needed.
func (m Map) Set(k key.Keyer, v any) error {
	switch x := k.(type) {
	case key.Name:
		m[string(x)] = v
		return nil
	case key.Chain:
		return m.setChain(x, v)
	default:
		return UnknownKeyerError{Key: k}
	}
}

func (m Map) setChain(chain key.Chain, v any) error {
	if len(chain) == 0 {
		return EmptyKeyChainError{Value: v}
	}

	root := chain[0]
	if len(chain) == 1 {
		return m.Set(root, v)
	}

	old, ok := m[root.Key()]
	if !ok {
		old = make(map[string]any)
		m[root.Key()] = old
	}

	sub, ok := old.(map[string]any)
	if !ok {
		return UnexpectedKeyValueTypeError{
			Key:          root.Key(),
			ExpectedType: "map[string]any",
		}
	}
	return Map(sub).setChain(chain[1:], v)
}

// Apply implements the [Source] interface. It recursively walks the
// map to find key value pairs to set on the given store.
func (m Map) Apply(store Store) error {
	return walkMap(m, store, nil)
}

func walkMap(m map[string]any, store Store, chain key.Chain) error {
	for k, v := range m {
		next := append(chain[:len(chain):len(chain)], key.Name(k))

		switch x := v.(type) {
		case map[string]any:
			err := walkMap(x, store, next)
			if err != nil {
				return err
			}
		case Map:
			err := walkMap(x, store, next)
			if err != nil {
				return err
			}
		default:
			err := store.Set(next, x)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// UnknownKeyerError occurs when a [Store] is given a [key.Keyer] it does
// not know how to resolve.
type UnknownKeyerError struct {
	Key key.Keyer
}

// Error implements the [error] interface.
func (e UnknownKeyerError) Error() string {
	return fmt.Sprintf("config source tried setting config value with unknown key.Keyer: %s", e.Key.Key())
}

// EmptyKeyChainError occurs when a value is set with an empty [key.Chain].
type EmptyKeyChainError struct {
	Value any
}

// Error implements the [error] interface.
func (e EmptyKeyChainError) Error() string {
	return fmt.Sprintf("attempted to set value to an empty key chain: %v", e.Value)
}

// UnexpectedKeyValueTypeError represents the situation when
// a source tries nesting keys under a key which already
// holds a non map value.
type UnexpectedKeyValueTypeError struct {
	Key          string
	ExpectedType string
}

// Error implements the [error] interface.
func (e UnexpectedKeyValueTypeError) Error() string {
	return fmt.Sprintf("expected key value to be a %s: %s", e.ExpectedType, e.Key)
}
