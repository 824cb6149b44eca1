// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

// ContextKey names a slot of application data attached to an Engine. The
// type parameter fixes what the slot holds, so only code that has the key
// can read or write it with the right type.
type ContextKey[T any] struct {
	name string
}

func NewContextKey[T any](name string) ContextKey[T] {
	return ContextKey[T]{name: name}
}

func (k ContextKey[T]) String() string {
	return k.name
}

// SetUserContext stores value under key, replacing any previous value.
func SetUserContext[T any](e *Engine, key ContextKey[T], value T) {
	if e.userContext == nil {
		e.userContext = make(map[string]any)
	}
	e.userContext[key.name] = value
}

// UserContext returns the value stored under key.
func UserContext[T any](e *Engine, key ContextKey[T]) (T, bool) {
	v, ok := e.userContext[key.name].(T)
	return v, ok
}

// DeleteUserContext removes key. Deleting an absent key is a no-op.
func DeleteUserContext[T any](e *Engine, key ContextKey[T]) {
	delete(e.userContext, key.name)
}
