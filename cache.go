// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"fmt"
	"time"
)

// maxStateReference is where state reference numbering wraps.
const maxStateReference = 0xffffff

type cacheEntry[T any] struct {
	value    T
	pushedAt time.Time

	// held entries belong to a pending request and never expire.
	held bool
}

// stateCache keeps per-message security or processing state between the
// moment a message is handled and the moment its answer is built. Each
// entry is identified by an opaque reference and retrieved at most once.
type stateCache[T any] struct {
	counter uint32
	entries map[uint32]cacheEntry[T]
}

func newStateCache[T any]() *stateCache[T] {
	return &stateCache[T]{entries: make(map[uint32]cacheEntry[T])}
}

// push stores value and returns its reference. References are never zero
// and skip over ones still in use after the counter wraps.
func (c *stateCache[T]) push(value T, now time.Time) uint32 {
	return c.add(cacheEntry[T]{value: value, pushedAt: now})
}

// hold stores value like push, but expire leaves it alone. The owner must
// pop or discard it.
func (c *stateCache[T]) hold(value T) uint32 {
	return c.add(cacheEntry[T]{value: value, held: true})
}

func (c *stateCache[T]) add(entry cacheEntry[T]) uint32 {
	for {
		c.counter++
		if c.counter > maxStateReference {
			c.counter = 1
		}
		if _, busy := c.entries[c.counter]; !busy {
			break
		}
	}
	c.entries[c.counter] = entry
	return c.counter
}

// pop removes and returns the entry for ref.
func (c *stateCache[T]) pop(ref uint32) (T, error) {
	entry, ok := c.entries[ref]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: state reference %d", ErrCacheMiss, ref)
	}
	delete(c.entries, ref)
	return entry.value, nil
}

// discard drops ref if present.
func (c *stateCache[T]) discard(ref uint32) {
	delete(c.entries, ref)
}

// peek returns the entry for ref without removing it.
func (c *stateCache[T]) peek(ref uint32) (T, error) {
	entry, ok := c.entries[ref]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: state reference %d", ErrCacheMiss, ref)
	}
	return entry.value, nil
}

// expire drops entries pushed before cutoff, other than held ones, handing each to release when
// it is not nil, and reports how many went.
func (c *stateCache[T]) expire(cutoff time.Time, release func(T)) int {
	n := 0
	for ref, entry := range c.entries {
		if !entry.held && entry.pushedAt.Before(cutoff) {
			delete(c.entries, ref)
			if release != nil {
				release(entry.value)
			}
			n++
		}
	}
	return n
}

func (c *stateCache[T]) size() int {
	return len(c.entries)
}
