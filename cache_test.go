// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateCache(t *testing.T) {
	c := newStateCache[string]()
	now := time.Unix(1700000000, 0)

	a := c.push("a", now)
	b := c.push("b", now.Add(time.Minute))
	assert.NotZero(t, a)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, c.size())

	v, err := c.peek(a)
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	v, err = c.pop(a)
	require.NoError(t, err)
	assert.Equal(t, "a", v)
	_, err = c.pop(a)
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.peek(a)
	assert.ErrorIs(t, err, ErrCacheMiss)

	c.discard(b)
	c.discard(b)
	assert.Zero(t, c.size())
}

func TestStateCacheWrap(t *testing.T) {
	c := newStateCache[int]()
	c.counter = maxStateReference - 1
	busy := c.push(0, time.Time{})
	assert.Equal(t, uint32(maxStateReference), busy)

	// the counter wraps to 1, skipping zero
	c.entries[1] = cacheEntry[int]{}
	assert.Equal(t, uint32(2), c.push(2, time.Time{}))
}

func TestStateCacheExpire(t *testing.T) {
	c := newStateCache[string]()
	start := time.Unix(1700000000, 0)
	c.push("old", start)
	c.push("older", start.Add(-time.Minute))
	keep := c.push("new", start.Add(time.Hour))

	var released []string
	n := c.expire(start.Add(time.Second), func(s string) { released = append(released, s) })
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"old", "older"}, released)

	v, err := c.pop(keep)
	require.NoError(t, err)
	assert.Equal(t, "new", v)
	assert.Zero(t, c.expire(start.Add(48*time.Hour), nil))
}

func TestStateCacheHeldEntriesDoNotExpire(t *testing.T) {
	c := newStateCache[string]()
	start := time.Unix(1700000000, 0)
	held := c.hold("request")
	c.push("response", start)

	assert.Equal(t, 1, c.expire(start.Add(48*time.Hour), nil))
	v, err := c.pop(held)
	require.NoError(t, err)
	assert.Equal(t, "request", v)

	held = c.hold("retry")
	c.discard(held)
	_, err = c.pop(held)
	assert.ErrorIs(t, err, ErrCacheMiss)
}
