// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"crypto/sha256"

	lru "github.com/hashicorp/golang-lru/v2"
)

// localizedKeyCacheSize bounds the number of (user, engine) key pairs kept.
// Localizing a password costs a megabyte of hashing, so a manager talking
// to many agents benefits from a generous cache.
const localizedKeyCacheSize = 1024

type localizedKeyID struct {
	auth       AuthProtocol
	priv       PrivProtocol
	authSecret [sha256.Size]byte
	privSecret [sha256.Size]byte
	engineID   string
}

type localizedKeys struct {
	auth []byte
	priv []byte
}

// usmKeyCache memoizes localized authentication and privacy keys. Entries
// are keyed by a hash of the passphrases so the cache never holds them in
// the clear.
type usmKeyCache struct {
	cache *lru.Cache[localizedKeyID, localizedKeys]
}

func newUSMKeyCache(size int) *usmKeyCache {
	c, err := lru.New[localizedKeyID, localizedKeys](size)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &usmKeyCache{cache: c}
}

// keys returns the keys of user localized to engineID.
func (c *usmKeyCache) keys(user *USMUser, engineID string) localizedKeys {
	id := localizedKeyID{
		auth:       user.AuthProtocol,
		priv:       user.PrivProtocol,
		authSecret: sha256.Sum256([]byte(user.AuthPassphrase)),
		privSecret: sha256.Sum256([]byte(user.PrivPassphrase)),
		engineID:   engineID,
	}
	if k, ok := c.cache.Get(id); ok {
		return k
	}

	var k localizedKeys
	if user.AuthProtocol > NoAuth {
		k.auth = passwordToKey(user.AuthProtocol, []byte(user.AuthPassphrase), engineID)
		if user.PrivProtocol > NoPriv {
			kul := passwordToKey(user.AuthProtocol, []byte(user.PrivPassphrase), engineID)
			k.priv = localizePrivKey(user.AuthProtocol, user.PrivProtocol, kul, engineID)
		}
	}
	c.cache.Add(id, k)
	return k
}

func (c *usmKeyCache) size() int {
	return c.cache.Len()
}
