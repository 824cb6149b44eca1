// Copyright 2012 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RFC 3414 appendix A.3 vectors.
var testPasswordToKey = []struct {
	auth     AuthProtocol
	password string
	engineid string
	outKey   []byte
}{
	{MD5, "maplesyrup", string([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2}), []byte{0x52, 0x6f, 0x5e, 0xed, 0x9f, 0xcc, 0xe2, 0x6f, 0x89, 0x64, 0xc2, 0x93, 0x07, 0x87, 0xd8, 0x2b}},
	{SHA, "maplesyrup", string([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2}), []byte{0x66, 0x95, 0xfe, 0xbc, 0x92, 0x88, 0xe3, 0x62, 0x82, 0x23, 0x5f, 0xc7, 0x15, 0x1f, 0x12, 0x84, 0x97, 0xb3, 0x8f, 0x3f}},
}

func TestPasswordToKey(t *testing.T) {
	for i, test := range testPasswordToKey {
		result := passwordToKey(test.auth, []byte(test.password), test.engineid)
		if !bytes.Equal(result, test.outKey) {
			t.Errorf("#%d %s, got %x expected %x", i, test.auth, result, test.outKey)
		}
	}
}

func TestDigestLength(t *testing.T) {
	key := passwordToKey(SHA512, []byte("maplesyrup"), "engine-id")
	for auth, want := range map[AuthProtocol]int{MD5: 12, SHA: 12, SHA224: 16, SHA256: 24, SHA384: 32, SHA512: 48} {
		assert.Len(t, computeDigest(auth, key, []byte("message")), want, auth.String())
	}
}

func TestLocalizePrivKeyLength(t *testing.T) {
	kul := passwordToKey(SHA, []byte("maplesyrup"), "engine-id")
	for _, p := range []PrivProtocol{DES, AES, AES192, AES256, AES192C, AES256C} {
		key := localizePrivKey(SHA, p, kul, "engine-id")
		require.Len(t, key, p.keyLength(), p.String())
		assert.Equal(t, kul[:16], key[:16], "%s extends the localized key", p)
	}

	// the two extension schemes differ past the first block
	blumenthal := localizePrivKey(SHA, AES256, kul, "engine-id")
	reeder := localizePrivKey(SHA, AES256C, kul, "engine-id")
	assert.NotEqual(t, blumenthal[20:], reeder[20:])
}

func TestPrivacyRoundTrip(t *testing.T) {
	plaintext := []byte("a scoped PDU that is not a multiple of the block size")
	kul := passwordToKey(SHA, []byte("privpassphrase"), "engine-id")

	for _, p := range []PrivProtocol{DES, AES, AES192, AES256, AES192C, AES256C} {
		t.Run(p.String(), func(t *testing.T) {
			key := localizePrivKey(SHA, p, kul, "engine-id")
			ciphertext, privParams, err := encryptScopedPDU(p, key, 3, 1200, 0x0102030405060708, plaintext)
			require.NoError(t, err)
			require.Len(t, privParams, 8)
			assert.NotEqual(t, plaintext, ciphertext[:len(plaintext)])

			decrypted, err := decryptScopedPDU(p, key, 3, 1200, privParams, ciphertext)
			require.NoError(t, err)
			// DES pads to the block size
			assert.Equal(t, plaintext, decrypted[:len(plaintext)])

			_, err = decryptScopedPDU(p, key, 3, 1200, privParams[:4], ciphertext)
			assert.ErrorIs(t, err, ErrDecryption)
		})
	}

	_, err := decryptScopedPDU(DES, localizePrivKey(SHA, DES, kul, "engine-id"), 0, 0, make([]byte, 8), []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestUSMSecurityParameters(t *testing.T) {
	sp := &usmSecurityParameters{
		AuthoritativeEngineID:    "\x80\x00\x1f\x88\x04test",
		AuthoritativeEngineBoots: 7,
		AuthoritativeEngineTime:  123456,
		UserName:                 "alice",
		AuthenticationParameters: bytes.Repeat([]byte{0xaa}, 12),
		PrivacyParameters:        []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}
	enc, authOffset, err := sp.marshal()
	require.NoError(t, err)
	assert.Equal(t, sp.AuthenticationParameters, enc[authOffset:authOffset+12])

	got, gotOffset, err := unmarshalUSMSecurityParameters(enc)
	require.NoError(t, err)
	assert.Equal(t, authOffset, gotOffset)
	if diff := cmp.Diff(sp, got); diff != "" {
		t.Errorf("security parameters mismatch (-want +got):\n%s", diff)
	}
	assert.NotContains(t, got.SafeString(), "\xaa")

	_, _, err = unmarshalUSMSecurityParameters(enc[:len(enc)-3])
	assert.ErrorIs(t, err, ErrParse)

	sp.UserName = string(bytes.Repeat([]byte("u"), 33))
	enc, _, err = sp.marshal()
	require.NoError(t, err)
	_, _, err = unmarshalUSMSecurityParameters(enc)
	assert.ErrorIs(t, err, ErrParse)
}

func TestUSMKeyCache(t *testing.T) {
	c := newUSMKeyCache(4)
	user := &USMUser{
		UserName:       "alice",
		AuthProtocol:   SHA,
		AuthPassphrase: "maplesyrup",
		PrivProtocol:   AES,
		PrivPassphrase: "maplesyrup",
	}
	engineID := string([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2})

	k := c.keys(user, engineID)
	assert.Equal(t, testPasswordToKey[1].outKey, k.auth)
	assert.Equal(t, testPasswordToKey[1].outKey[:16], k.priv)
	assert.Equal(t, 1, c.size())

	c.keys(user, engineID)
	assert.Equal(t, 1, c.size())

	// a changed passphrase is a different entry
	changed := *user
	changed.AuthPassphrase = "maplesyrup2"
	assert.NotEqual(t, k.auth, c.keys(&changed, engineID).auth)
	assert.Equal(t, 2, c.size())

	noAuth := c.keys(&USMUser{UserName: "bob", AuthProtocol: NoAuth, PrivProtocol: NoPriv}, engineID)
	assert.Nil(t, noAuth.auth)
	assert.Nil(t, noAuth.priv)
}

func TestUSMUserSupports(t *testing.T) {
	authPriv := &USMUser{AuthProtocol: SHA, PrivProtocol: AES}
	authOnly := &USMUser{AuthProtocol: MD5, PrivProtocol: NoPriv}
	none := &USMUser{AuthProtocol: NoAuth, PrivProtocol: NoPriv}

	assert.True(t, authPriv.supports(AuthPriv))
	assert.True(t, authOnly.supports(AuthNoPriv))
	assert.False(t, authOnly.supports(AuthPriv))
	assert.True(t, none.supports(NoAuthNoPriv))
	assert.False(t, none.supports(AuthNoPriv))
}

func TestProtocolNames(t *testing.T) {
	p, err := ParsePrivProtocol("AES128")
	require.NoError(t, err)
	assert.Equal(t, AES, p)
	p, err = ParsePrivProtocol("")
	require.NoError(t, err)
	assert.Equal(t, NoPriv, p)
	_, err = ParsePrivProtocol("rc4")
	assert.Error(t, err)

	a, err := ParseAuthProtocol("SHA256")
	require.NoError(t, err)
	assert.Equal(t, SHA256, a)
	assert.Equal(t, "sha256", a.String())
}
