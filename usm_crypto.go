// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des" //nolint:gosec
	"crypto/hmac"
	"crypto/md5"  //nolint:gosec
	"crypto/sha1" //nolint:gosec
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"hash"
	"strings"
)

// AuthProtocol describes the authentication protocol in use by a USM user.
type AuthProtocol int

const (
	NoAuth AuthProtocol = 1
	MD5    AuthProtocol = 2
	SHA    AuthProtocol = 3
	SHA224 AuthProtocol = 4
	SHA256 AuthProtocol = 5
	SHA384 AuthProtocol = 6
	SHA512 AuthProtocol = 7
)

var authProtocolNames = map[AuthProtocol]string{
	NoAuth: "none",
	MD5:    "md5",
	SHA:    "sha",
	SHA224: "sha224",
	SHA256: "sha256",
	SHA384: "sha384",
	SHA512: "sha512",
}

func (a AuthProtocol) String() string {
	if s, ok := authProtocolNames[a]; ok {
		return s
	}
	return fmt.Sprintf("AuthProtocol(%d)", int(a))
}

// ParseAuthProtocol accepts the names printed by AuthProtocol.String,
// case insensitively. An empty name means NoAuth.
func ParseAuthProtocol(name string) (AuthProtocol, error) {
	name = strings.ToLower(name)
	if name == "" {
		return NoAuth, nil
	}
	for p, s := range authProtocolNames {
		if s == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown authentication protocol %q", name)
}

func (a AuthProtocol) newHash() hash.Hash {
	switch a {
	case MD5:
		return md5.New() //nolint:gosec
	case SHA224:
		return sha256.New224()
	case SHA256:
		return sha256.New()
	case SHA384:
		return sha512.New384()
	case SHA512:
		return sha512.New()
	}
	return sha1.New() //nolint:gosec
}

// digestLength is the truncated HMAC length carried in
// msgAuthenticationParameters (RFC 3414, RFC 7860).
func (a AuthProtocol) digestLength() int {
	switch a {
	case MD5, SHA:
		return 12
	case SHA224:
		return 16
	case SHA256:
		return 24
	case SHA384:
		return 32
	case SHA512:
		return 48
	}
	return 0
}

// PrivProtocol is the privacy protocol in use by a USM user.
type PrivProtocol int

const (
	NoPriv  PrivProtocol = 1
	DES     PrivProtocol = 2
	AES     PrivProtocol = 3
	AES192  PrivProtocol = 4 // Blumenthal-AES192
	AES256  PrivProtocol = 5 // Blumenthal-AES256
	AES192C PrivProtocol = 6 // Reeder-AES192
	AES256C PrivProtocol = 7 // Reeder-AES256
)

var privProtocolNames = map[PrivProtocol]string{
	NoPriv:  "none",
	DES:     "des",
	AES:     "aes",
	AES192:  "aes192",
	AES256:  "aes256",
	AES192C: "aes192c",
	AES256C: "aes256c",
}

func (p PrivProtocol) String() string {
	if s, ok := privProtocolNames[p]; ok {
		return s
	}
	return fmt.Sprintf("PrivProtocol(%d)", int(p))
}

// ParsePrivProtocol accepts the names printed by PrivProtocol.String,
// case insensitively, plus "aes128". An empty name means NoPriv.
func ParsePrivProtocol(name string) (PrivProtocol, error) {
	name = strings.ToLower(name)
	switch name {
	case "":
		return NoPriv, nil
	case "aes128":
		return AES, nil
	}
	for p, s := range privProtocolNames {
		if s == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown privacy protocol %q", name)
}

// keyLength is the length of the localized privacy key the protocol
// consumes. For DES that is the key plus the pre-IV.
func (p PrivProtocol) keyLength() int {
	switch p {
	case DES, AES:
		return 16
	case AES192, AES192C:
		return 24
	case AES256, AES256C:
		return 32
	}
	return 0
}

// saltLength is the length of msgPrivacyParameters.
func (p PrivProtocol) saltLength() int {
	if p == NoPriv {
		return 0
	}
	return 8
}

// passwordToKey implements the password to key algorithm of RFC 3414
// appendix A.2 followed by localization to engineID.
func passwordToKey(a AuthProtocol, password []byte, engineID string) []byte {
	h := a.newHash()
	if len(password) > 0 {
		var buf [64]byte
		idx := 0
		for count := 0; count < 1048576; count += len(buf) {
			for i := range buf {
				buf[i] = password[idx%len(password)]
				idx++
			}
			h.Write(buf[:])
		}
	}
	ku := h.Sum(nil)

	h.Reset()
	h.Write(ku)
	h.Write([]byte(engineID))
	h.Write(ku)
	return h.Sum(nil)
}

// localizePrivKey derives the privacy key of p from the localized key kul,
// extending it when the hash is shorter than the cipher needs.
func localizePrivKey(a AuthProtocol, p PrivProtocol, kul []byte, engineID string) []byte {
	n := p.keyLength()
	key := append([]byte(nil), kul...)
	switch p {
	case AES192C, AES256C:
		// Reeder: each extension block localizes the previous one.
		last := kul
		for len(key) < n {
			last = passwordToKey(a, last, engineID)
			key = append(key, last...)
		}
	default:
		// Blumenthal: append the hash of the key so far.
		for len(key) < n {
			h := a.newHash()
			h.Write(key)
			key = h.Sum(key)
		}
	}
	return key[:n]
}

// computeDigest returns the truncated HMAC of msg.
func computeDigest(a AuthProtocol, key, msg []byte) []byte {
	mac := hmac.New(a.newHash, key)
	mac.Write(msg)
	return mac.Sum(nil)[:a.digestLength()]
}

// encryptScopedPDU encrypts plaintext under key. For DES the salt is
// boots followed by a local counter and the IV is the salt XORed with the
// pre-IV (RFC 3414 8.1.1.1); for AES the IV is boots, time and the 64 bit
// salt (RFC 3826 3.1.2.1).
func encryptScopedPDU(p PrivProtocol, key []byte, boots, engineTime uint32, salt uint64, plaintext []byte) (ciphertext, privParams []byte, err error) {
	privParams = make([]byte, 8)
	switch p {
	case DES:
		binary.BigEndian.PutUint32(privParams, boots)
		binary.BigEndian.PutUint32(privParams[4:], uint32(salt))
		block, err := des.NewCipher(key[:8]) //nolint:gosec
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrEncryption, err)
		}
		iv := make([]byte, 8)
		for i := range iv {
			iv[i] = key[8+i] ^ privParams[i]
		}
		padded := plaintext
		if rem := len(padded) % des.BlockSize; rem != 0 {
			padded = append(append([]byte(nil), plaintext...), make([]byte, des.BlockSize-rem)...)
		}
		ciphertext = make([]byte, len(padded))
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
		return ciphertext, privParams, nil

	case AES, AES192, AES256, AES192C, AES256C:
		binary.BigEndian.PutUint64(privParams, salt)
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrEncryption, err)
		}
		ciphertext = make([]byte, len(plaintext))
		cipher.NewCFBEncrypter(block, aesIV(boots, engineTime, privParams)).XORKeyStream(ciphertext, plaintext)
		return ciphertext, privParams, nil
	}
	return nil, nil, fmt.Errorf("%w: unsupported privacy protocol %s", ErrEncryption, p)
}

func decryptScopedPDU(p PrivProtocol, key []byte, boots, engineTime uint32, privParams, ciphertext []byte) ([]byte, error) {
	if len(privParams) != 8 {
		return nil, fmt.Errorf("%w: privacy parameters of %d bytes", ErrDecryption, len(privParams))
	}
	switch p {
	case DES:
		if len(ciphertext) == 0 || len(ciphertext)%des.BlockSize != 0 {
			return nil, fmt.Errorf("%w: ciphertext of %d bytes", ErrDecryption, len(ciphertext))
		}
		block, err := des.NewCipher(key[:8]) //nolint:gosec
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
		}
		iv := make([]byte, 8)
		for i := range iv {
			iv[i] = key[8+i] ^ privParams[i]
		}
		plaintext := make([]byte, len(ciphertext))
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
		return plaintext, nil

	case AES, AES192, AES256, AES192C, AES256C:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
		}
		plaintext := make([]byte, len(ciphertext))
		cipher.NewCFBDecrypter(block, aesIV(boots, engineTime, privParams)).XORKeyStream(plaintext, ciphertext)
		return plaintext, nil
	}
	return nil, fmt.Errorf("%w: unsupported privacy protocol %s", ErrDecryption, p)
}

func aesIV(boots, engineTime uint32, salt []byte) []byte {
	iv := make([]byte, 16)
	binary.BigEndian.PutUint32(iv, boots)
	binary.BigEndian.PutUint32(iv[4:], engineTime)
	copy(iv[8:], salt)
	return iv
}
