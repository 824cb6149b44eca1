// Copyright 2025 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"fmt"
	"strings"
)

// CertMappingType selects how a tmSecurityName is derived from a peer
// certificate, RFC 6353 section 5.3.2 (snmpTlstmCertToTSNMIdentities).
type CertMappingType int

const (
	// CertMapSpecified maps a certificate fingerprint to a configured name.
	CertMapSpecified CertMappingType = iota

	// CertMapSANRFC822 takes the first rfc822Name, host part lowercased.
	CertMapSANRFC822

	// CertMapSANDNSName takes the first dNSName, lowercased.
	CertMapSANDNSName

	// CertMapSANIPAddress takes the first iPAddress.
	CertMapSANIPAddress

	// CertMapSANAny takes the first rfc822Name, dNSName or iPAddress, in
	// that order.
	CertMapSANAny

	// CertMapCommonName takes the subject CommonName.
	CertMapCommonName
)

var certMappingTypeNames = map[CertMappingType]string{
	CertMapSpecified:    "specified",
	CertMapSANRFC822:    "sanRFC822Name",
	CertMapSANDNSName:   "sanDNSName",
	CertMapSANIPAddress: "sanIpAddress",
	CertMapSANAny:       "sanAny",
	CertMapCommonName:   "commonName",
}

func (t CertMappingType) String() string {
	if s, ok := certMappingTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("CertMappingType(%d)", int(t))
}

// ParseCertMappingType accepts the names printed by CertMappingType.String,
// case insensitively.
func ParseCertMappingType(s string) (CertMappingType, error) {
	for t, name := range certMappingTypeNames {
		if strings.EqualFold(s, name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown certificate mapping type %q", s)
}

// CertMapping is one row of the certificate to tmSecurityName table. Only
// CertMapSpecified rows use Fingerprint, HashAlgo and SecurityName; the
// other types derive the name from the certificate.
type CertMapping struct {
	Type        CertMappingType
	Fingerprint []byte

	// HashAlgo computes Fingerprint. Zero means SHA-256.
	HashAlgo     crypto.Hash
	SecurityName string
}

// CertFingerprint hashes the DER encoding of cert. A zero hashAlgo means
// SHA-256.
func CertFingerprint(cert *x509.Certificate, hashAlgo crypto.Hash) []byte {
	if hashAlgo == 0 {
		hashAlgo = crypto.SHA256
	}
	h := hashAlgo.New()
	h.Write(cert.Raw)
	return h.Sum(nil)
}

// ExtractSecurityName derives the tmSecurityName of a peer from its
// certificate chain, leaf first. Mappings are tried in order and each one
// against every certificate of the chain; the first match wins.
func ExtractSecurityName(chain []*x509.Certificate, mappings []CertMapping) (string, error) {
	if len(chain) == 0 {
		return "", fmt.Errorf("%w: peer presented no certificate", ErrNoCertMapping)
	}
	for _, m := range mappings {
		for _, cert := range chain {
			if name, ok := m.apply(cert); ok {
				return name, nil
			}
		}
	}
	return "", fmt.Errorf("%w: subject %q", ErrNoCertMapping, chain[0].Subject.CommonName)
}

func (m CertMapping) apply(cert *x509.Certificate) (string, bool) {
	switch m.Type {
	case CertMapSpecified:
		if bytes.Equal(CertFingerprint(cert, m.HashAlgo), m.Fingerprint) {
			return m.SecurityName, true
		}
	case CertMapSANRFC822:
		return firstRFC822Name(cert)
	case CertMapSANDNSName:
		return firstDNSName(cert)
	case CertMapSANIPAddress:
		return firstIPAddress(cert)
	case CertMapSANAny:
		for _, f := range []func(*x509.Certificate) (string, bool){firstRFC822Name, firstDNSName, firstIPAddress} {
			if name, ok := f(cert); ok {
				return name, true
			}
		}
	case CertMapCommonName:
		if cert.Subject.CommonName != "" {
			return cert.Subject.CommonName, true
		}
	}
	return "", false
}

// firstRFC822Name lowercases only the host part of the address.
func firstRFC822Name(cert *x509.Certificate) (string, bool) {
	if len(cert.EmailAddresses) == 0 {
		return "", false
	}
	local, host, ok := strings.Cut(cert.EmailAddresses[0], "@")
	if !ok {
		return local, true
	}
	return local + "@" + strings.ToLower(host), true
}

func firstDNSName(cert *x509.Certificate) (string, bool) {
	if len(cert.DNSNames) == 0 {
		return "", false
	}
	return strings.ToLower(cert.DNSNames[0]), true
}

func firstIPAddress(cert *x509.Certificate) (string, bool) {
	if len(cert.IPAddresses) == 0 {
		return "", false
	}
	return cert.IPAddresses[0].String(), true
}
