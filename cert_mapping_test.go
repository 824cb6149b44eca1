// Copyright 2025 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestCert creates a self-signed certificate with the given names.
func createTestCert(t *testing.T, cn string, dnsNames []string, emails []string, ips []net.IP) *x509.Certificate {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   cn,
			Organization: []string{"Test"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		EmailAddresses:        emails,
		IPAddresses:           ips,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestExtractSecurityName(t *testing.T) {
	all := createTestCert(t, "MyCommonName",
		[]string{"Server.Example.COM"},
		[]string{"User@Example.COM"},
		[]net.IP{net.ParseIP("192.168.1.100")})
	dnsAndIP := createTestCert(t, "test-cn", []string{"server.example.com"}, nil, []net.IP{net.ParseIP("192.168.1.1")})
	ipv6 := createTestCert(t, "test-cn", nil, nil, []net.IP{net.ParseIP("2001:db8::1")})
	bare := createTestCert(t, "", nil, nil, nil)

	tests := []struct {
		name     string
		cert     *x509.Certificate
		mappings []CertMapping
		want     string
		wantErr  error
	}{
		{
			name:     "specified fingerprint",
			cert:     all,
			mappings: []CertMapping{{Type: CertMapSpecified, Fingerprint: CertFingerprint(all, crypto.SHA256), SecurityName: "testUser"}},
			want:     "testUser",
		},
		{
			name:     "specified sha384",
			cert:     all,
			mappings: []CertMapping{{Type: CertMapSpecified, Fingerprint: CertFingerprint(all, crypto.SHA384), HashAlgo: crypto.SHA384, SecurityName: "u384"}},
			want:     "u384",
		},
		{
			name:     "specified mismatch",
			cert:     all,
			mappings: []CertMapping{{Type: CertMapSpecified, Fingerprint: []byte{1, 2, 3}, SecurityName: "testUser"}},
			wantErr:  ErrNoCertMapping,
		},
		{name: "rfc822 lowercases host only", cert: all, mappings: []CertMapping{{Type: CertMapSANRFC822}}, want: "User@example.com"},
		{name: "dns lowercased", cert: all, mappings: []CertMapping{{Type: CertMapSANDNSName}}, want: "server.example.com"},
		{name: "ip", cert: all, mappings: []CertMapping{{Type: CertMapSANIPAddress}}, want: "192.168.1.100"},
		{name: "ipv6", cert: ipv6, mappings: []CertMapping{{Type: CertMapSANIPAddress}}, want: "2001:db8::1"},
		{name: "any prefers email", cert: all, mappings: []CertMapping{{Type: CertMapSANAny}}, want: "User@example.com"},
		{name: "any falls back to dns", cert: dnsAndIP, mappings: []CertMapping{{Type: CertMapSANAny}}, want: "server.example.com"},
		{name: "any falls back to ip", cert: ipv6, mappings: []CertMapping{{Type: CertMapSANAny}}, want: "2001:db8::1"},
		{name: "common name", cert: all, mappings: []CertMapping{{Type: CertMapCommonName}}, want: "MyCommonName"},
		{name: "empty common name", cert: bare, mappings: []CertMapping{{Type: CertMapCommonName}}, wantErr: ErrNoCertMapping},
		{name: "no mappings", cert: all, wantErr: ErrNoCertMapping},
		{
			name: "first mapping wins",
			cert: all,
			mappings: []CertMapping{
				{Type: CertMapSANDNSName},
				{Type: CertMapSANRFC822},
				{Type: CertMapSpecified, Fingerprint: CertFingerprint(all, 0), SecurityName: "specified"},
			},
			want: "server.example.com",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractSecurityName([]*x509.Certificate{tt.cert}, tt.mappings)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractSecurityNameChain(t *testing.T) {
	issuer := createTestCert(t, "Issuer CA", nil, nil, nil)
	leaf := createTestCert(t, "Leaf Cert", []string{"leaf.example.com"}, nil, nil)

	mappings := []CertMapping{
		{Type: CertMapSpecified, Fingerprint: CertFingerprint(issuer, crypto.SHA256), SecurityName: "issuerMatch"},
	}
	name, err := ExtractSecurityName([]*x509.Certificate{leaf, issuer}, mappings)
	require.NoError(t, err)
	assert.Equal(t, "issuerMatch", name)

	_, err = ExtractSecurityName(nil, mappings)
	require.ErrorIs(t, err, ErrNoCertMapping)
}

func TestCertFingerprint(t *testing.T) {
	cert := createTestCert(t, "test", nil, nil, nil)
	assert.Len(t, CertFingerprint(cert, crypto.SHA256), 32)
	assert.Len(t, CertFingerprint(cert, crypto.SHA384), 48)
	assert.Len(t, CertFingerprint(cert, crypto.SHA512), 64)
	assert.Equal(t, CertFingerprint(cert, crypto.SHA256), CertFingerprint(cert, 0))
}

func TestParseCertMappingType(t *testing.T) {
	for typ := CertMapSpecified; typ <= CertMapCommonName; typ++ {
		got, err := ParseCertMappingType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	got, err := ParseCertMappingType("SANDNSNAME")
	require.NoError(t, err)
	assert.Equal(t, CertMapSANDNSName, got)

	_, err = ParseCertMappingType("subject")
	assert.Error(t, err)
}
