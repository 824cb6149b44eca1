// Copyright 2012 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
)

// Asn1BER is the type of the SNMP PDU
type Asn1BER byte

// Asn1BER's - http://www.ietf.org/rfc/rfc1442.txt
const (
	EndOfContents    Asn1BER = 0x00
	Boolean          Asn1BER = 0x01
	Integer          Asn1BER = 0x02
	BitString        Asn1BER = 0x03
	OctetString      Asn1BER = 0x04
	Null             Asn1BER = 0x05
	ObjectIdentifier Asn1BER = 0x06
	Sequence         Asn1BER = 0x30
	IPAddress        Asn1BER = 0x40
	Counter32        Asn1BER = 0x41
	Gauge32          Asn1BER = 0x42
	TimeTicks        Asn1BER = 0x43
	Opaque           Asn1BER = 0x44
	NsapAddress      Asn1BER = 0x45
	Counter64        Asn1BER = 0x46
	Uinteger32       Asn1BER = 0x47
	NoSuchObject     Asn1BER = 0x80
	NoSuchInstance   Asn1BER = 0x81
	EndOfMibView     Asn1BER = 0x82
)

func (a Asn1BER) String() string {
	switch a {
	case EndOfContents:
		return "EndOfContents"
	case Boolean:
		return "Boolean"
	case Integer:
		return "Integer"
	case BitString:
		return "BitString"
	case OctetString:
		return "OctetString"
	case Null:
		return "Null"
	case ObjectIdentifier:
		return "ObjectIdentifier"
	case Sequence:
		return "Sequence"
	case IPAddress:
		return "IPAddress"
	case Counter32:
		return "Counter32"
	case Gauge32:
		return "Gauge32"
	case TimeTicks:
		return "TimeTicks"
	case Opaque:
		return "Opaque"
	case NsapAddress:
		return "NsapAddress"
	case Counter64:
		return "Counter64"
	case Uinteger32:
		return "Uinteger32"
	case NoSuchObject:
		return "NoSuchObject"
	case NoSuchInstance:
		return "NoSuchInstance"
	case EndOfMibView:
		return "EndOfMibView"
	}
	return fmt.Sprintf("Asn1BER(%#x)", byte(a))
}

// marshalLength builds a byte representation of length
//
// http://luca.ntop.org/Teaching/Appunti/asn1.html
//
// Length octets. There are two forms: short (for lengths between 0 and 127),
// and long definite (for lengths between 0 and 2^1008 -1).
//
//   - Short form. One octet. Bit 8 has value "0" and bits 7-1 give the length.
//   - Long form. Two to 127 octets. Bit 8 of first octet has value "1" and bits
//     7-1 give the number of additional length octets. Second and following
//     octets give the length, base 256, most significant digit first.
func marshalLength(length int) ([]byte, error) {
	if length < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrParse, length)
	}
	if length < 128 {
		return []byte{byte(length)}, nil
	}

	var octets []byte
	for l := length; l > 0; l >>= 8 {
		octets = append([]byte{byte(l)}, octets...)
	}
	return append([]byte{0x80 | byte(len(octets))}, octets...), nil
}

// parseLength returns the total length of the TLV at the start of data,
// header included, and the cursor position of its contents.
func parseLength(data []byte) (int, int, error) {
	if len(data) < 2 {
		return 0, 0, fmt.Errorf("%w: truncated length, have %d bytes", ErrParse, len(data))
	}

	var length, cursor int
	switch {
	case data[1] <= 0x7f:
		length = int(data[1])
		cursor = 2
	case data[1] == 0x80:
		// indefinite form is prohibited by RFC 3417 section 8
		return 0, 0, fmt.Errorf("%w: indefinite length", ErrParse)
	default:
		numOctets := int(data[1] & 0x7f)
		if numOctets > 4 {
			return 0, 0, fmt.Errorf("%w: length field of %d octets", ErrParse, numOctets)
		}
		if len(data) < 2+numOctets {
			return 0, 0, fmt.Errorf("%w: truncated length octets", ErrParse)
		}
		for i := 0; i < numOctets; i++ {
			length = length<<8 | int(data[2+i])
			if length > math.MaxInt32 {
				return 0, 0, fmt.Errorf("%w: length overflow", ErrParse)
			}
		}
		cursor = 2 + numOctets
	}

	length += cursor
	if length > len(data) {
		return 0, 0, fmt.Errorf("%w: length %d exceeds available %d bytes", ErrParse, length, len(data))
	}
	return length, cursor, nil
}

// parseTLV splits the TLV at the start of data into its tag and contents and
// reports how many bytes it spans.
func parseTLV(data []byte) (tag byte, content []byte, consumed int, err error) {
	length, cursor, err := parseLength(data)
	if err != nil {
		return 0, nil, 0, err
	}
	return data[0], data[cursor:length], length, nil
}

// expectTLV is parseTLV with a tag check.
func expectTLV(data []byte, want Asn1BER, what string) ([]byte, int, error) {
	tag, content, consumed, err := parseTLV(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", what, err)
	}
	if tag != byte(want) {
		return nil, 0, fmt.Errorf("%w: %s: expected tag %#x, got %#x", ErrParse, what, byte(want), tag)
	}
	return content, consumed, nil
}

// marshalTLV writes a tag, the BER length of value, and value to buf.
func marshalTLV(buf *bytes.Buffer, tag byte, value []byte) error {
	length, err := marshalLength(len(value))
	if err != nil {
		return err
	}
	buf.WriteByte(tag)
	buf.Write(length)
	buf.Write(value)
	return nil
}

// wrapTLV returns value wrapped in a TLV of the given tag.
func wrapTLV(tag byte, value []byte) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := marshalTLV(buf, tag, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// marshalInt64 encodes v as a minimal two's complement big endian integer.
func marshalInt64(v int64) []byte {
	n := 1
	for i := v; i > 127 || i < -128; i >>= 8 {
		n++
	}
	out := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

// marshalInt32 encodes a signed integer that must fit in 32 bits.
func marshalInt32(v int) ([]byte, error) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return nil, fmt.Errorf("unable to marshal %d: out of int32 range", v)
	}
	return marshalInt64(int64(v)), nil
}

// marshalUint64 encodes v as an unsigned integer, adding a leading zero octet
// when the high bit would otherwise mark it negative.
func marshalUint64(v uint64) []byte {
	var out []byte
	for {
		out = append([]byte{byte(v)}, out...)
		v >>= 8
		if v == 0 {
			break
		}
	}
	if out[0]&0x80 != 0 {
		out = append([]byte{0}, out...)
	}
	return out
}

func parseInt64(data []byte) (int64, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: zero length integer", ErrParse)
	}
	if len(data) > 8 {
		return 0, fmt.Errorf("%w: integer too large", ErrParse)
	}
	var ret int64
	for _, b := range data {
		ret = ret<<8 | int64(b)
	}
	// sign extend
	ret <<= 64 - uint8(len(data))*8
	ret >>= 64 - uint8(len(data))*8
	return ret, nil
}

func parseUint64(data []byte) (uint64, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: zero length integer", ErrParse)
	}
	if len(data) > 9 || (len(data) == 9 && data[0] != 0) {
		return 0, fmt.Errorf("%w: unsigned integer too large", ErrParse)
	}
	var ret uint64
	for _, b := range data {
		ret = ret<<8 | uint64(b)
	}
	return ret, nil
}

func parseUint32(data []byte) (uint32, error) {
	v, err := parseUint64(data)
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: value %d overflows 32 bits", ErrParse, v)
	}
	return uint32(v), nil
}

func parseInt32(data []byte) (int32, error) {
	v, err := parseInt64(data)
	if err != nil {
		return 0, err
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: value %d overflows int32", ErrParse, v)
	}
	return int32(v), nil
}

// parseOIDString splits a dotted OID, with or without a leading dot.
func parseOIDString(oid string) ([]uint32, error) {
	oid = strings.TrimPrefix(oid, ".")
	if oid == "" {
		return nil, nil
	}
	parts := strings.Split(oid, ".")
	out := make([]uint32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid OID %q: %w", oid, err)
		}
		out[i] = uint32(v)
	}
	return out, nil
}

func formatOID(subids []uint32) string {
	var sb strings.Builder
	for _, s := range subids {
		sb.WriteByte('.')
		sb.WriteString(strconv.FormatUint(uint64(s), 10))
	}
	return sb.String()
}

// normalizeOID returns oid in the leading dot form used by decoded PDUs.
func normalizeOID(oid string) string {
	if oid == "" || strings.HasPrefix(oid, ".") {
		return oid
	}
	return "." + oid
}

func marshalObjectIdentifier(oid string) ([]byte, error) {
	subids, err := parseOIDString(oid)
	if err != nil {
		return nil, err
	}
	if len(subids) < 2 {
		return nil, fmt.Errorf("invalid OID %q: fewer than two sub-identifiers", oid)
	}
	if subids[0] > 2 || (subids[0] < 2 && subids[1] >= 40) {
		return nil, fmt.Errorf("invalid OID %q: bad leading arcs", oid)
	}

	out := make([]byte, 0, len(subids)+4)
	out = appendBase128(out, uint64(subids[0])*40+uint64(subids[1]))
	for _, s := range subids[2:] {
		out = appendBase128(out, uint64(s))
	}
	return out, nil
}

func appendBase128(out []byte, v uint64) []byte {
	var tmp [10]byte
	i := len(tmp) - 1
	tmp[i] = byte(v & 0x7f)
	for v >>= 7; v > 0; v >>= 7 {
		i--
		tmp[i] = byte(v&0x7f) | 0x80
	}
	return append(out, tmp[i:]...)
}

func parseObjectIdentifier(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: zero length OBJECT IDENTIFIER", ErrParse)
	}

	var subids []uint32
	var v uint64
	for i, b := range data {
		v = v<<7 | uint64(b&0x7f)
		if v > math.MaxUint32+uint64(80) {
			return "", fmt.Errorf("%w: OID sub-identifier overflow", ErrParse)
		}
		if b&0x80 != 0 {
			if i == len(data)-1 {
				return "", fmt.Errorf("%w: truncated OID sub-identifier", ErrParse)
			}
			continue
		}
		if subids == nil {
			switch {
			case v < 40:
				subids = append(subids, 0, uint32(v))
			case v < 80:
				subids = append(subids, 1, uint32(v-40))
			default:
				subids = append(subids, 2, uint32(v-80))
			}
		} else {
			if v > math.MaxUint32 {
				return "", fmt.Errorf("%w: OID sub-identifier overflow", ErrParse)
			}
			subids = append(subids, uint32(v))
		}
		v = 0
	}
	return formatOID(subids), nil
}

// oidHasPrefix reports whether oid lies in the subtree rooted at prefix.
func oidHasPrefix(oid, prefix []uint32) bool {
	if len(oid) < len(prefix) {
		return false
	}
	for i := range prefix {
		if oid[i] != prefix[i] {
			return false
		}
	}
	return true
}

func ipv4toBytes(ip net.IP) []byte {
	if ip4 := ip.To4(); ip4 != nil {
		return []byte(ip4)
	}
	return []byte{0, 0, 0, 0}
}

var errEmptyPacket = errors.New("cannot unmarshal empty packet")
