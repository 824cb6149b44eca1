// Copyright 2012 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"bytes"
	"fmt"
	"net"
)

//
// Message and PDU encoding shared by the message processing models.
// See http://www.rane.com/note161.html for a succint description of the SNMP
// protocol.
//

// marshalPDU encodes a PDU, including the SNMPv1 Trap-PDU layout.
func marshalPDU(pdu *PDU) ([]byte, error) {
	buf := new(bytes.Buffer)

	switch pdu.Type {
	case GetBulkRequest:
		if err := marshalTLV(buf, byte(Integer), marshalInt64(int64(pdu.RequestID))); err != nil {
			return nil, err
		}
		nonRepeaters, err := marshalInt32(pdu.NonRepeaters)
		if err != nil {
			return nil, fmt.Errorf("marshalPDU: unable to marshal NonRepeaters: %w", err)
		}
		if err = marshalTLV(buf, byte(Integer), nonRepeaters); err != nil {
			return nil, err
		}
		maxRepetitions, err := marshalInt32(pdu.MaxRepetitions)
		if err != nil {
			return nil, fmt.Errorf("marshalPDU: unable to marshal MaxRepetitions: %w", err)
		}
		if err = marshalTLV(buf, byte(Integer), maxRepetitions); err != nil {
			return nil, err
		}

	case Trap:
		header, err := marshalV1TrapHeader(pdu)
		if err != nil {
			return nil, err
		}
		buf.Write(header)

	default:
		if err := marshalTLV(buf, byte(Integer), marshalInt64(int64(pdu.RequestID))); err != nil {
			return nil, err
		}
		if err := marshalTLV(buf, byte(Integer), marshalInt64(int64(pdu.ErrorStatus))); err != nil {
			return nil, err
		}
		errorIndex, err := marshalInt32(pdu.ErrorIndex)
		if err != nil {
			return nil, fmt.Errorf("marshalPDU: unable to marshal errorIndex: %w", err)
		}
		if err = marshalTLV(buf, byte(Integer), errorIndex); err != nil {
			return nil, err
		}
	}

	vbl, err := marshalVBL(pdu.Variables)
	if err != nil {
		return nil, fmt.Errorf("marshalPDU: unable to marshal varbind list: %w", err)
	}
	buf.Write(vbl)

	return wrapTLV(byte(pdu.Type), buf.Bytes())
}

func marshalV1TrapHeader(pdu *PDU) ([]byte, error) {
	buf := new(bytes.Buffer)

	oidBytes, err := marshalObjectIdentifier(pdu.Enterprise)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal OID: %w", err)
	}
	if err = marshalTLV(buf, byte(ObjectIdentifier), oidBytes); err != nil {
		return nil, err
	}

	if err = marshalTLV(buf, byte(IPAddress), ipv4toBytes(net.ParseIP(pdu.AgentAddress))); err != nil {
		return nil, err
	}

	genericTrap, err := marshalInt32(pdu.GenericTrap)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal SNMPv1 GenericTrap: %w", err)
	}
	if err = marshalTLV(buf, byte(Integer), genericTrap); err != nil {
		return nil, err
	}

	specificTrap, err := marshalInt32(pdu.SpecificTrap)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal SNMPv1 SpecificTrap: %w", err)
	}
	if err = marshalTLV(buf, byte(Integer), specificTrap); err != nil {
		return nil, err
	}

	if err = marshalTLV(buf, byte(TimeTicks), marshalUint64(uint64(pdu.Timestamp))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// marshal a varbind list
func marshalVBL(vbs []VarBind) ([]byte, error) {
	vblBuf := new(bytes.Buffer)
	for i := range vbs {
		vb, err := marshalVarbind(&vbs[i])
		if err != nil {
			return nil, err
		}
		vblBuf.Write(vb)
	}
	return wrapTLV(byte(Sequence), vblBuf.Bytes())
}

// marshalVarbind encodes an SNMP variable binding (varbind) as BER.
// Returns a Sequence TLV containing the OID and its associated value:
//
//	Sequence {
//	  ObjectIdentifier (vb.Name)
//	  <Value TLV>      (vb.Type + vb.Value)
//	}
func marshalVarbind(vb *VarBind) ([]byte, error) {
	oid, err := marshalObjectIdentifier(vb.Name)
	if err != nil {
		return nil, err
	}
	tmpBuf := new(bytes.Buffer)
	if err = marshalTLV(tmpBuf, byte(ObjectIdentifier), oid); err != nil {
		return nil, err
	}

	var value []byte
	switch vb.Type {
	case Null, NoSuchObject, NoSuchInstance, EndOfMibView:
		// empty contents

	case Integer:
		switch v := vb.Value.(type) {
		case int:
			if value, err = marshalInt32(v); err != nil {
				return nil, fmt.Errorf("error marshalling PDU Integer: %w", err)
			}
		case int32:
			value = marshalInt64(int64(v))
		case int64:
			if value, err = marshalInt32(int(v)); err != nil {
				return nil, fmt.Errorf("error marshalling PDU Integer: %w", err)
			}
		default:
			return nil, fmt.Errorf("unable to marshal PDU Integer; unknown value %v[type=%T]", vb.Value, vb.Value)
		}

	case Counter32, Gauge32, TimeTicks, Uinteger32:
		switch v := vb.Value.(type) {
		case uint32:
			value = marshalUint64(uint64(v))
		case uint:
			if uint64(v) > 0xffffffff {
				return nil, fmt.Errorf("unable to marshal %s: %d overflows 32 bits", vb.Type, v)
			}
			value = marshalUint64(uint64(v))
		case int:
			if v < 0 || int64(v) > 0xffffffff {
				return nil, fmt.Errorf("unable to marshal %s: %d out of range", vb.Type, v)
			}
			value = marshalUint64(uint64(v))
		default:
			return nil, fmt.Errorf("unable to marshal vb.Type %v; unknown vb.Value %v[type=%T]", vb.Type, vb.Value, vb.Value)
		}

	case Counter64:
		switch v := vb.Value.(type) {
		case uint64:
			value = marshalUint64(v)
		case uint32:
			value = marshalUint64(uint64(v))
		case uint:
			value = marshalUint64(uint64(v))
		default:
			return nil, fmt.Errorf("unable to marshal Counter64; unknown value %v[type=%T]", vb.Value, vb.Value)
		}

	case OctetString, BitString, Opaque, NsapAddress:
		switch v := vb.Value.(type) {
		case []byte:
			value = v
		case string:
			value = []byte(v)
		case nil:
		default:
			return nil, fmt.Errorf("unable to marshal PDU OctetString; not []byte or string")
		}

	case ObjectIdentifier:
		s, ok := vb.Value.(string)
		if !ok {
			return nil, fmt.Errorf("unable to marshal ObjectIdentifier; value %v[type=%T] is not a string", vb.Value, vb.Value)
		}
		if value, err = marshalObjectIdentifier(s); err != nil {
			return nil, fmt.Errorf("error marshalling ObjectIdentifier: %w", err)
		}

	case IPAddress:
		switch v := vb.Value.(type) {
		case []byte:
			value = v
		case string:
			value = ipv4toBytes(net.ParseIP(v))
		case net.IP:
			value = ipv4toBytes(v)
		default:
			return nil, fmt.Errorf("unable to marshal PDU IPAddress; not []byte or string")
		}

	default:
		return nil, fmt.Errorf("unable to marshal PDU: unknown BER type %q", vb.Type)
	}

	if err = marshalTLV(tmpBuf, byte(vb.Type), value); err != nil {
		return nil, err
	}
	return wrapTLV(byte(Sequence), tmpBuf.Bytes())
}

// -- Unmarshalling Logic ------------------------------------------------------

// unmarshalPDU decodes a PDU TLV. Trailing bytes after the PDU are ignored so
// that decrypted scoped PDUs with block padding parse cleanly.
func unmarshalPDU(data []byte) (*PDU, int, error) {
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("%w: empty PDU", ErrParse)
	}
	tag, body, consumed, err := parseTLV(data)
	if err != nil {
		return nil, 0, fmt.Errorf("pdu: %w", err)
	}

	pdu := &PDU{Type: PDUType(tag)}
	switch pdu.Type {
	case GetRequest, GetNextRequest, GetResponse, SetRequest, GetBulkRequest, InformRequest, SNMPv2Trap, Report:
		cursor := 0
		fields := make([]int64, 3)
		for i, what := range []string{"request id", "error status", "error index"} {
			content, n, err := expectTLV(body[cursor:], Integer, what)
			if err != nil {
				return nil, 0, err
			}
			if fields[i], err = parseInt64(content); err != nil {
				return nil, 0, fmt.Errorf("%s: %w", what, err)
			}
			cursor += n
		}
		if fields[0] < -1<<31 || fields[0] > 1<<31-1 {
			return nil, 0, fmt.Errorf("%w: request id %d out of range", ErrParse, fields[0])
		}
		pdu.RequestID = int32(fields[0])
		if pdu.Type == GetBulkRequest {
			pdu.NonRepeaters = int(fields[1])
			pdu.MaxRepetitions = int(fields[2])
		} else {
			if fields[1] < 0 || fields[1] > 255 {
				return nil, 0, fmt.Errorf("%w: error status %d out of range", ErrParse, fields[1])
			}
			pdu.ErrorStatus = SNMPError(fields[1])
			pdu.ErrorIndex = int(fields[2])
		}
		if pdu.Variables, err = unmarshalVBL(body[cursor:]); err != nil {
			return nil, 0, err
		}

	case Trap:
		cursor, err := unmarshalV1TrapHeader(body, pdu)
		if err != nil {
			return nil, 0, err
		}
		if pdu.Variables, err = unmarshalVBL(body[cursor:]); err != nil {
			return nil, 0, err
		}

	default:
		return nil, 0, fmt.Errorf("%w: unknown PDUType %#x", ErrParse, tag)
	}
	return pdu, consumed, nil
}

func unmarshalV1TrapHeader(body []byte, pdu *PDU) (int, error) {
	cursor := 0

	content, n, err := expectTLV(body, ObjectIdentifier, "enterprise")
	if err != nil {
		return 0, err
	}
	if pdu.Enterprise, err = parseObjectIdentifier(content); err != nil {
		return 0, err
	}
	cursor += n

	content, n, err = expectTLV(body[cursor:], IPAddress, "agent-address")
	if err != nil {
		return 0, err
	}
	if len(content) != 4 {
		return 0, fmt.Errorf("%w: agent-address of %d bytes", ErrParse, len(content))
	}
	pdu.AgentAddress = net.IP(content).String()
	cursor += n

	for _, field := range []struct {
		what string
		dst  *int
	}{{"generic-trap", &pdu.GenericTrap}, {"specific-trap", &pdu.SpecificTrap}} {
		content, n, err = expectTLV(body[cursor:], Integer, field.what)
		if err != nil {
			return 0, err
		}
		v, err := parseInt32(content)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", field.what, err)
		}
		*field.dst = int(v)
		cursor += n
	}

	content, n, err = expectTLV(body[cursor:], TimeTicks, "time-stamp")
	if err != nil {
		return 0, err
	}
	if pdu.Timestamp, err = parseUint32(content); err != nil {
		return 0, fmt.Errorf("time-stamp: %w", err)
	}
	cursor += n
	return cursor, nil
}

// unmarshal a Varbind list
func unmarshalVBL(data []byte) ([]VarBind, error) {
	vbl, _, err := expectTLV(data, Sequence, "varbind list")
	if err != nil {
		return nil, err
	}

	vbs := make([]VarBind, 0, 5)
	for cursor := 0; cursor < len(vbl); {
		vb, n, err := expectTLV(vbl[cursor:], Sequence, "varbind")
		if err != nil {
			return nil, err
		}
		cursor += n

		rawOid, oidLength, err := expectTLV(vb, ObjectIdentifier, "OID")
		if err != nil {
			return nil, err
		}
		oid, err := parseObjectIdentifier(rawOid)
		if err != nil {
			return nil, fmt.Errorf("error parsing OID Value: %w", err)
		}

		tag, content, valueLength, err := parseTLV(vb[oidLength:])
		if err != nil {
			return nil, fmt.Errorf("error decoding value of %s: %w", oid, err)
		}
		if oidLength+valueLength != len(vb) {
			return nil, fmt.Errorf("%w: trailing bytes in varbind %s", ErrParse, oid)
		}
		value, err := decodeValue(Asn1BER(tag), content)
		if err != nil {
			return nil, fmt.Errorf("error decoding value of %s: %w", oid, err)
		}
		vbs = append(vbs, VarBind{Name: oid, Type: Asn1BER(tag), Value: value})
	}
	return vbs, nil
}

func decodeValue(typ Asn1BER, content []byte) (any, error) {
	switch typ {
	case Integer:
		v, err := parseInt32(content)
		return int(v), err
	case Counter32, Gauge32, TimeTicks, Uinteger32:
		return parseUint32(content)
	case Counter64:
		return parseUint64(content)
	case OctetString, BitString, Opaque, NsapAddress:
		return append([]byte(nil), content...), nil
	case ObjectIdentifier:
		return parseObjectIdentifier(content)
	case IPAddress:
		switch len(content) {
		case 4, 16:
			return net.IP(content).String(), nil
		}
		return nil, fmt.Errorf("%w: IPAddress of %d bytes", ErrParse, len(content))
	case Null, NoSuchObject, NoSuchInstance, EndOfMibView:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: unknown BER type %#x", ErrParse, byte(typ))
}

// peekVersion returns the msgVersion of a message without decoding the rest.
func peekVersion(msg []byte) (SnmpVersion, error) {
	if len(msg) == 0 {
		return 0, fmt.Errorf("%w: %w", ErrParse, errEmptyPacket)
	}
	body, _, err := expectTLV(msg, Sequence, "message")
	if err != nil {
		return 0, err
	}
	content, _, err := expectTLV(body, Integer, "version")
	if err != nil {
		return 0, err
	}
	v, err := parseInt64(content)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 255 {
		return 0, fmt.Errorf("%w: version %d", ErrParse, v)
	}
	return SnmpVersion(v), nil
}

// -- Community based messages -------------------------------------------------

type communityMessage struct {
	Version   SnmpVersion
	Community string
	PDU       *PDU
}

func marshalCommunityMessage(version SnmpVersion, community string, pdu *PDU) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write([]byte{2, 1, byte(version)})
	if err := marshalTLV(buf, byte(OctetString), []byte(community)); err != nil {
		return nil, err
	}
	pduBytes, err := marshalPDU(pdu)
	if err != nil {
		return nil, err
	}
	buf.Write(pduBytes)
	return wrapTLV(byte(Sequence), buf.Bytes())
}

func unmarshalCommunityMessage(msg []byte) (*communityMessage, error) {
	body, consumed, err := expectTLV(msg, Sequence, "message")
	if err != nil {
		return nil, err
	}
	if consumed != len(msg) {
		return nil, fmt.Errorf("%w: error verifying packet sanity: got %d expected %d", ErrParse, len(msg), consumed)
	}

	content, cursor, err := expectTLV(body, Integer, "version")
	if err != nil {
		return nil, err
	}
	version, err := parseInt64(content)
	if err != nil {
		return nil, err
	}

	community, n, err := expectTLV(body[cursor:], OctetString, "community")
	if err != nil {
		return nil, err
	}
	cursor += n

	pdu, n, err := unmarshalPDU(body[cursor:])
	if err != nil {
		return nil, err
	}
	if cursor+n != len(body) {
		return nil, fmt.Errorf("%w: trailing bytes after PDU", ErrParse)
	}
	return &communityMessage{
		Version:   SnmpVersion(version),
		Community: string(community),
		PDU:       pdu,
	}, nil
}

// -- SNMPv3 messages ----------------------------------------------------------

// v3Header is the msgGlobalData of an SNMPv3 message.
type v3Header struct {
	MsgID         int32
	MaxSize       int32
	Flags         MsgFlags
	SecurityModel SecurityModelID
}

func marshalV3Header(h v3Header) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := marshalTLV(buf, byte(Integer), marshalInt64(int64(h.MsgID))); err != nil {
		return nil, err
	}
	if err := marshalTLV(buf, byte(Integer), marshalInt64(int64(h.MaxSize))); err != nil {
		return nil, err
	}
	if err := marshalTLV(buf, byte(OctetString), []byte{byte(h.Flags)}); err != nil {
		return nil, err
	}
	if err := marshalTLV(buf, byte(Integer), marshalInt64(int64(h.SecurityModel))); err != nil {
		return nil, err
	}
	return wrapTLV(byte(Sequence), buf.Bytes())
}

// marshalV3Message assembles a complete SNMPv3 message from the encoded
// header, the security parameters contents and the scoped PDU data, which
// is either a plaintext ScopedPDU sequence or an encrypted octet string. It
// also returns the offset of the security parameters contents within the
// message, which authenticating models need to place their digest.
func marshalV3Message(header []byte, securityParameters []byte, scopedPDUData []byte) ([]byte, int, error) {
	spLength, err := marshalLength(len(securityParameters))
	if err != nil {
		return nil, 0, err
	}

	buf := new(bytes.Buffer)
	buf.Write([]byte{2, 1, byte(Version3)})
	buf.Write(header)
	buf.WriteByte(byte(OctetString))
	buf.Write(spLength)
	spOffset := buf.Len()
	buf.Write(securityParameters)
	buf.Write(scopedPDUData)

	bodyLength, err := marshalLength(buf.Len())
	if err != nil {
		return nil, 0, err
	}
	msg := make([]byte, 0, 1+len(bodyLength)+buf.Len())
	msg = append(msg, byte(Sequence))
	msg = append(msg, bodyLength...)
	msg = append(msg, buf.Bytes()...)
	return msg, spOffset + 1 + len(bodyLength), nil
}

type v3Message struct {
	Header                   v3Header
	SecurityParameters       []byte
	SecurityParametersOffset int

	// ScopedPDUData is the full ScopedPDU sequence when Encrypted is false and
	// the ciphertext otherwise.
	ScopedPDUData []byte
	Encrypted     bool
}

func unmarshalV3Message(msg []byte) (*v3Message, error) {
	if len(msg) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrParse, errEmptyPacket)
	}
	length, cursor, err := parseLength(msg)
	if err != nil {
		return nil, err
	}
	if msg[0] != byte(Sequence) {
		return nil, fmt.Errorf("%w: invalid packet header", ErrParse)
	}
	if length != len(msg) {
		return nil, fmt.Errorf("%w: error verifying packet sanity: got %d expected %d", ErrParse, len(msg), length)
	}

	content, n, err := expectTLV(msg[cursor:], Integer, "version")
	if err != nil {
		return nil, err
	}
	if v, err := parseInt64(content); err != nil || v != int64(Version3) {
		return nil, fmt.Errorf("%w: not an SNMPv3 message", ErrParse)
	}
	cursor += n

	header, n, err := expectTLV(msg[cursor:], Sequence, "msgGlobalData")
	if err != nil {
		return nil, err
	}
	out := &v3Message{}
	if out.Header, err = unmarshalV3Header(header); err != nil {
		return nil, err
	}
	cursor += n

	spLength, spCursor, err := parseLength(msg[cursor:])
	if err != nil {
		return nil, fmt.Errorf("msgSecurityParameters: %w", err)
	}
	if msg[cursor] != byte(OctetString) {
		return nil, fmt.Errorf("%w: msgSecurityParameters is not an octet string", ErrParse)
	}
	out.SecurityParametersOffset = cursor + spCursor
	out.SecurityParameters = msg[cursor+spCursor : cursor+spLength]
	cursor += spLength

	tag, _, n, err := parseTLV(msg[cursor:])
	if err != nil {
		return nil, fmt.Errorf("msgData: %w", err)
	}
	if cursor+n != len(msg) {
		return nil, fmt.Errorf("%w: trailing bytes after msgData", ErrParse)
	}
	switch Asn1BER(tag) {
	case Sequence:
		out.ScopedPDUData = msg[cursor:]
	case OctetString:
		out.Encrypted = true
		content, _, _ := expectTLV(msg[cursor:], OctetString, "encryptedPDU")
		out.ScopedPDUData = content
	default:
		return nil, fmt.Errorf("%w: msgData has tag %#x", ErrParse, tag)
	}
	return out, nil
}

func unmarshalV3Header(data []byte) (v3Header, error) {
	var h v3Header
	cursor := 0
	var values [2]int64
	for i, what := range []string{"msgID", "msgMaxSize"} {
		content, n, err := expectTLV(data[cursor:], Integer, what)
		if err != nil {
			return h, err
		}
		if values[i], err = parseInt64(content); err != nil {
			return h, fmt.Errorf("%s: %w", what, err)
		}
		if values[i] < 0 || values[i] > 1<<31-1 {
			return h, fmt.Errorf("%w: %s %d out of range", ErrParse, what, values[i])
		}
		cursor += n
	}
	h.MsgID = int32(values[0])
	h.MaxSize = int32(values[1])

	flags, n, err := expectTLV(data[cursor:], OctetString, "msgFlags")
	if err != nil {
		return h, err
	}
	if len(flags) != 1 {
		return h, fmt.Errorf("%w: msgFlags of %d bytes", ErrParse, len(flags))
	}
	h.Flags = MsgFlags(flags[0])
	cursor += n

	content, _, err := expectTLV(data[cursor:], Integer, "msgSecurityModel")
	if err != nil {
		return h, err
	}
	model, err := parseInt64(content)
	if err != nil {
		return h, err
	}
	h.SecurityModel = SecurityModelID(model)
	return h, nil
}

// ScopedPDU binds a PDU to the context it addresses.
type ScopedPDU struct {
	ContextEngineID string
	ContextName     string
	PDU             *PDU
}

func marshalScopedPDU(contextEngineID, contextName string, pdu *PDU) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := marshalTLV(buf, byte(OctetString), []byte(contextEngineID)); err != nil {
		return nil, err
	}
	if err := marshalTLV(buf, byte(OctetString), []byte(contextName)); err != nil {
		return nil, err
	}
	pduBytes, err := marshalPDU(pdu)
	if err != nil {
		return nil, err
	}
	buf.Write(pduBytes)
	return wrapTLV(byte(Sequence), buf.Bytes())
}

func unmarshalScopedPDU(data []byte) (*ScopedPDU, error) {
	body, _, err := expectTLV(data, Sequence, "scopedPDU")
	if err != nil {
		return nil, err
	}
	engineID, cursor, err := expectTLV(body, OctetString, "contextEngineID")
	if err != nil {
		return nil, err
	}
	name, n, err := expectTLV(body[cursor:], OctetString, "contextName")
	if err != nil {
		return nil, err
	}
	cursor += n
	pdu, _, err := unmarshalPDU(body[cursor:])
	if err != nil {
		return nil, err
	}
	return &ScopedPDU{
		ContextEngineID: string(engineID),
		ContextName:     string(name),
		PDU:             pdu,
	}, nil
}
