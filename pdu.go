// Copyright 2012 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"fmt"
	"strings"
)

// SnmpVersion is the msgVersion carried on the wire. It doubles as the
// identifier of the message processing model that handles the version.
type SnmpVersion uint8

// SnmpVersion 1, 2c and 3 implemented
const (
	Version1  SnmpVersion = 0x0
	Version2c SnmpVersion = 0x1
	Version3  SnmpVersion = 0x3
)

func (s SnmpVersion) String() string {
	switch s {
	case Version1:
		return "1"
	case Version2c:
		return "2c"
	case Version3:
		return "3"
	}
	return fmt.Sprintf("SnmpVersion(%d)", uint8(s))
}

// SecurityModelID identifies a security model, see RFC 3411 SnmpSecurityModel.
type SecurityModelID int

const (
	anySecurityModel       SecurityModelID = 0
	SNMPv1SecurityModel    SecurityModelID = 1
	SNMPv2cSecurityModel   SecurityModelID = 2
	UserSecurityModel      SecurityModelID = 3
	TransportSecurityModel SecurityModelID = 4
)

func (s SecurityModelID) String() string {
	switch s {
	case anySecurityModel:
		return "any"
	case SNMPv1SecurityModel:
		return "v1"
	case SNMPv2cSecurityModel:
		return "v2c"
	case UserSecurityModel:
		return "usm"
	case TransportSecurityModel:
		return "tsm"
	}
	return fmt.Sprintf("SecurityModelID(%d)", int(s))
}

// SecurityLevel follows RFC 3411 SnmpSecurityLevel.
type SecurityLevel int

const (
	NoAuthNoPriv SecurityLevel = 1
	AuthNoPriv   SecurityLevel = 2
	AuthPriv     SecurityLevel = 3
)

func (s SecurityLevel) String() string {
	switch s {
	case NoAuthNoPriv:
		return "noAuthNoPriv"
	case AuthNoPriv:
		return "authNoPriv"
	case AuthPriv:
		return "authPriv"
	}
	return fmt.Sprintf("SecurityLevel(%d)", int(s))
}

// MsgFlags are the SNMPv3 msgFlags bits.
type MsgFlags uint8

const (
	msgFlagAuth       MsgFlags = 0x01
	msgFlagPriv       MsgFlags = 0x02
	msgFlagReportable MsgFlags = 0x04
)

func msgFlagsFor(level SecurityLevel, reportable bool) MsgFlags {
	var f MsgFlags
	switch level {
	case AuthNoPriv:
		f = msgFlagAuth
	case AuthPriv:
		f = msgFlagAuth | msgFlagPriv
	}
	if reportable {
		f |= msgFlagReportable
	}
	return f
}

func (f MsgFlags) securityLevel() (SecurityLevel, error) {
	switch f & (msgFlagAuth | msgFlagPriv) {
	case 0:
		return NoAuthNoPriv, nil
	case msgFlagAuth:
		return AuthNoPriv, nil
	case msgFlagAuth | msgFlagPriv:
		return AuthPriv, nil
	}
	return 0, fmt.Errorf("%w: privacy without authentication (flags %#x)", ErrInvalidMsgs, uint8(f))
}

func (f MsgFlags) reportable() bool {
	return f&msgFlagReportable != 0
}

// PDUType describes which SNMP Protocol Data Unit is being sent.
type PDUType byte

// The currently supported PDUType's
const (
	GetRequest     PDUType = 0xa0
	GetNextRequest PDUType = 0xa1
	GetResponse    PDUType = 0xa2
	SetRequest     PDUType = 0xa3
	Trap           PDUType = 0xa4 // v1
	GetBulkRequest PDUType = 0xa5
	InformRequest  PDUType = 0xa6
	SNMPv2Trap     PDUType = 0xa7 // v2c, v3
	Report         PDUType = 0xa8 // v3
)

func (p PDUType) String() string {
	switch p {
	case GetRequest:
		return "GetRequest"
	case GetNextRequest:
		return "GetNextRequest"
	case GetResponse:
		return "GetResponse"
	case SetRequest:
		return "SetRequest"
	case Trap:
		return "Trap"
	case GetBulkRequest:
		return "GetBulkRequest"
	case InformRequest:
		return "InformRequest"
	case SNMPv2Trap:
		return "SNMPv2Trap"
	case Report:
		return "Report"
	}
	return fmt.Sprintf("PDUType(%#x)", byte(p))
}

// Confirmed reports whether a PDU of this type expects a response
// (RFC 3411 Confirmed Class).
func (p PDUType) Confirmed() bool {
	switch p {
	case GetRequest, GetNextRequest, GetBulkRequest, SetRequest, InformRequest:
		return true
	}
	return false
}

// IsResponse reports whether the PDU type belongs to the Response Class.
func (p PDUType) IsResponse() bool {
	return p == GetResponse || p == Report
}

// IsNotification reports whether the PDU type belongs to the Notification Class.
func (p PDUType) IsNotification() bool {
	return p == Trap || p == SNMPv2Trap || p == InformRequest
}

// SNMPError is the type for standard SNMP errors.
type SNMPError uint8

// SNMP Errors
const (
	NoError SNMPError = iota // No error occurred. This code is also used in all request PDUs, since they have no error status to report.
	TooBig                               // The size of the Response-PDU would be too large to transport.
	NoSuchName                           // The name of a requested object was not found.
	BadValue                             // A value in the request didn't match the structure that the recipient of the request had for the object. For example, an object in the request was specified with an incorrect length or type.
	ReadOnly                             // An attempt was made to set a variable that has an Access value indicating that it is read-only.
	GenErr                               // An error occurred other than one indicated by a more specific error code in this table.
	NoAccess                             // Access was denied to the object for security reasons.
	WrongType                            // The object type in a variable binding is incorrect for the object.
	WrongLength                          // A variable binding specifies a length incorrect for the object.
	WrongEncoding                        // A variable binding specifies an encoding incorrect for the object.
	WrongValue                           // The value given in a variable binding is not possible for the object.
	NoCreation                           // A specified variable does not exist and cannot be created.
	InconsistentValue                    // A variable binding specifies a value that could be held by the variable but cannot be assigned to it at this time.
	ResourceUnavailable                  // An attempt to set a variable required a resource that is not available.
	CommitFailed                         // An attempt to set a particular variable failed.
	UndoFailed                           // An attempt to set a particular variable as part of a group of variables failed, and the attempt to then undo the setting of other variables was not successful.
	AuthorizationError                   // A problem occurred in authorization.
	NotWritable                          // The variable cannot be written or created.
	InconsistentName                     // The name in a variable binding specifies a variable that does not exist.
)

var snmpErrorNames = [...]string{
	"NoError", "TooBig", "NoSuchName", "BadValue", "ReadOnly", "GenErr",
	"NoAccess", "WrongType", "WrongLength", "WrongEncoding", "WrongValue",
	"NoCreation", "InconsistentValue", "ResourceUnavailable", "CommitFailed",
	"UndoFailed", "AuthorizationError", "NotWritable", "InconsistentName",
}

func (e SNMPError) String() string {
	if int(e) < len(snmpErrorNames) {
		return snmpErrorNames[e]
	}
	return fmt.Sprintf("SNMPError(%d)", uint8(e))
}

// VarBind is a single variable binding. Value holds int for Integer, uint32
// for Counter32, Gauge32, TimeTicks and Uinteger32, uint64 for Counter64,
// []byte for OctetString, BitString and Opaque, and a dotted string for
// ObjectIdentifier and IPAddress. Null and the exception types carry nil.
type VarBind struct {
	Name  string
	Type  Asn1BER
	Value any
}

// PDU is a protocol data unit independent of the message that carries it.
type PDU struct {
	Type        PDUType
	RequestID   int32
	ErrorStatus SNMPError
	ErrorIndex  int

	// NonRepeaters and MaxRepetitions replace the error fields of a
	// GetBulkRequest on the wire.
	NonRepeaters   int
	MaxRepetitions int

	Variables []VarBind

	// SNMPv1 Trap-PDU header.
	Enterprise   string
	AgentAddress string
	GenericTrap  int
	SpecificTrap int
	Timestamp    uint32
}

// Clone returns a copy of the PDU that shares no variable binding slice
// with the original.
func (p *PDU) Clone() *PDU {
	out := *p
	out.Variables = append([]VarBind(nil), p.Variables...)
	return &out
}

// SafeString returns a loggable description of the PDU. Octet string values
// are elided since they may carry secrets.
func (p *PDU) SafeString() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "PDUType:%s, RequestID:%d, Error:%s, ErrorIndex:%d", p.Type, p.RequestID, p.ErrorStatus, p.ErrorIndex)
	if p.Type == GetBulkRequest {
		fmt.Fprintf(&sb, ", NonRepeaters:%d, MaxRepetitions:%d", p.NonRepeaters, p.MaxRepetitions)
	}
	sb.WriteString(", Variables:[")
	for i, vb := range p.Variables {
		if i > 0 {
			sb.WriteString(" ")
		}
		switch vb.Type {
		case OctetString, Opaque, BitString:
			fmt.Fprintf(&sb, "%s=%s(len %d)", vb.Name, vb.Type, octetLen(vb.Value))
		default:
			fmt.Fprintf(&sb, "%s=%s(%v)", vb.Name, vb.Type, vb.Value)
		}
	}
	sb.WriteString("]")
	return sb.String()
}

func octetLen(v any) int {
	switch b := v.(type) {
	case []byte:
		return len(b)
	case string:
		return len(b)
	}
	return 0
}
