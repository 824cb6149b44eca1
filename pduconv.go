// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Well known notification objects, see RFC 3418 and RFC 3584.
const (
	sysUpTimeOID          = ".1.3.6.1.2.1.1.3.0"
	snmpTrapOID           = ".1.3.6.1.6.3.1.1.4.1.0"
	snmpTrapEnterpriseOID = ".1.3.6.1.6.3.1.1.4.3.0"
	snmpTrapsOID          = ".1.3.6.1.6.3.1.1.5"
	snmpTrapAddressOID    = ".1.3.6.1.6.3.18.1.3.0"
	snmpTrapCommunityOID  = ".1.3.6.1.6.3.18.1.4.0"
)

// v2ToV1 converts an outgoing SNMPv2 PDU for an SNMPv1 peer (RFC 3584
// section 4.2). A GetBulkRequest becomes a GetNextRequest performing a
// single repetition: all variables are kept when MaxRepetitions is
// positive, otherwise only the non-repeaters are.
func v2ToV1(pdu *PDU) (*PDU, error) {
	switch pdu.Type {
	case GetRequest, GetNextRequest, SetRequest, Trap:
		for _, vb := range pdu.Variables {
			if vb.Type == Counter64 {
				return nil, fmt.Errorf("%w: Counter64 value for %s", ErrNotTranslatable, vb.Name)
			}
		}
		return pdu, nil

	case GetBulkRequest:
		out := pdu.Clone()
		out.Type = GetNextRequest
		if pdu.MaxRepetitions <= 0 {
			nonRepeaters := min(max(pdu.NonRepeaters, 0), len(out.Variables))
			out.Variables = out.Variables[:nonRepeaters]
		}
		out.NonRepeaters, out.MaxRepetitions = 0, 0
		out.ErrorStatus, out.ErrorIndex = NoError, 0
		return out, nil

	case GetResponse:
		return v2ToV1Response(pdu), nil

	case SNMPv2Trap:
		return v2TrapToV1(pdu)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotTranslatable, pdu.Type)
}

// v2TrapToV1 implements RFC 3584 section 3.2.
func v2TrapToV1(pdu *PDU) (*PDU, error) {
	vbs := pdu.Variables
	if len(vbs) < 2 || normalizeOID(vbs[0].Name) != sysUpTimeOID || normalizeOID(vbs[1].Name) != snmpTrapOID {
		return nil, fmt.Errorf("%w: notification lacks the sysUpTime.0, snmpTrapOID.0 prefix", ErrNotTranslatable)
	}
	timestamp, ok := vbs[0].Value.(uint32)
	if !ok {
		return nil, fmt.Errorf("%w: sysUpTime.0 is %T", ErrNotTranslatable, vbs[0].Value)
	}
	trapOID, ok := vbs[1].Value.(string)
	if !ok {
		return nil, fmt.Errorf("%w: snmpTrapOID.0 is %T", ErrNotTranslatable, vbs[1].Value)
	}
	trapOID = normalizeOID(trapOID)

	out := &PDU{
		Type:         Trap,
		AgentAddress: "0.0.0.0",
		Timestamp:    timestamp,
	}
	var enterprise string
	for _, vb := range vbs[2:] {
		switch normalizeOID(vb.Name) {
		case snmpTrapAddressOID:
			if addr, ok := vb.Value.(string); ok {
				out.AgentAddress = addr
			}
			continue
		case snmpTrapCommunityOID:
			continue
		case snmpTrapEnterpriseOID:
			if oid, ok := vb.Value.(string); ok {
				enterprise = oid
			}
			continue
		}
		if vb.Type == Counter64 {
			return nil, fmt.Errorf("%w: Counter64 value for %s", ErrNotTranslatable, vb.Name)
		}
		out.Variables = append(out.Variables, vb)
	}

	subids, err := parseOIDString(trapOID)
	if err != nil || len(subids) < 2 {
		return nil, fmt.Errorf("%w: snmpTrapOID.0 %q", ErrNotTranslatable, trapOID)
	}
	last := subids[len(subids)-1]

	if strings.HasPrefix(trapOID, snmpTrapsOID+".") && len(subids) == 10 && last >= 1 && last <= 6 {
		out.GenericTrap = int(last) - 1
		if enterprise == "" {
			enterprise = snmpTrapsOID
		}
	} else {
		if last > math.MaxInt32 {
			return nil, fmt.Errorf("%w: specific trap %d", ErrNotTranslatable, last)
		}
		out.GenericTrap = 6
		out.SpecificTrap = int(last)
		if subids[len(subids)-2] == 0 {
			enterprise = formatOID(subids[:len(subids)-2])
		} else {
			enterprise = formatOID(subids[:len(subids)-1])
		}
	}
	out.Enterprise = enterprise
	return out, nil
}

// v1ToV2 converts an incoming SNMPv1 PDU to SNMPv2 form. Only traps need
// rewriting (RFC 3584 section 3.1); requests are identical.
func v1ToV2(pdu *PDU) (*PDU, error) {
	switch pdu.Type {
	case GetRequest, GetNextRequest, SetRequest:
		return pdu, nil
	case Trap:
	default:
		return nil, fmt.Errorf("%w: %s in an SNMPv1 message", ErrUnsupportedPDUType, pdu.Type)
	}

	enterprise := normalizeOID(pdu.Enterprise)
	var trapOID string
	generic := pdu.GenericTrap >= 0 && pdu.GenericTrap < 6
	if generic {
		trapOID = snmpTrapsOID + "." + strconv.Itoa(pdu.GenericTrap+1)
	} else {
		trapOID = enterprise + ".0." + strconv.Itoa(pdu.SpecificTrap)
	}

	out := &PDU{Type: SNMPv2Trap}
	out.Variables = make([]VarBind, 0, len(pdu.Variables)+4)
	out.Variables = append(out.Variables,
		VarBind{Name: sysUpTimeOID, Type: TimeTicks, Value: pdu.Timestamp},
		VarBind{Name: snmpTrapOID, Type: ObjectIdentifier, Value: trapOID},
	)
	var haveAddress, haveEnterprise bool
	for _, vb := range pdu.Variables {
		switch normalizeOID(vb.Name) {
		case snmpTrapAddressOID:
			haveAddress = true
		case snmpTrapEnterpriseOID:
			haveEnterprise = true
		}
		out.Variables = append(out.Variables, vb)
	}
	if !haveAddress {
		out.Variables = append(out.Variables, VarBind{Name: snmpTrapAddressOID, Type: IPAddress, Value: pdu.AgentAddress})
	}
	if generic && !haveEnterprise {
		out.Variables = append(out.Variables, VarBind{Name: snmpTrapEnterpriseOID, Type: ObjectIdentifier, Value: enterprise})
	}
	return out, nil
}

// v1ToV2Response marks the variable an SNMPv1 noSuchName error points at
// with the SNMPv2 exception matching request. The error status is kept,
// since an SNMPv1 agent does not report on the other variables.
func v1ToV2Response(pdu *PDU, request *PDU) *PDU {
	out := pdu.Clone()
	if out.ErrorStatus != NoSuchName || out.ErrorIndex < 1 || out.ErrorIndex > len(out.Variables) {
		return out
	}
	exception := NoSuchObject
	if request != nil && (request.Type == GetNextRequest || request.Type == GetBulkRequest) {
		exception = EndOfMibView
	}
	out.Variables[out.ErrorIndex-1] = VarBind{Name: out.Variables[out.ErrorIndex-1].Name, Type: exception}
	return out
}

// v2ToV1Response rewrites a response for an SNMPv1 requester following
// RFC 3584 section 4.4: SNMPv2 error codes are folded onto the SNMPv1 ones
// and the first exception or Counter64 value becomes noSuchName.
func v2ToV1Response(pdu *PDU) *PDU {
	out := pdu.Clone()
	out.ErrorStatus = v1ErrorStatus(out.ErrorStatus)
	if out.ErrorStatus != NoError {
		return out
	}
	for i, vb := range out.Variables {
		switch vb.Type {
		case NoSuchObject, NoSuchInstance, EndOfMibView, Counter64:
			out.ErrorStatus = NoSuchName
			out.ErrorIndex = i + 1
			return out
		}
	}
	return out
}

func v1ErrorStatus(status SNMPError) SNMPError {
	switch status {
	case NoError, TooBig, NoSuchName, BadValue, ReadOnly, GenErr:
		return status
	case WrongValue, WrongEncoding, WrongType, WrongLength, InconsistentValue:
		return BadValue
	case NoAccess, NotWritable, NoCreation, InconsistentName, AuthorizationError:
		return NoSuchName
	}
	return GenErr
}
