// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// communityMPModel processes SNMPv1 and SNMPv2c messages. Requests are
// matched to responses by request-id. Applications always see SNMPv2 PDUs;
// the SNMPv1 model translates in both directions.
type communityMPModel struct {
	version     SnmpVersion
	ids         *msgIDCounter
	outstanding *outstandingTable
	responses   *stateCache[*responseState]
}

var _ MessageProcessingModel = (*communityMPModel)(nil)

func newCommunityMPModel(version SnmpVersion) *communityMPModel {
	return &communityMPModel{
		version:     version,
		ids:         newMsgIDCounter(),
		outstanding: newOutstandingTable(),
		responses:   newStateCache[*responseState](),
	}
}

func (m *communityMPModel) ID() SnmpVersion {
	return m.version
}

func (m *communityMPModel) securityModelID() SecurityModelID {
	if m.version == Version1 {
		return SNMPv1SecurityModel
	}
	return SNMPv2cSecurityModel
}

func (m *communityMPModel) securityModel(e *Engine, requested SecurityModelID) (SecurityModel, error) {
	if requested != 0 && requested != m.securityModelID() {
		return nil, fmt.Errorf("%w: %s over SNMPv%s", ErrUnknownSecurityModels, requested, m.version)
	}
	return e.SecurityModel(m.securityModelID())
}

func (m *communityMPModel) PrepareOutgoingMessage(e *Engine, handle SendHandle, req *SendRequest) ([]byte, error) {
	sm, err := m.securityModel(e, req.SecurityModel)
	if err != nil {
		return nil, err
	}

	pdu := req.PDU.Clone()
	if pdu.Type != Trap {
		pdu.RequestID = m.ids.next()
	}
	if m.version == Version1 {
		if pdu, err = v2ToV1(pdu); err != nil {
			return nil, err
		}
	} else if pdu.Type == Trap || pdu.Type == Report {
		return nil, fmt.Errorf("%w: %s over SNMPv2c", ErrUnsupportedPDUType, pdu.Type)
	}

	msg, stateRef, err := sm.GenerateRequestMsg(e, &OutgoingMessage{
		MessageProcessingModel: m.version,
		MaxMessageSize:         e.maxMessageSize,
		SecurityName:           req.SecurityName,
		SecurityLevel:          req.SecurityLevel,
		PDU:                    pdu,
		TransportDomain:        req.TransportDomain,
		TransportAddress:       req.TransportAddress,
	})
	if err != nil {
		return nil, err
	}

	if req.PDU.Type.Confirmed() {
		m.outstanding.add(&outstandingMessage{
			handle:           handle,
			msgID:            pdu.RequestID,
			securityModel:    sm.ID(),
			securityStateRef: stateRef,
			securityName:     req.SecurityName,
			securityLevel:    NoAuthNoPriv,
			contextEngineID:  req.ContextEngineID,
			contextName:      req.ContextName,
			domain:           req.TransportDomain,
			addr:             req.TransportAddress,
			request:          req.PDU,
		})
	} else if stateRef != 0 {
		sm.ReleaseStateInformation(stateRef)
	}
	return msg, nil
}

func (m *communityMPModel) PrepareDataElements(e *Engine, domain TransportDomain, addr net.Addr, msg []byte) (*DataElements, error) {
	cm, err := unmarshalCommunityMessage(msg)
	if err != nil {
		e.stats.inc(cntInASNParseErrs)
		return nil, err
	}
	sm, err := e.SecurityModel(m.securityModelID())
	if err != nil {
		return nil, err
	}
	res, err := sm.ProcessIncomingMsg(e, &IncomingMessage{
		MessageProcessingModel: m.version,
		MaxMessageSize:         e.maxMessageSize,
		SecurityLevel:          NoAuthNoPriv,
		WholeMsg:               msg,
		Community:              cm.Community,
		TransportDomain:        domain,
		TransportAddress:       addr,
	})
	if err != nil {
		return nil, err
	}

	de := &DataElements{IncomingPdu: IncomingPdu{
		TransportDomain:        domain,
		TransportAddress:       addr,
		MessageProcessingModel: m.version,
		SecurityModel:          sm.ID(),
		SecurityName:           res.SecurityName,
		SecurityLevel:          NoAuthNoPriv,
		SecurityEngineID:       res.SecurityEngineID,
		ContextEngineID:        e.engineID,
		ContextName:            res.ContextName,
		MaxSizeResponse:        res.MaxSizeResponse,
	}}

	pdu := cm.PDU
	if pdu.Type.IsResponse() {
		sm.ReleaseStateInformation(res.SecurityStateReference)
		if pdu.Type == Report {
			return nil, fmt.Errorf("%w: Report over SNMPv%s", ErrUnsupportedPDUType, m.version)
		}
		om, ok := m.outstanding.pop(pdu.RequestID)
		if !ok {
			return nil, fmt.Errorf("%w: request id %d from %v", ErrCacheMiss, pdu.RequestID, addr)
		}
		if om.securityStateRef != 0 {
			sm.ReleaseStateInformation(om.securityStateRef)
		}
		if m.version == Version1 {
			pdu = v1ToV2Response(pdu, om.request)
		}
		de.SendHandle = om.handle
		de.SecurityName = om.securityName
		de.ContextEngineID = om.contextEngineID
		de.ContextName = om.contextName
		de.PDU = pdu
		return de, nil
	}

	requestType := pdu.Type
	if m.version == Version1 {
		if pdu, err = v1ToV2(pdu); err != nil {
			sm.ReleaseStateInformation(res.SecurityStateReference)
			return nil, err
		}
	} else if pdu.Type == Trap {
		sm.ReleaseStateInformation(res.SecurityStateReference)
		return nil, fmt.Errorf("%w: SNMPv1 Trap-PDU over SNMPv2c", ErrUnsupportedPDUType)
	}
	de.PDU = pdu

	if !pdu.Type.Confirmed() {
		sm.ReleaseStateInformation(res.SecurityStateReference)
		return de, nil
	}
	de.StateReference = m.responses.push(&responseState{
		msgID:            pdu.RequestID,
		requestID:        pdu.RequestID,
		requestType:      requestType,
		securityModel:    sm.ID(),
		securityStateRef: res.SecurityStateReference,
		securityEngineID: res.SecurityEngineID,
		securityName:     res.SecurityName,
		securityLevel:    NoAuthNoPriv,
		contextEngineID:  de.ContextEngineID,
		contextName:      de.ContextName,
		maxSize:          res.MaxSizeResponse,
		domain:           domain,
		addr:             addr,
	}, e.clock.Now())
	return de, nil
}

func (m *communityMPModel) PrepareResponseMessage(e *Engine, in *IncomingPdu, pdu *PDU) ([]byte, error) {
	rs, err := m.responses.pop(in.StateReference)
	if err != nil {
		return nil, err
	}
	sm, err := e.SecurityModel(rs.securityModel)
	if err != nil {
		return nil, err
	}

	out := pdu.Clone()
	out.Type = GetResponse
	out.RequestID = rs.requestID
	if m.version == Version1 {
		out = v2ToV1Response(out)
	}

	om := &OutgoingMessage{
		MessageProcessingModel: m.version,
		MaxMessageSize:         rs.maxSize,
		SecurityName:           rs.securityName,
		SecurityLevel:          NoAuthNoPriv,
		PDU:                    out,
		TransportDomain:        rs.domain,
		TransportAddress:       rs.addr,
	}
	msg, err := sm.GenerateResponseMsg(e, om, rs.securityStateRef)
	if errors.Is(err, ErrTooBig) {
		e.Logger.Printf("response to %v too big, answering tooBig", rs.addr)
		om.PDU = &PDU{Type: GetResponse, RequestID: rs.requestID, ErrorStatus: TooBig}
		msg, err = sm.GenerateResponseMsg(e, om, rs.securityStateRef)
	}
	if err != nil {
		sm.ReleaseStateInformation(rs.securityStateRef)
		return nil, err
	}
	return msg, nil
}

func (m *communityMPModel) DiscoveryRequest(*Engine, *SendRequest) *SendRequest {
	return nil
}

func (m *communityMPModel) ReleaseStateInformation(e *Engine, handle SendHandle) {
	for _, om := range m.outstanding.release(handle) {
		if om.securityStateRef == 0 {
			continue
		}
		if sm, err := e.SecurityModel(om.securityModel); err == nil {
			sm.ReleaseStateInformation(om.securityStateRef)
		}
	}
}

func (m *communityMPModel) ReceiveTimerTick(e *Engine, now time.Time) {
	m.responses.expire(now.Add(-responseStateTTL), releaseSecurityState(e))
}
