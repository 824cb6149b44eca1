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

type peerKey struct {
	domain TransportDomain
	addr   string
}

// peerEngine is what discovery revealed about the engine at an address.
type peerEngine struct {
	securityEngineID string
	contextEngineID  string
}

// v3MPModel is the SNMPv3 message processing model of RFC 3412. Requests
// are matched to responses by msgID, and the remote engine ID learned from
// discovery is remembered per transport address.
type v3MPModel struct {
	ids         *msgIDCounter
	outstanding *outstandingTable
	responses   *stateCache[*responseState]
	peers       map[peerKey]peerEngine
}

var _ MessageProcessingModel = (*v3MPModel)(nil)

func newV3MPModel() *v3MPModel {
	return &v3MPModel{
		ids:         newMsgIDCounter(),
		outstanding: newOutstandingTable(),
		responses:   newStateCache[*responseState](),
		peers:       make(map[peerKey]peerEngine),
	}
}

func (m *v3MPModel) ID() SnmpVersion {
	return Version3
}

func keyOf(domain TransportDomain, addr net.Addr) peerKey {
	k := peerKey{domain: domain}
	if addr != nil {
		k.addr = addr.String()
	}
	return k
}

func (m *v3MPModel) securityModel(e *Engine, id SecurityModelID) (SecurityModel, error) {
	switch id {
	case anySecurityModel:
		id = UserSecurityModel
	case SNMPv1SecurityModel, SNMPv2cSecurityModel:
		return nil, fmt.Errorf("%w: %s over SNMPv3", ErrUnknownSecurityModels, id)
	}
	return e.SecurityModel(id)
}

// PeerEngineID returns the engine ID discovered at addr, if any.
func (m *v3MPModel) PeerEngineID(domain TransportDomain, addr net.Addr) (string, bool) {
	p, ok := m.peers[keyOf(domain, addr)]
	return p.securityEngineID, ok && p.securityEngineID != ""
}

func (m *v3MPModel) PrepareOutgoingMessage(e *Engine, handle SendHandle, req *SendRequest) ([]byte, error) {
	sm, err := m.securityModel(e, req.SecurityModel)
	if err != nil {
		return nil, err
	}
	if req.PDU.Type == Trap {
		return nil, fmt.Errorf("%w: SNMPv1 Trap-PDU over SNMPv3", ErrUnsupportedPDUType)
	}

	msgID := m.ids.next()
	pdu := req.PDU.Clone()
	pdu.RequestID = msgID

	// The receiver is authoritative for confirmed PDUs, the sender for
	// everything else.
	securityEngineID := e.engineID
	contextEngineID := req.ContextEngineID
	if pdu.Type.Confirmed() {
		peer := m.peers[keyOf(req.TransportDomain, req.TransportAddress)]
		securityEngineID = peer.securityEngineID
		if contextEngineID == "" && req.SecurityName != "" {
			contextEngineID = peer.contextEngineID
			if contextEngineID == "" {
				contextEngineID = securityEngineID
			}
		}
	} else if contextEngineID == "" {
		contextEngineID = e.engineID
	}

	level := req.SecurityLevel
	if level == 0 {
		level = NoAuthNoPriv
	}
	scoped, err := marshalScopedPDU(contextEngineID, req.ContextName, pdu)
	if err != nil {
		return nil, err
	}
	header, err := marshalV3Header(v3Header{
		MsgID:         msgID,
		MaxSize:       int32(e.maxMessageSize),
		Flags:         msgFlagsFor(level, pdu.Type.Confirmed()),
		SecurityModel: sm.ID(),
	})
	if err != nil {
		return nil, err
	}

	msg, stateRef, err := sm.GenerateRequestMsg(e, &OutgoingMessage{
		MessageProcessingModel: Version3,
		GlobalData:             header,
		MaxMessageSize:         e.maxMessageSize,
		SecurityEngineID:       securityEngineID,
		SecurityName:           req.SecurityName,
		SecurityLevel:          level,
		ScopedPDU:              scoped,
		PDU:                    pdu,
		TransportDomain:        req.TransportDomain,
		TransportAddress:       req.TransportAddress,
	})
	if err != nil {
		return nil, err
	}

	if pdu.Type.Confirmed() {
		m.outstanding.add(&outstandingMessage{
			handle:           handle,
			msgID:            msgID,
			securityModel:    sm.ID(),
			securityStateRef: stateRef,
			securityName:     req.SecurityName,
			securityLevel:    level,
			contextEngineID:  contextEngineID,
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

func (m *v3MPModel) PrepareDataElements(e *Engine, domain TransportDomain, addr net.Addr, msg []byte) (*DataElements, error) {
	vm, err := unmarshalV3Message(msg)
	if err != nil {
		e.stats.inc(cntInASNParseErrs)
		return nil, err
	}
	h := vm.Header
	level, err := h.Flags.securityLevel()
	if err != nil {
		e.stats.inc(cntInvalidMsgs)
		return nil, err
	}
	if h.MaxSize < 484 {
		e.stats.inc(cntInASNParseErrs)
		return nil, fmt.Errorf("%w: msgMaxSize %d below 484", ErrParse, h.MaxSize)
	}

	sm, err := e.SecurityModel(h.SecurityModel)
	if err != nil {
		e.stats.inc(cntUnknownSecurityModels)
		return m.report(e, h, &StatusInformation{
			Err:             err,
			OID:             snmpUnknownSecurityModels,
			Value:           e.stats.get(cntUnknownSecurityModels),
			SecurityLevel:   NoAuthNoPriv,
			ContextEngineID: e.engineID,
		}, err)
	}

	// A non-reportable message from the address we sent msgID to is a
	// candidate answer to it.
	om, candidate := m.outstanding.get(h.MsgID)
	if candidate && (h.Flags.reportable() || keyOf(om.domain, om.addr) != keyOf(domain, addr)) {
		candidate = false
	}

	in := &IncomingMessage{
		MessageProcessingModel:   Version3,
		MaxMessageSize:           int(h.MaxSize),
		SecurityLevel:            level,
		Reportable:               h.Flags.reportable(),
		WholeMsg:                 msg,
		SecurityParameters:       vm.SecurityParameters,
		SecurityParametersOffset: vm.SecurityParametersOffset,
		ScopedPDUData:            vm.ScopedPDUData,
		Encrypted:                vm.Encrypted,
		TransportDomain:          domain,
		TransportAddress:         addr,
	}
	if candidate {
		in.SecurityStateReference = om.securityStateRef
		om.securityStateRef = 0
	}

	res, err := sm.ProcessIncomingMsg(e, in)
	if err != nil {
		var si *StatusInformation
		if errors.As(err, &si) && h.Flags.reportable() {
			return m.report(e, h, si, err)
		}
		if candidate {
			sm.ReleaseStateInformation(in.SecurityStateReference)
			m.outstanding.pop(h.MsgID)
			return &DataElements{SendHandle: om.handle}, err
		}
		return nil, err
	}

	scoped, err := unmarshalScopedPDU(res.ScopedPDU)
	if err != nil {
		e.stats.inc(cntInASNParseErrs)
		sm.ReleaseStateInformation(res.SecurityStateReference)
		if candidate {
			m.outstanding.pop(h.MsgID)
			return &DataElements{SendHandle: om.handle}, err
		}
		return nil, err
	}
	pdu := scoped.PDU

	de := &DataElements{IncomingPdu: IncomingPdu{
		TransportDomain:        domain,
		TransportAddress:       addr,
		MessageProcessingModel: Version3,
		SecurityModel:          sm.ID(),
		SecurityName:           res.SecurityName,
		SecurityLevel:          level,
		SecurityEngineID:       res.SecurityEngineID,
		ContextEngineID:        scoped.ContextEngineID,
		ContextName:            scoped.ContextName,
		PDU:                    pdu,
		MaxSizeResponse:        res.MaxSizeResponse,
	}}

	if pdu.Type.IsResponse() {
		if !candidate {
			sm.ReleaseStateInformation(res.SecurityStateReference)
			return nil, fmt.Errorf("%w: msgID %d from %v", ErrCacheMiss, h.MsgID, addr)
		}
		m.outstanding.pop(h.MsgID)
		de.SendHandle = om.handle
		if pdu.Type != Report && level != om.securityLevel {
			return de, fmt.Errorf("%w: response at %s to a request at %s", ErrDataMismatch, level, om.securityLevel)
		}
		if res.SecurityEngineID != "" {
			key := keyOf(domain, addr)
			peer := m.peers[key]
			peer.securityEngineID = res.SecurityEngineID
			if pdu.Type == Report {
				peer.contextEngineID = scoped.ContextEngineID
			}
			m.peers[key] = peer
		}
		de.SecurityName = om.securityName
		return de, nil
	}

	if candidate {
		// The peer reused one of our msgIDs for a request of its own.
		e.Logger.Printf("v3: %s from %v carries outstanding msgID %d", pdu.Type, addr, h.MsgID)
	}
	if !pdu.Type.Confirmed() {
		sm.ReleaseStateInformation(res.SecurityStateReference)
		return de, nil
	}
	de.StateReference = m.responses.push(&responseState{
		msgID:            h.MsgID,
		requestID:        pdu.RequestID,
		requestType:      pdu.Type,
		securityModel:    sm.ID(),
		securityStateRef: res.SecurityStateReference,
		securityEngineID: res.SecurityEngineID,
		securityName:     res.SecurityName,
		securityLevel:    level,
		contextEngineID:  scoped.ContextEngineID,
		contextName:      scoped.ContextName,
		maxSize:          res.MaxSizeResponse,
		domain:           domain,
		addr:             addr,
	}, e.clock.Now())
	return de, nil
}

// report builds the Report answering a message that failed processing,
// RFC 3412 section 7.1.3.
func (m *v3MPModel) report(e *Engine, h v3Header, si *StatusInformation, cause error) (*DataElements, error) {
	if !h.Flags.reportable() {
		return nil, cause
	}
	sm, err := e.SecurityModel(h.SecurityModel)
	if err != nil {
		sm, err = e.SecurityModel(UserSecurityModel)
		if err != nil {
			return nil, cause
		}
	}

	pdu := &PDU{
		Type:      Report,
		Variables: []VarBind{{Name: si.OID, Type: Counter32, Value: si.Value}},
	}
	scoped, err := marshalScopedPDU(e.engineID, si.ContextName, pdu)
	if err != nil {
		return nil, cause
	}
	level := si.SecurityLevel
	if level == 0 {
		level = NoAuthNoPriv
	}
	header, err := marshalV3Header(v3Header{
		MsgID:         h.MsgID,
		MaxSize:       int32(e.maxMessageSize),
		Flags:         msgFlagsFor(level, false),
		SecurityModel: sm.ID(),
	})
	if err != nil {
		return nil, cause
	}
	msg, err := sm.GenerateResponseMsg(e, &OutgoingMessage{
		MessageProcessingModel: Version3,
		GlobalData:             header,
		MaxMessageSize:         int(h.MaxSize),
		SecurityEngineID:       e.engineID,
		SecurityName:           si.SecurityName,
		SecurityLevel:          level,
		ScopedPDU:              scoped,
		PDU:                    pdu,
	}, si.SecurityStateReference)
	if err != nil {
		sm.ReleaseStateInformation(si.SecurityStateReference)
		e.Logger.Printf("v3: unable to build %s report: %v", si.OID, err)
		return nil, cause
	}
	return &DataElements{Report: msg}, cause
}

func (m *v3MPModel) PrepareResponseMessage(e *Engine, in *IncomingPdu, pdu *PDU) ([]byte, error) {
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

	header, err := marshalV3Header(v3Header{
		MsgID:         rs.msgID,
		MaxSize:       int32(e.maxMessageSize),
		Flags:         msgFlagsFor(rs.securityLevel, false),
		SecurityModel: rs.securityModel,
	})
	if err != nil {
		return nil, err
	}
	om := &OutgoingMessage{
		MessageProcessingModel: Version3,
		GlobalData:             header,
		MaxMessageSize:         rs.maxSize,
		SecurityEngineID:       rs.securityEngineID,
		SecurityName:           rs.securityName,
		SecurityLevel:          rs.securityLevel,
		PDU:                    out,
		TransportDomain:        rs.domain,
		TransportAddress:       rs.addr,
	}
	if om.ScopedPDU, err = marshalScopedPDU(rs.contextEngineID, rs.contextName, out); err != nil {
		return nil, err
	}
	msg, err := sm.GenerateResponseMsg(e, om, rs.securityStateRef)
	if errors.Is(err, ErrTooBig) {
		e.Logger.Printf("response to %v too big, answering tooBig", rs.addr)
		om.PDU = &PDU{Type: GetResponse, RequestID: rs.requestID, ErrorStatus: TooBig}
		if om.ScopedPDU, err = marshalScopedPDU(rs.contextEngineID, rs.contextName, om.PDU); err != nil {
			return nil, err
		}
		msg, err = sm.GenerateResponseMsg(e, om, rs.securityStateRef)
	}
	if err != nil {
		sm.ReleaseStateInformation(rs.securityStateRef)
		return nil, err
	}
	return msg, nil
}

// DiscoveryRequest returns a probe when req goes to an engine whose ID, or
// for authenticated requests whose clock, is not known yet, RFC 3414
// section 4.
func (m *v3MPModel) DiscoveryRequest(e *Engine, req *SendRequest) *SendRequest {
	if !req.PDU.Type.Confirmed() {
		return nil
	}
	if req.SecurityModel != anySecurityModel && req.SecurityModel != UserSecurityModel {
		return nil
	}
	peer := m.peers[keyOf(req.TransportDomain, req.TransportAddress)]
	if peer.securityEngineID != "" {
		if req.SecurityLevel <= NoAuthNoPriv {
			return nil
		}
		if u, ok := e.securityModels[UserSecurityModel].(*usm); !ok || u.synchronized(e, peer.securityEngineID) {
			return nil
		}
	}
	return &SendRequest{
		TransportDomain:        req.TransportDomain,
		TransportAddress:       req.TransportAddress,
		MessageProcessingModel: Version3,
		SecurityModel:          UserSecurityModel,
		SecurityLevel:          NoAuthNoPriv,
		PDU:                    &PDU{Type: GetRequest},
		Timeout:                req.Timeout,
		Retries:                req.Retries,
	}
}

func (m *v3MPModel) ReleaseStateInformation(e *Engine, handle SendHandle) {
	for _, om := range m.outstanding.release(handle) {
		if om.securityStateRef == 0 {
			continue
		}
		if sm, err := e.SecurityModel(om.securityModel); err == nil {
			sm.ReleaseStateInformation(om.securityStateRef)
		}
	}
}

func (m *v3MPModel) ReceiveTimerTick(e *Engine, now time.Time) {
	m.responses.expire(now.Add(-responseStateTTL), releaseSecurityState(e))
}
