// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"fmt"
	"time"
)

// communitySecurityModel implements the SNMPv1 and SNMPv2c community-based
// security models of RFC 3584. The community travels in clear text and maps
// to a security name through the community table.
type communitySecurityModel struct {
	id SecurityModelID

	// communities remembers the community a request arrived with so the
	// response carries the same one.
	communities *stateCache[string]
}

var _ SecurityModel = (*communitySecurityModel)(nil)

func newCommunitySecurityModel(id SecurityModelID) *communitySecurityModel {
	return &communitySecurityModel{
		id:          id,
		communities: newStateCache[string](),
	}
}

func (m *communitySecurityModel) ID() SecurityModelID {
	return m.id
}

func (m *communitySecurityModel) GenerateRequestMsg(e *Engine, out *OutgoingMessage) ([]byte, uint32, error) {
	if out.SecurityLevel > NoAuthNoPriv {
		return nil, 0, fmt.Errorf("%w: %s with community security", ErrUnknownSecurityLevel, out.SecurityLevel)
	}
	entry, ok := e.config.communityBySecurityName(out.SecurityName)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %q has no community", ErrUnknownSecurityName, out.SecurityName)
	}
	msg, err := m.encode(out, entry.Community)
	return msg, 0, err
}

func (m *communitySecurityModel) GenerateResponseMsg(e *Engine, out *OutgoingMessage, stateRef uint32) ([]byte, error) {
	community, err := m.communities.peek(stateRef)
	if err != nil {
		return nil, err
	}
	msg, err := m.encode(out, community)
	if err != nil {
		return nil, err
	}
	m.communities.discard(stateRef)
	return msg, nil
}

func (m *communitySecurityModel) encode(out *OutgoingMessage, community string) ([]byte, error) {
	msg, err := marshalCommunityMessage(out.MessageProcessingModel, community, out.PDU)
	if err != nil {
		return nil, err
	}
	if out.MaxMessageSize > 0 && len(msg) > out.MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooBig, len(msg), out.MaxMessageSize)
	}
	return msg, nil
}

func (m *communitySecurityModel) ProcessIncomingMsg(e *Engine, in *IncomingMessage) (*SecurityResult, error) {
	entry, ok := e.config.communityByValue(in.Community)
	if !ok {
		e.stats.inc(cntInBadCommunityNames)
		return nil, fmt.Errorf("%w from %v", ErrUnknownCommunityName, in.TransportAddress)
	}
	return &SecurityResult{
		SecurityEngineID:       e.engineID,
		SecurityName:           entry.SecurityName,
		ContextName:            entry.ContextName,
		MaxSizeResponse:        in.MaxMessageSize,
		SecurityStateReference: m.communities.push(in.Community, e.clock.Now()),
	}, nil
}

func (m *communitySecurityModel) ReleaseStateInformation(stateRef uint32) {
	m.communities.discard(stateRef)
}

func (m *communitySecurityModel) ReceiveTimerTick(_ *Engine, now time.Time) {
	m.communities.expire(now.Add(-responseStateTTL), nil)
}
