// Copyright 2025 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"fmt"
	"time"
)

// tsm implements the Transport Security Model (RFC 5591). TSM delegates all
// cryptographic operations to the transport layer (TLS/DTLS), so the only
// per-message work is checking the security level and taking the
// securityName the transport derived from the peer certificate.
type tsm struct {
	// names remembers the tmSecurityName a request arrived under so the
	// response is sent to the same session.
	names *stateCache[string]
}

var _ SecurityModel = (*tsm)(nil)

func newTSM() *tsm {
	return &tsm{names: newStateCache[string]()}
}

func (m *tsm) ID() SecurityModelID {
	return TransportSecurityModel
}

// validate checks the security level. TSM requires AuthPriv since the
// transport layer provides both.
func (m *tsm) validate(level SecurityLevel) error {
	if level != AuthPriv {
		return fmt.Errorf("%w: TSM requires %s (transport provides auth+priv), got %s", ErrUnknownSecurityLevel, AuthPriv, level)
	}
	return nil
}

// marshal assembles the message. RFC 5591 section 5.2: "The
// securityParameters field is an empty OCTET STRING."
func (m *tsm) marshal(out *OutgoingMessage) ([]byte, error) {
	if out.TransportDomain != DTLSUDPDomain {
		return nil, fmt.Errorf("%w: TSM over %s", ErrUnsecuredTransport, out.TransportDomain)
	}
	msg, _, err := marshalV3Message(out.GlobalData, nil, out.ScopedPDU)
	if err != nil {
		return nil, err
	}
	if out.MaxMessageSize > 0 && len(msg) > out.MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooBig, len(msg), out.MaxMessageSize)
	}
	return msg, nil
}

func (m *tsm) GenerateRequestMsg(e *Engine, out *OutgoingMessage) ([]byte, uint32, error) {
	if err := m.validate(out.SecurityLevel); err != nil {
		return nil, 0, err
	}
	msg, err := m.marshal(out)
	if err != nil {
		return nil, 0, err
	}
	return msg, m.names.hold(out.SecurityName), nil
}

func (m *tsm) GenerateResponseMsg(e *Engine, out *OutgoingMessage, stateRef uint32) ([]byte, error) {
	if stateRef == 0 {
		return m.marshal(out)
	}
	if _, err := m.names.peek(stateRef); err != nil {
		return nil, err
	}
	msg, err := m.marshal(out)
	if err != nil {
		return nil, err
	}
	m.names.discard(stateRef)
	return msg, nil
}

// ProcessIncomingMsg accepts a message received over a secure transport. If
// we received the packet over a valid TLS/DTLS session, it is authentic.
func (m *tsm) ProcessIncomingMsg(e *Engine, in *IncomingMessage) (*SecurityResult, error) {
	if len(in.SecurityParameters) != 0 || in.Encrypted {
		e.stats.inc(cntInASNParseErrs)
		return nil, fmt.Errorf("%w: TSM message with security parameters or encrypted data", ErrParse)
	}
	if err := m.validate(in.SecurityLevel); err != nil {
		return nil, err
	}
	addr, ok := in.TransportAddress.(SecureTransportAddress)
	if !ok {
		return nil, fmt.Errorf("%w: TSM message from %v", ErrUnsecuredTransport, in.TransportAddress)
	}
	name := addr.TmSecurityName()
	if name == "" {
		return nil, fmt.Errorf("%w: peer %v has no tmSecurityName", ErrUnknownSecurityName, in.TransportAddress)
	}

	if in.SecurityStateReference != 0 {
		if _, err := m.names.pop(in.SecurityStateReference); err != nil {
			return nil, err
		}
	}
	res := &SecurityResult{
		SecurityEngineID: e.engineID,
		SecurityName:     name,
		ScopedPDU:        in.ScopedPDUData,
		MaxSizeResponse:  min(in.MaxMessageSize, e.maxMessageSize),
	}
	if in.SecurityStateReference == 0 && in.Reportable {
		res.SecurityStateReference = m.names.push(name, e.clock.Now())
	}
	return res, nil
}

func (m *tsm) ReleaseStateInformation(stateRef uint32) {
	m.names.discard(stateRef)
}

func (m *tsm) ReceiveTimerTick(_ *Engine, now time.Time) {
	m.names.expire(now.Add(-responseStateTTL), nil)
}
