// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"net"
	"time"
)

// SecurityModel protects outgoing messages and verifies incoming ones.
type SecurityModel interface {
	ID() SecurityModelID

	// GenerateRequestMsg secures a request or notification and returns the
	// whole message together with a state reference for the response.
	GenerateRequestMsg(e *Engine, out *OutgoingMessage) ([]byte, uint32, error)

	// GenerateResponseMsg secures a response or Report using the state
	// kept when the request was processed. A zero stateRef builds an
	// unauthenticated Report.
	GenerateResponseMsg(e *Engine, out *OutgoingMessage, stateRef uint32) ([]byte, error)

	// ProcessIncomingMsg authenticates and decrypts an incoming message.
	// Failures that warrant a Report come back as *StatusInformation.
	ProcessIncomingMsg(e *Engine, in *IncomingMessage) (*SecurityResult, error)

	// ReleaseStateInformation drops state kept under stateRef.
	ReleaseStateInformation(stateRef uint32)

	ReceiveTimerTick(e *Engine, now time.Time)
}

// OutgoingMessage is what a message processing model hands to a security
// model. Community models use PDU; the others use GlobalData and ScopedPDU.
type OutgoingMessage struct {
	MessageProcessingModel SnmpVersion
	GlobalData             []byte
	MaxMessageSize         int
	SecurityEngineID       string
	SecurityName           string
	SecurityLevel          SecurityLevel
	ScopedPDU              []byte
	PDU                    *PDU
	TransportDomain        TransportDomain
	TransportAddress       net.Addr
}

// IncomingMessage is a received message split into the parts a security
// model needs.
type IncomingMessage struct {
	MessageProcessingModel   SnmpVersion
	MaxMessageSize           int
	SecurityLevel            SecurityLevel
	Reportable               bool
	WholeMsg                 []byte
	SecurityParameters       []byte
	SecurityParametersOffset int
	ScopedPDUData            []byte
	Encrypted                bool
	Community                string
	TransportDomain          TransportDomain
	TransportAddress         net.Addr

	// SecurityStateReference is set when the message answers a request
	// this engine sent.
	SecurityStateReference uint32
}

// SecurityResult is a verified incoming message.
type SecurityResult struct {
	SecurityEngineID       string
	SecurityName           string
	ContextName            string
	ScopedPDU              []byte
	MaxSizeResponse        int
	SecurityStateReference uint32
}
