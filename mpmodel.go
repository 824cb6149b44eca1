// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"math"
	"math/rand/v2"
	"net"
	"time"
)

// responseStateTTL bounds how long an incoming request may wait for its
// application to answer before the state needed to answer it is dropped.
const responseStateTTL = 2 * time.Minute

// MessageProcessingModel encodes and decodes the messages of one SNMP
// version and keeps the state that matches responses to requests.
type MessageProcessingModel interface {
	ID() SnmpVersion

	// PrepareOutgoingMessage encodes a request or notification. For
	// confirmed PDUs the model remembers handle so PrepareDataElements can
	// match the response.
	PrepareOutgoingMessage(e *Engine, handle SendHandle, req *SendRequest) ([]byte, error)

	// PrepareResponseMessage encodes pdu as the answer to in.
	PrepareResponseMessage(e *Engine, in *IncomingPdu, pdu *PDU) ([]byte, error)

	// PrepareDataElements decodes and verifies an incoming message. On
	// error the returned DataElements, when not nil, may carry a Report to
	// send back and the handle of the request the message answered.
	PrepareDataElements(e *Engine, domain TransportDomain, addr net.Addr, msg []byte) (*DataElements, error)

	// DiscoveryRequest returns the probe to send before req when the
	// remote engine must be discovered first, or nil.
	DiscoveryRequest(e *Engine, req *SendRequest) *SendRequest

	// ReleaseStateInformation forgets every message sent under handle.
	ReleaseStateInformation(e *Engine, handle SendHandle)

	ReceiveTimerTick(e *Engine, now time.Time)
}

// DataElements is the result of decoding an incoming message.
type DataElements struct {
	IncomingPdu

	// SendHandle is set for responses and identifies the request answered.
	SendHandle SendHandle

	// Report is an encoded Report message for the sender, if one is due.
	Report []byte
}

// msgIDCounter hands out message and request identifiers in 1..2^31-1.
type msgIDCounter struct {
	last int32
}

func newMsgIDCounter() *msgIDCounter {
	return &msgIDCounter{last: rand.Int32N(math.MaxInt32 / 2)}
}

func (c *msgIDCounter) next() int32 {
	if c.last == math.MaxInt32 {
		c.last = 0
	}
	c.last++
	return c.last
}

// outstandingMessage is what a model remembers about a confirmed message
// it sent.
type outstandingMessage struct {
	handle           SendHandle
	msgID            int32
	securityModel    SecurityModelID
	securityStateRef uint32
	securityName     string
	securityLevel    SecurityLevel
	contextEngineID  string
	contextName      string
	domain           TransportDomain
	addr             net.Addr

	// request is the PDU as the application submitted it.
	request *PDU
}

// outstandingTable indexes outstanding messages by message ID and by the
// send handle they were sent under. A handle owns one message per
// transmission attempt.
type outstandingTable struct {
	byMsgID  map[int32]*outstandingMessage
	byHandle map[SendHandle][]int32
}

func newOutstandingTable() *outstandingTable {
	return &outstandingTable{
		byMsgID:  make(map[int32]*outstandingMessage),
		byHandle: make(map[SendHandle][]int32),
	}
}

func (t *outstandingTable) add(m *outstandingMessage) {
	t.byMsgID[m.msgID] = m
	t.byHandle[m.handle] = append(t.byHandle[m.handle], m.msgID)
}

func (t *outstandingTable) get(msgID int32) (*outstandingMessage, bool) {
	m, ok := t.byMsgID[msgID]
	return m, ok
}

func (t *outstandingTable) pop(msgID int32) (*outstandingMessage, bool) {
	m, ok := t.byMsgID[msgID]
	if !ok {
		return nil, false
	}
	delete(t.byMsgID, msgID)
	ids := t.byHandle[m.handle]
	for i, id := range ids {
		if id == msgID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(t.byHandle, m.handle)
	} else {
		t.byHandle[m.handle] = ids
	}
	return m, true
}

// release removes and returns every message sent under handle.
func (t *outstandingTable) release(handle SendHandle) []*outstandingMessage {
	var out []*outstandingMessage
	for _, id := range t.byHandle[handle] {
		if m, ok := t.byMsgID[id]; ok {
			out = append(out, m)
			delete(t.byMsgID, id)
		}
	}
	delete(t.byHandle, handle)
	return out
}

func (t *outstandingTable) size() int {
	return len(t.byMsgID)
}

// responseState is what a model remembers about a confirmed request it
// received, until the application answers it.
type responseState struct {
	msgID            int32
	requestID        int32
	requestType      PDUType
	securityModel    SecurityModelID
	securityStateRef uint32
	securityEngineID string
	securityName     string
	securityLevel    SecurityLevel
	contextEngineID  string
	contextName      string
	maxSize          int
	domain           TransportDomain
	addr             net.Addr
}

// releaseSecurityState returns a function that hands a security state
// reference back to the model that issued it.
func releaseSecurityState(e *Engine) func(*responseState) {
	return func(rs *responseState) {
		if rs.securityStateRef == 0 {
			return
		}
		if sm, err := e.SecurityModel(rs.securityModel); err == nil {
			sm.ReleaseStateInformation(rs.securityStateRef)
		}
	}
}
