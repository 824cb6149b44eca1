// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"net"
	"time"
)

//go:generate mockgen -destination=mocks/transport_mock.go -package=mocks github.com/gosnmp/snmpengine TransportDispatcher,BootStore

// TransportDomain names a transport mapping by its registered OID.
type TransportDomain string

const (
	UDPIPv4Domain TransportDomain = "1.3.6.1.6.1.1"
	UDPIPv6Domain TransportDomain = "1.3.6.1.2.1.100.1.2"
	DTLSUDPDomain TransportDomain = "1.3.6.1.6.1.9"
)

// RecvFunc is invoked by a transport dispatcher for every inbound message.
type RecvFunc func(domain TransportDomain, addr net.Addr, msg []byte)

// TimerFunc is invoked by a transport dispatcher once per timer resolution.
type TimerFunc func(now time.Time)

// TransportDispatcher moves whole messages between the engine and the
// network. Implementations deliver callbacks from a single goroutine; the
// engine is not safe for concurrent use and relies on that.
type TransportDispatcher interface {
	RegisterRecvCallback(fn RecvFunc)
	UnregisterRecvCallback()
	RegisterTimerCallback(fn TimerFunc)
	UnregisterTimerCallback()

	// SendMessage writes msg to addr over the transport identified by domain.
	SendMessage(msg []byte, domain TransportDomain, addr net.Addr) error

	// JobStarted and JobFinished bracket outstanding work so a dispatcher
	// can tell when it may stop.
	JobStarted(jobID string)
	JobFinished(jobID string)

	TimerResolution() time.Duration
}

// SecureTransportAddress is implemented by addresses of transports that
// authenticate their peers, such as DTLS. The transport security model
// takes the security name from it.
type SecureTransportAddress interface {
	net.Addr
	TmSecurityName() string
}
