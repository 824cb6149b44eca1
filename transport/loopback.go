// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/gosnmp/snmpengine"
)

// LoopbackNetwork connects LoopbackDispatchers in memory. Delivery is
// unreliable in the way UDP is: messages to an unknown address, or to a
// dispatcher whose queue is full, are dropped.
type LoopbackNetwork struct {
	// Tap, when set, sees every message sent on the network, including
	// dropped ones. Set it before any dispatcher runs.
	Tap func(from, to net.Addr, msg []byte)

	mu    sync.RWMutex
	nodes map[string]*LoopbackDispatcher
}

func NewLoopbackNetwork() *LoopbackNetwork {
	return &LoopbackNetwork{nodes: make(map[string]*LoopbackDispatcher)}
}

// LoopbackDispatcher is a TransportDispatcher on a LoopbackNetwork.
type LoopbackDispatcher struct {
	*loop
	network *LoopbackNetwork
	addr    *net.UDPAddr
	domain  snmpengine.TransportDomain
}

var _ snmpengine.TransportDispatcher = (*LoopbackDispatcher)(nil)

// Attach creates a dispatcher reachable at addr, a UDP address such as
// "127.0.0.1:161".
func (n *LoopbackNetwork) Attach(opts Options, addr string) (*LoopbackDispatcher, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	d := &LoopbackDispatcher{
		loop:    newLoop(opts),
		network: n,
		addr:    udpAddr,
		domain:  snmpengine.UDPIPv4Domain,
	}
	if udpAddr.IP != nil && udpAddr.IP.To4() == nil {
		d.domain = snmpengine.UDPIPv6Domain
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	key := udpAddr.String()
	if _, ok := n.nodes[key]; ok {
		return nil, fmt.Errorf("transport: loopback address %s in use", key)
	}
	n.nodes[key] = d
	return d, nil
}

func (d *LoopbackDispatcher) Addr() *net.UDPAddr {
	return d.addr
}

func (d *LoopbackDispatcher) SendMessage(msg []byte, domain snmpengine.TransportDomain, addr net.Addr) error {
	if domain != d.domain {
		return fmt.Errorf("%w: loopback %s cannot send over %s", snmpengine.ErrTransportUnavailable, d.domain, domain)
	}
	if addr == nil {
		return fmt.Errorf("%w: no address", snmpengine.ErrTransportUnavailable)
	}
	msg = append([]byte(nil), msg...)
	if d.network.Tap != nil {
		d.network.Tap(d.addr, addr, msg)
	}

	d.network.mu.RLock()
	dst, ok := d.network.nodes[addr.String()]
	d.network.mu.RUnlock()
	if !ok {
		d.opts.Logger.Printf("transport: loopback has no %v, dropping %d bytes", addr, len(msg))
		return nil
	}
	from := d.addr
	select {
	case dst.events <- func() { dst.deliver(domain, from, msg) }:
	default:
		d.opts.Logger.Printf("transport: loopback queue of %v full, dropping %d bytes", addr, len(msg))
	}
	return nil
}

// Run dispatches events until ctx is done.
func (d *LoopbackDispatcher) Run(ctx context.Context) error {
	return d.run(ctx, false)
}

// RunUntilIdle dispatches events until no job is outstanding or ctx is
// done.
func (d *LoopbackDispatcher) RunUntilIdle(ctx context.Context) error {
	return d.run(ctx, true)
}

// Close detaches the dispatcher from its network.
func (d *LoopbackDispatcher) Close() error {
	d.network.mu.Lock()
	defer d.network.mu.Unlock()
	delete(d.network.nodes, d.addr.String())
	return nil
}
