// Copyright 2012 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/multierr"

	"github.com/gosnmp/snmpengine"
)

// UDPDispatcher carries SNMP over UDP/IPv4 and UDP/IPv6 (RFC 3417).
type UDPDispatcher struct {
	*loop
	conns map[snmpengine.TransportDomain]*net.UDPConn
}

var _ snmpengine.TransportDispatcher = (*UDPDispatcher)(nil)

func NewUDPDispatcher(opts Options) *UDPDispatcher {
	return &UDPDispatcher{
		loop:  newLoop(opts),
		conns: make(map[snmpengine.TransportDomain]*net.UDPConn),
	}
}

// Listen opens the socket for the address family of addr, for example
// "0.0.0.0:162" or "[::]:0", and returns the bound address. Call it before
// Run. Each family has at most one socket; it sends as well as receives.
func (d *UDPDispatcher) Listen(addr string) (*net.UDPAddr, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	domain, network := snmpengine.UDPIPv4Domain, "udp4"
	if udpAddr.IP != nil && udpAddr.IP.To4() == nil {
		domain, network = snmpengine.UDPIPv6Domain, "udp6"
	}
	if _, ok := d.conns[domain]; ok {
		return nil, fmt.Errorf("transport: already listening on %s", network)
	}
	conn, err := net.ListenUDP(network, udpAddr)
	if err != nil {
		return nil, err
	}
	d.conns[domain] = conn
	d.opts.Logger.Printf("transport: listening on %s %v", network, conn.LocalAddr())
	return conn.LocalAddr().(*net.UDPAddr), nil
}

// SendMessage writes msg to addr through the socket of domain.
func (d *UDPDispatcher) SendMessage(msg []byte, domain snmpengine.TransportDomain, addr net.Addr) error {
	conn, ok := d.conns[domain]
	if !ok {
		return fmt.Errorf("%w: no socket for domain %s", snmpengine.ErrTransportUnavailable, domain)
	}
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return fmt.Errorf("transport: %T is not a UDP address", addr)
	}
	count, err := conn.WriteToUDP(msg, udpAddr)
	if err != nil {
		return fmt.Errorf("error sending to %v: %w", addr, err)
	}
	if count != len(msg) {
		d.opts.Logger.Printf("transport: sent %d of %d bytes to %v", count, len(msg), addr)
	}
	return nil
}

// Run dispatches events until ctx is done.
func (d *UDPDispatcher) Run(ctx context.Context) error {
	return d.run(ctx, false, d.sources()...)
}

// RunUntilIdle dispatches events until no job is outstanding, such as
// pending requests and unacknowledged informs, or ctx is done.
func (d *UDPDispatcher) RunUntilIdle(ctx context.Context) error {
	return d.run(ctx, true, d.sources()...)
}

// Close closes the sockets. Call it once Run has returned.
func (d *UDPDispatcher) Close() error {
	var err error
	for domain, conn := range d.conns {
		err = multierr.Append(err, conn.Close())
		delete(d.conns, domain)
	}
	return err
}

func (d *UDPDispatcher) sources() []source {
	var out []source
	for domain, conn := range d.conns {
		out = append(out, func(ctx context.Context) error {
			return d.read(ctx, domain, conn)
		})
	}
	return out
}

const (
	minReadBackoff = 5 * time.Millisecond
	maxReadBackoff = time.Second
)

// udpReader is the receiving side of a *net.UDPConn.
type udpReader interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	SetReadDeadline(t time.Time) error
}

// read posts every datagram received on conn to the loop. Read errors
// other than a closed socket are retried with exponential backoff.
func (d *UDPDispatcher) read(ctx context.Context, domain snmpengine.TransportDomain, conn udpReader) error {
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var backoff time.Duration
	for {
		buf := make([]byte, d.opts.BufferSize)
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			backoff = min(max(2*backoff, minReadBackoff), maxReadBackoff)
			d.opts.Logger.Printf("transport: error in read %s, retrying in %v", err, backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-d.opts.Clock.After(backoff):
			}
			continue
		}
		backoff = 0
		msg := buf[:n]
		if err := d.Post(ctx, func() { d.deliver(domain, remote, msg) }); err != nil {
			return nil
		}
	}
}
