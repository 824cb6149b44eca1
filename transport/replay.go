// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/gosnmp/snmpengine"
)

// pcapngMagic is the block type of a pcapng section header.
var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// Injector accepts messages as if they had been received from the
// network. Every dispatcher in this package is one.
type Injector interface {
	Inject(ctx context.Context, domain snmpengine.TransportDomain, addr net.Addr, msg []byte) error
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// ReplayCapture reads a pcap or pcapng capture from r and injects into td
// the payload of every UDP datagram sent to port, or of every UDP datagram
// when port is 0. The source address of each datagram becomes the
// transport address of the message. td must be running. It returns the
// number of messages injected.
func ReplayCapture(ctx context.Context, td Injector, r io.Reader, port int) (int, error) {
	pr, err := newPacketReader(r)
	if err != nil {
		return 0, fmt.Errorf("reading capture: %w", err)
	}

	injected := 0
	for {
		data, _, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return injected, nil
		}
		if err != nil {
			return injected, fmt.Errorf("reading capture: %w", err)
		}

		packet := gopacket.NewPacket(data, pr.LinkType(), gopacket.NoCopy)
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if port != 0 && int(udp.DstPort) != port {
			continue
		}
		var (
			domain snmpengine.TransportDomain
			src    net.IP
		)
		switch ip := packet.NetworkLayer().(type) {
		case *layers.IPv4:
			domain, src = snmpengine.UDPIPv4Domain, ip.SrcIP
		case *layers.IPv6:
			domain, src = snmpengine.UDPIPv6Domain, ip.SrcIP
		default:
			continue
		}
		addr := &net.UDPAddr{IP: src, Port: int(udp.SrcPort)}
		if err := td.Inject(ctx, domain, addr, udp.Payload); err != nil {
			return injected, err
		}
		injected++
	}
}

func newPacketReader(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(len(pcapngMagic))
	if err != nil {
		return nil, err
	}
	if bytes.Equal(magic, pcapngMagic) {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}
