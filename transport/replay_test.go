// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosnmp/snmpengine"
)

const (
	snmpTrapOID  = ".1.3.6.1.6.3.1.1.4.1.0"
	coldStartOID = ".1.3.6.1.6.3.1.1.5.1"
)

type capturedPacket struct {
	from, to *net.UDPAddr
	msg      []byte
}

// writeCapture writes packets as Ethernet frames in pcap format.
func writeCapture(t *testing.T, w io.Writer, packets []capturedPacket) {
	t.Helper()
	pw := pcapgo.NewWriter(w)
	require.NoError(t, pw.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for _, p := range packets {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
			DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
			EthernetType: layers.EthernetTypeIPv4,
		}
		udp := &layers.UDP{SrcPort: layers.UDPPort(p.from.Port), DstPort: layers.UDPPort(p.to.Port)}
		var network gopacket.SerializableLayer
		if p.from.IP.To4() != nil {
			ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: p.from.IP.To4(), DstIP: p.to.IP.To4()}
			require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
			network = ip
		} else {
			eth.EthernetType = layers.EthernetTypeIPv6
			ip := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolUDP, SrcIP: p.from.IP, DstIP: p.to.IP}
			require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
			network = ip
		}
		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, network, udp, gopacket.Payload(p.msg)))
		data := buf.Bytes()
		require.NoError(t, pw.WritePacket(gopacket.CaptureInfo{
			Timestamp:     time.Unix(1700000000, 0),
			CaptureLength: len(data),
			Length:        len(data),
		}, data))
	}
}

// captureTrap sends a coldStart trap from an originator on a loopback
// network and returns the message as it went on the wire.
func captureTrap(t *testing.T) capturedPacket {
	t.Helper()
	network := NewLoopbackNetwork()
	var captured []capturedPacket
	network.Tap = func(from, to net.Addr, msg []byte) {
		captured = append(captured, capturedPacket{from: from.(*net.UDPAddr), to: to.(*net.UDPAddr), msg: msg})
	}
	d, err := network.Attach(Options{}, "192.0.2.20:50000")
	require.NoError(t, err)

	config := snmpengine.NewLCD()
	require.NoError(t, config.AddCommunity(snmpengine.CommunityEntry{Community: "public"}))
	require.NoError(t, config.AddTargetParams(snmpengine.TargetParams{Name: "v2c", MessageProcessingModel: snmpengine.Version2c, SecurityName: "public"}))
	require.NoError(t, config.AddTargetAddr(snmpengine.TargetAddr{
		Name:    "nms",
		Address: &net.UDPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 162},
		TagList: []string{"traps"},
		Params:  "v2c",
	}))
	require.NoError(t, config.AddNotify(snmpengine.NotifyEntry{Name: "default", Tag: "traps"}))
	require.NoError(t, config.Validate())
	e := newEngine(t, "replay-origin", config, d)

	_, err = snmpengine.NewNotificationOriginator().SendNotification(e, "default", "", "", []snmpengine.VarBind{
		{Name: snmpTrapOID, Type: snmpengine.ObjectIdentifier, Value: coldStartOID},
	}, nil)
	require.NoError(t, err)
	require.Len(t, captured, 1)
	return captured[0]
}

func TestReplayCapture(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	trap := captureTrap(t)
	v6 := capturedPacket{
		from: &net.UDPAddr{IP: net.ParseIP("2001:db8::20"), Port: 50001},
		to:   &net.UDPAddr{IP: net.ParseIP("2001:db8::1"), Port: 162},
		msg:  trap.msg,
	}
	other := capturedPacket{from: trap.from, to: &net.UDPAddr{IP: trap.to.IP, Port: 514}, msg: []byte("<13>syslog")}
	var capture bytes.Buffer
	writeCapture(t, &capture, []capturedPacket{trap, other, v6})

	d, err := NewLoopbackNetwork().Attach(testOptions("receiver"), "127.0.0.1:162")
	require.NoError(t, err)
	config := snmpengine.NewLCD()
	require.NoError(t, config.AddCommunity(snmpengine.CommunityEntry{Community: "public"}))
	e := newEngine(t, "replay-receiver", config, d)

	var got []*snmpengine.IncomingPdu
	_, err = snmpengine.NewNotificationReceiver(e, "", func(_ *snmpengine.Engine, in *snmpengine.IncomingPdu) {
		got = append(got, in)
	})
	require.NoError(t, err)

	r := start(ctx, d.Run)
	n, err := ReplayCapture(ctx, d, bytes.NewReader(capture.Bytes()), 162)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, d.Call(ctx, func() {}))
	r.stop(t)

	require.Len(t, got, 2)
	for _, in := range got {
		assert.Equal(t, snmpengine.SNMPv2Trap, in.PDU.Type)
		require.Len(t, in.PDU.Variables, 2)
		assert.Equal(t, coldStartOID, in.PDU.Variables[1].Value)
		assert.Equal(t, "public", in.SecurityName)
	}
	assert.Equal(t, "192.0.2.20:50000", got[0].TransportAddress.String())
	assert.Equal(t, "[2001:db8::20]:50001", got[1].TransportAddress.String())

	// without a port filter the syslog datagram is injected too
	r = start(ctx, d.Run)
	n, err = ReplayCapture(ctx, d, bytes.NewReader(capture.Bytes()), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	var parseErrs uint32
	require.NoError(t, d.Call(ctx, func() { parseErrs = e.Stats().InASNParseErrs }))
	r.stop(t)
	assert.Equal(t, uint32(1), parseErrs)
}

func TestReplayCaptureErrors(t *testing.T) {
	ctx := context.Background()
	d, err := NewLoopbackNetwork().Attach(Options{}, "127.0.0.1:162")
	require.NoError(t, err)

	_, err = ReplayCapture(ctx, d, strings.NewReader(""), 0)
	assert.Error(t, err)
	_, err = ReplayCapture(ctx, d, strings.NewReader("not a capture file"), 0)
	assert.Error(t, err)

	// a capture cut short reports what was injected before the damage
	var capture bytes.Buffer
	writeCapture(t, &capture, []capturedPacket{{
		from: &net.UDPAddr{IP: net.IPv4(192, 0, 2, 20), Port: 50000},
		to:   &net.UDPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 162},
		msg:  []byte{0x30, 0x00},
	}})
	data := capture.Bytes()
	n, err := ReplayCapture(ctx, d, bytes.NewReader(data[:len(data)-3]), 0)
	assert.Error(t, err)
	assert.Zero(t, n)
}
