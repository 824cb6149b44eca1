// Copyright 2026 The GoSNMP Authors. All rights reserved.  Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package snmpengine

import (
	"fmt"
	"log"
	"net"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

const testTimerResolution = 100 * time.Millisecond

type testPacket struct {
	domain   TransportDomain
	from, to net.Addr
	msg      []byte
}

// testNet connects test transports. Messages are queued by SendMessage and
// delivered by pump, so no engine is ever re-entered from its own call.
type testNet struct {
	t     *testing.T
	clock *clock.Mock
	nodes map[string]*testTransport
	queue []testPacket

	// drop, when set, discards the packets it returns true for.
	drop func(p testPacket) bool
	sent int
}

func newTestNet(t *testing.T) *testNet {
	return &testNet{
		t:     t,
		clock: clock.NewMock(),
		nodes: make(map[string]*testTransport),
	}
}

type testTransport struct {
	net  *testNet
	addr *net.UDPAddr

	// tmName, when set, is presented to peers as the certificate-derived
	// identity of a secure transport.
	tmName string

	recv  RecvFunc
	timer TimerFunc
	jobs  map[string]int
}

var _ TransportDispatcher = (*testTransport)(nil)

func (n *testNet) transport(addr string) *testTransport {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	require.NoError(n.t, err)
	tt := &testTransport{net: n, addr: udpAddr, jobs: make(map[string]int)}
	n.nodes[udpAddr.String()] = tt
	return tt
}

// engine creates an engine attached to a transport at addr.
func (n *testNet) engine(addr, engineID string, config *LCD) (*Engine, *testTransport) {
	if config == nil {
		config = NewLCD()
	}
	opts := EngineOptions{
		EngineID:  engineID,
		Config:    config,
		BootStore: NewMemoryBootStore(),
		Clock:     n.clock,
	}
	if testing.Verbose() {
		opts.Logger = NewLogger(log.New(os.Stderr, fmt.Sprintf("[%s] ", addr), 0))
	}
	e, err := NewEngine(opts)
	require.NoError(n.t, err)
	tt := n.transport(addr)
	require.NoError(n.t, e.RegisterTransportDispatcher(tt))
	return e, tt
}

// pump delivers queued packets until none are left.
func (n *testNet) pump() {
	for guard := 0; len(n.queue) > 0; guard++ {
		require.Less(n.t, guard, 10000, "message storm")
		p := n.queue[0]
		n.queue = n.queue[1:]
		if n.drop != nil && n.drop(p) {
			continue
		}
		dst, ok := n.nodes[p.to.String()]
		if !ok || dst.recv == nil {
			continue
		}
		dst.recv(p.domain, p.from, p.msg)
	}
}

// advance moves the clock by d, ticking every transport at the timer
// resolution and pumping in between.
func (n *testNet) advance(d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += testTimerResolution {
		n.clock.Add(testTimerResolution)
		for _, node := range n.nodes {
			if node.timer != nil {
				node.timer(n.clock.Now())
			}
		}
		n.pump()
	}
}

func (tt *testTransport) RegisterRecvCallback(fn RecvFunc)   { tt.recv = fn }
func (tt *testTransport) UnregisterRecvCallback()            { tt.recv = nil }
func (tt *testTransport) RegisterTimerCallback(fn TimerFunc) { tt.timer = fn }
func (tt *testTransport) UnregisterTimerCallback()           { tt.timer = nil }
func (tt *testTransport) TimerResolution() time.Duration     { return testTimerResolution }
func (tt *testTransport) JobStarted(id string)               { tt.jobs[id]++ }
func (tt *testTransport) JobFinished(id string)              { tt.jobs[id]-- }

func (tt *testTransport) SendMessage(msg []byte, domain TransportDomain, addr net.Addr) error {
	if addr == nil {
		return fmt.Errorf("%w: no address", ErrTransportUnavailable)
	}
	var from net.Addr = tt.addr
	if tt.tmName != "" {
		from = testSecureAddr{UDPAddr: tt.addr, name: tt.tmName}
	}
	tt.net.sent++
	tt.net.queue = append(tt.net.queue, testPacket{
		domain: domain,
		from:   from,
		to:     addr,
		msg:    append([]byte(nil), msg...),
	})
	return nil
}

type testSecureAddr struct {
	*net.UDPAddr
	name string
}

func (a testSecureAddr) TmSecurityName() string { return a.name }

func mustUDPAddr(t *testing.T, addr string) *net.UDPAddr {
	t.Helper()
	a, err := net.ResolveUDPAddr("udp", addr)
	require.NoError(t, err)
	return a
}

// mapMIB is a MibInstrumentation over a fixed set of scalars.
type mapMIB struct {
	vars []VarBind // sorted by OID
}

func newMapMIB(vbs ...VarBind) *mapMIB {
	m := &mapMIB{}
	for _, vb := range vbs {
		vb.Name = normalizeOID(vb.Name)
		m.vars = append(m.vars, vb)
	}
	sortVarBinds(m.vars)
	return m
}

func sortVarBinds(vbs []VarBind) {
	slices.SortFunc(vbs, func(a, b VarBind) int { return compareOIDs(a.Name, b.Name) })
}

func compareOIDs(a, b string) int {
	x, _ := parseOIDString(a)
	y, _ := parseOIDString(b)
	return slices.Compare(x, y)
}

func (m *mapMIB) Get(_ string, oid string) VarBind {
	oid = normalizeOID(oid)
	for _, vb := range m.vars {
		if vb.Name == oid {
			return vb
		}
	}
	return VarBind{Name: oid, Type: NoSuchObject}
}

func (m *mapMIB) GetNext(_ string, oid string) VarBind {
	oid = normalizeOID(oid)
	for _, vb := range m.vars {
		if compareOIDs(oid, vb.Name) < 0 {
			return vb
		}
	}
	return VarBind{Name: oid, Type: EndOfMibView}
}

func (m *mapMIB) Set(_ string, vbs []VarBind) (SNMPError, int) {
	for i, vb := range vbs {
		found := false
		for _, v := range m.vars {
			if v.Name == normalizeOID(vb.Name) {
				found = true
				if v.Type != vb.Type {
					return WrongType, i + 1
				}
			}
		}
		if !found {
			return NoCreation, i + 1
		}
	}
	for _, vb := range vbs {
		for j := range m.vars {
			if m.vars[j].Name == normalizeOID(vb.Name) {
				m.vars[j].Value = vb.Value
			}
		}
	}
	return NoError, 0
}
